// Copyright (c) OpenMMLab. All rights reserved.

package logs

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/liokouras/varuna/pkg/losslog"
)

func captureOutput(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	os.Stdout = w

	fn()

	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		t.Fatal(err)
	}
	return buf.String()
}

func writeLossFile(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "varuna_loss.log")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestTailLossFile(t *testing.T) {
	path := writeLossFile(t,
		"starting training run",
		"100, 7.3271",
		" iteration      200/  500000 | elapsed time per iteration (ms): 1087.5 | learning rate: 1.500E-04 | lm loss: 6.8912 |",
	)

	var err error
	out := captureOutput(t, func() {
		err = TailLossFile(path, 10, false)
	})
	if err != nil {
		t.Fatalf("TailLossFile() error = %v", err)
	}

	if !strings.Contains(out, "starting training run") {
		t.Errorf("output should carry the raw tail lines, got:\n%s", out)
	}
	if !strings.Contains(out, "Latest iteration 200, lm loss 6.8912") {
		t.Errorf("output should summarize the newest parsed entry, got:\n%s", out)
	}
}

func TestTailLossFileJSON(t *testing.T) {
	path := writeLossFile(t,
		"100, 7.3271",
	)

	var err error
	out := captureOutput(t, func() {
		err = TailLossFile(path, 10, true)
	})
	if err != nil {
		t.Fatalf("TailLossFile() error = %v", err)
	}

	var entries []losslog.Entry
	if uerr := json.Unmarshal([]byte(out), &entries); uerr != nil {
		t.Fatalf("json output should parse, got %v:\n%s", uerr, out)
	}
	if len(entries) != 1 || entries[0].Iteration != 100 {
		t.Errorf("entries = %+v, want one entry at iteration 100", entries)
	}
}

func TestTailLossFileWindow(t *testing.T) {
	path := writeLossFile(t,
		"100, 7.3",
		"200, 6.9",
		"300, 6.5",
	)

	var err error
	out := captureOutput(t, func() {
		err = TailLossFile(path, 1, false)
	})
	if err != nil {
		t.Fatalf("TailLossFile() error = %v", err)
	}

	if strings.Contains(out, "200, 6.9") {
		t.Errorf("lines outside the tail window should be dropped, got:\n%s", out)
	}
	if !strings.Contains(out, "Latest iteration 300") {
		t.Errorf("summary should come from the kept window, got:\n%s", out)
	}
}

func TestTailLossFileNoParsableEntries(t *testing.T) {
	path := writeLossFile(t,
		"loading checkpoint from iteration 500",
		"building model",
	)

	var err error
	out := captureOutput(t, func() {
		err = TailLossFile(path, 10, false)
	})
	if err != nil {
		t.Fatalf("TailLossFile() error = %v", err)
	}
	if !strings.Contains(out, "No parsable loss entries") {
		t.Errorf("summary should report that nothing parsed, got:\n%s", out)
	}
}

func TestTailLossFileMissing(t *testing.T) {
	err := TailLossFile(filepath.Join(t.TempDir(), "varuna_loss.log"), 10, false)
	if err == nil {
		t.Fatal("TailLossFile() should fail when the loss file does not exist")
	}
}
