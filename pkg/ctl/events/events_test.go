// Copyright (c) OpenMMLab. All rights reserved.

package events

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/liokouras/varuna/pkg/eventlog"
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

func TestPrintEvents(t *testing.T) {
	loaded := []eventlog.Event{
		{Timestamp: 1700000100000, Type: eventlog.TypeAlert, Source: eventlog.SourceWebhook, NodeRank: 1, Message: "loss spike", Severity: 2},
		{Timestamp: 1700000000000, Type: eventlog.TypeLifecycle, Source: eventlog.SourceLauncher, NodeRank: 0, Message: "launched"},
	}

	out := captureOutput(t, func() {
		PrintEvents(loaded)
	})

	spikePos := strings.Index(out, "loss spike")
	launchPos := strings.Index(out, "launched")
	if spikePos < 0 || launchPos < 0 {
		t.Fatalf("output should carry both event messages, got:\n%s", out)
	}
	if spikePos > launchPos {
		t.Errorf("events should print in the loaded order, newest first, got:\n%s", out)
	}
	if !strings.Contains(out, "(severity 2)") {
		t.Errorf("alert severity should be shown, got:\n%s", out)
	}
	if !strings.Contains(out, "Loaded 2 events") {
		t.Errorf("output should end with the event count, got:\n%s", out)
	}
}

func TestPrintEventsEmpty(t *testing.T) {
	out := captureOutput(t, func() {
		PrintEvents(nil)
	})
	if !strings.Contains(out, "No events matched") {
		t.Errorf("empty result should say so, got:\n%s", out)
	}
}

func TestOpenAndPrintRecordedEvents(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "events")

	writer, err := eventlog.New(dir, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	for _, msg := range []string{"launched", "draining"} {
		if _, err := writer.Append(eventlog.Event{
			Source:  eventlog.SourceLauncher,
			JobID:   "gpt2_345m",
			Message: msg,
		}); err != nil {
			t.Fatal(err)
		}
	}

	reader, err := eventlog.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	loaded, err := reader.Load(eventlog.Filter{JobID: "gpt2_345m"})
	if err != nil {
		t.Fatal(err)
	}

	out := captureOutput(t, func() {
		PrintEvents(loaded)
	})
	if !strings.Contains(out, "draining") || !strings.Contains(out, "launched") {
		t.Errorf("recorded events should round trip into the report, got:\n%s", out)
	}
	if !strings.Contains(out, "Loaded 2 events") {
		t.Errorf("both events should load, got:\n%s", out)
	}
}
