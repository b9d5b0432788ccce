// Copyright (c) OpenMMLab. All rights reserved.

package state

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from JobState
		to   JobState
		want bool
	}{
		{StateRunning, StateDraining, true},
		{StateRunning, StateStopped, true},
		{StateRunning, StateRunning, true},
		{StateDraining, StateStopped, true},
		{StateDraining, StateDraining, true},
		{StateDraining, StateRunning, false},
		{StateStopped, StateRunning, false},
		{StateStopped, StateDraining, false},
		{StateStopped, StateStopped, true},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestStoreInitAndLoad(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	rec, err := store.Init("gpt2_345m", "run-1", 1, 4242, 2)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if rec.Version != 1 || rec.State != StateRunning {
		t.Errorf("Init() = version %d state %s, want version 1 state running", rec.Version, rec.State)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.PID != 4242 || loaded.Servers != 2 || loaded.NodeRank != 1 {
		t.Errorf("Load() = %+v, want pid 4242 servers 2 rank 1", loaded)
	}
	if loaded.JobID != "gpt2_345m" || loaded.RunID != "run-1" {
		t.Errorf("Load() job/run = %q/%q, want gpt2_345m/run-1", loaded.JobID, loaded.RunID)
	}
}

func TestStoreLoadMissing(t *testing.T) {
	store := NewStore(t.TempDir())
	_, err := store.Load()
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load() error = %v, want os.ErrNotExist", err)
	}
}

func TestStoreLoadCorrupt(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, RecordFile), []byte("not json"), 0644); err != nil {
		t.Fatal(err)
	}
	store := NewStore(dir)
	if _, err := store.Load(); err == nil {
		t.Error("Load() on corrupt record should fail")
	}
}

func TestStoreTransition(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	if _, err := store.Init("job", "run", 0, 100, 2); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	rec, err := store.Transition(StateDraining, nil)
	if err != nil {
		t.Fatalf("Transition(draining) error = %v", err)
	}
	if rec.State != StateDraining || rec.Version != 2 {
		t.Errorf("got state %s version %d, want draining version 2", rec.State, rec.Version)
	}

	rec, err = store.Transition(StateStopped, func(r *Record) {
		code := 0
		r.ExitCode = &code
	})
	if err != nil {
		t.Fatalf("Transition(stopped) error = %v", err)
	}
	if rec.State != StateStopped || rec.Version != 3 {
		t.Errorf("got state %s version %d, want stopped version 3", rec.State, rec.Version)
	}
	if rec.ExitCode == nil || *rec.ExitCode != 0 {
		t.Errorf("ExitCode = %v, want 0", rec.ExitCode)
	}

	// Stopped is terminal.
	if _, err := store.Transition(StateRunning, nil); err == nil {
		t.Error("Transition(stopped -> running) should fail")
	}
	if _, err := store.Transition(StateDraining, nil); err == nil {
		t.Error("Transition(stopped -> draining) should fail")
	}
}

func TestStoreTransitionWithoutRecord(t *testing.T) {
	store := NewStore(t.TempDir())
	if _, err := store.Transition(StateDraining, nil); err == nil {
		t.Error("Transition without a record should fail")
	}
}

func TestStoreWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	if _, err := store.Init("job", "run", 0, 1, 1); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if _, err := store.Transition(StateStopped, nil); err != nil {
		t.Fatalf("Transition() error = %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Errorf("temp file %s left behind", e.Name())
		}
	}
}

func TestStaleAt(t *testing.T) {
	now := time.Now()
	rec := &Record{UpdatedAtMs: now.Add(-20 * time.Minute).UnixMilli()}

	if !rec.StaleAt(now, 15*time.Minute) {
		t.Error("record 20m old should be stale at 15m threshold")
	}
	if rec.StaleAt(now, 30*time.Minute) {
		t.Error("record 20m old should not be stale at 30m threshold")
	}
	if rec.StaleAt(now, 0) {
		t.Error("zero threshold disables staleness")
	}
}

func TestReadLegacyFiles(t *testing.T) {
	dir := t.TempDir()

	if err := os.WriteFile(filepath.Join(dir, ServerCountFile), []byte("2\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ParentPIDFile), []byte("  31337  \n"), 0644); err != nil {
		t.Fatal(err)
	}

	count, err := ReadServerCount(dir)
	if err != nil || count != 2 {
		t.Errorf("ReadServerCount() = %d, %v, want 2, nil", count, err)
	}
	pid, err := ReadParentPID(dir)
	if err != nil || pid != 31337 {
		t.Errorf("ReadParentPID() = %d, %v, want 31337, nil", pid, err)
	}

	if _, err := ReadServerCount(t.TempDir()); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("ReadServerCount() on missing file error = %v, want os.ErrNotExist", err)
	}

	if err := os.WriteFile(filepath.Join(dir, ServerCountFile), []byte("junk"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadServerCount(dir); err == nil {
		t.Error("ReadServerCount() on malformed file should fail")
	}
}

func TestDrainWatcherAlreadyZero(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ServerCountFile), []byte("0\n"), 0644); err != nil {
		t.Fatal(err)
	}

	fired := make(chan struct{}, 1)
	w := NewDrainWatcher(dir, func() { fired <- struct{}{} })

	if err := w.Watch(context.Background()); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	select {
	case <-fired:
	default:
		t.Error("onDrain did not fire for an already-zero count")
	}
}

func TestDrainWatcherFiresOnZero(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ServerCountFile), []byte("2\n"), 0644); err != nil {
		t.Fatal(err)
	}

	fired := make(chan struct{}, 1)
	w := NewDrainWatcher(dir, func() { fired <- struct{}{} })
	w.pollInterval = 20 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx) }()

	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(dir, ServerCountFile), []byte("0\n"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("onDrain did not fire after count dropped to zero")
	}
	if err := <-done; err != nil {
		t.Errorf("Watch() error = %v", err)
	}
}

func TestDrainWatcherIgnoresNonZero(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ServerCountFile), []byte("4\n"), 0644); err != nil {
		t.Fatal(err)
	}

	fired := make(chan struct{}, 1)
	w := NewDrainWatcher(dir, func() { fired <- struct{}{} })
	w.pollInterval = 20 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if err := w.Watch(ctx); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	select {
	case <-fired:
		t.Error("onDrain fired for a non-zero count")
	default:
	}
}
