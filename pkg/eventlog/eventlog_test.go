// Copyright (c) OpenMMLab. All rights reserved.

package eventlog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestEventLog_Append(t *testing.T) {
	type args struct {
		event Event
	}
	tests := []struct {
		name    string
		args    args
		wantErr bool
	}{
		{
			name: "Append a valid event",
			args: args{
				event: Event{
					ID:        "test-event-id",
					Source:    SourceLauncher,
					Type:      TypeLifecycle,
					JobID:     "gpt2_345m",
					RunID:     "test-run",
					Message:   "training child started",
					Timestamp: time.Now().UnixMilli(),
					Severity:  1,
					Metadata:  make(Metadata),
				},
			},
			wantErr: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, err := New(t.TempDir(), 0, 0)
			if err != nil {
				t.Fatalf("Failed to create EventLog: %v", err)
			}

			_, err = log.Append(tt.args.event)
			if (err != nil) != tt.wantErr {
				t.Errorf("EventLog.Append() error = %v, wantErr %v", err, tt.wantErr)
			}

			events, err := log.Load(Filter{})
			if err != nil {
				t.Errorf("EventLog.Load() error = %v, wantErr %v", err, false)
			}

			if len(events) != 1 {
				t.Errorf("EventLog.Load() = %d events, want 1", len(events))
			}

			if events[0].ID != tt.args.event.ID {
				t.Errorf("EventLog.Load() = event ID %s, want %s", events[0].ID, tt.args.event.ID)
			}
		})
	}
}

func TestEventLog_AppendFillsDefaults(t *testing.T) {
	log, err := New(t.TempDir(), 1, 0)
	if err != nil {
		t.Fatalf("Failed to create EventLog: %v", err)
	}

	if _, err := log.Append(Event{Source: SourceCtl, Message: "stop sweep finished"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	events, err := log.Load(Filter{})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].ID == "" {
		t.Error("Append() should assign an ID")
	}
	if events[0].Timestamp == 0 {
		t.Error("Append() should assign a timestamp")
	}
	if events[0].Type != TypeLifecycle {
		t.Errorf("Append() default type = %q, want %q", events[0].Type, TypeLifecycle)
	}
}

func TestEventLog_FilePrefixCarriesRank(t *testing.T) {
	dir := t.TempDir()
	log, err := New(dir, 3, 0)
	if err != nil {
		t.Fatalf("Failed to create EventLog: %v", err)
	}
	if _, err := log.Append(Event{Message: "x"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "rank3_events_") {
			found = true
		}
	}
	if !found {
		t.Error("no event file with rank3_events_ prefix")
	}
}

func TestEventLog_Filter(t *testing.T) {
	log, err := New(t.TempDir(), 0, 0)
	if err != nil {
		t.Fatalf("Failed to create EventLog: %v", err)
	}

	now := time.Now().UnixMilli()
	seed := []Event{
		{Source: SourceLauncher, Type: TypeLifecycle, JobID: "job-a", RunID: "run-1", Severity: 1, Message: "started", Timestamp: now - 3000},
		{Source: SourceWebhook, Type: TypeAlert, JobID: "job-a", RunID: "run-1", Severity: 5, Message: "loss spike", Timestamp: now - 2000},
		{Source: SourceCtl, Type: TypeLifecycle, JobID: "job-b", RunID: "run-2", Severity: 1, Message: "stopped", Timestamp: now - 1000},
	}
	for _, ev := range seed {
		if _, err := log.Append(ev); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{name: "no filter", filter: Filter{}, want: 3},
		{name: "by type", filter: Filter{Type: TypeAlert}, want: 1},
		{name: "by source", filter: Filter{Source: SourceCtl}, want: 1},
		{name: "by job", filter: Filter{JobID: "job-a"}, want: 2},
		{name: "by run", filter: Filter{RunID: "run-2"}, want: 1},
		{name: "by severity", filter: Filter{MinSeverity: 3}, want: 1},
		{name: "by window", filter: Filter{StartTime: now - 1500}, want: 1},
		{name: "no match", filter: Filter{JobID: "job-c"}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := log.Load(tt.filter)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if len(events) != tt.want {
				t.Errorf("Load() = %d events, want %d", len(events), tt.want)
			}
		})
	}
}

func TestEventLog_LoadNewestFirst(t *testing.T) {
	log, err := New(t.TempDir(), 0, 0)
	if err != nil {
		t.Fatalf("Failed to create EventLog: %v", err)
	}

	now := time.Now().UnixMilli()
	for i, msg := range []string{"first", "second", "third"} {
		if _, err := log.Append(Event{Message: msg, Timestamp: now + int64(i*1000)}); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	events, err := log.Load(Filter{EndTime: now + 10000})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[0].Message != "third" || events[2].Message != "first" {
		t.Errorf("events not sorted newest first: %s, %s, %s",
			events[0].Message, events[1].Message, events[2].Message)
	}
}

func TestEventLog_RotationOnSize(t *testing.T) {
	dir := t.TempDir()
	// Cap small enough that the second append must rotate
	log, err := New(dir, 0, 64)
	if err != nil {
		t.Fatalf("Failed to create EventLog: %v", err)
	}

	first, err := log.Append(Event{Message: strings.Repeat("a", 100)})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	second, err := log.Append(Event{Message: "after rotation"})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	if first == second {
		t.Errorf("second append should land in a rotated file, both in %s", first)
	}

	// Both files remain loadable
	events, err := log.Load(Filter{})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(events) != 2 {
		t.Errorf("Load() = %d events, want 2", len(events))
	}
}

func TestEventLog_ReindexesExistingFiles(t *testing.T) {
	dir := t.TempDir()
	log, err := New(dir, 0, 0)
	if err != nil {
		t.Fatalf("Failed to create EventLog: %v", err)
	}
	if _, err := log.Append(Event{Message: "from previous run", JobID: "job-a"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	// A new EventLog over the same directory must see the old events.
	reopened, err := New(dir, 0, 0)
	if err != nil {
		t.Fatalf("Failed to reopen EventLog: %v", err)
	}
	events, err := reopened.Load(Filter{JobID: "job-a"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(events) != 1 {
		t.Errorf("reopened Load() = %d events, want 1", len(events))
	}

	// Ignores files that do not belong to this rank's prefix.
	if err := os.WriteFile(filepath.Join(dir, "unrelated.json"), []byte("junk"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(dir, 0, 0); err != nil {
		t.Errorf("New() should ignore unrelated files, got error %v", err)
	}
}

func TestEventLog_OpenSeesAllRanks(t *testing.T) {
	dir := t.TempDir()

	for rank := 0; rank < 2; rank++ {
		log, err := New(dir, rank, 0)
		if err != nil {
			t.Fatalf("New(rank %d) error = %v", rank, err)
		}
		if _, err := log.Append(Event{NodeRank: rank, Message: "started"}); err != nil {
			t.Fatalf("Append(rank %d) error = %v", rank, err)
		}
	}

	reader, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	events, err := reader.Load(Filter{})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(events) != 2 {
		t.Errorf("Open() reader sees %d events, want 2 (one per rank)", len(events))
	}
}

func TestEventLog_OpenMissingDir(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Error("Open() on a missing directory should fail")
	}
}
