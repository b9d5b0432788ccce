// Copyright (c) OpenMMLab. All rights reserved.

// Package state maintains the per-node control-plane record of a training
// job. The versioned record replaces guessing from bare pid and server-count
// files; those legacy files are still written by the external training
// launcher and are read here but never modified.
package state

import (
	"fmt"
	"time"
)

// JobState is the lifecycle phase recorded for one node's training process.
type JobState string

const (
	StateRunning  JobState = "running"
	StateDraining JobState = "draining"
	StateStopped  JobState = "stopped"
	// StateUnknown is never persisted; it is reported for hosts whose record
	// cannot be read.
	StateUnknown JobState = "unknown"
)

const (
	// RecordFile is the versioned control-plane record, owned by this tooling.
	RecordFile = "varuna_state.json"
	// ServerCountFile and ParentPIDFile are written by the external training
	// launcher. Zeroing ServerCountFile plus SIGUSR1 to the parent pid is the
	// established stop protocol, so both files stay authoritative for it.
	ServerCountFile = "nservers"
	ParentPIDFile   = "parent_process_pid"
)

// Record is one node's view of its training job.
type Record struct {
	Version     int      `json:"version"`
	State       JobState `json:"state"`
	PID         int      `json:"pid"`
	Servers     int      `json:"servers"`
	JobID       string   `json:"job_id"`
	RunID       string   `json:"run_id"`
	NodeRank    int      `json:"node_rank"`
	UpdatedAtMs int64    `json:"updated_at_ms"`
	ExitCode    *int     `json:"exit_code,omitempty"`
}

// validTransitions: a job only moves forward. Same-state writes are allowed
// so refreshes (pid updates, server counts) do not need a phase change.
var validTransitions = map[JobState][]JobState{
	StateRunning:  {StateRunning, StateDraining, StateStopped},
	StateDraining: {StateDraining, StateStopped},
	StateStopped:  {StateStopped},
}

// CanTransition reports whether a record in state from may move to state to.
func CanTransition(from, to JobState) bool {
	for _, allowed := range validTransitions[from] {
		if to == allowed {
			return true
		}
	}
	return false
}

func (r *Record) Validate() error {
	switch r.State {
	case StateRunning, StateDraining, StateStopped:
	default:
		return fmt.Errorf("invalid state %q", r.State)
	}
	if r.Version <= 0 {
		return fmt.Errorf("record version must be positive, got %d", r.Version)
	}
	if r.NodeRank < 0 {
		return fmt.Errorf("node rank must not be negative, got %d", r.NodeRank)
	}
	return nil
}

// UpdatedAt converts the stored millisecond timestamp.
func (r *Record) UpdatedAt() time.Time {
	return time.UnixMilli(r.UpdatedAtMs)
}

// StaleAt reports whether the record has not been refreshed within threshold
// as of now. Stale running records usually mean the launcher died without
// writing a stopped record.
func (r *Record) StaleAt(now time.Time, threshold time.Duration) bool {
	if threshold <= 0 {
		return false
	}
	return now.Sub(r.UpdatedAt()) > threshold
}
