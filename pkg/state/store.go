// Copyright (c) OpenMMLab. All rights reserved.

package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Store reads and writes the control-plane record in a job work directory.
// Writes go through a temp file plus rename so a reader never observes a
// half-written record, and the version only ever increases.
type Store struct {
	dir string
	mu  sync.Mutex
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) Path() string {
	return filepath.Join(s.dir, RecordFile)
}

// Load reads the current record. A missing file returns os.ErrNotExist
// unwrapped so callers can distinguish "no record yet" from corruption.
func (s *Store) Load() (*Record, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode state record %s: %w", s.Path(), err)
	}
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("corrupt state record %s: %w", s.Path(), err)
	}
	return &rec, nil
}

// Init writes a fresh running record at version 1, replacing whatever record
// a previous run left behind.
func (s *Store) Init(jobID, runID string, nodeRank, pid, servers int) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := &Record{
		Version:     1,
		State:       StateRunning,
		PID:         pid,
		Servers:     servers,
		JobID:       jobID,
		RunID:       runID,
		NodeRank:    nodeRank,
		UpdatedAtMs: time.Now().UnixMilli(),
	}
	if err := s.write(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Transition moves the record to a new state, applying mutate (may be nil)
// before the write. Illegal transitions and version regressions are rejected.
func (s *Store) Transition(to JobState, mutate func(*Record)) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.Load()
	if err != nil {
		return nil, err
	}
	if !CanTransition(rec.State, to) {
		return nil, fmt.Errorf("illegal state transition %s -> %s", rec.State, to)
	}

	rec.State = to
	rec.Version++
	rec.UpdatedAtMs = time.Now().UnixMilli()
	if mutate != nil {
		mutate(rec)
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	if err := s.write(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Store) write(rec *Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state record: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, RecordFile+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, s.Path()); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace state record: %w", err)
	}
	return nil
}

// ReadServerCount reads the launcher-owned server count file.
func ReadServerCount(dir string) (int, error) {
	return readIntFile(filepath.Join(dir, ServerCountFile))
}

// ReadParentPID reads the launcher-owned parent process pid file.
func ReadParentPID(dir string) (int, error) {
	return readIntFile(filepath.Join(dir, ParentPIDFile))
}

func readIntFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	value, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("malformed integer in %s: %w", path, err)
	}
	return value, nil
}
