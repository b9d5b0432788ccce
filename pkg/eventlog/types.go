// Copyright (c) OpenMMLab. All rights reserved.

package eventlog

import "sync"

const (
	defaultMaxSize  = 10 * 1024 * 1024 // 10MB
	defaultFilePerm = 0644
	defaultDirPerm  = 0755
)

// Event sources.
const (
	SourceLauncher = "launcher"
	SourceCtl      = "ctl"
	SourceWebhook  = "webhook"
)

// Event types.
const (
	TypeLifecycle = "lifecycle"
	TypeAlert     = "alert"
)

// Event is one record in a node's event log. Events are immutable once
// appended.
type Event struct {
	ID        string   `json:"id"`
	Source    string   `json:"source"`
	Type      string   `json:"type"`
	JobID     string   `json:"job_id"`
	RunID     string   `json:"run_id"`
	NodeRank  int      `json:"node_rank"`
	Message   string   `json:"message"`
	Timestamp int64    `json:"timestamp"` // milliseconds
	Severity  int32    `json:"severity"`
	Metadata  Metadata `json:"metadata,omitempty"`
}

// Metadata stores extended properties of events
type Metadata map[string]interface{}

// EventLog manages the per-node JSON event files.
type EventLog struct {
	baseDir      string
	filePrefix   string
	maxFileSize  int64
	currentFile  string
	currentMutex sync.Mutex
	indexMutex   sync.RWMutex
	fileIndexes  map[string]*FileIndex
}

// FileIndex file index for accelerating queries
type FileIndex struct {
	Path        string
	MinTime     int64
	MaxTime     int64
	MaxSeverity int32
	EventTypes  map[string]bool
}

// Filter defines event query filters
type Filter struct {
	StartTime   int64
	EndTime     int64
	MinSeverity int32
	Type        string
	Source      string
	JobID       string
	RunID       string
}
