// Copyright (c) OpenMMLab. All rights reserved.

// Package eventlog persists training lifecycle events as rotated JSON files
// in the job work directory, one prefix per node rank, with a small in-memory
// index to keep queries off files that cannot match.
package eventlog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/liokouras/varuna/logger"
)

func New(baseDir string, nodeRank int, maxFileSize int64) (*EventLog, error) {
	if maxFileSize <= 0 {
		maxFileSize = defaultMaxSize
	}

	if err := os.MkdirAll(baseDir, defaultDirPerm); err != nil {
		return nil, err
	}

	log := &EventLog{
		baseDir:     baseDir,
		maxFileSize: maxFileSize,
		fileIndexes: make(map[string]*FileIndex),
		filePrefix:  "rank" + strconv.Itoa(nodeRank) + "_events_",
	}

	if err := log.initialize(); err != nil {
		return nil, err
	}

	return log, nil
}

// Open indexes an existing event directory for querying only. No new file is
// started, and the prefix matches every rank, so Append must not be called on
// the returned log.
func Open(baseDir string) (*EventLog, error) {
	log := &EventLog{
		baseDir:     baseDir,
		maxFileSize: defaultMaxSize,
		fileIndexes: make(map[string]*FileIndex),
		filePrefix:  "rank",
	}
	if err := log.scanExisting(); err != nil {
		return nil, err
	}
	return log, nil
}

func (l *EventLog) initialize() error {
	if err := l.scanExisting(); err != nil {
		return err
	}

	// Set current file
	return l.rotate()
}

// scanExisting rebuilds the index from whatever previous runs left behind.
func (l *EventLog) scanExisting() error {
	files, err := os.ReadDir(l.baseDir)
	if err != nil {
		return err
	}

	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".json" || !strings.HasPrefix(file.Name(), l.filePrefix) {
			continue
		}
		path := filepath.Join(l.baseDir, file.Name())
		if err := l.indexFile(path); err != nil {
			logger.Logger.Info("Indexing failed for", zap.String("filePath", path), zap.Error(err))
		}
	}

	return nil
}

func (l *EventLog) rotate() error {
	newFileName := l.filePrefix + time.Now().Format("20060102") + "_" + uuid.New().String()[:8] + ".json"
	l.currentFile = filepath.Join(l.baseDir, newFileName)
	return l.initFile(l.currentFile)
}

func (l *EventLog) initFile(path string) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, defaultFilePerm)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = file.WriteString(`{"events":[]}`)
	return err
}

// Append stores one event and returns the file it landed in. Missing ID,
// timestamp and type fields are filled in.
func (l *EventLog) Append(event Event) (string, error) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	if event.Type == "" {
		event.Type = TypeLifecycle
	}

	l.currentMutex.Lock()
	defer l.currentMutex.Unlock()

	for {
		data, err := os.ReadFile(l.currentFile)
		if err != nil {
			return "", err
		}

		// Rotate before the file grows past the cap
		if len(data) > int(l.maxFileSize) {
			if err := l.rotate(); err != nil {
				return "", err
			}
			continue
		}

		var content struct {
			Events []Event `json:"events"`
		}
		if err := json.Unmarshal(data, &content); err != nil {
			return "", err
		}

		content.Events = append(content.Events, event)

		newData, err := json.MarshalIndent(content, "", "  ")
		if err != nil {
			return "", err
		}
		if err := os.WriteFile(l.currentFile, newData, defaultFilePerm); err != nil {
			return "", err
		}

		l.updateFileIndex(l.currentFile, event)

		return l.currentFile, nil
	}
}

func (l *EventLog) updateFileIndex(path string, event Event) {
	l.indexMutex.Lock()
	defer l.indexMutex.Unlock()

	if idx, ok := l.fileIndexes[path]; ok {
		if event.Timestamp < idx.MinTime {
			idx.MinTime = event.Timestamp
		}
		if event.Timestamp > idx.MaxTime {
			idx.MaxTime = event.Timestamp
		}
		if event.Severity > idx.MaxSeverity {
			idx.MaxSeverity = event.Severity
		}
		idx.EventTypes[event.Type] = true
	} else {
		l.fileIndexes[path] = &FileIndex{
			Path:        path,
			MinTime:     event.Timestamp,
			MaxTime:     event.Timestamp,
			MaxSeverity: event.Severity,
			EventTypes:  map[string]bool{event.Type: true},
		}
	}
}

func (l *EventLog) indexFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var content struct {
		Events []Event `json:"events"`
	}
	if err := json.Unmarshal(data, &content); err != nil {
		return err
	}

	if len(content.Events) == 0 {
		return nil
	}

	idx := &FileIndex{
		Path:       path,
		MinTime:    content.Events[0].Timestamp,
		MaxTime:    content.Events[0].Timestamp,
		EventTypes: make(map[string]bool),
	}

	for _, event := range content.Events {
		if event.Timestamp < idx.MinTime {
			idx.MinTime = event.Timestamp
		}
		if event.Timestamp > idx.MaxTime {
			idx.MaxTime = event.Timestamp
		}
		if event.Severity > idx.MaxSeverity {
			idx.MaxSeverity = event.Severity
		}
		idx.EventTypes[event.Type] = true
	}

	l.indexMutex.Lock()
	l.fileIndexes[path] = idx
	l.indexMutex.Unlock()

	return nil
}

// Load returns all events matching filter, newest first.
func (l *EventLog) Load(filter Filter) ([]Event, error) {
	var allEvents []Event

	if filter.EndTime == 0 {
		filter.EndTime = time.Now().UnixMilli()
	}

	// Pre-filter files using index
	candidateFiles := l.getCandidateFiles(filter)

	for _, path := range candidateFiles {
		events, err := l.loadFile(path, filter)
		if err != nil {
			logger.Logger.Info("Error loading", zap.String("filePath", path), zap.Error(err))
			continue
		}
		allEvents = append(allEvents, events...)
	}

	sort.Slice(allEvents, func(i, j int) bool {
		return allEvents[i].Timestamp > allEvents[j].Timestamp
	})

	return allEvents, nil
}

func (l *EventLog) getCandidateFiles(filter Filter) []string {
	l.indexMutex.RLock()
	defer l.indexMutex.RUnlock()

	var candidates []string
	for path, idx := range l.fileIndexes {
		if idx.MaxTime < filter.StartTime || idx.MinTime > filter.EndTime {
			continue
		}
		if idx.MaxSeverity < filter.MinSeverity {
			continue
		}
		if filter.Type != "" && !idx.EventTypes[filter.Type] {
			continue
		}
		candidates = append(candidates, path)
	}
	return candidates
}

func (l *EventLog) loadFile(path string, filter Filter) ([]Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var content struct {
		Events []Event `json:"events"`
	}
	if err := json.Unmarshal(data, &content); err != nil {
		return nil, err
	}

	var filtered []Event
	for _, event := range content.Events {
		if event.Timestamp < filter.StartTime || event.Timestamp > filter.EndTime {
			continue
		}
		if event.Severity < filter.MinSeverity {
			continue
		}
		if filter.Type != "" && event.Type != filter.Type {
			continue
		}
		if filter.Source != "" && event.Source != filter.Source {
			continue
		}
		if filter.JobID != "" && event.JobID != filter.JobID {
			continue
		}
		if filter.RunID != "" && event.RunID != filter.RunID {
			continue
		}
		filtered = append(filtered, event)
	}

	return filtered, nil
}
