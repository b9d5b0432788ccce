// Copyright (c) OpenMMLab. All rights reserved.

package losslog

import (
	"bufio"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/liokouras/varuna/logger"
)

const defaultTailLines = 50

// TailFile reads the last maxLines lines of the loss file along with its
// modification time. The whole file is scanned through a ring buffer, so
// memory stays bounded by maxLines regardless of file size.
func TailFile(path string, maxLines int) ([]string, time.Time, error) {
	var fileModTime time.Time
	if maxLines <= 0 {
		maxLines = defaultTailLines
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fileModTime, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	// Set 1MB buffer for long lines
	const maxCapacity = 1024 * 1024
	buf := make([]byte, maxCapacity)
	scanner.Buffer(buf, maxCapacity)

	ringBuffer := make([]string, maxLines)
	index := 0
	lineCount := 0

	for scanner.Scan() {
		ringBuffer[index] = scanner.Text()
		index = (index + 1) % maxLines
		lineCount++
	}

	if err := scanner.Err(); err != nil {
		logger.Logger.Error("loss file scanning error", zap.Error(err))
		return nil, fileModTime, fmt.Errorf("loss file scanning error: %v", err)
	}

	start := 0
	if lineCount > maxLines {
		start = index
	}

	var lines []string
	for i := 0; i < min(lineCount, maxLines); i++ {
		pos := (start + i) % maxLines
		lines = append(lines, ringBuffer[pos])
	}

	if fstat, err := file.Stat(); err == nil {
		fileModTime = fstat.ModTime()
	} else {
		logger.Logger.Error("failed to fetch file stat", zap.Any("file", file.Name()), zap.Error(err))
	}

	return lines, fileModTime, nil
}
