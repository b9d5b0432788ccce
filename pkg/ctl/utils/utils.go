// Copyright (c) OpenMMLab. All rights reserved.

// Package utils provides shared helpers for varunactl subcommands
package utils

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ReadMachineListFromFile reads fleet hostnames from a file.
// The file should contain one hostname per line; blank lines, surrounding
// whitespace and # comment lines are ignored.
//
// Parameters:
//   - filePath: The path to the machine list file.
//
// Returns:
//   - []string: The hostnames in file order. An existing but empty file
//     yields an empty slice, which is a legal fleet of zero machines.
//   - error: An error if reading from file fails.
func ReadMachineListFromFile(filePath string) ([]string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("Unable to open machine list file: %w", err)
	}
	defer file.Close()

	machines := []string{}

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		// Get the current line and trim whitespace
		line := strings.TrimSpace(scanner.Text())
		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		machines = append(machines, line)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("Error reading machine list file: %w", err)
	}

	return machines, nil
}

// Clean invalid UTF-8 strings
func CleanUTF8(s string) string {
	utf8bom := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	result, _, err := transform.String(utf8bom, s)
	if err != nil {
		fmt.Printf("Error cleaning UTF-8 string: %v\n", err)
		return s
	}
	return result
}

// Convert millisecond timestamp to human-readable format
func FormatTimestamp(ms int64) string {
	if ms == 0 {
		return ""
	}
	return time.UnixMilli(ms).Format(time.RFC3339)
}
