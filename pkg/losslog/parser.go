// Copyright (c) OpenMMLab. All rights reserved.

package losslog

import (
	"context"
	"regexp"
	"strconv"
)

// Loss line parser
type LossParser struct{}

var (
	// Megatron progress lines:
	//  iteration      100/  500000 | elapsed time per iteration (ms): 1087.5 | learning rate: 1.500E-04 | lm loss: 7.327E+00 | ...
	megatronReg = regexp.MustCompile(`iteration\s+(\d+)\s*/\s*\d+`)
	lossReg     = regexp.MustCompile(`lm loss:\s*([0-9.eE+-]+)`)
	lrReg       = regexp.MustCompile(`learning rate:\s*([0-9.eE+-]+)`)
	iterTimeReg = regexp.MustCompile(`elapsed time per iteration \(ms\):\s*([0-9.]+)`)

	// Plain "iteration, loss" pairs
	csvReg = regexp.MustCompile(`^\s*(\d+)\s*,\s*([0-9.eE+-]+)\s*$`)
)

func (p *LossParser) Parse(ctx context.Context, inputs []string) ([]Entry, error) {
	entries := make([]Entry, 0, len(inputs))
	for _, line := range inputs {
		entry := Entry{Raw: line}

		if m := csvReg.FindStringSubmatch(line); m != nil {
			entry.Iteration, _ = strconv.Atoi(m[1])
			entry.Loss = parseFloat(m[2])
			entry.Parsed = true
			entries = append(entries, entry)
			continue
		}

		if m := megatronReg.FindStringSubmatch(line); m != nil {
			entry.Iteration, _ = strconv.Atoi(m[1])
			entry.Parsed = true
			if lm := lossReg.FindStringSubmatch(line); lm != nil {
				entry.Loss = parseFloat(lm[1])
			}
			if lm := lrReg.FindStringSubmatch(line); lm != nil {
				entry.LearningRate = parseFloat(lm[1])
			}
			if lm := iterTimeReg.FindStringSubmatch(line); lm != nil {
				entry.IterTimeMs = parseFloat(lm[1])
			}
		}

		entries = append(entries, entry)
	}

	return entries, nil
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

// Latest returns the newest parsed entry, or false when none of the entries
// parsed.
func Latest(entries []Entry) (Entry, bool) {
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Parsed {
			return entries[i], true
		}
	}
	return Entry{}, false
}
