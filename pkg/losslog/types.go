// Copyright (c) OpenMMLab. All rights reserved.

// Package losslog reads and parses the loss file the training script appends
// to in the job work directory.
package losslog

import (
	"context"
)

type Interface[T any] interface {
	Parse(ctx context.Context, inputs []string) (T, error)
}

// Generic processing function that returns results of a specific type
func ParseWithType[T any](ctx context.Context, parser Interface[T], inputs []string) (T, error) {
	return parser.Parse(ctx, inputs)
}

// Entry is one parsed loss line. Lines that do not match any known shape
// keep only Raw so the tail output stays complete.
type Entry struct {
	Iteration    int
	Loss         float64
	LearningRate float64
	IterTimeMs   float64
	Raw          string
	Parsed       bool
}
