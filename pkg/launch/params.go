// Copyright (c) OpenMMLab. All rights reserved.

// Package launch renders the external training invocation from the deployment
// configuration plus the per-invocation parameters, and supervises the child
// process for its whole lifetime.
package launch

import (
	"fmt"
	"strconv"
)

// Params are the only per-invocation inputs. Everything else about a job is
// fixed deployment configuration.
type Params struct {
	NNodes         int
	NodeRank       int
	MasterAddr     string
	CheckpointIter int
}

// ParseParams maps the four positional command line arguments, in fixed
// order: node count, node rank, master address, checkpoint iteration.
func ParseParams(args []string) (Params, error) {
	if len(args) != 4 {
		return Params{}, fmt.Errorf("expected 4 positional arguments <node-count> <node-rank> <master-addr> <checkpoint-iter>, got %d", len(args))
	}

	nnodes, err := strconv.Atoi(args[0])
	if err != nil {
		return Params{}, fmt.Errorf("invalid node count %q: %w", args[0], err)
	}
	rank, err := strconv.Atoi(args[1])
	if err != nil {
		return Params{}, fmt.Errorf("invalid node rank %q: %w", args[1], err)
	}
	iter, err := strconv.Atoi(args[3])
	if err != nil {
		return Params{}, fmt.Errorf("invalid checkpoint iteration %q: %w", args[3], err)
	}

	p := Params{
		NNodes:         nnodes,
		NodeRank:       rank,
		MasterAddr:     args[2],
		CheckpointIter: iter,
	}
	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}

// Validate enforces the parameter domain. Whether a checkpoint for
// CheckpointIter actually exists is the training script's problem.
func (p Params) Validate() error {
	if p.NNodes <= 0 {
		return fmt.Errorf("node count must be positive, got %d", p.NNodes)
	}
	if p.NodeRank < 0 || p.NodeRank >= p.NNodes {
		return fmt.Errorf("node rank %d out of range [0, %d)", p.NodeRank, p.NNodes)
	}
	if p.MasterAddr == "" {
		return fmt.Errorf("master address must not be empty")
	}
	if p.CheckpointIter < 0 {
		return fmt.Errorf("checkpoint iteration must not be negative, got %d", p.CheckpointIter)
	}
	return nil
}
