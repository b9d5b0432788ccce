// Copyright (c) OpenMMLab. All rights reserved.

// Package remote executes shell commands on fleet nodes over ssh and fans a
// command out across the fleet with per-host result collection.
package remote

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
)

// Runner executes one command on one host and returns the combined output.
type Runner interface {
	Run(ctx context.Context, host string, command string) (string, error)
}

// SSHRunner shells out to the system ssh binary. Host keys are not checked
// and no password prompt is ever shown; the fleet is provisioned with
// authorized keys and an unreachable or unprovisioned host must fail fast
// instead of hanging the sweep.
type SSHRunner struct {
	User           string
	Port           int
	ConnectTimeout int // seconds
}

func NewSSHRunner(user string, port int, connectTimeout int) *SSHRunner {
	if port == 0 {
		port = 22
	}
	if connectTimeout <= 0 {
		connectTimeout = 4
	}
	return &SSHRunner{User: user, Port: port, ConnectTimeout: connectTimeout}
}

// CommandArgs builds the ssh argument vector for one remote command.
func (r *SSHRunner) CommandArgs(host string, command string) []string {
	args := []string{
		"-o", "StrictHostKeyChecking=no",
		"-o", "BatchMode=yes",
		"-o", "ConnectTimeout=" + strconv.Itoa(r.ConnectTimeout),
	}
	if r.Port != 22 {
		args = append(args, "-p", strconv.Itoa(r.Port))
	}
	target := host
	if r.User != "" {
		target = r.User + "@" + host
	}
	args = append(args, target, command)
	return args
}

func (r *SSHRunner) Run(ctx context.Context, host string, command string) (string, error) {
	cmd := exec.CommandContext(ctx, "ssh", r.CommandArgs(host, command)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("ssh to %s failed: %w", host, err)
	}
	return string(out), nil
}
