// Copyright (c) OpenMMLab. All rights reserved.

package launch

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/liokouras/varuna/logger"
)

// Supervisor runs the rendered invocation as a child process with inherited
// stdio and reports its exit status. Signals delivered to the launcher are
// forwarded to the child; SIGUSR1 in particular carries the checkpoint-stop
// request through to the training launcher.
type Supervisor struct {
	inv     Invocation
	workDir string
	onStart func(pid int)
}

func NewSupervisor(inv Invocation, workDir string, onStart func(pid int)) *Supervisor {
	return &Supervisor{inv: inv, workDir: workDir, onStart: onStart}
}

// Run blocks until the child exits and returns its exit code. A child killed
// by signal N maps to 128+N, the usual shell convention. The returned error is
// non-nil only when the child could not be started or waited on at all.
func (s *Supervisor) Run(ctx context.Context) (int, error) {
	cmd := exec.CommandContext(ctx, s.inv.Program, s.inv.Args...)
	cmd.Dir = s.workDir
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), s.inv.Env...)

	if err := cmd.Start(); err != nil {
		return -1, err
	}

	logger.Logger.Info("training child started",
		zap.Int("pid", cmd.Process.Pid),
		zap.String("program", s.inv.Program))

	if s.onStart != nil {
		s.onStart(cmd.Process.Pid)
	}

	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)
	defer signal.Stop(sigCh)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case sig := <-sigCh:
				logger.Logger.Info("forwarding signal to training child",
					zap.String("signal", sig.String()),
					zap.Int("pid", cmd.Process.Pid))
				if err := cmd.Process.Signal(sig); err != nil {
					logger.Logger.Warn("failed to forward signal",
						zap.String("signal", sig.String()),
						zap.Error(err))
				}
			case <-done:
				return
			}
		}
	}()

	err := cmd.Wait()
	close(done)

	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			code := 128 + int(ws.Signal())
			logger.Logger.Info("training child killed by signal",
				zap.String("signal", ws.Signal().String()),
				zap.Int("exit_code", code))
			return code, nil
		}
		logger.Logger.Info("training child exited",
			zap.Int("exit_code", exitErr.ExitCode()))
		return exitErr.ExitCode(), nil
	}

	return -1, err
}
