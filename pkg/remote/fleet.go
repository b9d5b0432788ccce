// Copyright (c) OpenMMLab. All rights reserved.

package remote

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/liokouras/varuna/logger"
)

// Result is the outcome of one host's command, including failed attempts.
type Result struct {
	Host     string
	Attempts int
	Duration time.Duration
	Output   string
	Err      error
}

func (r Result) OK() bool {
	return r.Err == nil
}

// Options control the fleet sweep. Parallel of 1 walks hosts strictly in file
// order; larger values bound the number of hosts in flight at once. Retries is
// the number of extra attempts per host after the first.
type Options struct {
	Parallel   int
	Retries    int
	RetryDelay time.Duration
}

func (o Options) normalized() Options {
	if o.Parallel < 1 {
		o.Parallel = 1
	}
	if o.Retries < 0 {
		o.Retries = 0
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Second
	}
	return o
}

// RunFleet executes command on every host. Every host is attempted no matter
// how the previous ones fared, and the returned slice matches the input order
// exactly, one Result per host.
func RunFleet(ctx context.Context, runner Runner, hosts []string, command string, opts Options) []Result {
	opts = opts.normalized()
	results := make([]Result, len(hosts))

	if opts.Parallel == 1 {
		for i, host := range hosts {
			results[i] = runHost(ctx, runner, host, command, opts)
		}
		return results
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Parallel)
	for i, host := range hosts {
		i, host := i, host
		g.Go(func() error {
			results[i] = runHost(gctx, runner, host, command, opts)
			return nil
		})
	}
	// Worker funcs never return an error; failures live in the results.
	_ = g.Wait()
	return results
}

func runHost(ctx context.Context, runner Runner, host string, command string, opts Options) Result {
	start := time.Now()
	res := Result{Host: host}

	for attempt := 0; attempt <= opts.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(opts.RetryDelay):
			case <-ctx.Done():
				res.Err = ctx.Err()
				res.Duration = time.Since(start)
				return res
			}
		}
		res.Attempts++
		out, err := runner.Run(ctx, host, command)
		res.Output = out
		res.Err = err
		if err == nil {
			break
		}
		logger.Logger.Warn("remote command failed",
			zap.String("host", host),
			zap.Int("attempt", res.Attempts),
			zap.Error(err))
	}

	res.Duration = time.Since(start)
	return res
}
