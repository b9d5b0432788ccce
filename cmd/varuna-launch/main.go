// Copyright (c) OpenMMLab. All rights reserved.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/liokouras/varuna/logger"
	"github.com/liokouras/varuna/pkg/config"
	"github.com/liokouras/varuna/pkg/eventlog"
	"github.com/liokouras/varuna/pkg/launch"
	"github.com/liokouras/varuna/pkg/metrics"
	"github.com/liokouras/varuna/pkg/monitor"
	"github.com/liokouras/varuna/pkg/state"
	"github.com/liokouras/varuna/pkg/version"
)

// 1. Define command-line arguments
var (
	ConfigPath     = flag.String("config", "", "path to varuna.yaml, searches . and /etc/varuna if unset")
	Listen         = flag.String("listen", "", "monitor HTTP listen address (e.g., :8080), disabled if unset")
	PushGatewayURL = flag.String("push-gateway", "", "Pushgateway URL (e.g., http://localhost:9091)")
	JobName        = flag.String("job-name", "varuna", "Job name for metrics")
	PushInterval   = flag.Duration("push-interval", 0, "Metrics push interval, default from configuration")
)

func main() {
	flag.Parse()

	params, err := launch.ParseParams(flag.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, "usage: varuna-launch [flags] <node-count> <node-rank> <master-addr> <checkpoint-iter>")
		os.Exit(2)
	}

	cfg, err := config.Load(*ConfigPath)
	if err != nil {
		logger.Logger.Error("Failed to load configuration", zap.Error(err))
		os.Exit(1)
	}

	// Flags override the deployment block
	listen := *Listen
	if listen == "" {
		listen = cfg.Monitor.Listen
	}
	pushGateway := *PushGatewayURL
	if pushGateway == "" {
		pushGateway = cfg.Monitor.PushGateway
	}
	pushInterval := *PushInterval
	if pushInterval <= 0 {
		pushInterval = cfg.Monitor.PushInterval
	}
	if pushInterval <= 0 {
		pushInterval = 15 * time.Second
	}

	jobID := cfg.Job.Name
	runID := uuid.New().String()

	store := state.NewStore(cfg.Fleet.WorkDir)
	events, err := eventlog.New(cfg.EventDir(), params.NodeRank, 0)
	if err != nil {
		logger.Logger.Error("Failed to init event log", zap.Error(err))
		os.Exit(1)
	}

	inv := launch.Render(cfg, params)
	logger.Logger.Info("Starting training",
		zap.String("version", version.GetLauncherVersionInfo()),
		zap.String("job_id", jobID),
		zap.String("run_id", runID),
		zap.Int("node_rank", params.NodeRank),
		zap.Int("nservers", params.NNodes))
	logger.Logger.Info("Rendered training command", zap.String("command", inv.String()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		metrics.PushMetricsToGateway(gctx, pushGateway, *JobName, pushInterval)
		return nil
	})
	if listen != "" {
		handler := monitor.NewDefaultHandler(store, events, cfg.Fleet.StaleAfter)
		group.Go(func() error {
			logger.Logger.Info("Monitor HTTP server listening at", zap.String("addr", listen))
			return monitor.Serve(gctx, listen, handler)
		})
	}

	// Records and events start once the child is actually running
	onStart := func(pid int) {
		if _, err := store.Init(jobID, runID, params.NodeRank, pid, params.NNodes); err != nil {
			logger.Logger.Error("Failed to write running record", zap.Error(err))
		} else {
			metrics.StateTransitionsTotal.WithLabelValues(string(state.StateRunning)).Inc()
		}
		metrics.TrainingRunning.Set(1)

		if _, err := events.Append(eventlog.Event{
			Source:   eventlog.SourceLauncher,
			JobID:    jobID,
			RunID:    runID,
			NodeRank: params.NodeRank,
			Message:  "launched",
			Metadata: eventlog.Metadata{"pid": pid, "nservers": params.NNodes},
		}); err != nil {
			logger.Logger.Error("Failed to append launch event", zap.Error(err))
		}

		watcher := state.NewDrainWatcher(cfg.Fleet.WorkDir, func() {
			if _, err := store.Transition(state.StateDraining, nil); err != nil {
				logger.Logger.Error("Failed to record draining state", zap.Error(err))
				return
			}
			metrics.StateTransitionsTotal.WithLabelValues(string(state.StateDraining)).Inc()
			if _, err := events.Append(eventlog.Event{
				Source:   eventlog.SourceLauncher,
				JobID:    jobID,
				RunID:    runID,
				NodeRank: params.NodeRank,
				Message:  "draining",
			}); err != nil {
				logger.Logger.Error("Failed to append draining event", zap.Error(err))
			}
		})
		go func() {
			if err := watcher.Watch(ctx); err != nil {
				logger.Logger.Error("Drain watcher error", zap.Error(err))
			}
		}()
	}

	supervisor := launch.NewSupervisor(inv, cfg.Fleet.WorkDir, onStart)
	code, runErr := supervisor.Run(ctx)
	metrics.TrainingRunning.Set(0)
	if runErr != nil {
		logger.Logger.Error("Training process error", zap.Error(runErr))
	}

	// code is negative only when the child never ran, so there is no record
	// to close out in that case
	if code >= 0 {
		metrics.TrainingExitCode.Set(float64(code))

		if _, err := store.Transition(state.StateStopped, func(rec *state.Record) {
			exitCode := code
			rec.ExitCode = &exitCode
		}); err != nil {
			logger.Logger.Error("Failed to record stopped state", zap.Error(err))
		} else {
			metrics.StateTransitionsTotal.WithLabelValues(string(state.StateStopped)).Inc()
		}
		if _, err := events.Append(eventlog.Event{
			Source:   eventlog.SourceLauncher,
			JobID:    jobID,
			RunID:    runID,
			NodeRank: params.NodeRank,
			Message:  "exited",
			Metadata: eventlog.Metadata{"exit_code": code},
		}); err != nil {
			logger.Logger.Error("Failed to append exit event", zap.Error(err))
		}
	}

	cancel()
	if err := group.Wait(); err != nil {
		logger.Logger.Error("Monitor server error", zap.Error(err))
	}

	logger.Logger.Info("Training process finished", zap.Int("exit_code", code))
	if code < 0 {
		os.Exit(1)
	}
	os.Exit(code)
}
