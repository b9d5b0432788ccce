// Copyright (c) OpenMMLab. All rights reserved.

package metrics

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/zap"

	"github.com/liokouras/varuna/logger"
)

var (
	// Request counter
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "varuna_http_requests_total",
		Help: "Total number of monitor HTTP requests",
	}, []string{"route", "status"})

	// Request latency histogram
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "varuna_http_request_duration_seconds",
		Help:    "Duration of monitor HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	// 1 while the training child is alive, 0 after it exits
	TrainingRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "varuna_training_running",
		Help: "Whether the training child process is running",
	})

	// Last observed exit code of the training child
	TrainingExitCode = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "varuna_training_exit_code",
		Help: "Exit code of the most recent training child",
	})

	EventsStoredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "varuna_events_stored_total",
		Help: "Total number of events appended to the event log",
	})

	// Counts record writes by the state they landed in
	StateTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "varuna_state_transitions_total",
		Help: "Total number of control record transitions by resulting state",
	}, []string{"state"})
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware collects request metrics for every route on the monitor router.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}

		duration := time.Since(start).Seconds()
		status := "success"
		if rec.status >= http.StatusBadRequest {
			status = "error"
		}

		RequestsTotal.WithLabelValues(route, status).Inc()
		RequestDuration.WithLabelValues(route).Observe(duration)
	})
}

// PushMetricsToGateway periodically pushes all collectors to a pushgateway
// until ctx is cancelled.
func PushMetricsToGateway(ctx context.Context, pushgatewayUrl, jobName string, interval time.Duration) {
	if pushgatewayUrl == "" {
		logger.Logger.Error("Pushgateway URL not set, skipping metrics push")
		return
	}

	pusher := push.New(pushgatewayUrl, jobName).
		Collector(RequestsTotal).
		Collector(RequestDuration).
		Collector(TrainingRunning).
		Collector(TrainingExitCode).
		Collector(EventsStoredTotal).
		Collector(StateTransitionsTotal).
		Grouping("instance", getHostname())

	for {
		select {
		case <-ctx.Done():
			// One final push so the exit gauges land before shutdown.
			if err := pusher.Push(); err != nil {
				logger.Logger.Error("Error pushing final metrics", zap.Error(err))
			}
			return
		case <-time.After(interval):
			if err := pusher.Push(); err != nil {
				logger.Logger.Error("Error pushing metrics", zap.Error(err))
			}
		}
	}
}

// PushStopSweep publishes the counters of one stop sweep to a pushgateway.
// Local gauges keep repeated sweeps from accumulating in the default registry.
func PushStopSweep(pushgatewayUrl string, attempted, succeeded, failed int) error {
	attemptedG := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "varuna_stop_hosts_attempted",
		Help: "Hosts attempted in the last stop sweep",
	})
	succeededG := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "varuna_stop_hosts_succeeded",
		Help: "Hosts successfully stopped in the last stop sweep",
	})
	failedG := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "varuna_stop_hosts_failed",
		Help: "Hosts that failed in the last stop sweep",
	})
	attemptedG.Set(float64(attempted))
	succeededG.Set(float64(succeeded))
	failedG.Set(float64(failed))

	return push.New(pushgatewayUrl, "varunactl_stop").
		Collector(attemptedG).
		Collector(succeededG).
		Collector(failedG).
		Grouping("instance", getHostname()).
		Push()
}

func getHostname() string {
	if hostname, err := os.Hostname(); err == nil {
		return hostname
	}

	if hostname := os.Getenv("HOSTNAME"); hostname != "" {
		return hostname
	}

	if hostname := os.Getenv("HOST"); hostname != "" {
		return hostname
	}

	if data, err := os.ReadFile("/etc/hostname"); err == nil {
		return string(data)
	}

	return "unknown"
}
