// Copyright (c) OpenMMLab. All rights reserved.

// Package monitor is the launcher-side HTTP surface: job state, event
// queries, the training webhook and prometheus metrics.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/liokouras/varuna/logger"
	"github.com/liokouras/varuna/pkg/eventlog"
	"github.com/liokouras/varuna/pkg/metrics"
	"github.com/liokouras/varuna/pkg/state"
)

func NewDefaultHandler(store *state.Store, events *eventlog.EventLog, staleAfter time.Duration) *DefaultHandler {
	return &DefaultHandler{store: store, events: events, staleAfter: staleAfter}
}

func (h *DefaultHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/event/webhook", h.handleWebhook).Methods("POST")
	router.HandleFunc("/state", h.handleState).Methods("GET")
	router.HandleFunc("/events", h.handleEvents).Methods("GET")
}

// NewRouter assembles the full monitor router with metrics middleware, the
// health check and the prometheus scrape endpoint.
func NewRouter(h *DefaultHandler) *mux.Router {
	router := mux.NewRouter()
	router.Use(metrics.Middleware)

	h.RegisterRoutes(router)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return router
}

// Serve runs the monitor until ctx is cancelled.
func Serve(ctx context.Context, addr string, h *DefaultHandler) error {
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      NewRouter(h),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Logger.Info("monitor listening at", zap.String("addr", addr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Logger.Warn("monitor shutdown error", zap.Error(err))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (h *DefaultHandler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var req SendEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	// no severity info right now, set default value 0
	severity := int32(0)

	_, err := h.events.Append(eventlog.Event{
		Source:   eventlog.SourceWebhook,
		Type:     eventlog.TypeAlert,
		Message:  req.Content.Text,
		Severity: severity,
	})
	if err != nil {
		http.Error(w, "Failed to store alert message", http.StatusInternalServerError)
		return
	}
	metrics.EventsStoredTotal.Inc()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "success"})
}

func (h *DefaultHandler) handleState(w http.ResponseWriter, r *http.Request) {
	rec, err := h.store.Load()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			http.Error(w, "No state record", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to load state record", http.StatusInternalServerError)
		return
	}

	resp := StateResponse{
		Record: rec,
		Stale:  rec.StaleAt(time.Now(), h.staleAfter),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (h *DefaultHandler) handleEvents(w http.ResponseWriter, r *http.Request) {
	filter := eventlog.Filter{
		Type:   r.URL.Query().Get("type"),
		Source: r.URL.Query().Get("source"),
		JobID:  r.URL.Query().Get("job_id"),
		RunID:  r.URL.Query().Get("run_id"),
	}
	if since := r.URL.Query().Get("since"); since != "" {
		value, err := strconv.ParseInt(since, 10, 64)
		if err != nil {
			http.Error(w, "Invalid since parameter", http.StatusBadRequest)
			return
		}
		filter.StartTime = value
	}
	if sev := r.URL.Query().Get("min_severity"); sev != "" {
		value, err := strconv.ParseInt(sev, 10, 32)
		if err != nil {
			http.Error(w, "Invalid min_severity parameter", http.StatusBadRequest)
			return
		}
		filter.MinSeverity = int32(value)
	}

	events, err := h.events.Load(filter)
	if err != nil {
		http.Error(w, "Failed to load events", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"events": events})
}
