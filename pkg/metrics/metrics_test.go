// Copyright (c) OpenMMLab. All rights reserved.

package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddleware(t *testing.T) {
	router := mux.NewRouter()
	router.Use(Middleware)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)
	router.HandleFunc("/boom", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}).Methods(http.MethodGet)

	before := testutil.ToFloat64(RequestsTotal.WithLabelValues("/health", "success"))
	beforeErr := testutil.ToFloat64(RequestsTotal.WithLabelValues("/boom", "error"))

	for _, path := range []string{"/health", "/boom"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
	}

	after := testutil.ToFloat64(RequestsTotal.WithLabelValues("/health", "success"))
	if after != before+1 {
		t.Errorf("success counter for /health = %v, want %v", after, before+1)
	}

	afterErr := testutil.ToFloat64(RequestsTotal.WithLabelValues("/boom", "error"))
	if afterErr != beforeErr+1 {
		t.Errorf("error counter for /boom = %v, want %v", afterErr, beforeErr+1)
	}
}

func TestTrainingGauges(t *testing.T) {
	TrainingRunning.Set(1)
	if got := testutil.ToFloat64(TrainingRunning); got != 1 {
		t.Errorf("TrainingRunning = %v, want 1", got)
	}
	TrainingRunning.Set(0)
	TrainingExitCode.Set(7)
	if got := testutil.ToFloat64(TrainingExitCode); got != 7 {
		t.Errorf("TrainingExitCode = %v, want 7", got)
	}
}
