/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsMiddlewareUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(MetricsMiddleware)
	r.Delete("/units/{unitID}/holds/{token}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	before := testutil.ToFloat64(APIRequestsTotal.WithLabelValues(http.MethodDelete, "/units/{unitID}/holds/{token}", "204"))

	req := httptest.NewRequest(http.MethodDelete, "/units/room-1/holds/secret-token", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}

	after := testutil.ToFloat64(APIRequestsTotal.WithLabelValues(http.MethodDelete, "/units/{unitID}/holds/{token}", "204"))
	if after != before+1 {
		t.Fatalf("request counter = %v, want %v", after, before+1)
	}
}

func TestResponseWriterDefaultsToOK(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}

	if _, err := rw.Write([]byte("ok")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	rw.WriteHeader(http.StatusTeapot)

	if rw.statusCode != http.StatusOK {
		t.Fatalf("statusCode = %d, want 200 after implicit header", rw.statusCode)
	}
}
