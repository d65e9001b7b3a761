/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/holdkeeper/internal/config"
	"github.com/friendsincode/holdkeeper/internal/logbuffer"
)

func testConfig() *config.Config {
	return &config.Config{
		Environment:      "test",
		HTTPBind:         "127.0.0.1",
		HTTPPort:         0,
		StorageBackend:   config.StorageMemory,
		StorageTimeout:   time.Second,
		DefaultHoldTTL:   15 * time.Minute,
		MaxHoldTTL:       time.Hour,
		ActorIdleTimeout: time.Minute,
		InstanceID:       "node-a",
		JWTSigningKey:    "server-test-secret",
		EventsBackend:    config.EventsMemory,
	}
}

func newTestServer(t *testing.T, logBuf *logbuffer.Buffer, logger zerolog.Logger) *Server {
	t.Helper()
	srv, err := New(context.Background(), testConfig(), logBuf, logger)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		if err := srv.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return srv
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, nil, zerolog.Nop())

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["instance"] != "node-a" {
		t.Fatalf("body = %v", body)
	}
	if srv.MetricsServer() != nil {
		t.Fatal("metrics server created without a bind address")
	}
}

func TestHoldRoundTripPublishesEvents(t *testing.T) {
	buf := logbuffer.New(100)
	logger := zerolog.New(logbuffer.NewWriter(buf))
	srv := newTestServer(t, buf, logger)

	body := bytes.NewBufferString(`{"startDate":"2030-01-10","endDate":"2030-01-12"}`)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/units/cabin-7/holds", body))
	if rr.Code != http.StatusCreated {
		t.Fatalf("hold status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("security headers missing")
	}
	if srv.Pool().Len() != 1 {
		t.Fatalf("pool has %d coordinators, want 1", srv.Pool().Len())
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		entries := buf.Query(logbuffer.QueryParams{Component: "events", UnitID: "cabin-7"})
		if len(entries) > 0 {
			if got := entries[0].Fields["event"]; got != "hold.created" {
				t.Fatalf("event = %v, want hold.created", got)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("hold.created was not observed on the bus")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	h := securityHeadersMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name      string
		forwarded string
		wantHSTS  bool
	}{
		{"plain http", "", false},
		{"behind tls proxy", "https", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/units/u1/holds", nil)
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-Proto", tt.forwarded)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if got := rr.Header().Get("X-Frame-Options"); got != "DENY" {
				t.Fatalf("X-Frame-Options=%q, want DENY", got)
			}
			if got := rr.Header().Get("Cache-Control"); got != "no-store" {
				t.Fatalf("Cache-Control=%q, want no-store", got)
			}
			hsts := rr.Header().Get("Strict-Transport-Security")
			if tt.wantHSTS && hsts != "max-age=31536000; includeSubDomains" {
				t.Fatalf("Strict-Transport-Security=%q", hsts)
			}
			if !tt.wantHSTS && hsts != "" {
				t.Fatalf("unexpected HSTS %q", hsts)
			}
		})
	}
}

func TestNewRejectsUnknownStorage(t *testing.T) {
	cfg := testConfig()
	cfg.StorageBackend = "tape"
	if _, err := New(context.Background(), cfg, nil, zerolog.Nop()); err == nil {
		t.Fatal("New() accepted an unknown storage backend")
	}
}
