/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRequireRole(t *testing.T) {
	secret := []byte("test-secret")
	admin, err := Issue(secret, "ops", []string{RoleAdmin}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	viewer, err := Issue(secret, "viewer", []string{"viewer"}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok || claims.Subject != "ops" {
			t.Errorf("expected admin claims in context, got %+v", claims)
		}
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name   string
		secret []byte
		header string
		want   int
	}{
		{"admin bearer", secret, "Bearer " + admin, http.StatusOK},
		{"lowercase scheme", secret, "bearer " + admin, http.StatusOK},
		{"missing header", secret, "", http.StatusUnauthorized},
		{"wrong scheme", secret, "Basic " + admin, http.StatusUnauthorized},
		{"garbage token", secret, "Bearer not-a-jwt", http.StatusUnauthorized},
		{"missing role", secret, "Bearer " + viewer, http.StatusForbidden},
		{"admin disabled", nil, "Bearer " + admin, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/units/u1/cleanup", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()

			RequireRole(tt.secret, RoleAdmin)(next).ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Fatalf("expected %d, got %d body=%s", tt.want, rr.Code, rr.Body.String())
			}
		})
	}
}
