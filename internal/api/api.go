/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/friendsincode/holdkeeper/internal/auth"
	"github.com/friendsincode/holdkeeper/internal/coordinator"
	"github.com/friendsincode/holdkeeper/internal/logbuffer"
)

// API exposes the hold coordinators over HTTP.
type API struct {
	pool        *coordinator.Pool
	adminSecret []byte
	logs        *logbuffer.Buffer
	logger      zerolog.Logger
}

// New creates the API. An empty adminSecret disables the admin routes.
func New(pool *coordinator.Pool, adminSecret []byte, logger zerolog.Logger) *API {
	return &API{
		pool:        pool,
		adminSecret: adminSecret,
		logger:      logger.With().Str("component", "api").Logger(),
	}
}

// SetLogBuffer exposes recent log lines on the admin routes.
func (a *API) SetLogBuffer(buf *logbuffer.Buffer) {
	a.logs = buf
}

// Routes mounts API routes on provided router.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1/units/{unitID}", func(r chi.Router) {
		r.Post("/check", a.handleCheck)

		r.Route("/holds", func(r chi.Router) {
			r.Get("/", a.handleList)
			r.Post("/", a.handleHold)
			r.Post("/{token}/confirm", a.handleConfirm)
			r.Delete("/{token}", a.handleRelease)
		})

		if len(a.adminSecret) > 0 {
			r.With(auth.RequireRole(a.adminSecret, auth.RoleAdmin)).Post("/cleanup", a.handleCleanup)
		}
	})

	if len(a.adminSecret) > 0 {
		r.Route("/api/v1/admin", func(r chi.Router) {
			r.Use(auth.RequireRole(a.adminSecret, auth.RoleAdmin))
			r.Get("/pool", a.handlePoolStatus)
			r.Post("/instances", a.handleAddInstance)
			r.Delete("/instances/{instanceID}", a.handleRemoveInstance)
			r.Get("/logs", a.handleLogs)
		})
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}
