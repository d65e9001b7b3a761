/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/holdkeeper/internal/logbuffer"
)

const maxLogLimit = 1000

type poolStatusResponse struct {
	InstanceID string   `json:"instanceId"`
	Instances  []string `json:"instances"`
	Active     int      `json:"activeCoordinators"`
	Units      []string `json:"units"`
}

type instanceRequest struct {
	InstanceID string `json:"instanceId"`
}

type logsResponse struct {
	Entries []logbuffer.LogEntry `json:"entries"`
	Stats   logbuffer.Stats      `json:"stats"`
}

func (a *API) handlePoolStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, poolStatusResponse{
		InstanceID: a.pool.InstanceID(),
		Instances:  a.pool.Instances(),
		Active:     a.pool.Len(),
		Units:      a.pool.Units(),
	})
}

// handleAddInstance puts a peer on the ring. Resident coordinators for units
// the peer now owns are drained and stopped.
func (a *API) handleAddInstance(w http.ResponseWriter, r *http.Request) {
	var req instanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "request body must be a JSON object")
		return
	}
	if err := a.pool.AddInstance(strings.TrimSpace(req.InstanceID)); err != nil {
		a.writeFailure(w, r, err)
		return
	}
	a.handlePoolStatus(w, r)
}

func (a *API) handleRemoveInstance(w http.ResponseWriter, r *http.Request) {
	if err := a.pool.RemoveInstance(chi.URLParam(r, "instanceID")); err != nil {
		a.writeFailure(w, r, err)
		return
	}
	a.handlePoolStatus(w, r)
}

func (a *API) handleLogs(w http.ResponseWriter, r *http.Request) {
	if a.logs == nil {
		writeJSON(w, http.StatusOK, logsResponse{Entries: []logbuffer.LogEntry{}})
		return
	}

	q := r.URL.Query()
	params := logbuffer.QueryParams{
		Level:      q.Get("level"),
		Component:  q.Get("component"),
		UnitID:     q.Get("unitId"),
		Search:     q.Get("search"),
		Limit:      200,
		Descending: true,
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		params.Limit = min(limit, maxLogLimit)
	}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_since", "since must be an RFC 3339 timestamp")
			return
		}
		params.Since = since
	}

	entries := a.logs.Query(params)
	if entries == nil {
		entries = []logbuffer.LogEntry{}
	}
	writeJSON(w, http.StatusOK, logsResponse{Entries: entries, Stats: a.logs.Stats()})
}
