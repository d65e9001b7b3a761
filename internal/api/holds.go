/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/holdkeeper/internal/coordinator"
	"github.com/friendsincode/holdkeeper/internal/daterange"
	"github.com/friendsincode/holdkeeper/internal/models"
)

// maxTTLMinutes is the largest ttlMinutes that converts to a time.Duration
// without overflowing. The coordinator applies the configured cap.
const maxTTLMinutes = math.MaxInt64 / int64(time.Minute)

// A list filter with one bound is open-ended on the other side.
const (
	openStartDate = "0001-01-02"
	openEndDate   = "9999-12-31"
)

type blockRequest struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

type checkRequest struct {
	StartDate      string         `json:"startDate"`
	EndDate        string         `json:"endDate"`
	ExistingBlocks []blockRequest `json:"existingBlocks"`
}

type holdRequest struct {
	StartDate      string         `json:"startDate"`
	EndDate        string         `json:"endDate"`
	TTLMinutes     *int           `json:"ttlMinutes"`
	ExistingBlocks []blockRequest `json:"existingBlocks"`
}

type cleanupResponse struct {
	Cleaned int `json:"cleaned"`
}

// requestError is a transport-level validation failure.
type requestError struct {
	code    string
	message string
}

func (e *requestError) Error() string { return e.message }

func (a *API) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "request body must be a JSON object")
		return
	}

	rng, err := parseRange(req.StartDate, req.EndDate)
	if err != nil {
		a.writeFailure(w, r, err)
		return
	}
	blocks, err := parseBlocks(req.ExistingBlocks)
	if err != nil {
		a.writeFailure(w, r, err)
		return
	}

	var result coordinator.Availability
	err = a.pool.Do(r.Context(), chi.URLParam(r, "unitID"), func(c *coordinator.Coordinator) error {
		var err error
		result, err = c.Check(r.Context(), coordinator.CheckRequest{Range: rng, Blocks: blocks})
		return err
	})
	if err != nil {
		a.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleHold(w http.ResponseWriter, r *http.Request) {
	var req holdRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "request body must be a JSON object")
		return
	}

	rng, err := parseRange(req.StartDate, req.EndDate)
	if err != nil {
		a.writeFailure(w, r, err)
		return
	}
	blocks, err := parseBlocks(req.ExistingBlocks)
	if err != nil {
		a.writeFailure(w, r, err)
		return
	}

	var ttl time.Duration
	if req.TTLMinutes != nil {
		if *req.TTLMinutes <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_ttl", "ttlMinutes must be positive")
			return
		}
		if int64(*req.TTLMinutes) > maxTTLMinutes {
			writeError(w, http.StatusBadRequest, "invalid_ttl", "ttlMinutes is out of range")
			return
		}
		ttl = time.Duration(*req.TTLMinutes) * time.Minute
	}

	var result coordinator.HoldResult
	err = a.pool.Do(r.Context(), chi.URLParam(r, "unitID"), func(c *coordinator.Coordinator) error {
		var err error
		result, err = c.Hold(r.Context(), coordinator.HoldRequest{Range: rng, TTL: ttl, Blocks: blocks})
		return err
	})
	if err != nil {
		a.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (a *API) handleConfirm(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(chi.URLParam(r, "token"))

	var confirmed daterange.Range
	err := a.pool.Do(r.Context(), chi.URLParam(r, "unitID"), func(c *coordinator.Coordinator) error {
		var err error
		confirmed, err = c.Confirm(r.Context(), token)
		return err
	})
	if err != nil {
		a.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, confirmed)
}

func (a *API) handleRelease(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(chi.URLParam(r, "token"))

	err := a.pool.Do(r.Context(), chi.URLParam(r, "unitID"), func(c *coordinator.Coordinator) error {
		return c.Release(r.Context(), token)
	})
	if err != nil {
		a.writeFailure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleList(w http.ResponseWriter, r *http.Request) {
	var within *daterange.Range
	start, end := r.URL.Query().Get("startDate"), r.URL.Query().Get("endDate")
	if start != "" || end != "" {
		if start == "" {
			start = openStartDate
		}
		if end == "" {
			end = openEndDate
		}
		rng, err := parseRange(start, end)
		if err != nil {
			a.writeFailure(w, r, err)
			return
		}
		within = &rng
	}

	var views []coordinator.HoldView
	err := a.pool.Do(r.Context(), chi.URLParam(r, "unitID"), func(c *coordinator.Coordinator) error {
		var err error
		views, err = c.List(r.Context(), within)
		return err
	})
	if err != nil {
		a.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (a *API) handleCleanup(w http.ResponseWriter, r *http.Request) {
	var cleaned int
	err := a.pool.Do(r.Context(), chi.URLParam(r, "unitID"), func(c *coordinator.Coordinator) error {
		var err error
		cleaned, err = c.Cleanup(r.Context())
		return err
	})
	if err != nil {
		a.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cleanupResponse{Cleaned: cleaned})
}

func parseRange(start, end string) (daterange.Range, error) {
	if start == "" || end == "" {
		return daterange.Range{}, &requestError{code: "invalid_date", message: "startDate and endDate are required"}
	}
	rng, err := daterange.ParseRange(start, end)
	switch {
	case err == nil:
		return rng, nil
	case errors.Is(err, daterange.ErrEmptyRange):
		return daterange.Range{}, &requestError{code: "invalid_range", message: "endDate must be after startDate"}
	default:
		return daterange.Range{}, &requestError{code: "invalid_date", message: "dates must be YYYY-MM-DD"}
	}
}

func parseBlocks(in []blockRequest) ([]models.Block, error) {
	blocks := make([]models.Block, 0, len(in))
	for i, b := range in {
		rng, err := parseRange(b.StartDate, b.EndDate)
		if err != nil {
			var reqErr *requestError
			if errors.As(err, &reqErr) {
				reqErr.message = fmt.Sprintf("existingBlocks[%d]: %s", i, reqErr.message)
			}
			return nil, err
		}
		blocks = append(blocks, models.Block{Start: rng.Start, End: rng.End})
	}
	return blocks, nil
}
