/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/friendsincode/holdkeeper/internal/coordinator"
	"github.com/friendsincode/holdkeeper/internal/models"
)

// OwnerHeader names the instance that owns a unit on 421 responses.
const OwnerHeader = "X-Holdkeeper-Owner"

type conflictResponse struct {
	Error            string        `json:"error"`
	Code             string        `json:"code"`
	ConflictingBlock *models.Block `json:"conflictingBlock,omitempty"`
	HoldExpiresAt    *time.Time    `json:"holdExpiresAt,omitempty"`
}

// writeFailure maps coordinator and request errors to status codes and stable codes.
func (a *API) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	var (
		reqErr     *requestError
		validation *coordinator.ValidationError
		conflict   *coordinator.ConflictError
		notOwner   *coordinator.NotOwnerError
	)

	switch {
	case errors.As(err, &reqErr):
		writeError(w, http.StatusBadRequest, reqErr.code, reqErr.message)

	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, validationCode(validation), validation.Error())

	case errors.As(err, &conflict):
		code := "conflict_held"
		if conflict.Reason == coordinator.ReasonBlocked {
			code = "conflict_blocked"
		}
		writeJSON(w, http.StatusConflict, conflictResponse{
			Error:            conflict.Error(),
			Code:             code,
			ConflictingBlock: conflict.Block,
			HoldExpiresAt:    conflict.HoldExpiresAt,
		})

	case errors.Is(err, coordinator.ErrHoldNotFound):
		writeError(w, http.StatusNotFound, "hold_not_found", err.Error())

	case errors.Is(err, coordinator.ErrHoldExpired):
		writeError(w, http.StatusGone, "hold_expired", err.Error())

	case errors.As(err, &notOwner):
		w.Header().Set(OwnerHeader, notOwner.Owner)
		writeError(w, http.StatusMisdirectedRequest, "unit_not_owned", err.Error())

	case errors.Is(err, coordinator.ErrInstanceExists):
		writeError(w, http.StatusConflict, "instance_exists", err.Error())

	case errors.Is(err, coordinator.ErrInstanceNotFound):
		writeError(w, http.StatusNotFound, "instance_not_found", err.Error())

	case errors.Is(err, coordinator.ErrLocalInstance):
		writeError(w, http.StatusBadRequest, "local_instance", err.Error())

	case errors.Is(err, coordinator.ErrStorage):
		a.logger.Warn().Err(err).Str("request_id", middleware.GetReqID(r.Context())).Msg("storage unavailable")
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "storage_unavailable", "storage unavailable, retry later")

	case errors.Is(err, coordinator.ErrCoordinatorStopped):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "shutting_down", err.Error())

	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request_cancelled", err.Error())

	default:
		a.logger.Error().Err(err).Str("request_id", middleware.GetReqID(r.Context())).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func validationCode(err *coordinator.ValidationError) string {
	switch {
	case err.Field == "ttlMinutes":
		return "invalid_ttl"
	case err.Field == "token":
		return "token_required"
	case err.Field == "instanceId":
		return "instance_required"
	case err.Msg == "required":
		return "invalid_date"
	case strings.HasPrefix(err.Field, "existingBlocks"), err.Field == "endDate":
		return "invalid_range"
	default:
		return "invalid_request"
	}
}
