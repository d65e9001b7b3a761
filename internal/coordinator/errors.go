/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package coordinator

import (
	"errors"
	"fmt"
	"time"

	"github.com/friendsincode/holdkeeper/internal/models"
)

var (
	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("invalid request")

	// ErrConflict matches every *ConflictError.
	ErrConflict = errors.New("range unavailable")

	// ErrHoldNotFound indicates the token has no active hold (never existed or already resolved).
	ErrHoldNotFound = errors.New("hold not found")

	// ErrHoldExpired indicates the hold existed but its TTL has passed.
	ErrHoldExpired = errors.New("hold expired")

	// ErrStorage matches every *StorageError. Callers may retry.
	ErrStorage = errors.New("storage unavailable")

	// ErrCoordinatorStopped is returned when a request reaches a coordinator that is shutting down.
	ErrCoordinatorStopped = errors.New("coordinator stopped")

	// ErrNotOwner matches every *NotOwnerError.
	ErrNotOwner = errors.New("unit owned by another instance")

	// ErrInstanceExists is returned when adding an instance already on the ring.
	ErrInstanceExists = errors.New("instance already on ring")

	// ErrInstanceNotFound is returned when removing an instance not on the ring.
	ErrInstanceNotFound = errors.New("instance not on ring")

	// ErrLocalInstance is returned when asked to remove this instance from its own ring.
	ErrLocalInstance = errors.New("cannot remove local instance")
)

// ValidationError reports a missing or malformed request field.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// ConflictReason tells callers whether a range is permanently or transiently unavailable.
type ConflictReason string

const (
	ReasonBlocked ConflictReason = "blocked"
	ReasonHeld    ConflictReason = "held"
)

// ConflictError carries the first conflict found. Block is set for ReasonBlocked,
// HoldExpiresAt for ReasonHeld.
type ConflictError struct {
	Reason        ConflictReason
	Block         *models.Block
	HoldExpiresAt *time.Time
}

func (e *ConflictError) Error() string {
	switch e.Reason {
	case ReasonBlocked:
		if e.Block != nil {
			return fmt.Sprintf("range unavailable: overlaps block %s", e.Block.Range())
		}
	case ReasonHeld:
		if e.HoldExpiresAt != nil {
			return fmt.Sprintf("range unavailable: held until %s", e.HoldExpiresAt.UTC().Format(time.RFC3339))
		}
	}
	return fmt.Sprintf("range unavailable: %s", e.Reason)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// StorageError wraps a durable read or write failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NotOwnerError names the instance that owns the unit.
type NotOwnerError struct {
	UnitID string
	Owner  string
}

func (e *NotOwnerError) Error() string {
	return fmt.Sprintf("unit %s is owned by instance %s", e.UnitID, e.Owner)
}

func (e *NotOwnerError) Is(target error) bool {
	return target == ErrNotOwner
}

// outcome classifies an operation result for metrics.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrHoldNotFound):
		return "not_found"
	case errors.Is(err, ErrHoldExpired):
		return "expired"
	case errors.Is(err, ErrStorage):
		return "storage_error"
	default:
		return "error"
	}
}
