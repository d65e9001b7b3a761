/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package daterange models calendar-day ranges with half-open semantics.
//
// A range [Start, End) covers every night from Start up to but excluding End,
// so a stay ending on day D and another starting on day D do not overlap.
package daterange

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Layout is the only accepted textual form of a Date.
const Layout = "2006-01-02"

var (
	// ErrInvalidDate indicates a value that is not a YYYY-MM-DD calendar date.
	ErrInvalidDate = errors.New("invalid date")

	// ErrEmptyRange indicates a range whose end is not after its start.
	ErrEmptyRange = errors.New("end date must be after start date")
)

// Date is a calendar day without time of day or timezone.
// The zero value is not a valid date.
type Date struct {
	t time.Time
}

// NewDate builds a Date from its components.
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// Parse reads a YYYY-MM-DD string.
func Parse(s string) (Date, error) {
	if len(s) != len(Layout) {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	t, err := time.Parse(Layout, s)
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return Date{t: t}, nil
}

// MustParse is Parse for literals in tests and fixtures.
func MustParse(s string) Date {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// IsZero reports whether d was never set.
func (d Date) IsZero() bool { return d.t.IsZero() }

// Before reports whether d is strictly earlier than other.
func (d Date) Before(other Date) bool { return d.t.Before(other.t) }

// After reports whether d is strictly later than other.
func (d Date) After(other Date) bool { return d.t.After(other.t) }

// Equal reports whether both values name the same day.
func (d Date) Equal(other Date) bool { return d.t.Equal(other.t) }

// AddDays returns the date n days later (or earlier for negative n).
func (d Date) AddDays(n int) Date { return Date{t: d.t.AddDate(0, 0, n)} }

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(Layout)
}

// MarshalJSON encodes the date as its ISO string.
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts an ISO string; an empty string yields the zero Date.
func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidDate, string(data))
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Range is a half-open interval of days [Start, End).
type Range struct {
	Start Date `json:"startDate"`
	End   Date `json:"endDate"`
}

// New validates and builds a Range.
func New(start, end Date) (Range, error) {
	if start.IsZero() || end.IsZero() {
		return Range{}, ErrInvalidDate
	}
	if !start.Before(end) {
		return Range{}, fmt.Errorf("%w: %s..%s", ErrEmptyRange, start, end)
	}
	return Range{Start: start, End: end}, nil
}

// ParseRange parses both bounds and validates the result.
func ParseRange(start, end string) (Range, error) {
	s, err := Parse(start)
	if err != nil {
		return Range{}, err
	}
	e, err := Parse(end)
	if err != nil {
		return Range{}, err
	}
	return New(s, e)
}

// Overlaps reports whether [aStart, aEnd) and [bStart, bEnd) share at least one day.
func Overlaps(aStart, aEnd, bStart, bEnd Date) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// Overlaps reports whether r and other share at least one day.
func (r Range) Overlaps(other Range) bool {
	return Overlaps(r.Start, r.End, other.Start, other.End)
}

// Nights returns the number of days covered by the range.
func (r Range) Nights() int {
	return int(r.End.t.Sub(r.Start.t).Hours() / 24)
}

func (r Range) String() string {
	return fmt.Sprintf("[%s, %s)", r.Start, r.End)
}
