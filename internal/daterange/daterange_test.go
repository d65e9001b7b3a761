/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package daterange

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestOverlaps(t *testing.T) {
	tests := []struct {
		name       string
		aStart     string
		aEnd       string
		bStart     string
		bEnd       string
		wantResult bool
	}{
		{"checkout equals checkin", "2024-01-10", "2024-01-15", "2024-01-15", "2024-01-20", false},
		{"one night shared", "2024-01-10", "2024-01-16", "2024-01-15", "2024-01-20", true},
		{"identical", "2024-06-01", "2024-06-05", "2024-06-01", "2024-06-05", true},
		{"contained", "2024-06-01", "2024-06-10", "2024-06-03", "2024-06-04", true},
		{"containing", "2024-06-03", "2024-06-04", "2024-06-01", "2024-06-10", true},
		{"disjoint before", "2024-06-01", "2024-06-03", "2024-06-05", "2024-06-07", false},
		{"disjoint after", "2024-06-05", "2024-06-07", "2024-06-01", "2024-06-03", false},
		{"checkin equals checkout", "2024-01-15", "2024-01-20", "2024-01-10", "2024-01-15", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Overlaps(MustParse(tt.aStart), MustParse(tt.aEnd), MustParse(tt.bStart), MustParse(tt.bEnd))
			if got != tt.wantResult {
				t.Errorf("Overlaps(%s,%s,%s,%s) = %v, want %v", tt.aStart, tt.aEnd, tt.bStart, tt.bEnd, got, tt.wantResult)
			}

			// Symmetric by construction.
			a, _ := ParseRange(tt.aStart, tt.aEnd)
			b, _ := ParseRange(tt.bStart, tt.bEnd)
			if a.Overlaps(b) != b.Overlaps(a) {
				t.Errorf("Overlaps is not symmetric for %s and %s", a, b)
			}
		})
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"2024-06-01", false},
		{"2024-02-29", false},
		{"2023-02-29", true},
		{"2024-6-1", true},
		{"2024-06-01T00:00:00Z", true},
		{"", true},
		{"tomorrow", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			d, err := Parse(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidDate) {
					t.Errorf("expected ErrInvalidDate, got %v", err)
				}
				return
			}
			if d.String() != tt.input {
				t.Errorf("round trip got %q, want %q", d.String(), tt.input)
			}
		})
	}
}

func TestNewRange(t *testing.T) {
	if _, err := ParseRange("2024-06-05", "2024-06-05"); !errors.Is(err, ErrEmptyRange) {
		t.Errorf("expected ErrEmptyRange for zero-length range, got %v", err)
	}
	if _, err := ParseRange("2024-06-05", "2024-06-01"); !errors.Is(err, ErrEmptyRange) {
		t.Errorf("expected ErrEmptyRange for inverted range, got %v", err)
	}
	if _, err := New(Date{}, MustParse("2024-06-01")); !errors.Is(err, ErrInvalidDate) {
		t.Errorf("expected ErrInvalidDate for zero start, got %v", err)
	}

	r, err := ParseRange("2024-06-01", "2024-06-05")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Nights() != 4 {
		t.Errorf("Nights() = %d, want 4", r.Nights())
	}
}

func TestRangeJSON(t *testing.T) {
	r, _ := ParseRange("2024-06-01", "2024-06-05")

	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"startDate":"2024-06-01","endDate":"2024-06-05"}` {
		t.Fatalf("unexpected JSON: %s", data)
	}

	var bad Range
	if err := json.Unmarshal([]byte(`{"startDate":"06/01/2024","endDate":"2024-06-05"}`), &bad); !errors.Is(err, ErrInvalidDate) {
		t.Errorf("expected ErrInvalidDate, got %v", err)
	}
}
