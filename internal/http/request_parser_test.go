package http

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"movimenti/internal/core"
)

func TestParseImportParams(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		want    ImportParams
		wantErr bool
	}{
		{name: "defaults", query: "", want: ImportParams{HasHeader: true}},
		{name: "headerless async", query: "header=false&async=1", want: ImportParams{HasHeader: false, Async: true}},
		{name: "invalid header", query: "header=yes", wantErr: true},
		{name: "invalid async", query: "async=later", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, _ := url.ParseQuery(tt.query)
			got, err := ParseImportParams(q)
			if tt.wantErr {
				if !errors.Is(err, core.ErrParse) {
					t.Fatalf("ParseImportParams() error = %v, want parse error", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseImportParams() unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseImportParams() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseSummaryRange(t *testing.T) {
	q, _ := url.ParseQuery("start=2024-02-01")
	start, end, err := ParseSummaryRange(q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !start.Equal(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("start = %v", start)
	}
	if !end.IsZero() {
		t.Errorf("missing end should stay zero, got %v", end)
	}

	q, _ = url.ParseQuery("end=2024-02-30")
	if _, _, err := ParseSummaryRange(q); err == nil {
		t.Error("expected error for impossible date")
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{in: "2024-03-05", want: time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)},
		{in: "2024-03-05T23:30:00+02:00", want: time.Date(2024, 3, 5, 21, 30, 0, 0, time.UTC)},
		{in: "05/03/2024", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseDate(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseDate(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(tt.want) {
				t.Errorf("parseDate(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParsePatch_NullAmountIsAbsent(t *testing.T) {
	r := httptest.NewRequest(http.MethodPatch, "/", strings.NewReader(`{"amount":null,"description":"Rent\u0007 "}`))
	patch, err := ParsePatch(httptest.NewRecorder(), r, 1024)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if patch.Amount != nil {
		t.Error("null amount should leave the patch amount unset")
	}
	if patch.Description == nil || *patch.Description != "Rent" {
		t.Errorf("description = %v, want sanitized Rent", patch.Description)
	}
}

func TestSanitizeInput(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"  normal text  ", "normal text"},
		{"text\x00with\x01control", "textwithcontrol"},
		{"tab\tkept", "tab\tkept"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := sanitizeInput(tt.input); got != tt.expected {
			t.Errorf("sanitizeInput(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}
