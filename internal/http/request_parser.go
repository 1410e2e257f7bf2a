// Package http provides HTTP server and handler implementations.
//
// This file implements utilities for parsing and validating HTTP request data:
// query parameters, CSV uploads and JSON transaction bodies.

package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"movimenti/internal/core"
	"movimenti/internal/query"
)

const dateLayout = "2006-01-02"

var errBadRequest = fmt.Errorf("%w: malformed request", core.ErrParse)

// ImportParams are the query options of an upload.
type ImportParams struct {
	HasHeader bool
	Async     bool
}

// ParseImportParams reads header and async flags. The header flag defaults to
// true.
func ParseImportParams(q url.Values) (ImportParams, error) {
	params := ImportParams{HasHeader: true}
	var err error
	if params.HasHeader, err = parseBoolParam(q, "header", true); err != nil {
		return ImportParams{}, err
	}
	if params.Async, err = parseBoolParam(q, "async", false); err != nil {
		return ImportParams{}, err
	}
	return params, nil
}

func parseBoolParam(q url.Values, key string, def bool) (bool, error) {
	v := strings.TrimSpace(q.Get(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: %s must be a boolean, got %q", errBadRequest, key, v)
	}
	return b, nil
}

// Upload is the CSV payload of an import request.
type Upload struct {
	Source string
	Data   []byte
}

// ReadUpload extracts the CSV either from the multipart field "file" or from
// the raw request body. Bodies above maxBytes fail with *http.MaxBytesError.
func ReadUpload(w http.ResponseWriter, r *http.Request, maxBytes int64) (Upload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		file, header, err := r.FormFile("file")
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				return Upload{}, err
			}
			return Upload{}, fmt.Errorf("%w: multipart field \"file\" is required", errBadRequest)
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			return Upload{}, fmt.Errorf("read upload: %w", err)
		}
		return Upload{Source: sanitizeInput(filepath.Base(header.Filename)), Data: data}, nil
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return Upload{}, err
	}
	source := sanitizeInput(r.URL.Query().Get("source"))
	if source == "" {
		source = "upload"
	}
	return Upload{Source: source, Data: data}, nil
}

// transactionRequest is the body of a manual entry.
type transactionRequest struct {
	TransactionDate string          `json:"transaction_date"`
	PostDate        string          `json:"post_date"`
	Description     string          `json:"description"`
	Amount          json.RawMessage `json:"amount"`
	Category        string          `json:"category"`
	Type            string          `json:"type"`
	Memo            string          `json:"memo"`
}

// patchRequest is the body of a partial update. Absent keys stay nil.
type patchRequest struct {
	TransactionDate *string         `json:"transaction_date"`
	PostDate        *string         `json:"post_date"`
	Description     *string         `json:"description"`
	Amount          json.RawMessage `json:"amount"`
	Category        *string         `json:"category"`
	Type            *string         `json:"type"`
	Memo            *string         `json:"memo"`
}

// decodeJSON reads one JSON object, rejecting unknown keys and trailing data.
func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return err
		}
		return fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: body must contain a single JSON object", errBadRequest)
	}
	return nil
}

// ParseTransaction decodes a manual entry into a record.
func ParseTransaction(w http.ResponseWriter, r *http.Request, maxBytes int64) (core.Record, error) {
	var req transactionRequest
	if err := decodeJSON(w, r, maxBytes, &req); err != nil {
		return core.Record{}, err
	}

	amount, err := parseAmountJSON(req.Amount)
	if err != nil {
		return core.Record{}, err
	}
	rec := core.Record{
		Description: sanitizeInput(req.Description),
		Amount:      amount,
		Category:    sanitizeInput(req.Category),
		Type:        sanitizeInput(req.Type),
		Memo:        sanitizeInput(req.Memo),
	}
	if s := strings.TrimSpace(req.TransactionDate); s != "" {
		if rec.TransactionDate, err = parseDate(s); err != nil {
			return core.Record{}, &core.FieldError{Field: core.FieldTransactionDate, Value: s, Err: core.ErrInvalidDate}
		}
	}
	if s := strings.TrimSpace(req.PostDate); s != "" {
		pd, err := parseDate(s)
		if err != nil {
			return core.Record{}, &core.FieldError{Field: core.FieldPostDate, Value: s, Err: core.ErrInvalidDate}
		}
		rec.PostDate = &pd
	}
	return rec, nil
}

// ParsePatch decodes a partial update.
func ParsePatch(w http.ResponseWriter, r *http.Request, maxBytes int64) (core.Patch, error) {
	var req patchRequest
	if err := decodeJSON(w, r, maxBytes, &req); err != nil {
		return core.Patch{}, err
	}

	var patch core.Patch
	if len(req.Amount) > 0 && !bytes.Equal(req.Amount, []byte("null")) {
		amount, err := parseAmountJSON(req.Amount)
		if err != nil {
			return core.Patch{}, err
		}
		patch.Amount = &amount
	}
	if req.TransactionDate != nil {
		d, err := parseDate(*req.TransactionDate)
		if err != nil {
			return core.Patch{}, &core.FieldError{Field: core.FieldTransactionDate, Value: *req.TransactionDate, Err: core.ErrInvalidDate}
		}
		patch.TransactionDate = &d
	}
	if req.PostDate != nil {
		d, err := parseDate(*req.PostDate)
		if err != nil {
			return core.Patch{}, &core.FieldError{Field: core.FieldPostDate, Value: *req.PostDate, Err: core.ErrInvalidDate}
		}
		patch.PostDate = &d
	}
	patch.Description = sanitizePtr(req.Description)
	patch.Category = sanitizePtr(req.Category)
	patch.Type = sanitizePtr(req.Type)
	patch.Memo = sanitizePtr(req.Memo)
	return patch, nil
}

// parseAmountJSON accepts an amount as a JSON string or number.
func parseAmountJSON(raw json.RawMessage) (decimal.Decimal, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return decimal.Zero, &core.FieldError{Field: core.FieldAmount, Err: core.ErrRequiredFieldMissing}
	}
	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return decimal.Zero, &core.FieldError{Field: core.FieldAmount, Err: core.ErrInvalidAmount}
		}
	}
	d, err := core.ParseAmount(text)
	if err != nil {
		return decimal.Zero, &core.FieldError{Field: core.FieldAmount, Value: text, Err: core.ErrInvalidAmount}
	}
	return d, nil
}

// parseDate accepts YYYY-MM-DD or RFC 3339 and returns a UTC time.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// ParseSummaryRange reads start and end as calendar days. The end day is
// included in full. Missing bounds are returned as zero times.
func ParseSummaryRange(q url.Values) (start, end time.Time, err error) {
	if s := strings.TrimSpace(q.Get("start")); s != "" {
		if start, err = time.Parse(dateLayout, s); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: start must be YYYY-MM-DD, got %q", errBadRequest, s)
		}
	}
	if s := strings.TrimSpace(q.Get("end")); s != "" {
		if end, err = time.Parse(dateLayout, s); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: end must be YYYY-MM-DD, got %q", errBadRequest, s)
		}
		end = end.Add(24*time.Hour - time.Nanosecond)
	}
	return start, end, nil
}

// ParseListSpec builds the filter and ordering of a listing.
func ParseListSpec(q url.Values) (query.Spec, error) {
	return query.ParseSpec(sanitizeInput(q.Get("filter")), q.Get("sort"), q.Get("dir"))
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

func sanitizePtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := sanitizeInput(*s)
	return &v
}
