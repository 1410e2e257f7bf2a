package ingest

import (
	"slices"
	"time"

	"movimenti/internal/core"
)

// Status is the overall outcome of an import.
type Status string

const (
	StatusSucceeded Status = "succeeded" // every attempted row persisted
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed" // nothing persisted
)

// RowError explains why one input row was not normalized.
type RowError struct {
	Index   int        `json:"index"`
	Line    int        `json:"line"`
	Field   core.Field `json:"field,omitempty"`
	Kind    core.Kind  `json:"kind"`
	Message string     `json:"message"`
}

// BatchError is a store failure shared by every row of one batch.
type BatchError struct {
	Batch   int       `json:"batch"`
	Rows    []int     `json:"rows"`
	Size    int       `json:"size"`
	Kind    core.Kind `json:"kind"`
	Message string    `json:"message"`
}

// Verification is the read-back performed after all batches were attempted.
type Verification struct {
	Performed bool          `json:"performed"`
	Records   []core.Record `json:"records,omitempty"`
	Kind      core.Kind     `json:"kind,omitempty"`
	Message   string        `json:"message,omitempty"`
}

// Report accounts for every data row of one import.
//
//	Attempted  == Normalized + NormalizationFailed
//	Normalized == Persisted + PersistFailed
type Report struct {
	Source              string        `json:"source,omitempty"`
	Status              Status        `json:"status"`
	Attempted           int           `json:"attempted"`
	Normalized          int           `json:"normalized"`
	NormalizationFailed int           `json:"normalization_failed"`
	Persisted           int           `json:"persisted"`
	PersistFailed       int           `json:"persist_failed"`
	BatchesSubmitted    int           `json:"batches_submitted"`
	BatchesFailed       int           `json:"batches_failed"`
	RowErrors           []RowError    `json:"row_errors"`
	BatchErrors         []BatchError  `json:"batch_errors"`
	Verification        Verification  `json:"verification"`
	StartedAt           time.Time     `json:"started_at"`
	Duration            time.Duration `json:"duration_ns"`
}

func newReport(source string) *Report {
	return &Report{
		Source:      source,
		RowErrors:   []RowError{},
		BatchErrors: []BatchError{},
		StartedAt:   time.Now().UTC(),
	}
}

func (r *Report) addRowError(index, line int, err error) {
	r.RowErrors = append(r.RowErrors, RowError{
		Index:   index,
		Line:    line,
		Field:   core.FieldOf(err),
		Kind:    core.KindOf(err),
		Message: err.Error(),
	})
	r.NormalizationFailed++
}

// finish sorts the details and derives the status.
func (r *Report) finish() {
	slices.SortFunc(r.RowErrors, func(a, b RowError) int { return a.Index - b.Index })
	slices.SortFunc(r.BatchErrors, func(a, b BatchError) int { return a.Batch - b.Batch })

	switch {
	case r.Persisted == r.Attempted:
		r.Status = StatusSucceeded
	case r.Persisted == 0:
		r.Status = StatusFailed
	default:
		r.Status = StatusPartial
	}
	r.Duration = time.Since(r.StartedAt)
}

// FailedRows returns the indexes of every row that was not persisted, in
// input order.
func (r *Report) FailedRows() []int {
	out := make([]int, 0, r.NormalizationFailed+r.PersistFailed)
	for _, e := range r.RowErrors {
		out = append(out, e.Index)
	}
	for _, b := range r.BatchErrors {
		out = append(out, b.Rows...)
	}
	slices.Sort(out)
	return out
}
