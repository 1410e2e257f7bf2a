// Package store defines the persistence boundary for canonical records.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"movimenti/internal/core"
)

// ErrNotFound is returned when no record carries the requested id.
var ErrNotFound = errors.New("record not found")

// SelectOptions controls the ordering and size of a SelectAll result.
// A zero OrderBy leaves ordering to the backend; a zero Limit means no limit.
type SelectOptions struct {
	OrderBy    core.Field
	Descending bool
	Limit      int
}

// Ports for outbound adapters.
type (
	Inserter interface {
		// InsertBatch persists records and reports how many were written.
		// A record without an id gets one from IDFor.
		InsertBatch(ctx context.Context, records []core.Record) (int, error)
	}

	Selector interface {
		SelectAll(ctx context.Context, opts SelectOptions) ([]core.Record, error)
	}

	Deleter interface {
		DeleteByID(ctx context.Context, id string) error
	}

	Updater interface {
		UpdateByID(ctx context.Context, id string, patch core.Patch) error
	}

	// Store is the full record store used by services.
	Store interface {
		Inserter
		Selector
		Deleter
		Updater
	}
)

// Sortable reports whether a backend must support ordering by field.
func Sortable(field core.Field) bool {
	switch field {
	case "", core.FieldTransactionDate, core.FieldPostDate, core.FieldDescription,
		core.FieldCategory, core.FieldType, core.FieldAmount, core.FieldMemo:
		return true
	}
	return false
}

// IDFor returns the record's id, or a new random one when it has none.
func IDFor(rec core.Record) string {
	if rec.ID != "" {
		return rec.ID
	}
	return uuid.NewString()
}
