// Package query filters and orders record sets for display.
package query

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/text/cases"

	"movimenti/internal/core"
)

// Direction is a sort direction.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

var (
	ErrInvalidSortField = errors.New("invalid sort field")
	ErrInvalidDirection = errors.New("invalid sort direction")
)

// SortFields are the fields a view can be ordered by.
var SortFields = []core.Field{core.FieldTransactionDate, core.FieldDescription, core.FieldAmount}

// Spec selects and orders a view of records.
type Spec struct {
	FilterText string     `json:"filter,omitempty"`
	SortField  core.Field `json:"sort"`
	Direction  Direction  `json:"dir"`
}

// DefaultSpec shows the most recent transactions first.
func DefaultSpec() Spec {
	return Spec{SortField: core.FieldTransactionDate, Direction: Desc}
}

// ParseSpec builds a Spec from user input. An empty field keeps the default
// ordering; a field without a direction sorts ascending.
func ParseSpec(filter, field, dir string) (Spec, error) {
	spec := DefaultSpec()
	spec.FilterText = filter

	field = strings.TrimSpace(field)
	dir = strings.ToLower(strings.TrimSpace(dir))
	if field != "" {
		f := core.Field(field)
		if !slices.Contains(SortFields, f) {
			return Spec{}, fmt.Errorf("%w: %q", ErrInvalidSortField, field)
		}
		spec.SortField = f
		spec.Direction = Asc
	}
	switch Direction(dir) {
	case "":
	case Asc, Desc:
		spec.Direction = Direction(dir)
	default:
		return Spec{}, fmt.Errorf("%w: %q", ErrInvalidDirection, dir)
	}
	return spec, nil
}

// Toggle returns the spec after a column header click: the same field flips
// direction, a new field starts ascending.
func (s Spec) Toggle(field core.Field) Spec {
	if s.SortField == field {
		if s.Direction == Asc {
			s.Direction = Desc
		} else {
			s.Direction = Asc
		}
		return s
	}
	s.SortField = field
	s.Direction = Asc
	return s
}

// Apply filters then stably sorts records. The input is never modified.
func Apply(records []core.Record, spec Spec) []core.Record {
	out := Filter(records, spec.FilterText)
	sortInPlace(out, spec.SortField, spec.Direction)
	return out
}

// Filter keeps records whose description contains text, ignoring case, or
// whose amount contains text in its plain or two-decimal form. Blank text
// keeps everything. The result is a new slice.
func Filter(records []core.Record, text string) []core.Record {
	text = strings.TrimSpace(text)
	if text == "" {
		return slices.Clone(records)
	}
	fold := cases.Fold()
	needle := fold.String(text)

	out := make([]core.Record, 0, len(records))
	for _, r := range records {
		if strings.Contains(fold.String(r.Description), needle) ||
			strings.Contains(r.Amount.String(), text) ||
			strings.Contains(core.FormatAmount(r.Amount), text) {
			out = append(out, r)
		}
	}
	return out
}

// Sort returns a stably sorted copy of records.
func Sort(records []core.Record, field core.Field, dir Direction) []core.Record {
	out := slices.Clone(records)
	sortInPlace(out, field, dir)
	return out
}

func sortInPlace(records []core.Record, field core.Field, dir Direction) {
	if field == "" {
		return
	}
	slices.SortStableFunc(records, func(a, b core.Record) int {
		if dir == Desc {
			return -Compare(a, b, field)
		}
		return Compare(a, b, field)
	})
}

// Compare orders two records by field: strings lexicographically, dates
// chronologically and amounts numerically. A missing post date sorts first.
func Compare(a, b core.Record, field core.Field) int {
	switch field {
	case core.FieldTransactionDate:
		return a.TransactionDate.Compare(b.TransactionDate)
	case core.FieldPostDate:
		switch {
		case a.PostDate == nil && b.PostDate == nil:
			return 0
		case a.PostDate == nil:
			return -1
		case b.PostDate == nil:
			return 1
		}
		return a.PostDate.Compare(*b.PostDate)
	case core.FieldAmount:
		return a.Amount.Cmp(b.Amount)
	case core.FieldDescription:
		return strings.Compare(a.Description, b.Description)
	case core.FieldCategory:
		return strings.Compare(a.Category, b.Category)
	case core.FieldType:
		return strings.Compare(a.Type, b.Type)
	case core.FieldMemo:
		return strings.Compare(a.Memo, b.Memo)
	}
	return 0
}
