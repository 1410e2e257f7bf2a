package normalize

import (
	"strings"

	"movimenti/internal/core"
)

// Options tunes row normalization.
type Options struct {
	// StrictDescription applies the manual entry description bounds to
	// ingested rows as well.
	StrictDescription bool
}

// Normalizer maps and coerces raw rows into canonical records. It holds no
// mutable state and is safe for concurrent use.
type Normalizer struct {
	opts Options
}

// New creates a Normalizer.
func New(opts Options) *Normalizer {
	return &Normalizer{opts: opts}
}

// Normalize converts one raw row into a record, or returns the first
// field-level error. No partial record is returned on failure.
func (n *Normalizer) Normalize(row core.RawRow) (core.Record, error) {
	values, extra := assign(row)

	var rec core.Record
	for _, field := range core.CanonicalFields {
		raw, present := values[field]
		blank := strings.TrimSpace(raw) == ""

		switch field {
		case core.FieldTransactionDate, core.FieldAmount:
			if !present || blank {
				return core.Record{}, &core.FieldError{Field: field, Err: core.ErrRequiredFieldMissing}
			}
		case core.FieldPostDate:
			if blank {
				continue
			}
		case core.FieldDescription:
			if n.opts.StrictDescription {
				if err := core.ValidateDescription(raw); err != nil {
					return core.Record{}, err
				}
			}
		}
		if !present {
			continue
		}

		v, err := Coerce(field, raw)
		if err != nil {
			return core.Record{}, err
		}
		switch field {
		case core.FieldTransactionDate:
			rec.TransactionDate = v.Time
		case core.FieldPostDate:
			pd := v.Time
			rec.PostDate = &pd
		case core.FieldAmount:
			rec.Amount = v.Amount
		case core.FieldDescription:
			rec.Description = v.Text
		case core.FieldCategory:
			rec.Category = v.Text
		case core.FieldType:
			rec.Type = v.Text
		case core.FieldMemo:
			rec.Memo = v.Text
		}
	}
	if len(extra) > 0 {
		rec.Extra = extra
	}
	return rec, nil
}

// assign resolves the field identity of every cell. A later column mapping to
// the same field overrides an earlier one.
func assign(row core.RawRow) (map[core.Field]string, map[string]string) {
	values := make(map[core.Field]string, len(core.CanonicalFields))
	var extra map[string]string

	for i, cell := range row.Cells {
		var field core.Field
		if row.Keyed {
			field = MapLabel(cell.Label)
		} else {
			f, ok := MapPosition(i)
			if !ok {
				continue
			}
			field = f
		}
		if field == "" {
			continue
		}
		if field.Known() {
			values[field] = cell.Value
			continue
		}
		v := strings.TrimSpace(cell.Value)
		if v == "" {
			continue
		}
		if extra == nil {
			extra = make(map[string]string)
		}
		extra[string(field)] = v
	}
	return values, extra
}
