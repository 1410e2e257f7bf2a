package core

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// Field is the canonical name of a record attribute.
type Field string

const (
	FieldTransactionDate Field = "transaction_date"
	FieldPostDate        Field = "post_date"
	FieldDescription     Field = "description"
	FieldCategory        Field = "category"
	FieldType            Field = "type"
	FieldAmount          Field = "amount"
	FieldMemo            Field = "memo"
)

// CanonicalFields lists the fields of the record schema in display order.
var CanonicalFields = []Field{
	FieldTransactionDate,
	FieldPostDate,
	FieldDescription,
	FieldCategory,
	FieldType,
	FieldAmount,
	FieldMemo,
}

// Known reports whether f is part of the canonical schema.
func (f Field) Known() bool {
	for _, c := range CanonicalFields {
		if c == f {
			return true
		}
	}
	return false
}

// Manual entry bounds on description length, counted in runes after trimming.
const (
	MinDescriptionLength = 3
	MaxDescriptionLength = 100
)

type (
	// Record is a canonical transaction. Negative amounts are expenses,
	// positive amounts are income.
	Record struct {
		ID              string            `json:"id,omitempty"`
		TransactionDate time.Time         `json:"transaction_date"`
		PostDate        *time.Time        `json:"post_date,omitempty"`
		Description     string            `json:"description"`
		Category        string            `json:"category,omitempty"`
		Type            string            `json:"type,omitempty"`
		Amount          decimal.Decimal   `json:"amount"`
		Memo            string            `json:"memo,omitempty"`
		Extra           map[string]string `json:"extra,omitempty"` // unrecognized input columns
	}

	// Cell is one labelled value of a headered input row.
	Cell struct {
		Label string
		Value string
	}

	// RawRow is one data row as read from the input. A keyed row carries the
	// header label of every cell; a positional row carries bare values.
	RawRow struct {
		Index int  // 0-based data row ordinal
		Line  int  // 1-based input line where the row starts
		Keyed bool
		Cells []Cell
	}

	// Patch is a partial update. Nil fields are left untouched.
	Patch struct {
		TransactionDate *time.Time       `json:"transaction_date,omitempty"`
		PostDate        *time.Time       `json:"post_date,omitempty"`
		Description     *string          `json:"description,omitempty"`
		Category        *string          `json:"category,omitempty"`
		Type            *string          `json:"type,omitempty"`
		Amount          *decimal.Decimal `json:"amount,omitempty"`
		Memo            *string          `json:"memo,omitempty"`
	}
)

// PositionalRow builds a raw row for headerless input.
func PositionalRow(index, line int, values []string) RawRow {
	cells := make([]Cell, len(values))
	for i, v := range values {
		cells[i] = Cell{Value: v}
	}
	return RawRow{Index: index, Line: line, Cells: cells}
}

// KeyedRow builds a raw row pairing values with header labels. Values beyond
// the label count are dropped.
func KeyedRow(index, line int, labels, values []string) RawRow {
	n := min(len(labels), len(values))
	cells := make([]Cell, n)
	for i := 0; i < n; i++ {
		cells[i] = Cell{Label: labels[i], Value: values[i]}
	}
	return RawRow{Index: index, Line: line, Keyed: true, Cells: cells}
}

// IsExpense reports whether the record is money going out.
func (r Record) IsExpense() bool {
	return r.Amount.IsNegative()
}

// IsIncome reports whether the record is money coming in.
func (r Record) IsIncome() bool {
	return r.Amount.IsPositive()
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	out := r
	if r.PostDate != nil {
		pd := *r.PostDate
		out.PostDate = &pd
	}
	if r.Extra != nil {
		out.Extra = make(map[string]string, len(r.Extra))
		for k, v := range r.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// ValidateManual checks a record entered by hand. Bulk-ingested records go
// through the normalizer instead and are not bound by the description limits.
func (r Record) ValidateManual() error {
	if r.TransactionDate.IsZero() {
		return &FieldError{Field: FieldTransactionDate, Err: ErrRequiredFieldMissing}
	}
	if err := ValidateDescription(r.Description); err != nil {
		return err
	}
	return nil
}

// ValidateDescription enforces the manual entry description bounds.
func ValidateDescription(desc string) error {
	trimmed := strings.TrimSpace(desc)
	if trimmed == "" {
		return &FieldError{Field: FieldDescription, Err: ErrRequiredFieldMissing}
	}
	n := utf8.RuneCountInString(trimmed)
	if n < MinDescriptionLength || n > MaxDescriptionLength {
		return &FieldError{Field: FieldDescription, Value: desc, Err: ErrInvalidDescription}
	}
	return nil
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return p.TransactionDate == nil && p.PostDate == nil && p.Description == nil &&
		p.Category == nil && p.Type == nil && p.Amount == nil && p.Memo == nil
}

// Validate checks the fields the patch sets.
func (p Patch) Validate() error {
	if p.Description != nil {
		if err := ValidateDescription(*p.Description); err != nil {
			return err
		}
	}
	if p.TransactionDate != nil && p.TransactionDate.IsZero() {
		return &FieldError{Field: FieldTransactionDate, Err: ErrInvalidDate}
	}
	return nil
}

// Apply returns a copy of r with the patch applied.
func (p Patch) Apply(r Record) Record {
	out := r.Clone()
	if p.TransactionDate != nil {
		out.TransactionDate = p.TransactionDate.UTC()
	}
	if p.PostDate != nil {
		pd := p.PostDate.UTC()
		out.PostDate = &pd
	}
	if p.Description != nil {
		out.Description = strings.TrimSpace(*p.Description)
	}
	if p.Category != nil {
		out.Category = strings.TrimSpace(*p.Category)
	}
	if p.Type != nil {
		out.Type = strings.TrimSpace(*p.Type)
	}
	if p.Amount != nil {
		out.Amount = *p.Amount
	}
	if p.Memo != nil {
		out.Memo = strings.TrimSpace(*p.Memo)
	}
	return out
}
