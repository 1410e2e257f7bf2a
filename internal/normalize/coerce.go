package normalize

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"movimenti/internal/core"
)

// dateLayouts are tried in order. Layouts without a zone are read as UTC.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"01/02/2006",
	"1/2/2006",
	"01/02/2006 15:04:05",
	"1/2/2006 15:04",
	"1/2/06",
	"2006/01/02",
	"2006/1/2",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"02 Jan 2006",
	"Mon, 02 Jan 2006 15:04:05 MST",
	time.RFC1123Z,
}

// ParseDate reads a calendar date or timestamp and returns it in UTC.
func ParseDate(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, core.ErrInvalidDate
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, core.ErrInvalidDate
}

// ParseAmount strips everything but digits, decimal points and a leading
// minus sign, then parses the rest. "$1,234.56" yields 1234.56.
func ParseAmount(raw string) (decimal.Decimal, error) {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9', r == '.':
			b.WriteRune(r)
		case r == '-' && b.Len() == 0:
			b.WriteRune(r)
		}
	}
	s := b.String()
	if !strings.ContainsAny(s, "0123456789") {
		return decimal.Zero, core.ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, core.ErrInvalidAmount
	}
	return d, nil
}

// Value is a coerced field value. Exactly one member is meaningful,
// depending on the field it was coerced for.
type Value struct {
	Time   time.Time
	Amount decimal.Decimal
	Text   string
}

// Coerce converts the raw string of a canonical field into its typed value.
// Failures are wrapped in a *core.FieldError naming the field.
func Coerce(field core.Field, raw string) (Value, error) {
	switch field {
	case core.FieldTransactionDate, core.FieldPostDate:
		t, err := ParseDate(raw)
		if err != nil {
			return Value{}, &core.FieldError{Field: field, Value: raw, Err: err}
		}
		return Value{Time: t}, nil
	case core.FieldAmount:
		d, err := ParseAmount(raw)
		if err != nil {
			return Value{}, &core.FieldError{Field: field, Value: raw, Err: err}
		}
		return Value{Amount: d}, nil
	default:
		return Value{Text: strings.TrimSpace(raw)}, nil
	}
}
