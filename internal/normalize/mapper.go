// Package normalize turns raw input rows into canonical records.
package normalize

import (
	"strings"
	"unicode"

	"movimenti/internal/core"
)

// headerFields maps the header labels bank exports use to canonical fields.
var headerFields = map[string]core.Field{
	"Transaction Date": core.FieldTransactionDate,
	"Post Date":        core.FieldPostDate,
	"Description":      core.FieldDescription,
	"Category":         core.FieldCategory,
	"Type":             core.FieldType,
	"Amount":           core.FieldAmount,
	"Memo":             core.FieldMemo,
}

// PositionalOrder assigns canonical fields to columns of headerless input.
var PositionalOrder = []core.Field{
	core.FieldTransactionDate,
	core.FieldAmount,
	core.FieldType,
	core.FieldCategory,
	core.FieldDescription,
}

// MapLabel returns the canonical name of a header label. Unknown labels are
// lowercased with whitespace runs collapsed to underscores, so the result may
// name a field outside the canonical schema.
func MapLabel(label string) core.Field {
	label = strings.TrimSpace(strings.TrimPrefix(label, "\ufeff"))
	if f, ok := headerFields[label]; ok {
		return f
	}
	return core.Field(strings.Join(strings.FieldsFunc(strings.ToLower(label), unicode.IsSpace), "_"))
}

// MapPosition returns the canonical field of a headerless column, or false for
// columns past the positional order.
func MapPosition(index int) (core.Field, bool) {
	if index < 0 || index >= len(PositionalOrder) {
		return "", false
	}
	return PositionalOrder[index], true
}
