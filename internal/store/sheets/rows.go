package sheets

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"movimenti/internal/core"
)

// Column layout of the transactions sheet, A through I.
var header = []string{"ID", "Transaction Date", "Post Date", "Description", "Category", "Type", "Amount", "Memo", "Extra"}

const (
	colID = iota
	colTransactionDate
	colPostDate
	colDescription
	colCategory
	colType
	colAmount
	colMemo
	colExtra
	numCols
)

// lastCol is the column letter of colExtra.
const lastCol = "I"

// recordToRow renders rec as sheet cells. Dates are RFC 3339 and amounts are
// written as plain strings so nothing is lost to spreadsheet number parsing.
func recordToRow(id string, rec core.Record) ([]any, error) {
	row := make([]any, numCols)
	row[colID] = id
	row[colTransactionDate] = rec.TransactionDate.UTC().Format(time.RFC3339)
	row[colPostDate] = ""
	if rec.PostDate != nil {
		row[colPostDate] = rec.PostDate.UTC().Format(time.RFC3339)
	}
	row[colDescription] = rec.Description
	row[colCategory] = rec.Category
	row[colType] = rec.Type
	row[colAmount] = rec.Amount.String()
	row[colMemo] = rec.Memo
	row[colExtra] = ""
	if len(rec.Extra) > 0 {
		b, err := json.Marshal(rec.Extra)
		if err != nil {
			return nil, err
		}
		row[colExtra] = string(b)
	}
	return row, nil
}

// rowToRecord parses one sheet row. Rows without an id are reported as not ok.
func rowToRecord(row []any) (core.Record, bool, error) {
	cols := toStrings(row)
	id := safeGet(cols, colID)
	if id == "" {
		return core.Record{}, false, nil
	}

	rec := core.Record{
		ID:          id,
		Description: safeGet(cols, colDescription),
		Category:    safeGet(cols, colCategory),
		Type:        safeGet(cols, colType),
		Memo:        safeGet(cols, colMemo),
	}

	t, err := time.Parse(time.RFC3339, safeGet(cols, colTransactionDate))
	if err != nil {
		return rec, true, fmt.Errorf("row %s: transaction date: %w", id, err)
	}
	rec.TransactionDate = t.UTC()

	if v := safeGet(cols, colPostDate); v != "" {
		pd, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return rec, true, fmt.Errorf("row %s: post date: %w", id, err)
		}
		pd = pd.UTC()
		rec.PostDate = &pd
	}

	amt, err := decimal.NewFromString(strings.ReplaceAll(safeGet(cols, colAmount), ",", "."))
	if err != nil {
		return rec, true, fmt.Errorf("row %s: amount: %w", id, err)
	}
	rec.Amount = amt

	if v := safeGet(cols, colExtra); v != "" {
		if err := json.Unmarshal([]byte(v), &rec.Extra); err != nil {
			return rec, true, fmt.Errorf("row %s: extra: %w", id, err)
		}
	}
	return rec, true, nil
}

// isHeader reports whether row is the header row.
func isHeader(row []any) bool {
	cols := toStrings(row)
	return len(cols) > 0 && strings.EqualFold(cols[0], header[0])
}

func toStrings(in []any) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}

func safeGet(arr []string, idx int) string {
	if idx < 0 || idx >= len(arr) {
		return ""
	}
	return arr[idx]
}

func headerRow() []any {
	out := make([]any, len(header))
	for i, h := range header {
		out[i] = h
	}
	return out
}
