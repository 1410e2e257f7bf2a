package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"movimenti/internal/core"
)

// positionalWidth is the minimum cell count of a headerless row.
const positionalWidth = 5

// parseFailure is a data row rejected before normalization.
type parseFailure struct {
	index int
	line  int
	err   error
}

type parsed struct {
	rows     []core.RawRow
	failures []parseFailure
	total    int // data rows seen, including failures
}

// parse reads the whole input into raw rows. Structural problems in a single
// row are recorded as failures and reading continues; an unreadable or empty
// input fails as a whole.
func parse(ctx context.Context, r io.Reader, hasHeader bool) (*parsed, error) {
	reader := csv.NewReader(skipBOM(r))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var (
		out    parsed
		labels []string
		seen   bool
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		var pe *csv.ParseError
		if err != nil && !errors.As(err, &pe) {
			return nil, fmt.Errorf("%w: read input: %v", core.ErrParse, err)
		}

		if !seen {
			seen = true
			if pe != nil && hasHeader {
				return nil, fmt.Errorf("%w: header row: %v", core.ErrParse, pe)
			}
			if hasHeader {
				labels = record
				continue
			}
		}

		index := out.total
		out.total++

		if pe != nil {
			out.failures = append(out.failures, parseFailure{
				index: index,
				line:  pe.StartLine,
				err:   fmt.Errorf("%w: %v", core.ErrParse, pe.Err),
			})
			continue
		}

		line, _ := reader.FieldPos(0)
		if hasHeader {
			out.rows = append(out.rows, core.KeyedRow(index, line, labels, record))
			continue
		}
		if len(record) < positionalWidth {
			out.failures = append(out.failures, parseFailure{
				index: index,
				line:  line,
				err:   fmt.Errorf("%w: expected at least %d columns, got %d", core.ErrParse, positionalWidth, len(record)),
			})
			continue
		}
		out.rows = append(out.rows, core.PositionalRow(index, line, record))
	}

	if !seen {
		return nil, core.ErrEmptyInput
	}
	return &out, nil
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// skipBOM drops a leading UTF-8 byte order mark, which spreadsheet exports
// often prepend.
func skipBOM(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}
	return br
}
