// Package sheets stores records as rows of a Google Sheets spreadsheet.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"movimenti/internal/core"
	"movimenti/internal/log"
	"movimenti/internal/query"
	"movimenti/internal/store"
)

type Config struct {
	SpreadsheetID      string
	SheetName          string
	ServiceAccountFile string
	ServiceAccountJSON string
}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string
	logger        *log.Logger

	// mu serializes writes; row positions shift on every append or delete.
	mu            sync.Mutex
	sheetID       *int64
	headerWritten bool
}

var _ store.Store = (*Client)(nil)

// New creates a Sheets-backed store. Extra client options replace the
// service account credentials, which lets tests point at a fake endpoint.
func New(ctx context.Context, cfg Config, logger *log.Logger, opts ...goption.ClientOption) (*Client, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet ID")
	}
	if strings.TrimSpace(cfg.SheetName) == "" {
		cfg.SheetName = "Transactions"
	}
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentSheets)

	if len(opts) == 0 {
		creds, err := readCredentials(cfg)
		if err != nil {
			return nil, err
		}
		opts = []goption.ClientOption{
			goption.WithCredentialsJSON(creds),
			goption.WithScopes(gsheet.SpreadsheetsScope),
		}
	}

	svc, err := gsheet.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	logger.InfoContext(ctx, "Google Sheets service created", "spreadsheet_id", cfg.SpreadsheetID, "sheet", cfg.SheetName)

	return &Client{
		svc:           svc,
		spreadsheetID: cfg.SpreadsheetID,
		sheetName:     cfg.SheetName,
		logger:        logger,
	}, nil
}

func readCredentials(cfg Config) ([]byte, error) {
	switch {
	case strings.TrimSpace(cfg.ServiceAccountJSON) != "":
		return []byte(cfg.ServiceAccountJSON), nil
	case strings.TrimSpace(cfg.ServiceAccountFile) != "":
		b, err := os.ReadFile(cfg.ServiceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return b, nil
	}
	return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE)")
}

func (c *Client) fullRange() string {
	return fmt.Sprintf("%s!A:%s", c.sheetName, lastCol)
}

// InsertBatch appends one row per record in a single Values.Append call.
func (c *Client) InsertBatch(ctx context.Context, records []core.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	values := make([][]any, 0, len(records)+1)
	if !c.headerWritten {
		rows, err := c.readRows(ctx)
		if err != nil {
			return 0, err
		}
		if len(rows) == 0 {
			values = append(values, headerRow())
		}
	}
	for i, rec := range records {
		row, err := recordToRow(store.IDFor(rec), rec)
		if err != nil {
			return 0, fmt.Errorf("encode record %d: %w", i, err)
		}
		values = append(values, row)
	}

	_, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, c.fullRange(), &gsheet.ValueRange{Values: values}).
		ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("append to sheet %s: %w", c.sheetName, err)
	}
	c.headerWritten = true
	c.logger.DebugContext(ctx, "Batch appended to sheet", log.FieldCount, len(records))
	return len(records), nil
}

func (c *Client) SelectAll(ctx context.Context, opts store.SelectOptions) ([]core.Record, error) {
	if !store.Sortable(opts.OrderBy) {
		return nil, fmt.Errorf("unsupported order field %q", opts.OrderBy)
	}
	rows, err := c.readRows(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]core.Record, 0, len(rows))
	for _, row := range rows {
		if isHeader(row) {
			continue
		}
		rec, ok, err := rowToRecord(row)
		if !ok {
			continue
		}
		if err != nil {
			c.logger.WarnContext(ctx, "Unreadable sheet row", log.FieldRecordID, rec.ID, log.FieldError, err)
		}
		out = append(out, rec)
	}

	if opts.OrderBy != "" {
		dir := query.Asc
		if opts.Descending {
			dir = query.Desc
		}
		out = query.Sort(out, opts.OrderBy, dir)
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (c *Client) DeleteByID(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx, _, err := c.findRow(ctx, id)
	if err != nil {
		return err
	}
	sheetID, err := c.lookupSheetID(ctx)
	if err != nil {
		return err
	}

	req := &gsheet.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheet.Request{{
			DeleteDimension: &gsheet.DeleteDimensionRequest{
				Range: &gsheet.DimensionRange{
					SheetId:    sheetID,
					Dimension:  "ROWS",
					StartIndex: int64(idx),
					EndIndex:   int64(idx + 1),
				},
			},
		}},
	}
	if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("delete row %d in sheet %s: %w", idx+1, c.sheetName, err)
	}
	return nil
}

func (c *Client) UpdateByID(ctx context.Context, id string, patch core.Patch) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx, current, err := c.findRow(ctx, id)
	if err != nil {
		return err
	}
	row, err := recordToRow(id, patch.Apply(current))
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	rng := fmt.Sprintf("%s!A%d:%s%d", c.sheetName, idx+1, lastCol, idx+1)
	_, err = c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, &gsheet.ValueRange{Values: [][]any{row}}).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("update %s: %w", rng, err)
	}
	return nil
}

func (c *Client) readRows(ctx context.Context) ([][]any, error) {
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, c.fullRange()).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", c.fullRange(), err)
	}
	return resp.Values, nil
}

// findRow returns the zero-based row index holding id.
func (c *Client) findRow(ctx context.Context, id string) (int, core.Record, error) {
	rows, err := c.readRows(ctx)
	if err != nil {
		return 0, core.Record{}, err
	}
	for i, row := range rows {
		if isHeader(row) {
			continue
		}
		rec, ok, _ := rowToRecord(row)
		if ok && rec.ID == id {
			return i, rec, nil
		}
	}
	return 0, core.Record{}, store.ErrNotFound
}

func (c *Client) lookupSheetID(ctx context.Context) (int64, error) {
	if c.sheetID != nil {
		return *c.sheetID, nil
	}
	ss, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("read spreadsheet metadata: %w", err)
	}
	for _, s := range ss.Sheets {
		if s.Properties != nil && s.Properties.Title == c.sheetName {
			id := s.Properties.SheetId
			c.sheetID = &id
			return id, nil
		}
	}
	return 0, fmt.Errorf("sheet %s not found in spreadsheet %s", c.sheetName, strconv.Quote(c.spreadsheetID))
}
