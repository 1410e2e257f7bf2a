// Package sqlite stores records in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"movimenti/internal/core"
	"movimenti/internal/log"
	"movimenti/internal/store"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed width so stored timestamps order lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const selectColumns = `id, transaction_date, post_date, description, category, type, amount, memo, extra`

// orderColumns maps sortable fields to SQL expressions.
var orderColumns = map[core.Field]string{
	core.FieldTransactionDate: "transaction_date",
	core.FieldPostDate:        "post_date",
	core.FieldDescription:     "description",
	core.FieldCategory:        "category",
	core.FieldType:            "type",
	core.FieldAmount:          "CAST(amount AS REAL)",
	core.FieldMemo:            "memo",
}

type SQLiteRepository struct {
	db     *sql.DB
	logger *log.Logger
}

var _ store.Store = (*SQLiteRepository)(nil)

func NewSQLiteRepository(dbPath string, logger *log.Logger) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows a single writer
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	if logger == nil {
		logger = log.Discard()
	}
	return &SQLiteRepository{db: db, logger: logger.WithComponent(log.ComponentStorage)}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// InsertBatch writes all records in one transaction. Either every record is
// committed or none is.
func (r *SQLiteRepository) InsertBatch(ctx context.Context, records []core.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO transactions
		(id, transaction_date, post_date, description, category, type, amount, memo, extra)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, rec := range records {
		args, err := encode(store.IDFor(rec), rec)
		if err != nil {
			return 0, fmt.Errorf("encode record %d: %w", i, err)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return 0, fmt.Errorf("insert record %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	r.logger.DebugContext(ctx, "Batch saved to SQLite", log.FieldCount, len(records))
	return len(records), nil
}

func (r *SQLiteRepository) SelectAll(ctx context.Context, opts store.SelectOptions) ([]core.Record, error) {
	var q strings.Builder
	q.WriteString("SELECT " + selectColumns + " FROM transactions")

	if opts.OrderBy != "" {
		col, ok := orderColumns[opts.OrderBy]
		if !ok {
			return nil, fmt.Errorf("unsupported order field %q", opts.OrderBy)
		}
		q.WriteString(" ORDER BY " + col)
		if opts.Descending {
			q.WriteString(" DESC")
		}
		q.WriteString(", rowid")
	} else {
		q.WriteString(" ORDER BY rowid")
	}

	var args []any
	if opts.Limit > 0 {
		q.WriteString(" LIMIT ?")
		args = append(args, opts.Limit)
	}

	rows, err := r.db.QueryContext(ctx, q.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Record
	for rows.Next() {
		rec, err := r.scan(ctx, rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) DeleteByID(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete transaction %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete transaction %s: %w", id, err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) UpdateByID(ctx context.Context, id string, patch core.Patch) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	row := tx.QueryRowContext(ctx, "SELECT "+selectColumns+" FROM transactions WHERE id = ?", id)
	current, err := r.scan(ctx, row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}

	args, err := encode(id, patch.Apply(current))
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	_, err = tx.ExecContext(ctx, `UPDATE transactions SET
		transaction_date = ?, post_date = ?, description = ?, category = ?,
		type = ?, amount = ?, memo = ?, extra = ?
		WHERE id = ?`, append(args[1:], id)...)
	if err != nil {
		return fmt.Errorf("update transaction %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// encode returns the insert arguments for rec, id first.
func encode(id string, rec core.Record) ([]any, error) {
	var postDate, extra sql.NullString
	if rec.PostDate != nil {
		postDate = sql.NullString{String: rec.PostDate.UTC().Format(timeLayout), Valid: true}
	}
	if len(rec.Extra) > 0 {
		b, err := json.Marshal(rec.Extra)
		if err != nil {
			return nil, err
		}
		extra = sql.NullString{String: string(b), Valid: true}
	}
	return []any{
		id,
		rec.TransactionDate.UTC().Format(timeLayout),
		postDate,
		rec.Description,
		rec.Category,
		rec.Type,
		rec.Amount.String(),
		rec.Memo,
		extra,
	}, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scan decodes one row. Unreadable stored values are logged and left zero so
// that aggregation can exclude the record instead of failing the whole read.
func (r *SQLiteRepository) scan(ctx context.Context, row scanner) (core.Record, error) {
	var (
		rec                 core.Record
		txDate, amount      string
		postDate, extraJSON sql.NullString
	)
	if err := row.Scan(&rec.ID, &txDate, &postDate, &rec.Description, &rec.Category,
		&rec.Type, &amount, &rec.Memo, &extraJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Record{}, err
		}
		return core.Record{}, fmt.Errorf("scan transaction: %w", err)
	}

	if t, err := time.Parse(time.RFC3339Nano, txDate); err == nil {
		rec.TransactionDate = t.UTC()
	} else {
		r.logger.WarnContext(ctx, "Unreadable stored transaction date", log.FieldRecordID, rec.ID, log.FieldError, err)
	}
	if postDate.Valid {
		if t, err := time.Parse(time.RFC3339Nano, postDate.String); err == nil {
			pd := t.UTC()
			rec.PostDate = &pd
		}
	}
	if d, err := decimal.NewFromString(amount); err == nil {
		rec.Amount = d
	} else {
		r.logger.WarnContext(ctx, "Unreadable stored amount", log.FieldRecordID, rec.ID, log.FieldError, err)
	}
	if extraJSON.Valid && extraJSON.String != "" {
		if err := json.Unmarshal([]byte(extraJSON.String), &rec.Extra); err != nil {
			r.logger.WarnContext(ctx, "Unreadable stored extra columns", log.FieldRecordID, rec.ID, log.FieldError, err)
		}
	}
	return rec, nil
}
