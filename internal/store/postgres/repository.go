// Package postgres stores records in PostgreSQL through a pgx connection pool.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"movimenti/internal/core"
	"movimenti/internal/log"
	"movimenti/internal/store"
)

const selectColumns = `id, transaction_date, post_date, description, category, type, amount::text, memo, extra`

var orderColumns = map[core.Field]string{
	core.FieldTransactionDate: "transaction_date",
	core.FieldPostDate:        "post_date",
	core.FieldDescription:     "description",
	core.FieldCategory:        "category",
	core.FieldType:            "type",
	core.FieldAmount:          "amount",
	core.FieldMemo:            "memo",
}

type PostgresRepository struct {
	pool   *pgxpool.Pool
	logger *log.Logger
}

var _ store.Store = (*PostgresRepository)(nil)

// NewPostgresRepository connects to url, runs migrations and returns a ready
// repository.
func NewPostgresRepository(ctx context.Context, url string, logger *log.Logger) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	if logger == nil {
		logger = log.Discard()
	}
	return &PostgresRepository{pool: pool, logger: logger.WithComponent(log.ComponentStorage)}, nil
}

func (r *PostgresRepository) Close() error {
	if r.pool != nil {
		r.pool.Close()
	}
	return nil
}

// InsertBatch sends every insert in one pgx batch inside a transaction.
func (r *PostgresRepository) InsertBatch(ctx context.Context, records []core.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	batch := &pgx.Batch{}
	for i, rec := range records {
		args, err := encode(store.IDFor(rec), rec)
		if err != nil {
			return 0, fmt.Errorf("encode record %d: %w", i, err)
		}
		batch.Queue(`INSERT INTO transactions
			(id, transaction_date, post_date, description, category, type, amount, memo, extra)
			VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9)`, args...)
	}

	results := tx.SendBatch(ctx, batch)
	written := 0
	for i := range records {
		tag, err := results.Exec()
		if err != nil {
			results.Close()
			return 0, fmt.Errorf("insert record %d: %w", i, err)
		}
		written += int(tag.RowsAffected())
	}
	if err := results.Close(); err != nil {
		return 0, fmt.Errorf("close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	r.logger.DebugContext(ctx, "Batch saved to Postgres", log.FieldCount, written)
	return written, nil
}

func (r *PostgresRepository) SelectAll(ctx context.Context, opts store.SelectOptions) ([]core.Record, error) {
	var q strings.Builder
	q.WriteString("SELECT " + selectColumns + " FROM transactions")

	if opts.OrderBy != "" {
		col, ok := orderColumns[opts.OrderBy]
		if !ok {
			return nil, fmt.Errorf("unsupported order field %q", opts.OrderBy)
		}
		q.WriteString(" ORDER BY " + col)
		if opts.Descending {
			q.WriteString(" DESC NULLS LAST")
		}
		q.WriteString(", seq")
	} else {
		q.WriteString(" ORDER BY seq")
	}

	var args []any
	if opts.Limit > 0 {
		q.WriteString(" LIMIT $1")
		args = append(args, opts.Limit)
	}

	rows, err := r.pool.Query(ctx, q.String(), args...)
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

func (r *PostgresRepository) DeleteByID(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM transactions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete transaction %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) UpdateByID(ctx context.Context, id string, patch core.Patch) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	row := tx.QueryRow(ctx, "SELECT "+selectColumns+" FROM transactions WHERE id = $1 FOR UPDATE", id)
	current, err := r.scan(ctx, row)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}

	args, err := encode(id, patch.Apply(current))
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	_, err = tx.Exec(ctx, `UPDATE transactions SET
		transaction_date = $1, post_date = $2, description = $3, category = $4,
		type = $5, amount = $6::numeric, memo = $7, extra = $8
		WHERE id = $9`, append(args[1:], id)...)
	if err != nil {
		return fmt.Errorf("update transaction %s: %w", id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func encode(id string, rec core.Record) ([]any, error) {
	var postDate *time.Time
	if rec.PostDate != nil {
		pd := rec.PostDate.UTC()
		postDate = &pd
	}
	var extra []byte
	if len(rec.Extra) > 0 {
		b, err := json.Marshal(rec.Extra)
		if err != nil {
			return nil, err
		}
		extra = b
	}
	return []any{
		id,
		rec.TransactionDate.UTC(),
		postDate,
		rec.Description,
		rec.Category,
		rec.Type,
		rec.Amount.String(),
		rec.Memo,
		extra,
	}, nil
}

// scan decodes one row. An unreadable amount is logged and left zero.
func (r *PostgresRepository) scan(ctx context.Context, row pgx.Row) (core.Record, error) {
	var (
		rec      core.Record
		amount   string
		postDate *time.Time
		extra    []byte
	)
	if err := row.Scan(&rec.ID, &rec.TransactionDate, &postDate, &rec.Description, &rec.Category,
		&rec.Type, &amount, &rec.Memo, &extra); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.Record{}, err
		}
		return core.Record{}, fmt.Errorf("scan transaction: %w", err)
	}

	rec.TransactionDate = rec.TransactionDate.UTC()
	if postDate != nil {
		pd := postDate.UTC()
		rec.PostDate = &pd
	}
	if d, err := decimal.NewFromString(amount); err == nil {
		rec.Amount = d
	} else {
		r.logger.WarnContext(ctx, "Unreadable stored amount", log.FieldRecordID, rec.ID, log.FieldError, err)
	}
	if len(extra) > 0 {
		if err := json.Unmarshal(extra, &rec.Extra); err != nil {
			r.logger.WarnContext(ctx, "Unreadable stored extra columns", log.FieldRecordID, rec.ID, log.FieldError, err)
		}
	}
	return rec, nil
}
