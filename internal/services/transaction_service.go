// Package services holds the application use cases behind the HTTP API and
// the worker.
package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"movimenti/internal/aggregate"
	"movimenti/internal/amqp"
	"movimenti/internal/core"
	"movimenti/internal/ingest"
	"movimenti/internal/log"
	"movimenti/internal/query"
	"movimenti/internal/store"
)

var (
	// ErrAsyncUnavailable is returned by ImportAsync without a publisher.
	ErrAsyncUnavailable = errors.New("asynchronous import not configured")
	// ErrEmptyPatch is returned when an update changes nothing.
	ErrEmptyPatch = errors.New("update contains no fields")
)

// ImportPublisher hands import jobs to a worker.
type ImportPublisher interface {
	PublishImportRequest(ctx context.Context, msg *amqp.ImportRequestMessage) error
}

// TransactionService orchestrates imports, manual edits and read models over
// one record store.
type TransactionService struct {
	store     store.Store
	pipeline  *ingest.Pipeline
	publisher ImportPublisher
	logger    *log.Logger
	now       func() time.Time
}

// NewTransactionService wires the service. publisher may be nil, which
// disables ImportAsync.
func NewTransactionService(st store.Store, cfg ingest.Config, publisher ImportPublisher, logger *log.Logger) *TransactionService {
	if logger == nil {
		logger = log.Discard()
	}
	return &TransactionService{
		store:     st,
		pipeline:  ingest.New(st, cfg, logger),
		publisher: publisher,
		logger:    logger.WithComponent(log.ComponentService),
		now:       time.Now,
	}
}

// Import runs the ingestion pipeline synchronously.
func (s *TransactionService) Import(ctx context.Context, in ingest.Input) (*ingest.Report, error) {
	return s.pipeline.Run(ctx, in)
}

// ImportAsync publishes the payload as an import job and returns its id.
func (s *TransactionService) ImportAsync(ctx context.Context, source string, hasHeader, authorized bool, content []byte) (string, error) {
	if !authorized {
		return "", core.ErrUnauthorized
	}
	if s.publisher == nil {
		return "", ErrAsyncUnavailable
	}
	if len(bytes.TrimSpace(content)) == 0 {
		return "", core.ErrEmptyInput
	}

	msg := amqp.NewImportRequestMessage(source, hasHeader, content)
	if err := s.publisher.PublishImportRequest(ctx, msg); err != nil {
		return "", fmt.Errorf("publish import job: %w", err)
	}
	s.logger.InfoContext(ctx, "Import job queued", log.FieldJobID, msg.JobID, log.FieldSource, source)
	return msg.JobID, nil
}

// HandleImportRequest runs a consumed import job. Authorization was checked
// when the job was published.
func (s *TransactionService) HandleImportRequest(ctx context.Context, msg *amqp.ImportRequestMessage) (*ingest.Report, error) {
	source := msg.Source
	if source == "" {
		source = msg.JobID
	}
	return s.pipeline.Run(ctx, ingest.Input{
		Data:       strings.NewReader(msg.Content),
		HasHeader:  msg.HasHeader,
		Authorized: true,
		Source:     source,
	})
}

// CreateManual validates and stores a hand-entered record. A missing
// transaction date defaults to today.
func (s *TransactionService) CreateManual(ctx context.Context, rec core.Record) (core.Record, error) {
	if rec.TransactionDate.IsZero() {
		now := s.now().UTC()
		rec.TransactionDate = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
	rec.Description = strings.TrimSpace(rec.Description)
	rec.Category = strings.TrimSpace(rec.Category)
	rec.Type = strings.TrimSpace(rec.Type)
	rec.Memo = strings.TrimSpace(rec.Memo)

	if err := rec.ValidateManual(); err != nil {
		return core.Record{}, err
	}

	rec.ID = store.IDFor(rec)
	n, err := s.store.InsertBatch(ctx, []core.Record{rec})
	if err != nil {
		return core.Record{}, fmt.Errorf("%w: %w", core.ErrStoreWrite, err)
	}
	if n != 1 {
		return core.Record{}, fmt.Errorf("%w: store wrote %d of 1 records", core.ErrStoreWrite, n)
	}
	s.logger.InfoContext(ctx, "Transaction created", log.FieldOperation, log.OpCreate, log.FieldRecordID, rec.ID)
	return rec, nil
}

func (s *TransactionService) Update(ctx context.Context, id string, patch core.Patch) error {
	if patch.IsEmpty() {
		return ErrEmptyPatch
	}
	if err := patch.Validate(); err != nil {
		return err
	}
	if err := s.store.UpdateByID(ctx, id, patch); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return err
		}
		return fmt.Errorf("%w: %w", core.ErrStoreWrite, err)
	}
	s.logger.InfoContext(ctx, "Transaction updated", log.FieldRecordID, id)
	return nil
}

func (s *TransactionService) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteByID(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return err
		}
		return fmt.Errorf("%w: %w", core.ErrStoreWrite, err)
	}
	s.logger.InfoContext(ctx, "Transaction deleted", log.FieldRecordID, id)
	return nil
}

// List returns every record filtered and sorted by spec.
func (s *TransactionService) List(ctx context.Context, spec query.Spec) ([]core.Record, error) {
	recs, err := s.store.SelectAll(ctx, store.SelectOptions{OrderBy: core.FieldTransactionDate, Descending: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrStoreRead, err)
	}
	return query.Apply(recs, spec), nil
}

// Summary aggregates records over [start, end]. Zero bounds default to the
// last month.
func (s *TransactionService) Summary(ctx context.Context, start, end time.Time) (aggregate.View, error) {
	defStart, defEnd := aggregate.DefaultRange(s.now())
	if start.IsZero() {
		start = defStart
	}
	if end.IsZero() {
		end = defEnd
	}
	recs, err := s.store.SelectAll(ctx, store.SelectOptions{})
	if err != nil {
		return aggregate.View{}, fmt.Errorf("%w: %w", core.ErrStoreRead, err)
	}
	view := aggregate.Compute(recs, start, end)
	if view.Anomalies > 0 {
		s.logger.WarnContext(ctx, "Records with unusable dates excluded from summary", log.FieldCount, view.Anomalies)
	}
	return view, nil
}

// Close releases the publisher if it holds resources.
func (s *TransactionService) Close() error {
	if c, ok := s.publisher.(io.Closer); ok && c != nil {
		if err := c.Close(); err != nil {
			return fmt.Errorf("close publisher: %w", err)
		}
	}
	return nil
}
