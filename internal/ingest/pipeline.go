// Package ingest drives bulk imports: it parses tabular input, normalizes
// every row, writes the results in ordered batches and reconciles what
// persisted.
package ingest

import (
	"context"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"movimenti/internal/core"
	"movimenti/internal/log"
	"movimenti/internal/normalize"
	"movimenti/internal/store"
)

// Store is the persistence surface an import needs.
type Store interface {
	store.Inserter
	store.Selector
}

// Config tunes an import run.
type Config struct {
	BatchSize         int
	BatchConcurrency  int // 1 submits batches sequentially
	BatchTimeout      time.Duration
	NormalizeWorkers  int
	VerifyLimit       int // 0 skips the verification read
	StrictDescription bool
}

// DefaultConfig mirrors the defaults of the service configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:        100,
		BatchConcurrency: 1,
		BatchTimeout:     30 * time.Second,
		NormalizeWorkers: 4,
		VerifyLimit:      5,
	}
}

// Input is one import request.
type Input struct {
	Data       io.Reader
	HasHeader  bool
	Authorized bool   // the caller holds a valid session
	Source     string // file name or job id, for reporting
}

// Pipeline runs imports against a store. It is safe for concurrent use.
type Pipeline struct {
	store      Store
	cfg        Config
	normalizer *normalize.Normalizer
	logger     *log.Logger
	events     *log.StructuredLogger
}

// New creates a Pipeline. Zero tuning values fall back to DefaultConfig.
func New(st Store, cfg Config, logger *log.Logger) *Pipeline {
	def := DefaultConfig()
	if cfg.BatchSize < 1 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.BatchConcurrency < 1 {
		cfg.BatchConcurrency = def.BatchConcurrency
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = def.BatchTimeout
	}
	if cfg.NormalizeWorkers < 1 {
		cfg.NormalizeWorkers = def.NormalizeWorkers
	}
	if cfg.VerifyLimit < 0 {
		cfg.VerifyLimit = 0
	}
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentIngest)
	return &Pipeline{
		store:      st,
		cfg:        cfg,
		normalizer: normalize.New(normalize.Options{StrictDescription: cfg.StrictDescription}),
		logger:     logger,
		events:     log.NewStructuredLogger(logger),
	}
}

// pending is a normalized record waiting for its batch, tagged with the
// index of the row it came from.
type pending struct {
	index  int
	record core.Record
}

type batch struct {
	number int
	items  []pending
}

type batchResult struct {
	persisted int
	err       error
}

// Run imports one input. Pipeline-level failures (unauthorized caller, empty
// or unreadable input, cancelled context before batching) return an error and
// no report; row and batch failures are recorded in the report.
func (p *Pipeline) Run(ctx context.Context, in Input) (*Report, error) {
	if !in.Authorized {
		p.logger.WarnContext(ctx, "Import refused", log.FieldSource, in.Source, log.FieldError, core.ErrUnauthorized)
		return nil, core.ErrUnauthorized
	}
	if in.Data == nil {
		return nil, core.ErrEmptyInput
	}

	parsed, err := parse(ctx, in.Data, in.HasHeader)
	if err != nil {
		p.logger.WarnContext(ctx, "Import input rejected", log.FieldSource, in.Source, log.FieldError, err)
		return nil, err
	}

	rep := newReport(in.Source)
	rep.Attempted = parsed.total
	for _, f := range parsed.failures {
		rep.addRowError(f.index, f.line, f.err)
	}

	normalized, err := p.normalizeAll(ctx, parsed.rows, rep)
	if err != nil {
		return nil, err
	}
	rep.Normalized = len(normalized)

	batches := partition(normalized, p.cfg.BatchSize)
	results := p.submitAll(ctx, batches)
	for i, b := range batches {
		rep.BatchesSubmitted++
		res := results[i]
		rep.Persisted += res.persisted
		if res.err == nil {
			continue
		}
		rows := make([]int, len(b.items))
		for j, it := range b.items {
			rows[j] = it.index
		}
		rep.BatchesFailed++
		rep.PersistFailed += len(b.items)
		rep.BatchErrors = append(rep.BatchErrors, BatchError{
			Batch:   b.number,
			Rows:    rows,
			Size:    len(b.items),
			Kind:    core.KindOf(res.err),
			Message: res.err.Error(),
		})
		p.logger.WarnContext(ctx, "Batch submission failed",
			append(log.NewFields().WithBatch(b.number, len(b.items)).WithError(res.err).ToSlice(), log.FieldSource, in.Source)...)
	}

	rep.Verification = p.verify(ctx)
	rep.finish()

	p.events.LogImportFinished(ctx, in.Source, string(rep.Status), rep.Attempted, rep.Normalized, rep.Persisted, rep.PersistFailed)
	return rep, nil
}

// normalizeAll normalizes rows concurrently and returns the successes in
// input order. Failures are recorded on the report.
func (p *Pipeline) normalizeAll(ctx context.Context, rows []core.RawRow, rep *Report) ([]pending, error) {
	type outcome struct {
		record core.Record
		err    error
	}
	outcomes := make([]outcome, len(rows))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.NormalizeWorkers)
	for i, row := range rows {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rec, err := p.normalizer.Normalize(row)
			outcomes[i] = outcome{record: rec, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]pending, 0, len(rows))
	for i, o := range outcomes {
		if o.err != nil {
			rep.addRowError(rows[i].Index, rows[i].Line, o.err)
			continue
		}
		out = append(out, pending{index: rows[i].Index, record: o.record})
	}
	return out, nil
}

// partition splits records into consecutive batches of at most size items.
func partition(items []pending, size int) []batch {
	var out []batch
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, batch{number: len(out) + 1, items: items[start:end]})
	}
	return out
}

// submitAll writes every batch. Each batch owns its result slot, so
// concurrent submission needs no shared counters.
func (p *Pipeline) submitAll(ctx context.Context, batches []batch) []batchResult {
	results := make([]batchResult, len(batches))
	if p.cfg.BatchConcurrency <= 1 {
		for i, b := range batches {
			results[i] = p.submit(ctx, b)
		}
		return results
	}

	var g errgroup.Group
	g.SetLimit(p.cfg.BatchConcurrency)
	for i, b := range batches {
		g.Go(func() error {
			results[i] = p.submit(ctx, b)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// submit writes one batch under the batch timeout. A store that does not
// honour cancellation is abandoned when the timeout fires.
func (p *Pipeline) submit(ctx context.Context, b batch) batchResult {
	records := make([]core.Record, len(b.items))
	for i, it := range b.items {
		records[i] = it.record
	}

	bctx, cancel := context.WithTimeout(ctx, p.cfg.BatchTimeout)
	defer cancel()

	type insertResult struct {
		n   int
		err error
	}
	done := make(chan insertResult, 1)
	go func() {
		n, err := p.store.InsertBatch(bctx, records)
		done <- insertResult{n: n, err: err}
	}()

	var res insertResult
	select {
	case res = <-done:
	case <-bctx.Done():
		res = insertResult{err: bctx.Err()}
	}

	if res.err == nil && res.n != len(records) {
		res.err = fmt.Errorf("short write: %d of %d records", res.n, len(records))
	}
	if res.err != nil {
		return batchResult{err: fmt.Errorf("%w: batch %d: %w", core.ErrStoreWrite, b.number, res.err)}
	}
	p.logger.DebugContext(ctx, "Batch persisted", log.NewFields().WithBatch(b.number, len(records)).ToSlice()...)
	return batchResult{persisted: len(records)}
}

// verify reads back the most recent records for observability only.
func (p *Pipeline) verify(ctx context.Context) Verification {
	if p.cfg.VerifyLimit == 0 {
		return Verification{}
	}
	vctx, cancel := context.WithTimeout(ctx, p.cfg.BatchTimeout)
	defer cancel()

	recent, err := p.store.SelectAll(vctx, store.SelectOptions{
		OrderBy:    core.FieldTransactionDate,
		Descending: true,
		Limit:      p.cfg.VerifyLimit,
	})
	if err != nil {
		err = fmt.Errorf("%w: %w", core.ErrStoreRead, err)
		p.logger.WarnContext(ctx, "Verification read failed", log.FieldOperation, log.OpVerify, log.FieldError, err)
		return Verification{Performed: true, Kind: core.KindOf(err), Message: err.Error()}
	}
	return Verification{Performed: true, Records: recent}
}
