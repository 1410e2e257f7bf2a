// Package worker runs import jobs consumed from the message broker.
package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"movimenti/internal/amqp"
	"movimenti/internal/ingest"
	"movimenti/internal/log"
)

// Importer runs one import job.
type Importer interface {
	HandleImportRequest(ctx context.Context, msg *amqp.ImportRequestMessage) (*ingest.Report, error)
}

// Stats counts jobs handled by an ImportWorker.
type Stats struct {
	Processed int64
	Failed    int64
	Rejected  int64 // pipeline-level failures
}

type ImportWorker struct {
	importer   Importer
	jobTimeout time.Duration
	logger     *log.Logger
	events     *log.StructuredLogger

	processed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
}

// NewImportWorker creates a worker. A zero jobTimeout leaves jobs unbounded.
func NewImportWorker(importer Importer, jobTimeout time.Duration, logger *log.Logger) *ImportWorker {
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentWorker)
	return &ImportWorker{
		importer:   importer,
		jobTimeout: jobTimeout,
		logger:     logger,
		events:     log.NewStructuredLogger(logger),
	}
}

// HandleImportRequest is the amqp.Handler for import jobs. A returned error
// makes the consumer drop the message; a report, even a failed one, is final
// and the message is acknowledged.
func (w *ImportWorker) HandleImportRequest(ctx context.Context, msg *amqp.ImportRequestMessage) error {
	if w.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.jobTimeout)
		defer cancel()
	}

	w.logger.InfoContext(ctx, "Processing import job",
		log.FieldJobID, msg.JobID,
		log.FieldSource, msg.Source,
		"queued_for", time.Since(msg.Timestamp).Round(time.Millisecond).String())

	rep, err := w.importer.HandleImportRequest(ctx, msg)
	if err != nil {
		w.rejected.Add(1)
		w.events.LogError(ctx, "Import job rejected", err, log.ComponentWorker, log.OpImport,
			log.LogFields{log.FieldJobID: msg.JobID, log.FieldSource: msg.Source})
		return fmt.Errorf("import job %s: %w", msg.JobID, err)
	}

	w.processed.Add(1)
	if rep.Status == ingest.StatusFailed {
		w.failed.Add(1)
	}
	w.logger.InfoContext(ctx, "Import job finished",
		log.FieldJobID, msg.JobID,
		log.FieldStatus, string(rep.Status),
		log.FieldPersisted, rep.Persisted,
		log.FieldRowsRejected, len(rep.RowErrors),
		log.FieldPersistFailed, rep.PersistFailed)
	return nil
}

// Run consumes import jobs until ctx is cancelled.
func (w *ImportWorker) Run(ctx context.Context, client *amqp.Client) error {
	w.logger.InfoContext(ctx, "Import worker started")
	defer w.logger.InfoContext(ctx, "Import worker stopped", "processed", w.processed.Load(), "rejected", w.rejected.Load())
	return client.ConsumeImportRequests(ctx, w.HandleImportRequest)
}

func (w *ImportWorker) Stats() Stats {
	return Stats{
		Processed: w.processed.Load(),
		Failed:    w.failed.Load(),
		Rejected:  w.rejected.Load(),
	}
}
