package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"movimenti/internal/amqp"
	"movimenti/internal/core"
	"movimenti/internal/ingest"
	"movimenti/internal/services"
	"movimenti/internal/store/memory"
)

type stubImporter struct {
	report   *ingest.Report
	err      error
	deadline bool
}

func (s *stubImporter) HandleImportRequest(ctx context.Context, _ *amqp.ImportRequestMessage) (*ingest.Report, error) {
	_, s.deadline = ctx.Deadline()
	return s.report, s.err
}

func TestHandleImportRequest_Outcomes(t *testing.T) {
	msg := amqp.NewImportRequestMessage("bank.csv", true, []byte("x"))

	tests := []struct {
		name     string
		importer *stubImporter
		wantErr  bool
		want     Stats
	}{
		{
			name:     "succeeded",
			importer: &stubImporter{report: &ingest.Report{Status: ingest.StatusSucceeded}},
			want:     Stats{Processed: 1},
		},
		{
			name:     "failed report is still acknowledged",
			importer: &stubImporter{report: &ingest.Report{Status: ingest.StatusFailed}},
			want:     Stats{Processed: 1, Failed: 1},
		},
		{
			name:     "pipeline error",
			importer: &stubImporter{err: core.ErrEmptyInput},
			wantErr:  true,
			want:     Stats{Rejected: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewImportWorker(tt.importer, time.Minute, nil)
			err := w.HandleImportRequest(context.Background(), msg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("HandleImportRequest() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, core.ErrParse) {
				t.Errorf("error should wrap the pipeline error, got %v", err)
			}
			if got := w.Stats(); got != tt.want {
				t.Errorf("Stats() = %+v, want %+v", got, tt.want)
			}
			if !tt.importer.deadline {
				t.Error("job context should carry the job timeout")
			}
		})
	}
}

func TestHandleImportRequest_EndToEnd(t *testing.T) {
	st := memory.New()
	svc := services.NewTransactionService(st, ingest.DefaultConfig(), nil, nil)
	w := NewImportWorker(svc, 0, nil)

	msg := amqp.NewImportRequestMessage("job.csv", false,
		[]byte("2024-01-05,-45.00,Sale,,Grocery Store\n2024-01-15,1000.00,Payment,,Paycheck\n"))
	if err := w.HandleImportRequest(context.Background(), msg); err != nil {
		t.Fatalf("HandleImportRequest() error = %v", err)
	}
	if st.Len() != 2 {
		t.Errorf("stored %d records, want 2", st.Len())
	}
}
