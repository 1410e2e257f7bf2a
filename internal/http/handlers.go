package http

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"movimenti/internal/aggregate"
	"movimenti/internal/auth"
	"movimenti/internal/core"
	"movimenti/internal/ingest"
	"movimenti/internal/log"
	"movimenti/internal/query"
)

// Service is the application surface the API exposes.
type Service interface {
	Import(ctx context.Context, in ingest.Input) (*ingest.Report, error)
	ImportAsync(ctx context.Context, source string, hasHeader, authorized bool, content []byte) (string, error)
	CreateManual(ctx context.Context, rec core.Record) (core.Record, error)
	Update(ctx context.Context, id string, patch core.Patch) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, spec query.Spec) ([]core.Record, error)
	Summary(ctx context.Context, start, end time.Time) (aggregate.View, error)
}

// ListResponse wraps a listing with the spec that produced it.
type ListResponse struct {
	Query        query.Spec    `json:"query"`
	Count        int           `json:"count"`
	Transactions []core.Record `json:"transactions"`
}

// JobResponse acknowledges a queued import.
type JobResponse struct {
	JobID  string `json:"job_id"`
	Source string `json:"source"`
	Status string `json:"status"`
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Body(map[string]string{"status": "ok"}).Write(w)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	params, err := ParseImportParams(r.URL.Query())
	if err != nil {
		s.fail(w, r, log.OpImport, err)
		return
	}
	upload, err := ReadUpload(w, r, s.maxUploadBytes)
	if err != nil {
		s.fail(w, r, log.OpImport, err)
		return
	}

	authorized := auth.Authorized(ctx)
	if params.Async {
		jobID, err := s.service.ImportAsync(ctx, upload.Source, params.HasHeader, authorized, upload.Data)
		if err != nil {
			s.fail(w, r, log.OpImport, err)
			return
		}
		NewJSONResponse().
			Status(http.StatusAccepted).
			Body(JobResponse{JobID: jobID, Source: upload.Source, Status: "queued"}).
			Write(w)
		return
	}

	report, err := s.service.Import(ctx, ingest.Input{
		Data:       bytes.NewReader(upload.Data),
		HasHeader:  params.HasHeader,
		Authorized: authorized,
		Source:     upload.Source,
	})
	if err != nil {
		s.fail(w, r, log.OpImport, err)
		return
	}
	NewJSONResponse().Body(report).Write(w)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	spec, err := ParseListSpec(r.URL.Query())
	if err != nil {
		s.fail(w, r, log.OpList, err)
		return
	}
	records, err := s.service.List(r.Context(), spec)
	if err != nil {
		s.fail(w, r, log.OpList, err)
		return
	}
	if records == nil {
		records = []core.Record{}
	}
	NewJSONResponse().Body(ListResponse{Query: spec, Count: len(records), Transactions: records}).Write(w)
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	rec, err := ParseTransaction(w, r, s.maxJSONBytes)
	if err != nil {
		s.fail(w, r, log.OpCreate, err)
		return
	}
	created, err := s.service.CreateManual(r.Context(), rec)
	if err != nil {
		s.fail(w, r, log.OpCreate, err)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Body(created).Write(w)
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	patch, err := ParsePatch(w, r, s.maxJSONBytes)
	if err != nil {
		s.fail(w, r, log.OpUpdate, err)
		return
	}
	if err := s.service.Update(r.Context(), id, patch); err != nil {
		s.fail(w, r, log.OpUpdate, err)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.fail(w, r, log.OpDelete, err)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	start, end, err := ParseSummaryRange(r.URL.Query())
	if err != nil {
		s.fail(w, r, log.OpSummary, err)
		return
	}
	view, err := s.service.Summary(r.Context(), start, end)
	if err != nil {
		s.fail(w, r, log.OpSummary, err)
		return
	}
	NewJSONResponse().Body(view).Write(w)
}

// requireSession rejects requests that carry no verified session.
func (s *Server) requireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !auth.Authorized(r.Context()) {
			UnauthorizedError().Write(w)
			return
		}
		next(w, r)
	}
}

// fail logs err at a level matching its status and writes the error response.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	resp := errorResponseFor(err)
	logger := log.FromContext(r.Context())
	if resp.statusCode >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "Request failed", log.FieldOperation, op, log.FieldError, err)
	} else {
		logger.DebugContext(r.Context(), "Request rejected", log.FieldOperation, op, log.FieldError, err)
	}
	resp.Write(w)
}
