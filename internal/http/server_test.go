package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"movimenti/internal/aggregate"
	"movimenti/internal/auth"
	"movimenti/internal/core"
	"movimenti/internal/ingest"
	"movimenti/internal/query"
	"movimenti/internal/services"
	"movimenti/internal/store"
)

const testToken = "secret-token"

type fakeService struct {
	mu sync.Mutex

	importInput ingest.Input
	importData  string
	importErr   error
	asyncJobID  string
	asyncErr    error
	created     core.Record
	createErr   error
	updatedID   string
	patch       core.Patch
	updateErr   error
	deletedID   string
	deleteErr   error
	listSpec    query.Spec
	records     []core.Record
	listErr     error
	start, end  time.Time
	view        aggregate.View
}

func (f *fakeService) Import(ctx context.Context, in ingest.Input) (*ingest.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, _ := io.ReadAll(in.Data)
	f.importInput, f.importData = in, string(data)
	if !in.Authorized {
		return nil, core.ErrUnauthorized
	}
	if f.importErr != nil {
		return nil, f.importErr
	}
	return &ingest.Report{Source: in.Source, Status: ingest.StatusSucceeded, Attempted: 1, Normalized: 1, Persisted: 1}, nil
}

func (f *fakeService) ImportAsync(ctx context.Context, source string, hasHeader, authorized bool, content []byte) (string, error) {
	if !authorized {
		return "", core.ErrUnauthorized
	}
	if f.asyncErr != nil {
		return "", f.asyncErr
	}
	return f.asyncJobID, nil
}

func (f *fakeService) CreateManual(ctx context.Context, rec core.Record) (core.Record, error) {
	f.created = rec
	if f.createErr != nil {
		return core.Record{}, f.createErr
	}
	return rec, nil
}

func (f *fakeService) Update(ctx context.Context, id string, patch core.Patch) error {
	f.updatedID, f.patch = id, patch
	return f.updateErr
}

func (f *fakeService) Delete(ctx context.Context, id string) error {
	f.deletedID = id
	return f.deleteErr
}

func (f *fakeService) List(ctx context.Context, spec query.Spec) ([]core.Record, error) {
	f.listSpec = spec
	return f.records, f.listErr
}

func (f *fakeService) Summary(ctx context.Context, start, end time.Time) (aggregate.View, error) {
	f.start, f.end = start, end
	return f.view, nil
}

func newTestServer(t *testing.T, svc *fakeService, opts Options) *Server {
	t.Helper()
	if opts.Verifier == nil {
		v, err := auth.NewStaticVerifier([]string{testToken})
		require.NoError(t, err)
		opts.Verifier = v
	}
	s := NewServer(svc, opts)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s
}

func do(s *Server, method, target string, body io.Reader, headers map[string]string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, target, body)
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	s.Handler.ServeHTTP(rr, r)
	return rr
}

func authHeader() map[string]string {
	return map[string]string{"Authorization": "Bearer " + testToken}
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var body ErrorBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, &fakeService{}, Options{})
	rr := do(s, http.MethodGet, "/healthz", nil, nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
}

func TestImport_RawBody(t *testing.T) {
	svc := &fakeService{}
	s := newTestServer(t, svc, Options{})

	csv := "Transaction Date,Description,Amount\n03/01/2024,Coffee,-4.50\n"
	rr := do(s, http.MethodPost, "/api/imports?header=true&source=march.csv", strings.NewReader(csv), authHeader())

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var rep ingest.Report
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rep))
	assert.Equal(t, ingest.StatusSucceeded, rep.Status)
	assert.Equal(t, "march.csv", svc.importInput.Source)
	assert.True(t, svc.importInput.HasHeader)
	assert.True(t, svc.importInput.Authorized)
	assert.Equal(t, csv, svc.importData)
}

func TestImport_Multipart(t *testing.T) {
	svc := &fakeService{}
	s := newTestServer(t, svc, Options{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "export.csv")
	require.NoError(t, err)
	_, _ = part.Write([]byte("01/02/2024,01/03/2024,Rent,Housing,-900\n"))
	require.NoError(t, mw.Close())

	headers := authHeader()
	headers["Content-Type"] = mw.FormDataContentType()
	rr := do(s, http.MethodPost, "/api/imports?header=false", &buf, headers)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "export.csv", svc.importInput.Source)
	assert.False(t, svc.importInput.HasHeader)
	assert.Contains(t, svc.importData, "Rent")
}

func TestImport_UnauthorizedIsSingleFailure(t *testing.T) {
	svc := &fakeService{}
	s := newTestServer(t, svc, Options{})

	rr := do(s, http.MethodPost, "/api/imports", strings.NewReader("a,b\n1,2\n"), nil)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, core.KindUnauthorized, decodeError(t, rr).Kind)
	assert.False(t, svc.importInput.Authorized)
}

func TestImport_Errors(t *testing.T) {
	tests := []struct {
		name   string
		target string
		body   string
		svc    *fakeService
		want   int
	}{
		{name: "bad header flag", target: "/api/imports?header=maybe", body: "x", svc: &fakeService{}, want: http.StatusBadRequest},
		{name: "empty input", target: "/api/imports", body: "", svc: &fakeService{importErr: core.ErrEmptyInput}, want: http.StatusBadRequest},
		{name: "too large", target: "/api/imports", body: strings.Repeat("x", 2048), svc: &fakeService{}, want: http.StatusRequestEntityTooLarge},
		{name: "async without broker", target: "/api/imports?async=true", body: "x", svc: &fakeService{asyncErr: services.ErrAsyncUnavailable}, want: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, tt.svc, Options{MaxUploadBytes: 1024})
			rr := do(s, http.MethodPost, tt.target, strings.NewReader(tt.body), authHeader())
			assert.Equal(t, tt.want, rr.Code, rr.Body.String())
		})
	}
}

func TestImport_Async(t *testing.T) {
	s := newTestServer(t, &fakeService{asyncJobID: "job-1"}, Options{})

	rr := do(s, http.MethodPost, "/api/imports?async=true", strings.NewReader("a,b\n"), authHeader())

	require.Equal(t, http.StatusAccepted, rr.Code)
	var job JobResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &job))
	assert.Equal(t, "job-1", job.JobID)
	assert.Equal(t, "queued", job.Status)
}

func TestListTransactions(t *testing.T) {
	svc := &fakeService{records: []core.Record{{ID: "1", Description: "Coffee", Amount: decimal.RequireFromString("-4.5")}}}
	s := newTestServer(t, svc, Options{})

	rr := do(s, http.MethodGet, "/api/transactions?filter=cof&sort=amount&dir=desc", nil, nil)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp ListResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, "cof", svc.listSpec.FilterText)
	assert.Equal(t, core.FieldAmount, svc.listSpec.SortField)
	assert.Equal(t, query.Desc, svc.listSpec.Direction)
}

func TestListTransactions_EmptyAndInvalid(t *testing.T) {
	s := newTestServer(t, &fakeService{}, Options{})

	rr := do(s, http.MethodGet, "/api/transactions", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"transactions":[]`)

	rr = do(s, http.MethodGet, "/api/transactions?sort=memo", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestListTransactions_StoreFailureHidesCause(t *testing.T) {
	svc := &fakeService{listErr: fmt.Errorf("%w: dial tcp 10.0.0.1:5432", core.ErrStoreRead)}
	s := newTestServer(t, svc, Options{})

	rr := do(s, http.MethodGet, "/api/transactions", nil, nil)

	assert.Equal(t, http.StatusBadGateway, rr.Code)
	assert.NotContains(t, rr.Body.String(), "10.0.0.1")
}

func TestCreateTransaction(t *testing.T) {
	svc := &fakeService{}
	s := newTestServer(t, svc, Options{})

	body := `{"description":"  Groceries ","amount":"-23,40","transaction_date":"2024-03-02","category":"Food"}`
	rr := do(s, http.MethodPost, "/api/transactions", strings.NewReader(body), authHeader())

	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "Groceries", svc.created.Description)
	assert.True(t, svc.created.Amount.Equal(decimal.RequireFromString("-23.40")))
	assert.Equal(t, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), svc.created.TransactionDate)
}

func TestCreateTransaction_NumericAmount(t *testing.T) {
	svc := &fakeService{}
	s := newTestServer(t, svc, Options{})

	rr := do(s, http.MethodPost, "/api/transactions", strings.NewReader(`{"description":"Salary","amount":1500.25}`), authHeader())

	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.True(t, svc.created.Amount.Equal(decimal.RequireFromString("1500.25")))
	assert.True(t, svc.created.TransactionDate.IsZero(), "date defaulting belongs to the service")
}

func TestCreateTransaction_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		headers  map[string]string
		svc      *fakeService
		want     int
		wantKind core.Kind
	}{
		{name: "no session", body: `{"description":"Coffee","amount":"1"}`, svc: &fakeService{}, want: http.StatusUnauthorized, wantKind: core.KindUnauthorized},
		{name: "missing amount", body: `{"description":"Coffee"}`, headers: authHeader(), svc: &fakeService{}, want: http.StatusUnprocessableEntity, wantKind: core.KindRequiredFieldMissing},
		{name: "bad amount", body: `{"description":"Coffee","amount":"1.000,00"}`, headers: authHeader(), svc: &fakeService{}, want: http.StatusUnprocessableEntity, wantKind: core.KindInvalidAmount},
		{name: "bad date", body: `{"description":"Coffee","amount":"1","transaction_date":"31/12/2024"}`, headers: authHeader(), svc: &fakeService{}, want: http.StatusUnprocessableEntity, wantKind: core.KindInvalidDate},
		{name: "unknown field", body: `{"description":"Coffee","amount":"1","color":"red"}`, headers: authHeader(), svc: &fakeService{}, want: http.StatusBadRequest, wantKind: core.KindParse},
		{
			name: "description rejected by service", body: `{"description":"ab","amount":"1"}`, headers: authHeader(),
			svc:  &fakeService{createErr: &core.FieldError{Field: core.FieldDescription, Err: core.ErrInvalidDescription}},
			want: http.StatusUnprocessableEntity, wantKind: core.KindInvalidDescription,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, tt.svc, Options{})
			rr := do(s, http.MethodPost, "/api/transactions", strings.NewReader(tt.body), tt.headers)
			require.Equal(t, tt.want, rr.Code, rr.Body.String())
			assert.Equal(t, tt.wantKind, decodeError(t, rr).Kind)
		})
	}
}

func TestUpdateTransaction(t *testing.T) {
	svc := &fakeService{}
	s := newTestServer(t, svc, Options{})

	rr := do(s, http.MethodPatch, "/api/transactions/abc", strings.NewReader(`{"memo":"split","amount":"-10"}`), authHeader())

	require.Equal(t, http.StatusNoContent, rr.Code, rr.Body.String())
	assert.Equal(t, "abc", svc.updatedID)
	require.NotNil(t, svc.patch.Memo)
	assert.Equal(t, "split", *svc.patch.Memo)
	require.NotNil(t, svc.patch.Amount)
	assert.Nil(t, svc.patch.Description)
}

func TestUpdateTransaction_Errors(t *testing.T) {
	tests := []struct {
		name string
		svc  *fakeService
		body string
		want int
	}{
		{name: "not found", svc: &fakeService{updateErr: store.ErrNotFound}, body: `{"memo":"x"}`, want: http.StatusNotFound},
		{name: "empty patch", svc: &fakeService{updateErr: services.ErrEmptyPatch}, body: `{}`, want: http.StatusBadRequest},
		{name: "store failure", svc: &fakeService{updateErr: fmt.Errorf("%w: boom", core.ErrStoreWrite)}, body: `{"memo":"x"}`, want: http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, tt.svc, Options{})
			rr := do(s, http.MethodPatch, "/api/transactions/abc", strings.NewReader(tt.body), authHeader())
			assert.Equal(t, tt.want, rr.Code)
		})
	}
}

func TestDeleteTransaction(t *testing.T) {
	svc := &fakeService{}
	s := newTestServer(t, svc, Options{})

	rr := do(s, http.MethodDelete, "/api/transactions/xyz", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Empty(t, svc.deletedID)

	rr = do(s, http.MethodDelete, "/api/transactions/xyz", nil, authHeader())
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "xyz", svc.deletedID)
}

func TestSummary(t *testing.T) {
	svc := &fakeService{view: aggregate.View{Included: 3}}
	s := newTestServer(t, svc, Options{})

	rr := do(s, http.MethodGet, "/api/summary?start=2024-01-01&end=2024-01-31", nil, nil)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), svc.start)
	assert.Equal(t, time.Date(2024, 1, 31, 23, 59, 59, 999999999, time.UTC), svc.end)
	assert.Contains(t, rr.Body.String(), `"included":3`)

	rr = do(s, http.MethodGet, "/api/summary?start=Jan", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRateLimitAppliesToMutationsOnly(t *testing.T) {
	s := newTestServer(t, &fakeService{}, Options{RateLimit: 1})

	first := do(s, http.MethodDelete, "/api/transactions/a", nil, authHeader())
	second := do(s, http.MethodDelete, "/api/transactions/a", nil, authHeader())
	assert.Equal(t, http.StatusNoContent, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/api/transactions", nil, nil).Code)
	}

	_, rl, _ := s.Stats()
	assert.Equal(t, int64(1), rl.TotalHits)
}

func TestAllowAllVerifier(t *testing.T) {
	svc := &fakeService{}
	s := newTestServer(t, svc, Options{Verifier: auth.AllowAll{}})

	rr := do(s, http.MethodDelete, "/api/transactions/a", nil, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestUnknownRoute(t *testing.T) {
	s := newTestServer(t, &fakeService{}, Options{})
	assert.Equal(t, http.StatusNotFound, do(s, http.MethodGet, "/api/nope", nil, nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(s, http.MethodPut, "/api/transactions/a", nil, nil).Code)
}
