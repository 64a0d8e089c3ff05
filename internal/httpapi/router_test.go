package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdr-analytics/internal/aggregate"
	"cdr-analytics/internal/auth"
	"cdr-analytics/internal/config"
	"cdr-analytics/internal/models"
	"cdr-analytics/internal/report"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type fakeDB struct{ err error }

func (d fakeDB) Ping(context.Context) error { return d.err }

func (d fakeDB) BeginTx(context.Context, pgx.TxOptions) (pgx.Tx, error) {
	return nil, errors.New("connection refused")
}

type fakePager struct {
	got   *models.CdrFilter
	res   models.PagedResult[models.CallRecord]
	err   error
	calls int
}

func (p *fakePager) Page(_ context.Context, f models.CdrFilter) (models.PagedResult[models.CallRecord], error) {
	p.calls++
	p.got = &f
	return p.res, p.err
}

type fakeStats struct {
	granularity aggregate.Granularity
	rng         models.DateRange
}

func (s *fakeStats) AnsweredCallRate(_ context.Context, rng models.DateRange, g aggregate.Granularity) ([]models.AnsweredCallRatePoint, error) {
	s.rng, s.granularity = rng, g
	return []models.AnsweredCallRatePoint{{Year: 2024, Month: 1, Label: "January 2024", TotalRecords: 3, ConnectedWithDuration: 2, Percentage: 66.67}}, nil
}

func (s *fakeStats) LocationStatistics(_ context.Context, rng models.DateRange) (models.LocationStatistics, error) {
	s.rng = rng
	return models.LocationStatistics{Locations: []string{"A"}, Inbound: []int64{1}, Outbound: []int64{1}}, nil
}

type fakeReports struct {
	dir  string
	reqs []report.Request
	err  error
}

func (f *fakeReports) Execute(_ context.Context, req report.Request) (*report.Result, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	stats := models.NewDeliveryStatistics()
	stats.Record(models.Succeeded())
	stats.Record(models.Failed(models.ReasonInvalidRecipient, "550"))
	return &report.Result{
		Execution:  models.ReportExecution{ID: uuid.MustParse("7d7b3c7e-0000-4000-8000-000000000001"), Status: models.ExecutionCompleted},
		Statistics: stats,
	}, nil
}

func (f *fakeReports) FilePath(name string) (string, error) {
	if name != filepath.Base(name) {
		return "", models.ErrInvalidArgument
	}
	return filepath.Join(f.dir, name), nil
}

type fakeExecutions struct {
	byID map[uuid.UUID]models.ReportExecution
	n    int
}

func (f *fakeExecutions) Get(_ context.Context, id uuid.UUID) (models.ReportExecution, error) {
	e, ok := f.byID[id]
	if !ok {
		return models.ReportExecution{}, fmt.Errorf("%w: report execution %s", models.ErrNotFound, id)
	}
	return e, nil
}

func (f *fakeExecutions) Recent(_ context.Context, n int) ([]models.ReportExecution, error) {
	f.n = n
	out := make([]models.ReportExecution, 0, len(f.byID))
	for _, e := range f.byID {
		out = append(out, e)
	}
	return out, nil
}

type fakeAudits struct {
	pending []models.DeliveryAudit
	err     error
	limit   int
}

func (f *fakeAudits) Pending(_ context.Context, limit int) ([]models.DeliveryAudit, error) {
	f.limit = limit
	return f.pending, f.err
}

func (f *fakeAudits) Statistics(context.Context, models.DateRange) (models.DeliveryStatistics, error) {
	if f.err != nil {
		return models.DeliveryStatistics{}, f.err
	}
	stats := models.NewDeliveryStatistics()
	stats.Record(models.Succeeded())
	stats.Record(models.Pending("t"))
	return stats, nil
}

type fakeReconciler struct{ tokens []string }

func (f *fakeReconciler) ReconcileEach(_ context.Context, tokens []string) ([]models.Outcome, models.DeliveryStatistics) {
	f.tokens = tokens
	stats := models.NewDeliveryStatistics()
	out := make([]models.Outcome, len(tokens))
	for i, tok := range tokens {
		out[i] = models.Pending(tok)
		stats.Record(out[i])
	}
	return out, stats
}

type testEnv struct {
	handler    http.Handler
	db         *fakeDB
	pager      *fakePager
	stats      *fakeStats
	reports    *fakeReports
	executions *fakeExecutions
	audits     *fakeAudits
	reconciler *fakeReconciler
	admin      string
	viewer     string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := &config.Config{
		Auth: config.AuthConfig{
			JWTSecret:   testSecret,
			JWTIssuer:   "cdr-analytics",
			AdminRole:   "admin",
			IngestToken: "ingest-secret",
			APIKeys:     []config.APIKey{{Name: "grafana", Key: "key-1", Role: "viewer"}},
		},
	}
	jwt := auth.NewJWTManager(testSecret, "cdr-analytics")
	admin, err := jwt.Issue("alice", "admin", time.Hour)
	require.NoError(t, err)
	viewer, err := jwt.Issue("bob", "viewer", time.Hour)
	require.NoError(t, err)

	env := &testEnv{
		db:         &fakeDB{},
		pager:      &fakePager{res: models.PagedResult[models.CallRecord]{PageSize: 5, TotalCount: 7, TotalPages: 2, Items: []models.CallRecord{}}},
		stats:      &fakeStats{},
		reports:    &fakeReports{dir: t.TempDir()},
		executions: &fakeExecutions{byID: map[uuid.UUID]models.ReportExecution{}},
		audits:     &fakeAudits{},
		reconciler: &fakeReconciler{},
		admin:      admin,
		viewer:     viewer,
	}
	env.handler = NewRouter(Server{
		Config:     cfg,
		DB:         env.db,
		Verifier:   jwt,
		Records:    env.pager,
		Stats:      env.stats,
		Reports:    env.reports,
		Executions: env.executions,
		Audits:     env.audits,
		Deliveries: env.reconciler,
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, target, token string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var res errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res
}

func TestHealthAndVersion(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	assert.Equal(t, http.StatusOK, env.do(t, "GET", "/health", "", "").Code)

	env.db.err = errors.New("down")
	assert.Equal(t, http.StatusServiceUnavailable, env.do(t, "GET", "/health", "", "").Code)

	rec := env.do(t, "GET", "/version", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"cdr-analytics"`)

	assert.Equal(t, http.StatusOK, env.do(t, "GET", "/metrics", "", "").Code)
}

func TestIngest(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	rec := env.do(t, "POST", "/ingest/cdr", "", `{}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, "POST", "/ingest/cdr", "wrong", `{}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, "POST", "/ingest/cdr", "ingest-secret", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_argument", decodeError(t, rec).Code)

	valid := `{"call_uuid":"c-1","direction":"INCOMING","caller_number":"555","called_number":"1001","origination":"2024-01-05T10:00:00Z","duration":"0"}`
	req := httptest.NewRequest("POST", "/ingest/cdr", strings.NewReader(valid))
	req.Header.Set("X-CDR-Token", "ingest-secret")
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "upstream_unavailable", decodeError(t, rr).Code)
}

func TestCDRQueryRequiresCredentials(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	target := "/api/cdr?startDate=2024-01-01&endDate=2024-01-31"

	assert.Equal(t, http.StatusUnauthorized, env.do(t, "GET", target, "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, "GET", target, "garbage", "").Code)

	req := httptest.NewRequest("GET", target, nil)
	req.Header.Set("X-API-Key", "key-1")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest("GET", target, nil)
	req.Header.Set("X-API-Key", "nope")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCDRQueryParsesFilter(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.do(t, "GET",
		"/api/cdr?startDate=2024-01-01&endDate=2024-01-31&pageIndex=1&pageSize=5&orders=duration:desc,id&direction=inbound&user=1001",
		env.viewer, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	f := env.pager.got
	require.NotNil(t, f)
	assert.True(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Equal(f.StartDate))
	assert.True(t, time.Date(2024, 1, 31, 23, 59, 59, 999_999_999, time.UTC).Equal(f.EndDate))
	assert.Equal(t, 1, f.PageIndex)
	assert.Equal(t, 5, f.PageSize)
	assert.Equal(t, []models.Order{{Field: "duration", Desc: true}, {Field: "id"}}, f.Orders)
	require.NotNil(t, f.Direction)
	assert.Equal(t, models.DirectionIncoming, *f.Direction)
	assert.Equal(t, "1001", f.User)

	var page models.PagedResult[models.CallRecord]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 2, page.TotalPages)
	assert.Equal(t, int64(7), page.TotalCount)
}

func TestCDRQueryErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		target   string
		pagerErr error
		status   int
		code     string
		calls    int
	}{
		{name: "missing start", target: "/api/cdr?endDate=2024-01-31", status: 400, code: "invalid_argument"},
		{name: "bad date", target: "/api/cdr?startDate=yesterday&endDate=2024-01-31", status: 400, code: "invalid_argument"},
		{name: "reversed", target: "/api/cdr?startDate=2024-02-01&endDate=2024-01-31", status: 400, code: "invalid_argument"},
		{name: "bad order", target: "/api/cdr?startDate=2024-01-01&endDate=2024-01-31&orders=id:sideways", status: 400, code: "invalid_argument"},
		{name: "bad direction", target: "/api/cdr?startDate=2024-01-01&endDate=2024-01-31&direction=up", status: 400, code: "invalid_argument"},
		{name: "bad page size", target: "/api/cdr?startDate=2024-01-01&endDate=2024-01-31&pageSize=x", status: 400, code: "invalid_argument"},
		{
			name: "engine rejects", target: "/api/cdr?startDate=2024-01-01&endDate=2024-01-31&pageSize=0",
			pagerErr: fmt.Errorf("%w: pageSize", models.ErrInvalidArgument), status: 400, code: "invalid_argument", calls: 1,
		},
		{
			name: "store down", target: "/api/cdr?startDate=2024-01-01&endDate=2024-01-31",
			pagerErr: fmt.Errorf("%w: count", models.ErrUpstreamUnavailable), status: 503, code: "upstream_unavailable", calls: 1,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.pager.err = tc.pagerErr

			rec := env.do(t, "GET", tc.target, env.viewer, "")
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.code, decodeError(t, rec).Code)
			assert.Equal(t, tc.calls, env.pager.calls)
		})
	}
}

func TestAggregationEndpoints(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	rec := env.do(t, "GET", "/api/reports/answered-rate?start=2024-01-01T00:00:00Z&end=2024-01-31&granularity=weekly", env.viewer, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, aggregate.Weekly, env.stats.granularity)
	assert.Contains(t, rec.Body.String(), `"label":"January 2024"`)
	assert.Contains(t, rec.Body.String(), `"connectedWithDurationCount":2`)

	rec = env.do(t, "GET", "/api/reports/answered-rate?start=2024-01-01&end=2024-01-31&granularity=hourly", env.viewer, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, "GET", "/api/reports/location-stats?start=2024-01-01&end=2024-01-31", env.viewer, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats models.LocationStatistics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, []string{"A"}, stats.Locations)
}

func TestEmailReport(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	target := "/api/reports/email?start=2024-01-01&end=2024-01-31&recipients=a@example.com,b@example.com"

	rec := env.do(t, "POST", target, env.viewer, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, env.reports.reqs)

	rec = env.do(t, "POST", target, env.admin, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, env.reports.reqs, 1)
	req := env.reports.reqs[0]
	assert.Equal(t, models.ReportOnDemand, req.Kind)
	assert.Equal(t, models.TriggerOnDemand, req.Trigger)
	assert.Equal(t, aggregate.Monthly, req.Granularity)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, req.Recipients)

	var res emailReportResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "7d7b3c7e-0000-4000-8000-000000000001", res.ExecutionID)
	assert.Equal(t, 2, res.Statistics.TotalSent)
	assert.Equal(t, 50.0, res.SuccessRate)

	env.reports.err = report.ErrAlreadyDelivered
	rec = env.do(t, "POST", target, env.admin, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestExecutions(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	id := uuid.New()
	noFile := uuid.New()
	require.NoError(t, os.WriteFile(filepath.Join(env.reports.dir, "CDR_Weekly_20240101-20240107.csv"), []byte("period,total_records\n"), 0o600))
	env.executions.byID[id] = models.ReportExecution{ID: id, Status: models.ExecutionCompleted, FileName: "CDR_Weekly_20240101-20240107.csv"}
	env.executions.byID[noFile] = models.ReportExecution{ID: noFile, Status: models.ExecutionFailed}

	rec := env.do(t, "GET", "/api/reports/executions", env.viewer, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultExecutionCount, env.executions.n)

	rec = env.do(t, "GET", "/api/reports/executions?count=0", env.viewer, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, "GET", "/api/reports/executions/"+id.String()+"/file", env.viewer, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "period,total_records\n", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "CDR_Weekly_20240101-20240107.csv")

	tests := []struct {
		target string
		status int
	}{
		{target: "/api/reports/executions/not-a-uuid/file", status: http.StatusBadRequest},
		{target: "/api/reports/executions/" + uuid.NewString() + "/file", status: http.StatusNotFound},
		{target: "/api/reports/executions/" + noFile.String() + "/file", status: http.StatusNotFound},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.status, env.do(t, "GET", tc.target, env.viewer, "").Code, tc.target)
	}
}

func TestDeliveries(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.audits.pending = []models.DeliveryAudit{{Token: "tok-1"}, {Token: ""}, {Token: "tok-2"}}

	rec := env.do(t, "GET", "/api/reports/deliveries/stats?start=2024-01-01&end=2024-01-31", env.viewer, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"totalSent":2`)
	assert.Contains(t, rec.Body.String(), `"successRate":50`)

	rec = env.do(t, "POST", "/api/reports/deliveries/reconcile", env.viewer, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, "POST", "/api/reports/deliveries/reconcile?limit=50", env.admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 50, env.audits.limit)
	assert.Equal(t, []string{"tok-1", "tok-2"}, env.reconciler.tokens)
	assert.Contains(t, rec.Body.String(), `"totalPending":2`)

	env.audits.err = errors.New("relation does not exist")
	rec = env.do(t, "GET", "/api/reports/deliveries/stats?start=2024-01-01&end=2024-01-31", env.viewer, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := RecoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal", decodeError(t, rec).Code)
}

func TestParseTime(t *testing.T) {
	t.Parallel()

	tests := []struct {
		value   string
		upper   bool
		want    time.Time
		wantErr bool
	}{
		{value: "2024-03-01", want: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{value: "2024-03-01", upper: true, want: time.Date(2024, 3, 1, 23, 59, 59, 999_999_999, time.UTC)},
		{value: "2024-03-01T10:00:00+03:00", upper: true, want: time.Date(2024, 3, 1, 7, 0, 0, 0, time.UTC)},
		{value: "", wantErr: true},
		{value: "01/03/2024", wantErr: true},
	}

	for _, tc := range tests {
		got, err := parseTime(tc.value, "start", tc.upper)
		if tc.wantErr {
			assert.ErrorIs(t, err, models.ErrInvalidArgument, tc.value)
			continue
		}
		require.NoError(t, err, tc.value)
		assert.True(t, tc.want.Equal(got), "%s: got %s", tc.value, got)
	}
}

func TestParseRangeKeepsLastSubMillisecond(t *testing.T) {
	t.Parallel()

	rng, err := parseRange(url.Values{"start": {"2024-01-31"}, "end": {"2024-01-31"}}, "start", "end")
	require.NoError(t, err)

	late := time.Date(2024, 1, 31, 23, 59, 59, 999_500_000, time.UTC)
	assert.True(t, rng.Contains(late), "end %s", rng.End)
	assert.False(t, rng.Contains(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)))

	next, err := parseRange(url.Values{"start": {"2024-02-01"}, "end": {"2024-02-01"}}, "start", "end")
	require.NoError(t, err)
	assert.False(t, next.Contains(late))
}
