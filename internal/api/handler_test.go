package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/LeonAdeoye/query-service/internal/auth"
	"github.com/LeonAdeoye/query-service/internal/cache"
	"github.com/LeonAdeoye/query-service/internal/config"
	"github.com/LeonAdeoye/query-service/internal/exec"
	"github.com/LeonAdeoye/query-service/internal/export"
	"github.com/LeonAdeoye/query-service/internal/pool"
	"github.com/LeonAdeoye/query-service/internal/registry"
	"github.com/LeonAdeoye/query-service/internal/retry"
	"github.com/LeonAdeoye/query-service/internal/service"
)

func testHandler(t *testing.T, cfg config.Config) (http.Handler, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	reg, err := registry.New([]config.DatasourceConfig{{ID: "test-ds", Vendor: "sqlite"}})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	pools := pool.NewManager(logger)
	pools.Register("test-ds", db, time.Second)
	executor := exec.New(reg, pools, logger)
	retrySvc := retry.NewService(config.RetryConfig{Enabled: false, MaxAttempts: 1}, logger)
	exporter := export.NewService(config.ExportConfig{Directory: t.TempDir()}, nil, logger)
	resultCache := cache.New(100, time.Hour, logger)

	svc := service.New(config.Config{Export: config.ExportConfig{StreamPageSize: 100}},
		logger, reg, pools, executor, resultCache, nil, retrySvc, exporter, newMemCatalog())

	deps := Dependencies{Logger: logger, Service: svc}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			t.Fatalf("validator: %v", err)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}
	return NewHandler(cfg, deps), mock
}

func TestExecuteEndpoint(t *testing.T) {
	h, mock := testHandler(t, config.Config{})
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM users WHERE id = ?")).
		WithArgs(float64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(3)))

	body := `{"sql":"SELECT id FROM users WHERE id = :id","datasourceId":"test-ds","parameters":{"id":3}}`
	req := httptest.NewRequest(http.MethodPost, "/v1/queries/execute", strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		RowCount int    `json:"rowCount"`
		Cached   bool   `json:"cached"`
		Priority string `json:"priority"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.RowCount != 1 || resp.Cached {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Priority != "NORMAL" {
		t.Fatalf("default priority = %q", resp.Priority)
	}
}

func TestExecuteEndpointPriorityHeaderOverride(t *testing.T) {
	h, mock := testHandler(t, config.Config{})
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1")).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(int64(1)))

	body := `{"sql":"SELECT 1","datasourceId":"test-ds","priority":"LOW"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/queries/execute", strings.NewReader(body))
	req.Header.Set("X-Query-Priority", "HIGH")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Priority string `json:"priority"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.Priority != "HIGH" {
		t.Fatalf("priority = %q, want HIGH", resp.Priority)
	}
}

func TestExecuteEndpointRejectsBadInput(t *testing.T) {
	h, _ := testHandler(t, config.Config{})
	cases := []struct {
		name string
		body string
		code string
	}{
		{"not json", `{`, "INVALID_QUERY_REQUEST"},
		{"missing sql", `{"datasourceId":"test-ds"}`, "INVALID_QUERY_REQUEST"},
		{"unknown datasource", `{"sql":"SELECT 1","datasourceId":"nope"}`, "DATASOURCE_NOT_FOUND"},
		{"bad priority", `{"sql":"SELECT 1","datasourceId":"test-ds","priority":"URGENT"}`, "INVALID_QUERY_REQUEST"},
		{"double wildcard", `{"sql":"SELECT * FROM t WHERE name LIKE '%x%'","datasourceId":"test-ds"}`, "LIKE_DOUBLE_WILDCARD_NOT_ALLOWED"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/v1/queries/execute", strings.NewReader(tc.body))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, body = %s", tc.name, rr.Code, rr.Body.String())
			continue
		}
		var resp struct {
			ErrorCode string `json:"error_code"`
		}
		_ = json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.ErrorCode != tc.code {
			t.Errorf("%s: error_code = %q, want %q", tc.name, resp.ErrorCode, tc.code)
		}
	}
}

func TestSavedQueryLifecycle(t *testing.T) {
	h, mock := testHandler(t, config.Config{})

	// Register.
	saveBody := `{"name":"user by id","sql":"SELECT id FROM users WHERE id = :id","datasourceId":"test-ds","parametersSchema":{"id":"INT"}}`
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/queries", strings.NewReader(saveBody)))
	if rr.Code != http.StatusCreated {
		t.Fatalf("save status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var saved struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &saved)
	if saved.ID == "" {
		t.Fatal("expected generated query id")
	}

	// Fetch.
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/queries/"+saved.ID, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("get status = %d", rr.Code)
	}

	// Execute by id.
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM users WHERE id = ?")).
		WithArgs(float64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(9)))
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/queries/"+saved.ID+"/execute",
		strings.NewReader(`{"parameters":{"id":9}}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("execute status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		QueryID  string `json:"queryId"`
		RowCount int    `json:"rowCount"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.QueryID != saved.ID || resp.RowCount != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}

	// Delete, then fetch is a 404.
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/v1/queries/"+saved.ID, nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/queries/"+saved.ID, nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d", rr.Code)
	}
}

func TestExecuteSavedQueryUnknownIDReturns404(t *testing.T) {
	h, _ := testHandler(t, config.Config{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/queries/missing/execute", strings.NewReader(`{}`)))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
}

func TestStreamEndpointEmitsSSE(t *testing.T) {
	h, mock := testHandler(t, config.Config{})
	rows := sqlmock.NewRows([]string{"n"}).AddRow(int64(1)).AddRow(int64(2))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT n FROM seq")).WillReturnRows(rows)

	req := httptest.NewRequest(http.MethodPost, "/v1/queries/stream",
		strings.NewReader(`{"sql":"SELECT n FROM seq","datasourceId":"test-ds"}`))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("content type = %q", got)
	}
	body := rr.Body.String()
	if strings.Count(body, "event: row") != 2 {
		t.Fatalf("expected 2 row events, body:\n%s", body)
	}
	if !strings.Contains(body, `event: done`) || !strings.Contains(body, `{"rowCount":2}`) {
		t.Fatalf("expected done event with row count, body:\n%s", body)
	}
}

func TestStreamSavedQueryEndpoint(t *testing.T) {
	h, mock := testHandler(t, config.Config{})

	saveBody := `{"name":"users above id","sql":"SELECT id FROM users WHERE id > :id","datasourceId":"test-ds","parametersSchema":{"id":"INT"}}`
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/queries", strings.NewReader(saveBody)))
	if rr.Code != http.StatusCreated {
		t.Fatalf("save status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var saved struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &saved)

	// Query-string parameters keep their JSON scalar types.
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM users WHERE id > ?")).
		WithArgs(float64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(6)).AddRow(int64(7)))

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/queries/"+saved.ID+"/stream?id=5", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("stream status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("content type = %q", got)
	}
	body := rr.Body.String()
	if strings.Count(body, "event: row") != 2 {
		t.Fatalf("expected 2 row events, body:\n%s", body)
	}
	if !strings.Contains(body, `event: done`) || !strings.Contains(body, `{"rowCount":2}`) {
		t.Fatalf("expected done event with row count, body:\n%s", body)
	}
}

func TestStreamSavedQueryUnknownIDReturns404(t *testing.T) {
	h, _ := testHandler(t, config.Config{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/queries/no-such-query/stream", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
}

func TestStreamSavedQueryRejectsUndeclaredParameter(t *testing.T) {
	h, _ := testHandler(t, config.Config{})

	saveBody := `{"name":"user by id strict","sql":"SELECT id FROM users WHERE id = :id","datasourceId":"test-ds","parametersSchema":{"id":"INT"}}`
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/queries", strings.NewReader(saveBody)))
	if rr.Code != http.StatusCreated {
		t.Fatalf("save status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var strict struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &strict)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/queries/"+strict.ID+"/stream?id=5&bogus=1", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("undeclared parameter status = %d, body = %s", rr.Code, rr.Body.String())
	}
}

func TestPoolStatsEndpoint(t *testing.T) {
	h, _ := testHandler(t, config.Config{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/pools/test-ds/stats", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		DatasourceID string `json:"datasourceId"`
		Total        int    `json:"total"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.DatasourceID != "test-ds" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/pools/unknown/stats", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unknown datasource status = %d", rr.Code)
	}
}

func TestHealthEndpointIsPublic(t *testing.T) {
	cfg := config.Config{}
	cfg.Auth.Required = true
	cfg.Auth.StaticKeys = "k1:desk:query_executor"
	h, _ := testHandler(t, cfg)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("health status = %d", rr.Code)
	}
}

func TestProtectedEndpointsRequireAPIKey(t *testing.T) {
	cfg := config.Config{}
	cfg.Auth.Required = true
	cfg.Auth.StaticKeys = "k1:desk:query_executor"
	h, mock := testHandler(t, cfg)

	body := `{"sql":"SELECT 1","datasourceId":"test-ds"}`
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/queries/execute", strings.NewReader(body)))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status without key = %d", rr.Code)
	}

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1")).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(int64(1)))
	req := httptest.NewRequest(http.MethodPost, "/v1/queries/execute", strings.NewReader(body))
	req.Header.Set("X-API-Key", "k1")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status with key = %d, body = %s", rr.Code, rr.Body.String())
	}
}
