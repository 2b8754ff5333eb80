package export

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/xuri/excelize/v2"

	"github.com/LeonAdeoye/query-service/internal/config"
	"github.com/LeonAdeoye/query-service/internal/exec"
	"github.com/LeonAdeoye/query-service/internal/pool"
	"github.com/LeonAdeoye/query-service/internal/query"
	"github.com/LeonAdeoye/query-service/internal/registry"
)

func testStream(t *testing.T, rows *sqlmock.Rows) *exec.Stream {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	reg, err := registry.New([]config.DatasourceConfig{{ID: "ds", Vendor: "sqlite"}})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	pools := pool.NewManager(slog.Default())
	pools.Register("ds", db, time.Second)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM t")).WillReturnRows(rows)

	e := exec.New(reg, pools, slog.Default())
	s, err := e.Stream(context.Background(), query.Request{SQL: "SELECT * FROM t", DatasourceID: "ds"}, 16)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	return s
}

func testService(t *testing.T) *Service {
	t.Helper()
	return NewService(config.ExportConfig{Directory: t.TempDir()}, nil, slog.Default())
}

func TestExportCSV(t *testing.T) {
	s := testService(t)
	rows := sqlmock.NewRows([]string{"id", "name"}).
		AddRow(int64(1), "ada").
		AddRow(int64(2), nil)

	artifact, err := s.Export(context.Background(), "q1", query.FormatCSV, testStream(t, rows))
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if artifact.RowCount != 2 {
		t.Fatalf("expected 2 rows, got %d", artifact.RowCount)
	}

	data, err := os.ReadFile(artifact.Path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %d lines: %q", len(lines), lines)
	}
	if lines[0] != "id,name" {
		t.Fatalf("unexpected header: %q", lines[0])
	}
	if lines[2] != "2," {
		t.Fatalf("null should render empty: %q", lines[2])
	}
}

func TestExportCSVEmptyResultKeepsHeader(t *testing.T) {
	s := testService(t)
	artifact, err := s.Export(context.Background(), "q1", query.FormatCSV,
		testStream(t, sqlmock.NewRows([]string{"id", "name"})))
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if artifact.RowCount != 0 {
		t.Fatalf("expected 0 rows, got %d", artifact.RowCount)
	}
	data, _ := os.ReadFile(artifact.Path)
	if strings.TrimSpace(string(data)) != "id,name" {
		t.Fatalf("empty export should still carry headers: %q", data)
	}
}

func TestExportJSON(t *testing.T) {
	s := testService(t)
	rows := sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(1), "ada")

	artifact, err := s.Export(context.Background(), "q1", query.FormatJSON, testStream(t, rows))
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	data, err := os.ReadFile(artifact.Path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	var decoded []map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("artifact is not valid JSON: %v\n%s", err, data)
	}
	if len(decoded) != 1 || decoded[0]["name"] != "ada" {
		t.Fatalf("unexpected payload: %v", decoded)
	}
	// Row objects are pretty-printed, one field per line.
	if !strings.Contains(string(data), "{\n") || !strings.Contains(string(data), "\"name\": \"ada\"") {
		t.Fatalf("expected indented row objects:\n%s", data)
	}
}

func TestExportJSONEmptyResultIsEmptyArray(t *testing.T) {
	s := testService(t)
	artifact, err := s.Export(context.Background(), "q1", query.FormatJSON,
		testStream(t, sqlmock.NewRows([]string{"id"})))
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	data, _ := os.ReadFile(artifact.Path)
	var decoded []map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(decoded) != 0 {
		t.Fatalf("expected empty array, got %v", decoded)
	}
}

func TestExportExcel(t *testing.T) {
	s := testService(t)
	rows := sqlmock.NewRows([]string{"id", "name"}).
		AddRow(int64(1), "ada").
		AddRow(int64(2), "grace")

	artifact, err := s.Export(context.Background(), "q1", query.FormatExcel, testStream(t, rows))
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	f, err := excelize.OpenFile(artifact.Path)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()
	got, err := f.GetRows("Sheet1")
	if err != nil {
		t.Fatalf("read sheet: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(got))
	}
	if got[0][0] != "id" || got[0][1] != "name" {
		t.Fatalf("unexpected header row: %v", got[0])
	}
	if got[2][1] != "grace" {
		t.Fatalf("unexpected cell: %v", got[2])
	}
}

func TestExportParquet(t *testing.T) {
	s := testService(t)
	rows := sqlmock.NewRows([]string{"id", "name"}).
		AddRow(int64(1), "ada").
		AddRow(int64(2), nil)

	artifact, err := s.Export(context.Background(), "q1", query.FormatParquet, testStream(t, rows))
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if artifact.RowCount != 2 {
		t.Fatalf("expected 2 rows, got %d", artifact.RowCount)
	}
	if artifact.Size == 0 {
		t.Fatal("parquet artifact should not be empty")
	}
}

func TestExportFilenamesAreUnique(t *testing.T) {
	s := testService(t)
	a1, err := s.Export(context.Background(), "q1", query.FormatCSV,
		testStream(t, sqlmock.NewRows([]string{"n"}).AddRow(int64(1))))
	if err != nil {
		t.Fatalf("export 1: %v", err)
	}
	a2, err := s.Export(context.Background(), "q1", query.FormatCSV,
		testStream(t, sqlmock.NewRows([]string{"n"}).AddRow(int64(1))))
	if err != nil {
		t.Fatalf("export 2: %v", err)
	}
	if a1.Path == a2.Path {
		t.Fatalf("same query must not reuse artifact paths: %s", a1.Path)
	}
	if filepath.Dir(a1.Path) != filepath.Dir(a2.Path) {
		t.Fatalf("artifacts should share the export directory")
	}
}
