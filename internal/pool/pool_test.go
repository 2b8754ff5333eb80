package pool

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/LeonAdeoye/query-service/internal/errcode"
)

func newMockManager(t *testing.T) (*Manager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	manager := NewManager(nil)
	manager.Register("trades", db, time.Second)
	return manager, mock
}

func TestAcquireAndRelease(t *testing.T) {
	manager, _ := newMockManager(t)

	lease, err := manager.Acquire(context.Background(), "trades")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if lease.Conn() == nil {
		t.Fatal("lease should carry a connection")
	}

	stats, err := manager.Stats("trades")
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Active != 1 {
		t.Fatalf("Active = %d, want 1", stats.Active)
	}

	lease.Release()
	lease.Release() // second release is a no-op

	stats, err = manager.Stats("trades")
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Active != 0 {
		t.Fatalf("Active after release = %d, want 0", stats.Active)
	}
}

func TestAcquireUnknownDatasource(t *testing.T) {
	manager, _ := newMockManager(t)

	_, err := manager.Acquire(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected error for unknown datasource")
	}
	if errcode.CodeOf(err) != errcode.DatasourceNotFound {
		t.Fatalf("code = %s", errcode.CodeOf(err))
	}
}

func TestAcquireTimesOutWhenPoolExhausted(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	db.SetMaxOpenConns(1)

	manager := NewManager(nil)
	manager.Register("trades", db, 50*time.Millisecond)

	held, err := manager.Acquire(context.Background(), "trades")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer held.Release()

	_, err = manager.Acquire(context.Background(), "trades")
	if err == nil {
		t.Fatal("expected pool exhaustion")
	}
	if errcode.CodeOf(err) != errcode.ConnectionPoolExhausted {
		t.Fatalf("code = %s, want %s", errcode.CodeOf(err), errcode.ConnectionPoolExhausted)
	}
}

func TestHealthCheck(t *testing.T) {
	manager, mock := newMockManager(t)

	mock.ExpectPing()
	if !manager.HealthCheck(context.Background(), "trades") {
		t.Fatal("healthy datasource should report true")
	}
	if manager.HealthCheck(context.Background(), "missing") {
		t.Fatal("unknown datasource should report false")
	}
}
