package postgres

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kilianp07/freight/core/coordinator"
	"github.com/kilianp07/freight/core/store"
	"github.com/kilianp07/freight/core/store/storetest"
)

func dockerAvailable() bool {
	v := os.Getenv("DOCKER_AVAILABLE")
	return v == "true" || v == "1"
}

// startPostgres launches a disposable PostgreSQL server and returns its DSN.
func startPostgres(t *testing.T) string {
	t.Helper()
	if !dockerAvailable() {
		t.Skip("docker not available")
	}
	ctx := context.Background()
	req := tc.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "freight",
			"POSTGRES_PASSWORD": "freight",
			"POSTGRES_DB":       "freight",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	cont, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Fatalf("failed to start container: %v", err)
	}
	t.Cleanup(func() { _ = cont.Terminate(context.Background()) })
	host, err := cont.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := cont.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("mapped port: %v", err)
	}
	return fmt.Sprintf("postgres://freight:freight@%s:%s/freight?sslmode=disable", host, port.Port())
}

var dbSeq atomic.Int64

// freshStore creates an empty database on the shared server for one check.
func freshStore(t *testing.T, dsn string) *Store {
	t.Helper()
	ctx := context.Background()
	admin, err := Open(ctx, dsn, false)
	if err != nil {
		t.Fatalf("open admin: %v", err)
	}
	defer admin.Close()
	name := fmt.Sprintf("check_%d", dbSeq.Add(1))
	if _, err := admin.DB().ExecContext(ctx, "CREATE DATABASE "+name); err != nil {
		t.Fatalf("create database: %v", err)
	}
	st, err := Open(ctx, replaceDB(dsn, name), true)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func replaceDB(dsn, name string) string {
	return dsn[:len(dsn)-len("freight?sslmode=disable")] + name + "?sslmode=disable"
}

func TestStoreConformance(t *testing.T) {
	dsn := startPostgres(t)
	storetest.Run(t, func(t *testing.T) store.Store { return freshStore(t, dsn) })
}

func TestAdvisoryLock(t *testing.T) {
	dsn := startPostgres(t)
	ctx := context.Background()
	a := freshStore(t, dsn)
	b := freshStore(t, dsn)

	l1 := NewAdvisoryLock(a.DB(), 0)
	l2 := NewAdvisoryLock(b.DB(), coordinator.DefaultLockKey)

	ok, err := l1.TryLock(ctx)
	if err != nil || !ok {
		t.Fatalf("first lock: %v %v", ok, err)
	}
	// Advisory locks are cluster wide, so a different database still contends.
	ok, err = l2.TryLock(ctx)
	if err != nil || ok {
		t.Fatalf("second holder must be refused: %v %v", ok, err)
	}
	if ok, _ := l1.TryLock(ctx); ok {
		t.Fatalf("re-entrant lock must be refused")
	}
	if err := l1.Unlock(ctx); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if err := l1.Unlock(ctx); err != coordinator.ErrNotHeld {
		t.Fatalf("expected ErrNotHeld, got %v", err)
	}
	ok, err = l2.TryLock(ctx)
	if err != nil || !ok {
		t.Fatalf("lock after release: %v %v", ok, err)
	}
	if err := l2.Unlock(ctx); err != nil {
		t.Fatalf("unlock: %v", err)
	}
}

func TestReplaceDB(t *testing.T) {
	got := replaceDB("postgres://u:p@h:1/freight?sslmode=disable", "check_1")
	if got != "postgres://u:p@h:1/check_1?sslmode=disable" {
		t.Fatalf("unexpected dsn %s", got)
	}
}
