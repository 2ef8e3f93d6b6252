package db

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func TestSQLite_ConnLifecycle(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "probe.db")

	pool, err := SQLite().Open(ctx, Descriptor{Driver: "sqlite", DSN: path}, Options{MaxOpenConns: 2, MaxIdleConns: 1})
	if err != nil {
		t.Fatalf("Open err=%v", err)
	}
	defer func() { _ = pool.Close() }()

	c, err := pool.Conn(ctx)
	if err != nil {
		t.Fatalf("Conn err=%v", err)
	}
	if !c.Alive() {
		t.Fatalf("fresh connection should be alive")
	}
	if c.Driver() != "sqlite" {
		t.Fatalf("Driver()=%q", c.Driver())
	}

	v, err := c.ServerVersion(ctx)
	if err != nil || v == "" {
		t.Fatalf("ServerVersion=%q err=%v", v, err)
	}
	full, err := c.QueryScalar(ctx, SQLite().VersionQuery())
	if err != nil || !strings.HasPrefix(full, "SQLite ") {
		t.Fatalf("version query=%q err=%v", full, err)
	}
	one, err := c.QueryScalar(ctx, "select 1")
	if err != nil || one != "1" {
		t.Fatalf("select 1=%q err=%v", one, err)
	}
	name, err := c.Database(ctx)
	if err != nil || !strings.HasSuffix(name, "probe.db") {
		t.Fatalf("Database=%q err=%v", name, err)
	}
	if err := Check(ctx, c); err != nil {
		t.Fatalf("Check err=%v", err)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close err=%v", err)
	}
	if c.Alive() {
		t.Fatalf("closed connection reported alive")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close err=%v", err)
	}
	if _, err := c.QueryScalar(ctx, "select 1"); err == nil {
		t.Fatalf("expected error querying a closed connection")
	}

	if err := pool.Clear(); err != nil {
		t.Fatalf("Clear err=%v", err)
	}
	// Pool is still usable after a clear.
	c2, err := pool.Conn(ctx)
	if err != nil {
		t.Fatalf("Conn after Clear err=%v", err)
	}
	_ = c2.Close()
}

func TestSQLite_MissingDirectoryIsDatabaseNotFound(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "missing", "nested", "probe.db")

	pool, err := SQLite().Open(ctx, Descriptor{Driver: "sqlite", DSN: path}, Options{})
	if err != nil {
		t.Fatalf("Open err=%v", err)
	}
	defer func() { _ = pool.Close() }()

	_, err = pool.Conn(ctx)
	if err == nil {
		t.Fatalf("expected open failure")
	}
	if got := Classify(SQLite(), err); got.Kind != KindDatabaseNotFound {
		t.Fatalf("kind=%v err=%v", got.Kind, err)
	}
}

func TestOpen_Guards(t *testing.T) {
	ctx := context.Background()
	if _, err := SQLite().Open(ctx, Descriptor{Driver: "sqlite"}, Options{}); err == nil {
		t.Fatalf("expected error for empty DSN")
	}
	if _, err := SQLite().Open(ctx, Descriptor{Driver: "sqlite", DSN: "x.db"}, Options{MaxOpenConns: 1, MaxIdleConns: 3}); err == nil {
		t.Fatalf("expected error for idle > max")
	}
	if _, err := Postgres().Open(ctx, Descriptor{Driver: "postgres"}, Options{}); err == nil {
		t.Fatalf("expected error for empty DSN")
	}
	if err := Check(ctx, nil); err == nil {
		t.Fatalf("expected error for nil session")
	}
}
