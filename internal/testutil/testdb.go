package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/josh-kwaku/escrow-marketplace/migrations"
)

const templateDB = "escrow_template"

// One container per test binary. Each test gets its own database cloned
// from a migrated template, so tests never see each other's rows.
var (
	containerOnce sync.Once
	containerDSN  string
	containerErr  error
	dbSeq         atomic.Int64
)

func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	containerOnce.Do(func() { containerDSN, containerErr = startContainer(ctx) })
	if containerErr != nil {
		t.Fatalf("start postgres container: %v", containerErr)
	}

	admin, err := sql.Open("postgres", containerDSN)
	if err != nil {
		t.Fatalf("open admin db: %v", err)
	}
	defer admin.Close()

	name := fmt.Sprintf("escrow_test_%d", dbSeq.Add(1))
	if _, err := admin.ExecContext(ctx, fmt.Sprintf(`CREATE DATABASE %s TEMPLATE %s`, name, templateDB)); err != nil {
		t.Fatalf("create test database: %v", err)
	}

	dsn, err := withDatabase(containerDSN, name)
	if err != nil {
		t.Fatalf("build dsn: %v", err)
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return db
}

func startContainer(ctx context.Context) (string, error) {
	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("escrow_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return "", err
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return "", fmt.Errorf("connection string: %w", err)
	}

	admin, err := sql.Open("postgres", dsn)
	if err != nil {
		return "", fmt.Errorf("open admin db: %w", err)
	}
	defer admin.Close()

	if _, err := admin.ExecContext(ctx, `CREATE DATABASE `+templateDB); err != nil {
		return "", fmt.Errorf("create template: %w", err)
	}

	templateDSN, err := withDatabase(dsn, templateDB)
	if err != nil {
		return "", err
	}
	tmpl, err := sql.Open("postgres", templateDSN)
	if err != nil {
		return "", fmt.Errorf("open template: %w", err)
	}
	if _, err := migrations.Apply(ctx, tmpl); err != nil {
		tmpl.Close()
		return "", fmt.Errorf("migrate template: %w", err)
	}
	// CREATE DATABASE ... TEMPLATE fails while anyone is connected to it.
	tmpl.Close()

	return dsn, nil
}

func withDatabase(dsn, name string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse dsn: %w", err)
	}
	u.Path = "/" + name
	return u.String(), nil
}
