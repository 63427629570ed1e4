// Package migrations embeds the SQL schema and applies it in version order.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
)

//go:embed *.sql
var files embed.FS

// lockKey serializes concurrent starters on a pg advisory lock.
const lockKey = 7_312_004

// Apply runs every *.up.sql file whose version is not yet recorded in
// schema_migrations. Each file runs in its own transaction.
func Apply(ctx context.Context, db *sql.DB) ([]int, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("Apply: conn: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, lockKey); err != nil {
		return nil, fmt.Errorf("Apply: lock: %w", err)
	}
	defer conn.ExecContext(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, lockKey)

	if _, err := conn.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return nil, fmt.Errorf("Apply: bootstrap: %w", err)
	}

	applied := make(map[int]bool)
	rows, err := conn.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("Apply: list applied: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return nil, fmt.Errorf("Apply: scan: %w", err)
		}
		applied[v] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Apply: rows: %w", err)
	}

	pending, err := upFiles()
	if err != nil {
		return nil, err
	}

	var ran []int
	for _, m := range pending {
		if applied[m.version] {
			continue
		}
		body, err := fs.ReadFile(files, m.name)
		if err != nil {
			return ran, fmt.Errorf("Apply: read %s: %w", m.name, err)
		}

		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return ran, fmt.Errorf("Apply: begin %s: %w", m.name, err)
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			tx.Rollback()
			return ran, fmt.Errorf("Apply: execute %s: %w", m.name, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, m.version); err != nil {
			tx.Rollback()
			return ran, fmt.Errorf("Apply: record %s: %w", m.name, err)
		}
		if err := tx.Commit(); err != nil {
			return ran, fmt.Errorf("Apply: commit %s: %w", m.name, err)
		}
		ran = append(ran, m.version)
	}
	return ran, nil
}

type migration struct {
	version int
	name    string
}

func upFiles() ([]migration, error) {
	entries, err := fs.ReadDir(files, ".")
	if err != nil {
		return nil, fmt.Errorf("upFiles: %w", err)
	}

	var out []migration
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		prefix, _, ok := strings.Cut(name, "_")
		if !ok {
			return nil, fmt.Errorf("upFiles: %s has no version prefix", name)
		}
		v, err := strconv.Atoi(prefix)
		if err != nil {
			return nil, fmt.Errorf("upFiles: %s: %w", name, err)
		}
		out = append(out, migration{version: v, name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}
