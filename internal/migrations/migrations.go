// Package migrations applies the embedded catalog schema scripts in version
// order, tracking applied versions in a dedicated table.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

//go:embed sql/*.sql
var embeddedFS embed.FS

const migrationTable = "querysvc_schema_migrations"

// Script files are named NNNNNN_description.up.sql / .down.sql.
var scriptName = regexp.MustCompile(`^([0-9]+)_.+\.(up|down)\.sql$`)

type step struct {
	version int64
	up      string
	down    string
}

type Runner struct {
	fsys fs.FS
}

func NewRunner() *Runner {
	return &Runner{fsys: embeddedFS}
}

// Up applies pending migrations in ascending version order. steps <= 0
// means all pending. Returns the number applied.
func (r *Runner) Up(ctx context.Context, db *sql.DB, steps int) (int, error) {
	plan, err := loadSteps(r.fsys)
	if err != nil {
		return 0, err
	}
	if err := ensureVersionTable(ctx, db); err != nil {
		return 0, err
	}
	done, err := appliedVersions(ctx, db, "ASC")
	if err != nil {
		return 0, err
	}

	count := 0
	for _, s := range plan {
		if slices.Contains(done, s.version) {
			continue
		}
		if steps > 0 && count >= steps {
			break
		}
		if err := runInTx(ctx, db, s.up,
			`INSERT INTO `+migrationTable+` (version) VALUES ($1)`, s.version); err != nil {
			return count, fmt.Errorf("apply migration %d: %w", s.version, err)
		}
		count++
	}
	return count, nil
}

// Down rolls back the most recently applied migrations. steps <= 0 means
// one. Returns the number rolled back.
func (r *Runner) Down(ctx context.Context, db *sql.DB, steps int) (int, error) {
	if steps <= 0 {
		steps = 1
	}

	plan, err := loadSteps(r.fsys)
	if err != nil {
		return 0, err
	}
	if err := ensureVersionTable(ctx, db); err != nil {
		return 0, err
	}
	done, err := appliedVersions(ctx, db, "DESC")
	if err != nil {
		return 0, err
	}

	byVersion := make(map[int64]step, len(plan))
	for _, s := range plan {
		byVersion[s.version] = s
	}

	count := 0
	for _, version := range done {
		if count >= steps {
			break
		}
		s, ok := byVersion[version]
		if !ok {
			return count, fmt.Errorf("applied migration %d has no source script", version)
		}
		if err := runInTx(ctx, db, s.down,
			`DELETE FROM `+migrationTable+` WHERE version = $1`, s.version); err != nil {
			return count, fmt.Errorf("roll back migration %d: %w", s.version, err)
		}
		count++
	}
	return count, nil
}

func ensureVersionTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS `+migrationTable+` (
	version BIGINT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`)
	if err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}
	return nil
}

// runInTx executes the migration script and its bookkeeping statement in
// one transaction, so a failed script never leaves a stale version row.
func runInTx(ctx context.Context, db *sql.DB, script, bookkeeping string, version int64) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, version); err != nil {
		return fmt.Errorf("record version: %w", err)
	}
	return tx.Commit()
}

func appliedVersions(ctx context.Context, db *sql.DB, order string) ([]int64, error) {
	rows, err := db.QueryContext(ctx, `SELECT version FROM `+migrationTable+` ORDER BY version `+order)
	if err != nil {
		return nil, fmt.Errorf("query applied versions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var versions []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	return versions, nil
}

func loadSteps(fsys fs.FS) ([]step, error) {
	entries, err := fs.ReadDir(fsys, "sql")
	if err != nil {
		return nil, fmt.Errorf("read migration dir: %w", err)
	}

	byVersion := map[int64]step{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := scriptName.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		version, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse version of %q: %w", entry.Name(), err)
		}
		body, err := fs.ReadFile(fsys, "sql/"+entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", entry.Name(), err)
		}

		s := byVersion[version]
		s.version = version
		if m[2] == "up" {
			s.up = string(body)
		} else {
			s.down = string(body)
		}
		byVersion[version] = s
	}

	plan := make([]step, 0, len(byVersion))
	for _, s := range byVersion {
		if strings.TrimSpace(s.up) == "" {
			return nil, fmt.Errorf("migration %d missing up script", s.version)
		}
		if strings.TrimSpace(s.down) == "" {
			return nil, fmt.Errorf("migration %d missing down script", s.version)
		}
		plan = append(plan, s)
	}
	slices.SortFunc(plan, func(a, b step) int {
		switch {
		case a.version < b.version:
			return -1
		case a.version > b.version:
			return 1
		default:
			return 0
		}
	})
	return plan, nil
}
