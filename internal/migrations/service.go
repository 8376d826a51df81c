// Package migrations applies the embedded Postgres schema in file-name order
// and records each applied file with its checksum.
package migrations

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"sipuha/voicecheck/internal/observability"
)

//go:embed sql/*.sql
var embedded embed.FS

var ErrChecksumMismatch = errors.New("applied migration was modified")

type Migration struct {
	Name     string
	Checksum string
	SQL      string
}

type Status struct {
	Name      string    `json:"name"`
	Checksum  string    `json:"checksum"`
	Applied   bool      `json:"applied"`
	AppliedAt time.Time `json:"applied_at,omitzero"`
}

// List returns the embedded migrations sorted by name.
func List() ([]Migration, error) {
	return listFS(embedded, "sql")
}

func listFS(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	out := make([]Migration, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		b, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", e.Name(), err)
		}
		sum := sha256.Sum256(b)
		out = append(out, Migration{Name: e.Name(), Checksum: hex.EncodeToString(sum[:]), SQL: string(b)})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type Runner struct {
	db         *sql.DB
	log        *slog.Logger
	migrations []Migration
	nowFunc    func() time.Time
}

func NewRunner(db *sql.DB, log *slog.Logger) (*Runner, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	if log == nil {
		log = observability.Discard()
	}
	ms, err := List()
	if err != nil {
		return nil, err
	}
	return &Runner{db: db, log: log, migrations: ms, nowFunc: time.Now}, nil
}

func (r *Runner) ensureSchema(ctx context.Context) error {
	const q = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	name TEXT PRIMARY KEY,
	checksum TEXT NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL
)`
	if _, err := r.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return nil
}

type appliedRow struct {
	checksum  string
	appliedAt time.Time
}

func (r *Runner) loadApplied(ctx context.Context) (map[string]appliedRow, error) {
	const q = `SELECT name, checksum, applied_at FROM schema_migrations`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query schema_migrations: %w", err)
	}
	defer rows.Close()

	out := make(map[string]appliedRow)
	for rows.Next() {
		var name string
		var row appliedRow
		if err := rows.Scan(&name, &row.checksum, &row.appliedAt); err != nil {
			return nil, fmt.Errorf("scan schema_migrations: %w", err)
		}
		out[name] = row
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schema_migrations: %w", err)
	}
	return out, nil
}

func (r *Runner) Status(ctx context.Context) ([]Status, error) {
	if err := r.ensureSchema(ctx); err != nil {
		return nil, err
	}
	applied, err := r.loadApplied(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Status, 0, len(r.migrations))
	for _, m := range r.migrations {
		row, ok := applied[m.Name]
		st := Status{Name: m.Name, Checksum: m.Checksum, Applied: ok}
		if ok {
			st.AppliedAt = row.appliedAt.UTC()
		}
		out = append(out, st)
	}
	return out, nil
}

// Apply runs every pending migration, each in its own transaction, and
// returns the names it applied. An applied migration whose file changed
// stops the run with ErrChecksumMismatch.
func (r *Runner) Apply(ctx context.Context) ([]string, error) {
	if err := r.ensureSchema(ctx); err != nil {
		return nil, err
	}
	applied, err := r.loadApplied(ctx)
	if err != nil {
		return nil, err
	}

	var done []string
	for _, m := range r.migrations {
		if row, ok := applied[m.Name]; ok {
			if row.checksum != m.Checksum {
				return done, fmt.Errorf("%w: %s", ErrChecksumMismatch, m.Name)
			}
			continue
		}
		if err := r.applyOne(ctx, m); err != nil {
			return done, err
		}
		r.log.Info("migration applied", "name", m.Name)
		done = append(done, m.Name)
	}
	return done, nil
}

func (r *Runner) applyOne(ctx context.Context, m Migration) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s: %w", m.Name, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return fmt.Errorf("apply %s: %w", m.Name, err)
	}
	const q = `INSERT INTO schema_migrations (name, checksum, applied_at) VALUES ($1, $2, $3)`
	if _, err := tx.ExecContext(ctx, q, m.Name, m.Checksum, r.nowFunc().UTC()); err != nil {
		return fmt.Errorf("record %s: %w", m.Name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", m.Name, err)
	}
	return nil
}
