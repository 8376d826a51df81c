package migrations

import (
	"context"
	"errors"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestListEmbedded(t *testing.T) {
	ms, err := List()
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(ms) < 2 {
		t.Fatalf("expected at least 2 migrations, got %d", len(ms))
	}
	if ms[0].Name != "0001_create_users.sql" {
		t.Fatalf("expected users table first, got %q", ms[0].Name)
	}
	if !strings.Contains(ms[0].SQL, "CREATE TABLE IF NOT EXISTS users") {
		t.Fatalf("unexpected first migration body: %q", ms[0].SQL)
	}
	for _, m := range ms {
		if len(m.Checksum) != 64 {
			t.Fatalf("expected sha256 hex checksum for %s, got %q", m.Name, m.Checksum)
		}
	}
}

func TestListFSSortsAndFilters(t *testing.T) {
	fsys := fstest.MapFS{
		"m/0002_b.sql":   {Data: []byte("select 2;")},
		"m/0001_a.sql":   {Data: []byte("select 1;")},
		"m/README.md":    {Data: []byte("docs")},
		"m/sub/0003.sql": {Data: []byte("select 3;")},
	}
	ms, err := listFS(fsys, "m")
	if err != nil {
		t.Fatalf("listFS() error: %v", err)
	}
	if len(ms) != 2 || ms[0].Name != "0001_a.sql" || ms[1].Name != "0002_b.sql" {
		t.Fatalf("unexpected migrations: %+v", ms)
	}
}

func newMockRunner(t *testing.T) (*Runner, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	r, err := NewRunner(db, nil)
	if err != nil {
		t.Fatalf("NewRunner() error: %v", err)
	}
	r.nowFunc = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return r, mock
}

func TestApplyFreshDatabase(t *testing.T) {
	r, mock := newMockRunner(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT name, checksum, applied_at FROM schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name", "checksum", "applied_at"}))
	for _, m := range r.migrations {
		mock.ExpectBegin()
		mock.ExpectExec("CREATE").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("INSERT INTO schema_migrations").
			WithArgs(m.Name, m.Checksum, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()
	}

	done, err := r.Apply(context.Background())
	if err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	if len(done) != len(r.migrations) {
		t.Fatalf("expected %d applied, got %v", len(r.migrations), done)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}

func TestApplySkipsApplied(t *testing.T) {
	r, mock := newMockRunner(t)

	rows := sqlmock.NewRows([]string{"name", "checksum", "applied_at"})
	for _, m := range r.migrations {
		rows.AddRow(m.Name, m.Checksum, time.Now())
	}
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT name, checksum, applied_at FROM schema_migrations").WillReturnRows(rows)

	done, err := r.Apply(context.Background())
	if err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	if len(done) != 0 {
		t.Fatalf("expected nothing applied, got %v", done)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}

func TestApplyRejectsModifiedMigration(t *testing.T) {
	r, mock := newMockRunner(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT name, checksum, applied_at FROM schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name", "checksum", "applied_at"}).
			AddRow(r.migrations[0].Name, "stale", time.Now()))

	_, err := r.Apply(context.Background())
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("expected ErrChecksumMismatch, got %v", err)
	}
}

func TestApplyRollsBackFailedMigration(t *testing.T) {
	r, mock := newMockRunner(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT name, checksum, applied_at FROM schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name", "checksum", "applied_at"}))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS users").WillReturnError(errors.New("permission denied"))
	mock.ExpectRollback()

	done, err := r.Apply(context.Background())
	if err == nil || !strings.Contains(err.Error(), r.migrations[0].Name) {
		t.Fatalf("expected error naming the migration, got %v", err)
	}
	if len(done) != 0 {
		t.Fatalf("expected nothing applied, got %v", done)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}

func TestStatus(t *testing.T) {
	r, mock := newMockRunner(t)
	appliedAt := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT name, checksum, applied_at FROM schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name", "checksum", "applied_at"}).
			AddRow(r.migrations[0].Name, r.migrations[0].Checksum, appliedAt))

	st, err := r.Status(context.Background())
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	if len(st) != len(r.migrations) {
		t.Fatalf("expected %d statuses, got %d", len(r.migrations), len(st))
	}
	if !st[0].Applied || !st[0].AppliedAt.Equal(appliedAt) {
		t.Fatalf("expected first migration applied at %v, got %+v", appliedAt, st[0])
	}
	if st[1].Applied {
		t.Fatalf("expected second migration pending, got %+v", st[1])
	}
}

func TestNewRunnerRequiresDB(t *testing.T) {
	if _, err := NewRunner(nil, nil); err == nil {
		t.Fatalf("expected nil db to be rejected")
	}
}
