package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"pakr/internal/database/migrations"
	"pakr/internal/pakr"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteDatabase stores the build history in SQLite.
type SQLiteDatabase struct {
	db   *sql.DB
	path string
}

// Compile-time check that SQLiteDatabase implements pakr.History.
var _ pakr.History = (*SQLiteDatabase)(nil)

// NewSQLiteDatabase creates a new SQLite database connection.
// path can be a file path or ":memory:" for in-memory database.
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteDatabase{db: db, path: path}, nil
}

// NewSQLiteDatabaseFromDB wraps an existing database connection.
// The caller is responsible for ensuring the connection is properly configured.
func NewSQLiteDatabaseFromDB(db *sql.DB) *SQLiteDatabase {
	return &SQLiteDatabase{db: db}
}

// OpenConnection opens and configures a SQLite database connection with appropriate PRAGMAs.
// path can be a file path or ":memory:" for in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every pooled connection to ":memory:" would get its own empty database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

const buildColumns = `id, build_id, started_at, finished_at, mode, status, changed, removed,
	archive_path, archive_checksum, ledger_checksum, encrypted`

// CreateBuild inserts rec and assigns its ID.
func (s *SQLiteDatabase) CreateBuild(rec *pakr.BuildRecord) error {
	res, err := s.db.ExecContext(context.Background(), `
		INSERT INTO builds (build_id, started_at, mode, status, changed, removed, archive_path, encrypted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.BuildID, rec.StartedAt, rec.Mode, rec.Status, rec.Changed, rec.Removed, rec.ArchivePath, rec.Encrypted,
	)
	if err != nil {
		return fmt.Errorf("creating build: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading build id: %w", err)
	}
	rec.ID = id
	return nil
}

// FinishBuild stores the final state of rec.
func (s *SQLiteDatabase) FinishBuild(rec *pakr.BuildRecord) error {
	res, err := s.db.ExecContext(context.Background(), `
		UPDATE builds
		SET finished_at = ?, status = ?, changed = ?, removed = ?,
			archive_checksum = ?, ledger_checksum = ?, encrypted = ?
		WHERE build_id = ?`,
		rec.FinishedAt, rec.Status, rec.Changed, rec.Removed,
		nullString(rec.ArchiveChecksum), nullString(rec.LedgerChecksum), rec.Encrypted,
		rec.BuildID,
	)
	if err != nil {
		return fmt.Errorf("finishing build: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finishing build: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finishing build: no build with id %s", rec.BuildID)
	}
	return nil
}

// ListBuilds returns up to limit builds, newest first.
func (s *SQLiteDatabase) ListBuilds(limit int) ([]*pakr.BuildRecord, error) {
	rows, err := s.db.QueryContext(context.Background(),
		`SELECT `+buildColumns+` FROM builds ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing builds: %w", err)
	}
	defer rows.Close()

	var result []*pakr.BuildRecord
	for rows.Next() {
		rec, err := scanBuild(rows)
		if err != nil {
			return nil, fmt.Errorf("listing builds: %w", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing builds: %w", err)
	}
	return result, nil
}

// FindBuild returns the build with the given build ID, or nil if none.
func (s *SQLiteDatabase) FindBuild(buildID string) (*pakr.BuildRecord, error) {
	row := s.db.QueryRowContext(context.Background(),
		`SELECT `+buildColumns+` FROM builds WHERE build_id = ?`, buildID)
	rec, err := scanBuild(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding build: %w", err)
	}
	return rec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBuild(row rowScanner) (*pakr.BuildRecord, error) {
	var (
		rec             pakr.BuildRecord
		archiveChecksum sql.NullString
		ledgerChecksum  sql.NullString
	)
	err := row.Scan(
		&rec.ID, &rec.BuildID, &rec.StartedAt, &rec.FinishedAt, &rec.Mode, &rec.Status,
		&rec.Changed, &rec.Removed, &rec.ArchivePath, &archiveChecksum, &ledgerChecksum, &rec.Encrypted,
	)
	if err != nil {
		return nil, err
	}
	rec.ArchiveChecksum = archiveChecksum.String
	rec.LedgerChecksum = ledgerChecksum.String
	return &rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// Migrate brings the schema up to date.
func (s *SQLiteDatabase) Migrate() error {
	return migrations.MigrateUp(s.db)
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
