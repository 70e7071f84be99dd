package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite, configured for WAL-mode
// single-writer durability the way the teacher's conversation store is.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens or creates a SQLite database at dbPath and ensures
// its schema exists.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "store: create database directory")
		}
	}

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "store: open database")
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "store: ping database")
	}
	if err := configure(ctx, db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "store: configure database")
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "store: migrate schema")
	}
	return s, nil
}

func configure(ctx context.Context, db *sqlx.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return errors.Wrapf(err, "execute pragma: %s", pragma)
		}
	}
	db.SetMaxOpenConns(1)

	var journalMode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&journalMode); err != nil {
		return errors.Wrap(err, "query journal mode")
	}
	if strings.ToLower(journalMode) != "wal" {
		return errors.Errorf("WAL mode not enabled, current mode: %s", journalMode)
	}
	return nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			messages BLOB NOT NULL,
			config BLOB NOT NULL,
			usage BLOB NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)
	`)
	return err
}

type sqliteRecord struct {
	ID        string `db:"id"`
	Messages  []byte `db:"messages"`
	Config    []byte `db:"config"`
	Usage     []byte `db:"usage"`
	CreatedAt string `db:"created_at"`
	UpdatedAt string `db:"updated_at"`
}

func (s *SQLiteStore) Save(ctx context.Context, record Record) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "store: begin transaction")
	}
	defer tx.Rollback()

	// Fixed-width UTC timestamps, so ORDER BY created_at sorts
	// chronologically.
	const layout = "2006-01-02T15:04:05.000000000Z07:00"
	now := time.Now().UTC()
	row := sqliteRecord{
		ID:        record.ID,
		Messages:  record.Messages,
		Config:    record.Config,
		Usage:     record.Usage,
		CreatedAt: now.Format(layout),
		UpdatedAt: now.Format(layout),
	}

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO sessions (id, messages, config, usage, created_at, updated_at)
		VALUES (:id, :messages, :config, :usage, :created_at, :updated_at)
		ON CONFLICT(id) DO UPDATE SET
			messages = excluded.messages,
			config = excluded.config,
			usage = excluded.usage,
			updated_at = excluded.updated_at
	`, row)
	if err != nil {
		return errors.Wrap(err, "store: save session record")
	}
	return tx.Commit()
}

func (s *SQLiteStore) Load(ctx context.Context, id string) (Record, error) {
	var row sqliteRecord
	err := s.db.GetContext(ctx, &row, `
		SELECT id, messages, config, usage, created_at, updated_at
		FROM sessions WHERE id = ?
	`, id)
	if err != nil {
		if strings.Contains(err.Error(), "no rows") {
			return Record{}, ErrNotFound
		}
		return Record{}, errors.Wrap(err, "store: load session record")
	}
	return rowToRecord(row)
}

func (s *SQLiteStore) Exists(ctx context.Context, id string) (bool, error) {
	var found int
	err := s.db.GetContext(ctx, &found, "SELECT 1 FROM sessions WHERE id = ? LIMIT 1", id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, errors.Wrap(err, "store: check session record existence")
	}
	return true, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return errors.Wrap(err, "store: delete session record")
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]Record, error) {
	var rows []sqliteRecord
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, messages, config, usage, created_at, updated_at
		FROM sessions ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, errors.Wrap(err, "store: list session records")
	}
	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		record, err := rowToRecord(row)
		if err != nil {
			continue
		}
		out = append(out, record)
	}
	return out, nil
}

func rowToRecord(row sqliteRecord) (Record, error) {
	createdAt, err := time.Parse(time.RFC3339Nano, row.CreatedAt)
	if err != nil {
		return Record{}, errors.Wrap(err, "store: parse created_at")
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, row.UpdatedAt)
	if err != nil {
		return Record{}, errors.Wrap(err, "store: parse updated_at")
	}
	return Record{
		ID:        row.ID,
		Messages:  row.Messages,
		Config:    row.Config,
		Usage:     row.Usage,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
