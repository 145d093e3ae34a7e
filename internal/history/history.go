// Package history keeps a sqlite index of finished sync runs.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one recorded sync run.
type Entry struct {
	ID       int64
	File     string
	Status   string
	Tiles    int
	Layers   int
	Assets   int
	Duration time.Duration
	Log      string
	At       time.Time
}

// Store is a sqlite-backed history index.
type Store struct {
	db *sql.DB
}

// Open opens or creates the history database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("empty db path")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS syncs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			file TEXT NOT NULL,
			status TEXT NOT NULL,
			tiles INTEGER NOT NULL,
			layers INTEGER NOT NULL,
			assets INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			log TEXT NOT NULL,
			at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS syncs_file ON syncs(file, at);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Record stores e and returns its id. A zero At is set to now.
func (s *Store) Record(ctx context.Context, e Entry) (int64, error) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO syncs(file, status, tiles, layers, assets, duration_ms, log, at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		e.File, e.Status, e.Tiles, e.Layers, e.Assets, e.Duration.Milliseconds(), e.Log, e.At.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("record sync: %w", err)
	}
	return res.LastInsertId()
}

// Recent returns up to n entries, newest first. An empty file matches all.
func (s *Store) Recent(ctx context.Context, file string, n int) ([]Entry, error) {
	if n <= 0 {
		n = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, file, status, tiles, layers, assets, duration_ms, log, at
		 FROM syncs WHERE (? = '' OR file = ?)
		 ORDER BY at DESC, id DESC LIMIT ?`,
		file, file, n)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e        Entry
			duration int64
			at       int64
		)
		if err := rows.Scan(&e.ID, &e.File, &e.Status, &e.Tiles, &e.Layers, &e.Assets, &duration, &e.Log, &at); err != nil {
			return nil, err
		}
		e.Duration = time.Duration(duration) * time.Millisecond
		e.At = time.UnixMilli(at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
