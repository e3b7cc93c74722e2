package stats

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite keeps one row per download. Aggregates are rebuilt on load.
type SQLite struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// NewSQLite opens the database at dbPath and runs migrations.
func NewSQLite(dbPath string, logger *slog.Logger) (*SQLite, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: ":memory:" databases are per connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLite{
		db:     db,
		path:   dbPath,
		logger: logger,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Debug("stats database ready", "path", dbPath)
	return s, nil
}

// Close closes the database connection
func (s *SQLite) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// Load replays every stored download into a fresh ledger.
func (s *SQLite) Load(ctx context.Context) (*Ledger, error) {
	const query = `
		SELECT post_id, category, media_type, size, width, height,
		       timestamp, file_path, source, has_audio
		FROM downloads
		ORDER BY seq
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, &PersistenceError{Op: "load", Path: s.path, Err: err}
	}
	defer rows.Close()

	l := NewLedger()
	for rows.Next() {
		var (
			rec      Record
			ts       string
			hasAudio sql.NullBool
		)
		if err := rows.Scan(&rec.ID, &rec.Category, &rec.Type, &rec.Size, &rec.Width, &rec.Height,
			&ts, &rec.FilePath, &rec.Source, &hasAudio); err != nil {
			return nil, &PersistenceError{Op: "load", Path: s.path, Err: fmt.Errorf("scanning download: %w", err)}
		}
		rec.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, &PersistenceError{Op: "load", Path: s.path, Err: fmt.Errorf("parsing timestamp %q: %w", ts, err)}
		}
		if hasAudio.Valid {
			v := hasAudio.Bool
			rec.HasAudio = &v
		}
		l.Apply(rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "load", Path: s.path, Err: err}
	}
	return l, nil
}

// Save inserts the records the database does not have yet. The ledger is
// append-only, so those are the ones past the stored row count.
func (s *SQLite) Save(ctx context.Context, l *Ledger) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &PersistenceError{Op: "save", Path: s.path, Err: fmt.Errorf("failed to begin transaction: %w", err)}
	}
	defer tx.Rollback()

	var stored int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM downloads").Scan(&stored); err != nil {
		return &PersistenceError{Op: "save", Path: s.path, Err: err}
	}
	if stored > len(l.Downloads) {
		return &PersistenceError{Op: "save", Path: s.path,
			Err: fmt.Errorf("ledger has %d downloads but database has %d", len(l.Downloads), stored)}
	}

	const insert = `
		INSERT INTO downloads (
			post_id, category, media_type, size, width, height,
			timestamp, file_path, source, has_audio
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for _, rec := range l.Downloads[stored:] {
		var hasAudio sql.NullBool
		if rec.HasAudio != nil {
			hasAudio = sql.NullBool{Bool: *rec.HasAudio, Valid: true}
		}
		if _, err := tx.ExecContext(ctx, insert,
			string(rec.ID), rec.Category, rec.Type, rec.Size, rec.Width, rec.Height,
			rec.Timestamp.UTC().Format(time.RFC3339Nano), rec.FilePath, rec.Source, hasAudio,
		); err != nil {
			return &PersistenceError{Op: "save", Path: s.path, Err: fmt.Errorf("failed to insert download: %w", err)}
		}
	}

	if err := tx.Commit(); err != nil {
		return &PersistenceError{Op: "save", Path: s.path, Err: fmt.Errorf("failed to commit: %w", err)}
	}
	return nil
}
