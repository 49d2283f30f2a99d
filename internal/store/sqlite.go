package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/ax-mentor/internal/domain"
	"github.com/ashureev/ax-mentor/internal/shared"
	_ "modernc.org/sqlite"
)

const defaultExportListLimit = 50

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS exports (
		export_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		step TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_exports_user ON exports(user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_exports_created ON exports(created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, username, last_seen_at, created_at, updated_at
		FROM users WHERE user_id = ?`

	row := s.db.QueryRowContext(ctx, query, userID)

	var user domain.User
	var lastSeen, createdAt, updatedAt int64

	err := row.Scan(&user.UserID, &user.Username, &lastSeen, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.LastSeenAt = time.Unix(lastSeen, 0)
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)

	return &user, nil
}

// UpsertUser creates or updates a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, username, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		username = excluded.username,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	err := withRetry(ctx, "upsert user", func() error {
		_, err := s.db.ExecContext(ctx, query,
			user.UserID, user.Username, user.LastSeenAt.Unix(),
			user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	query := `UPDATE users SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`

	var result sql.Result
	err := withRetry(ctx, "update last_seen", func() error {
		var err error
		result, err = s.db.ExecContext(ctx, query, lastSeen.Unix(), time.Now().Unix(), userID)
		return err
	})
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "user_id", userID)
	}

	return nil
}

// CreateExport archives a step output.
func (s *SQLiteStore) CreateExport(ctx context.Context, export *domain.Export) error {
	query := `
	INSERT INTO exports (export_id, user_id, session_id, step, content, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	err := withRetry(ctx, "create export", func() error {
		_, err := s.db.ExecContext(ctx, query,
			export.ID, export.UserID, export.SessionID,
			string(export.Step), export.Content, export.CreatedAt.Unix(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("create export: %w", err)
	}
	return nil
}

// GetExport retrieves one export owned by userID.
func (s *SQLiteStore) GetExport(ctx context.Context, userID, exportID string) (*domain.Export, error) {
	query := `
		SELECT export_id, user_id, session_id, step, content, created_at
		FROM exports WHERE export_id = ? AND user_id = ?`

	export, err := scanExport(s.db.QueryRowContext(ctx, query, exportID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan export row: %w", err)
	}
	return export, nil
}

// ListExports returns a user's exports, newest first.
func (s *SQLiteStore) ListExports(ctx context.Context, userID string, limit int) ([]*domain.Export, error) {
	if limit <= 0 {
		limit = defaultExportListLimit
	}
	query := `
		SELECT export_id, user_id, session_id, step, content, created_at
		FROM exports WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query exports: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close export rows", "error", closeErr)
		}
	}()

	var exports []*domain.Export
	for rows.Next() {
		export, err := scanExport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan export row: %w", err)
		}
		exports = append(exports, export)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exports: %w", err)
	}
	return exports, nil
}

// DeleteExportsBefore removes exports created before cutoff.
func (s *SQLiteStore) DeleteExportsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var result sql.Result
	err := withRetry(ctx, "delete old exports", func() error {
		var err error
		result, err = s.db.ExecContext(ctx, `DELETE FROM exports WHERE created_at < ?`, cutoff.Unix())
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("delete old exports: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExport(row rowScanner) (*domain.Export, error) {
	var export domain.Export
	var step string
	var createdAt int64
	if err := row.Scan(&export.ID, &export.UserID, &export.SessionID, &step, &export.Content, &createdAt); err != nil {
		return nil, err
	}
	export.Step = domain.Step(step)
	export.CreatedAt = time.Unix(createdAt, 0)
	return &export, nil
}

// withRetry runs op, retrying SQLite busy/locked errors with exponential backoff.
func withRetry(ctx context.Context, opName string, op func() error) error {
	maxRetries := 3
	baseDelay := 50 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = op()
		if err == nil || !shared.IsSQLiteConflictError(err) {
			return err
		}
		if i == maxRetries-1 {
			break
		}

		delay := baseDelay * time.Duration(1<<i) // exponential backoff: 50ms, 100ms
		slog.Debug("SQLite busy, retrying", "op", opName, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s after %d attempts: %w", opName, maxRetries, err)
}
