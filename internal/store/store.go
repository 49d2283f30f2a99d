// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/ax-mentor/internal/domain"
)

// Repository defines the interface for persisting users and exported documents.
type Repository interface {
	// GetUser retrieves a user by their user ID.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// CreateExport archives a step output.
	CreateExport(ctx context.Context, export *domain.Export) error

	// GetExport retrieves one export owned by userID.
	GetExport(ctx context.Context, userID, exportID string) (*domain.Export, error)

	// ListExports returns a user's exports, newest first.
	ListExports(ctx context.Context, userID string, limit int) ([]*domain.Export, error)

	// DeleteExportsBefore removes exports created before cutoff.
	DeleteExportsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
