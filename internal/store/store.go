// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/viso-labs/internal/domain"
)

// Repository persists learners, their active practice session and the
// archive of finished sessions.
type Repository interface {
	// GetLearner retrieves a learner by ID. It returns nil, nil when absent.
	GetLearner(ctx context.Context, learnerID string) (*domain.Learner, error)

	// UpsertLearner creates or updates a learner record.
	UpsertLearner(ctx context.Context, learner *domain.Learner) error

	// UpdateLastSeen updates the last_seen_at timestamp for a learner.
	UpdateLastSeen(ctx context.Context, learnerID string, lastSeen time.Time) error

	// LoadPractice returns the active session (nil when none) and the archive.
	LoadPractice(ctx context.Context, learnerID string) (*domain.Session, domain.Archive, error)

	// SavePractice stores the active session and appends archived sessions
	// in one transaction. A nil active session clears it.
	SavePractice(ctx context.Context, learnerID string, active *domain.Session, archived []*domain.Session) error

	// ListIdleLearners returns learners with an active session whose last
	// activity is older than ttl.
	ListIdleLearners(ctx context.Context, ttl time.Duration) ([]*domain.Learner, error)

	// PurgeArchive deletes archived sessions older than maxAge.
	PurgeArchive(ctx context.Context, maxAge time.Duration) (int64, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
