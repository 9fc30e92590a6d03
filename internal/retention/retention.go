// Package retention reclaims practice state of learners who went idle and
// purges old archive rows.
package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/viso-labs/internal/domain"
	"github.com/ashureev/viso-labs/internal/metrics"
	"github.com/ashureev/viso-labs/internal/shared"
	"github.com/ashureev/viso-labs/internal/store"
)

const defaultInterval = 5 * time.Minute

// CleanupCallback is called for each learner whose session was reclaimed.
type CleanupCallback func(learnerID string)

// LockFunc takes the per-learner practice lock. It returns an error when the
// learner is busy; such learners are skipped until the next sweep.
type LockFunc func(learnerID string) (release func(), err error)

// Config controls the worker.
type Config struct {
	// TTL is how long a learner may stay idle before the active session is archived.
	TTL time.Duration
	// ArchiveRetention purges archived sessions older than this. Zero keeps them.
	ArchiveRetention time.Duration
	Interval         time.Duration
}

// Worker periodically archives idle active sessions.
type Worker struct {
	repo      store.Repository
	cfg       Config
	lock      LockFunc
	onCleanup CleanupCallback
	metrics   *metrics.Metrics
}

// NewWorker creates a retention worker. lock, onCleanup and m may be nil.
func NewWorker(repo store.Repository, cfg Config, lock LockFunc, onCleanup CleanupCallback, m *metrics.Metrics) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	return &Worker{repo: repo, cfg: cfg, lock: lock, onCleanup: onCleanup, metrics: m}
}

// Start runs sweeps in a background goroutine until ctx is done.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Retention worker started",
			"interval", w.cfg.Interval,
			"ttl", w.cfg.TTL,
			"archive_retention", w.cfg.ArchiveRetention)

		for {
			select {
			case <-ticker.C:
				w.Sweep(ctx)
			case <-ctx.Done():
				slog.Info("Retention worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// Sweep archives every idle learner's active session and purges expired
// archive rows. It returns how many sessions were reclaimed.
func (w *Worker) Sweep(ctx context.Context) int {
	idle, err := w.repo.ListIdleLearners(ctx, w.cfg.TTL)
	if err != nil {
		slog.Error("Retention worker failed to list idle learners", "error", err)
		return 0
	}

	reclaimed := 0
	for _, learner := range idle {
		ok, err := w.reclaim(ctx, learner.LearnerID)
		if err != nil {
			slog.Warn("Retention worker failed to reclaim session",
				"error", err,
				"learner_id", learner.LearnerID)
			continue
		}
		if !ok {
			continue
		}
		reclaimed++
		if w.onCleanup != nil {
			w.onCleanup(learner.LearnerID)
		}
	}
	if reclaimed > 0 {
		slog.Info("Retention worker reclaimed idle sessions", "count", reclaimed)
		w.metrics.Reclaimed(reclaimed)
	}

	if w.cfg.ArchiveRetention > 0 {
		if deleted, err := w.repo.PurgeArchive(ctx, w.cfg.ArchiveRetention); err != nil {
			slog.Error("Retention worker failed to purge archive", "error", err)
		} else if deleted > 0 {
			slog.Info("Retention worker purged archived sessions", "count", deleted)
		}
	}
	return reclaimed
}

// reclaim moves the active session into the archive as-is. It reports false
// when the learner was busy.
func (w *Worker) reclaim(ctx context.Context, learnerID string) (bool, error) {
	if w.lock != nil {
		release, err := w.lock(learnerID)
		if err != nil {
			slog.Debug("Retention worker skipping busy learner", "learner_id", learnerID)
			return false, nil
		}
		defer release()
	}

	err := shared.RetryOnConflict(ctx, "reclaim idle session", 3, 100*time.Millisecond, func() error {
		active, _, err := w.repo.LoadPractice(ctx, learnerID)
		if err != nil {
			return err
		}
		var archived []*domain.Session
		if !active.IsPlaceholder() {
			archived = append(archived, active)
		}
		return w.repo.SavePractice(ctx, learnerID, nil, archived)
	})
	if err != nil {
		return false, err
	}
	return true, nil
}
