package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/viso-labs/internal/domain"
	"github.com/ashureev/viso-labs/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	writeAttempts  = 3
	writeBaseDelay = 50 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serializes practice writes to avoid SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS learners (
		learner_id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_learners_last_seen ON learners(last_seen_at);

	CREATE TABLE IF NOT EXISTS practice_state (
		learner_id TEXT PRIMARY KEY REFERENCES learners(learner_id) ON DELETE CASCADE,
		session_id TEXT NOT NULL,
		session_json TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS session_archive (
		learner_id TEXT NOT NULL REFERENCES learners(learner_id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		session_id TEXT NOT NULL,
		difficulty TEXT NOT NULL,
		completed INTEGER NOT NULL DEFAULT 0,
		session_json TEXT NOT NULL,
		archived_at INTEGER NOT NULL,
		PRIMARY KEY (learner_id, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_session_archive_archived ON session_archive(archived_at);
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

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetLearner retrieves a learner by ID.
func (s *SQLiteStore) GetLearner(ctx context.Context, learnerID string) (*domain.Learner, error) {
	query := `
		SELECT learner_id, display_name, last_seen_at, created_at, updated_at
		FROM learners WHERE learner_id = ?`

	learner, err := scanLearner(s.db.QueryRowContext(ctx, query, learnerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan learner row: %w", err)
	}
	return learner, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLearner(row rowScanner) (*domain.Learner, error) {
	var l domain.Learner
	var lastSeen, createdAt, updatedAt int64
	if err := row.Scan(&l.LearnerID, &l.DisplayName, &lastSeen, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	l.LastSeenAt = time.Unix(lastSeen, 0)
	l.CreatedAt = time.Unix(createdAt, 0)
	l.UpdatedAt = time.Unix(updatedAt, 0)
	return &l, nil
}

// UpsertLearner creates or updates a learner record.
func (s *SQLiteStore) UpsertLearner(ctx context.Context, learner *domain.Learner) error {
	query := `
	INSERT INTO learners (learner_id, display_name, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(learner_id) DO UPDATE SET
		display_name = excluded.display_name,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		learner.LearnerID, learner.DisplayName,
		learner.LastSeenAt.Unix(), learner.CreatedAt.Unix(), learner.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert learner: %w", err)
	}
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a learner.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, learnerID string, lastSeen time.Time) error {
	query := `UPDATE learners SET last_seen_at = ?, updated_at = ? WHERE learner_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), time.Now().Unix(), learnerID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "learner_id", learnerID)
	}
	return nil
}

// LoadPractice returns the learner's active session and archive.
func (s *SQLiteStore) LoadPractice(ctx context.Context, learnerID string) (*domain.Session, domain.Archive, error) {
	var active *domain.Session
	var activeJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT session_json FROM practice_state WHERE learner_id = ?`, learnerID,
	).Scan(&activeJSON)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, domain.Archive{}, fmt.Errorf("load active session: %w", err)
	default:
		active = &domain.Session{}
		if err := json.Unmarshal([]byte(activeJSON), active); err != nil {
			return nil, domain.Archive{}, fmt.Errorf("decode active session: %w", err)
		}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT session_json FROM session_archive WHERE learner_id = ? ORDER BY seq`, learnerID)
	if err != nil {
		return nil, domain.Archive{}, fmt.Errorf("query archive: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close archive rows", "error", closeErr)
		}
	}()

	var sessions []*domain.Session
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, domain.Archive{}, fmt.Errorf("scan archive row: %w", err)
		}
		var sess domain.Session
		if err := json.Unmarshal([]byte(raw), &sess); err != nil {
			return nil, domain.Archive{}, fmt.Errorf("decode archived session: %w", err)
		}
		sessions = append(sessions, &sess)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Archive{}, fmt.Errorf("iterate archive: %w", err)
	}

	return active, domain.NewArchive(sessions...), nil
}

// SavePractice stores the active session and appends archived sessions
// atomically, retrying on SQLITE_BUSY.
func (s *SQLiteStore) SavePractice(ctx context.Context, learnerID string, active *domain.Session, archived []*domain.Session) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return shared.RetryOnConflict(ctx, "save practice", writeAttempts, writeBaseDelay, func() error {
		return s.savePracticeOnce(ctx, learnerID, active, archived)
	})
}

func (s *SQLiteStore) savePracticeOnce(ctx context.Context, learnerID string, active *domain.Session, archived []*domain.Session) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin practice tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().Unix()

	if active == nil {
		if _, err = tx.ExecContext(ctx, `DELETE FROM practice_state WHERE learner_id = ?`, learnerID); err != nil {
			return fmt.Errorf("clear active session: %w", err)
		}
	} else {
		data, encErr := json.Marshal(active)
		if encErr != nil {
			return fmt.Errorf("encode active session: %w", encErr)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO practice_state (learner_id, session_id, session_json, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(learner_id) DO UPDATE SET
				session_id = excluded.session_id,
				session_json = excluded.session_json,
				updated_at = excluded.updated_at`,
			learnerID, active.ID, string(data), now)
		if err != nil {
			return fmt.Errorf("upsert active session: %w", err)
		}
	}

	if len(archived) > 0 {
		var next int64
		if err = tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(seq) + 1, 0) FROM session_archive WHERE learner_id = ?`, learnerID,
		).Scan(&next); err != nil {
			return fmt.Errorf("next archive seq: %w", err)
		}
		for i, sess := range archived {
			data, encErr := json.Marshal(sess)
			if encErr != nil {
				return fmt.Errorf("encode archived session %s: %w", sess.ID, encErr)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO session_archive (learner_id, seq, session_id, difficulty, completed, session_json, archived_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				learnerID, next+int64(i), sess.ID, sess.Difficulty.String(), sess.Completed, string(data), now)
			if err != nil {
				return fmt.Errorf("insert archived session: %w", err)
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit practice tx: %w", err)
	}
	return nil
}

// ListIdleLearners returns learners holding an active session who have
// not been seen within ttl.
func (s *SQLiteStore) ListIdleLearners(ctx context.Context, ttl time.Duration) ([]*domain.Learner, error) {
	threshold := time.Now().Add(-ttl).Unix()
	query := `
		SELECT l.learner_id, l.display_name, l.last_seen_at, l.created_at, l.updated_at
		FROM learners l
		JOIN practice_state p ON p.learner_id = l.learner_id
		WHERE l.last_seen_at < ?`

	rows, err := s.db.QueryContext(ctx, query, threshold)
	if err != nil {
		return nil, fmt.Errorf("query idle learners: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close idle learner rows", "error", closeErr)
		}
	}()

	var learners []*domain.Learner
	for rows.Next() {
		l, err := scanLearner(rows)
		if err != nil {
			return nil, fmt.Errorf("scan idle learner row: %w", err)
		}
		learners = append(learners, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate idle learners: %w", err)
	}
	return learners, nil
}

// PurgeArchive deletes archived sessions older than maxAge.
func (s *SQLiteStore) PurgeArchive(ctx context.Context, maxAge time.Duration) (int64, error) {
	threshold := time.Now().Add(-maxAge).Unix()
	result, err := s.db.ExecContext(ctx, `DELETE FROM session_archive WHERE archived_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("purge archive: %w", err)
	}
	return result.RowsAffected()
}

var _ Repository = (*SQLiteStore)(nil)
