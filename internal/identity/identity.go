// Package identity provides anonymous per-device learner identity.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"time"

	"github.com/ashureev/viso-labs/internal/domain"
	"github.com/ashureev/viso-labs/internal/store"
)

const (
	AnonCookieName   = "viso_anon_id"
	anonCookieMaxAge = 30 * 24 * time.Hour
)

type contextKey int

const (
	learnerIDKey contextKey = iota
	displayNameKey
)

var anonIDPattern = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)

// LearnerIDFromContext extracts the learner ID from the request context.
func LearnerIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(learnerIDKey).(string); ok {
		return v
	}
	return ""
}

// DisplayNameFromContext extracts the learner display name from the request context.
func DisplayNameFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(displayNameKey).(string); ok {
		return v
	}
	return ""
}

// WithLearner returns a context carrying learnerID. Used by tests and the CLI.
func WithLearner(ctx context.Context, learnerID string) context.Context {
	ctx = context.WithValue(ctx, learnerIDKey, learnerID)
	return context.WithValue(ctx, displayNameKey, DisplayName(learnerID))
}

// IsValidAnonID reports whether id has the anonymous learner ID format.
func IsValidAnonID(id string) bool {
	return anonIDPattern.MatchString(id)
}

// DisplayName derives a short readable name from a learner ID.
func DisplayName(learnerID string) string {
	if len(learnerID) > 13 {
		return "learner-" + learnerID[len(learnerID)-8:]
	}
	return "learner"
}

func generateAnonID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate anonymous id: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}

// EnsureLearner creates the learner record if it does not exist yet and
// refreshes its last-seen time otherwise.
func EnsureLearner(ctx context.Context, repo store.Repository, learnerID string, now time.Time) error {
	learner, err := repo.GetLearner(ctx, learnerID)
	if err != nil {
		return fmt.Errorf("get learner: %w", err)
	}
	if learner != nil {
		if err := repo.UpdateLastSeen(ctx, learnerID, now); err != nil {
			return fmt.Errorf("update last seen: %w", err)
		}
		return nil
	}

	return repo.UpsertLearner(ctx, &domain.Learner{
		LearnerID:   learnerID,
		DisplayName: DisplayName(learnerID),
		LastSeenAt:  now,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

func setAnonCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     AnonCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(anonCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(anonCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

func getOrCreateAnonID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	if c, err := r.Cookie(AnonCookieName); err == nil && IsValidAnonID(c.Value) {
		setAnonCookie(w, c.Value, isDev)
		return c.Value, nil
	}

	id, err := generateAnonID()
	if err != nil {
		return "", err
	}
	setAnonCookie(w, id, isDev)
	return id, nil
}

// Middleware injects the anonymous learner identity into the request context.
func Middleware(repo store.Repository, isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			learnerID, err := getOrCreateAnonID(w, r, isDev)
			if err != nil {
				http.Error(w, `{"error":"failed to establish anonymous identity"}`, http.StatusInternalServerError)
				return
			}

			if err := EnsureLearner(r.Context(), repo, learnerID, time.Now()); err != nil {
				http.Error(w, `{"error":"failed to initialize learner"}`, http.StatusInternalServerError)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithLearner(r.Context(), learnerID)))
		})
	}
}

// IPFromRequest returns a normalized remote IP, used as the rate limit key
// when no learner is known yet.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
