// Package domain contains the core practice types for VisoLabs.
package domain

import (
	"time"
)

// Learner is an anonymous practice identity.
type Learner struct {
	LearnerID   string    `json:"learner_id"`
	DisplayName string    `json:"display_name"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// IdleFor returns how long the learner has been inactive.
func (l *Learner) IdleFor(now time.Time) time.Duration {
	idle := now.Sub(l.LastSeenAt)
	if idle < 0 {
		return 0
	}
	return idle
}
