package domain

import (
	"encoding/json"
	"slices"
)

// Archive is an append-only history of finished sessions.
type Archive struct {
	sessions []*Session
}

// NewArchive builds an archive holding copies of the given sessions.
func NewArchive(sessions ...*Session) Archive {
	var a Archive
	for _, s := range sessions {
		if s != nil {
			a.sessions = append(a.sessions, s.Clone())
		}
	}
	return a
}

// Append returns a new archive with a copy of s added at the end. The
// receiver is left untouched.
func (a Archive) Append(s *Session) Archive {
	next := make([]*Session, len(a.sessions), len(a.sessions)+1)
	copy(next, a.sessions)
	return Archive{sessions: append(next, s.Clone())}
}

// Len returns the number of archived sessions.
func (a Archive) Len() int {
	return len(a.sessions)
}

// At returns a copy of the i-th archived session.
func (a Archive) At(i int) *Session {
	return a.sessions[i].Clone()
}

// Sessions returns copies of all archived sessions in order.
func (a Archive) Sessions() []*Session {
	out := make([]*Session, len(a.sessions))
	for i, s := range a.sessions {
		out[i] = s.Clone()
	}
	return out
}

// Since returns copies of the sessions appended after the first n.
func (a Archive) Since(n int) []*Session {
	if n >= len(a.sessions) {
		return nil
	}
	return a.Sessions()[n:]
}

// WithActive combines the archive with the active session for display.
// A placeholder active session is left out.
func (a Archive) WithActive(active *Session) []*Session {
	all := a.Sessions()
	if !active.IsPlaceholder() {
		all = append(all, active.Clone())
	}
	return all
}

// MarshalJSON encodes the archive as a JSON array.
func (a Archive) MarshalJSON() ([]byte, error) {
	if a.sessions == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(a.sessions)
}

// UnmarshalJSON decodes a JSON array of sessions.
func (a *Archive) UnmarshalJSON(data []byte) error {
	var sessions []*Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		return err
	}
	a.sessions = slices.DeleteFunc(sessions, func(s *Session) bool { return s == nil })
	return nil
}
