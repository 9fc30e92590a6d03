// Package progress holds the checklist projection and the threshold policy
// that decide when a learner is ready for a new image.
package progress

import (
	"strings"

	"github.com/ashureev/viso-labs/internal/domain"
)

// Project derives the checklist for keyDetails given the identified set.
// Items keep key-detail order and positional ids.
func Project(keyDetails, identified []string) []domain.ChecklistItem {
	seen := make(map[string]struct{}, len(identified))
	for _, d := range identified {
		seen[d] = struct{}{}
	}
	items := make([]domain.ChecklistItem, len(keyDetails))
	for i, d := range keyDetails {
		_, ok := seen[d]
		items[i] = domain.ChecklistItem{ID: i, Detail: d, Identified: ok}
	}
	return items
}

// ProjectSession is Project over a session's own details.
func ProjectSession(s *domain.Session) []domain.ChecklistItem {
	if s == nil {
		return []domain.ChecklistItem{}
	}
	return Project(s.KeyDetails, s.IdentifiedDetails)
}

// AllIdentified reports whether every item is checked. An empty checklist
// never counts as complete.
func AllIdentified(items []domain.ChecklistItem) bool {
	if len(items) == 0 {
		return false
	}
	for _, it := range items {
		if !it.Identified {
			return false
		}
	}
	return true
}

// CountIdentified returns how many items are checked.
func CountIdentified(items []domain.ChecklistItem) int {
	n := 0
	for _, it := range items {
		if it.Identified {
			n++
		}
	}
	return n
}

// Match maps free-form phrases onto the canonical key details they name.
// Comparison ignores case, surrounding space and trailing punctuation.
// Unknown phrases are dropped.
func Match(keyDetails, phrases []string) []string {
	index := make(map[string]string, len(keyDetails))
	for _, kd := range keyDetails {
		index[canonical(kd)] = kd
	}
	var out []string
	seen := make(map[string]struct{})
	for _, p := range phrases {
		kd, ok := index[canonical(p)]
		if !ok {
			continue
		}
		if _, dup := seen[kd]; dup {
			continue
		}
		seen[kd] = struct{}{}
		out = append(out, kd)
	}
	return out
}

func canonical(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimRight(s, ".,;:!?")
	return strings.Join(strings.Fields(s), " ")
}
