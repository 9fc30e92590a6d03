package domain

import (
	"fmt"
	"strings"
)

// Difficulty is one of the ordered practice levels.
type Difficulty int

const (
	VerySimple Difficulty = iota
	Simple
	Moderate
	Detailed
	VeryDetailed
)

// DefaultDifficulty is the level every learner starts at.
const DefaultDifficulty = VerySimple

var difficultyNames = [...]string{
	VerySimple:   "Very Simple",
	Simple:       "Simple",
	Moderate:     "Moderate",
	Detailed:     "Detailed",
	VeryDetailed: "Very Detailed",
}

// Difficulties returns all levels in ascending order.
func Difficulties() []Difficulty {
	return []Difficulty{VerySimple, Simple, Moderate, Detailed, VeryDetailed}
}

// Valid reports whether d is one of the known levels.
func (d Difficulty) Valid() bool {
	return d >= VerySimple && d <= VeryDetailed
}

func (d Difficulty) String() string {
	if !d.Valid() {
		return fmt.Sprintf("Difficulty(%d)", int(d))
	}
	return difficultyNames[d]
}

// ParseDifficulty matches a level name ignoring case, spacing, hyphens and underscores.
func ParseDifficulty(s string) (Difficulty, bool) {
	want := normalizeLevelName(s)
	if want == "" {
		return 0, false
	}
	for i, name := range difficultyNames {
		if normalizeLevelName(name) == want {
			return Difficulty(i), true
		}
	}
	return 0, false
}

func normalizeLevelName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Trim(s, `"'.*`)
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '_', '\t':
			return -1
		}
		return r
	}, s)
}

// MarshalText encodes the level by name.
func (d Difficulty) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("invalid difficulty %d", int(d))
	}
	return []byte(d.String()), nil
}

// UnmarshalText decodes a level name.
func (d *Difficulty) UnmarshalText(text []byte) error {
	parsed, ok := ParseDifficulty(string(text))
	if !ok {
		return fmt.Errorf("unknown difficulty %q", string(text))
	}
	*d = parsed
	return nil
}
