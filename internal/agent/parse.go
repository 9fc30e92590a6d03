package agent

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/ashureev/viso-labs/internal/lesson"
)

const maxDetails = 15

// DefaultDetails is the list used when a detail response cannot be parsed.
var DefaultDetails = []string{"object in image", "color", "shape", "background"}

// DefaultFeedback is used when a verdict carries no readable feedback.
const DefaultFeedback = "Thank you for sharing! Can you tell me more about what you see in the picture?"

// ParseDetails reads a key-detail list from model output. It tries a JSON
// array first, then "-" or "*" bullet lines, then falls back to DefaultDetails.
func ParseDetails(text string) ([]string, lesson.ParseSource) {
	var arr []string
	if body, ok := enclosed(text, '[', ']'); ok && json.Unmarshal([]byte(body), &arr) == nil {
		if details := uniqueDetails(arr); len(details) > 0 {
			return details, lesson.SourceStructured
		}
	}

	var bullets []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "-") || strings.HasPrefix(line, "*") {
			bullets = append(bullets, strings.TrimSpace(line[1:]))
		}
	}
	if details := uniqueDetails(bullets); len(details) > 0 {
		return details, lesson.SourceLineExtracted
	}

	out := make([]string, len(DefaultDetails))
	copy(out, DefaultDetails)
	return out, lesson.SourceDefault
}

func uniqueDetails(items []string) []string {
	out := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		it = strings.Trim(strings.TrimSpace(it), `"`)
		key := strings.ToLower(it)
		if it == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, it)
		if len(out) == maxDetails {
			break
		}
	}
	return out
}

type rawVerdict struct {
	Feedback      string          `json:"feedback"`
	Newly         []string        `json:"newly_identified_details"`
	Identified    []string        `json:"identified_details"`
	Difficulty    string          `json:"difficulty"`
	UpdatedLevel  string          `json:"updated_difficulty"`
	ShouldAdvance json.RawMessage `json:"should_advance"`
	Score         json.RawMessage `json:"score"`
}

// ParseVerdict reads an evaluator verdict. It tries a JSON object, then
// labelled "Feedback:" and "Score:" lines, then a default verdict with
// generic feedback. Only a JSON verdict can identify details, propose a
// difficulty or ask to advance.
func ParseVerdict(text string) lesson.Verdict {
	if body, ok := enclosed(text, '{', '}'); ok {
		var raw rawVerdict
		if err := json.Unmarshal([]byte(body), &raw); err == nil {
			v := lesson.Verdict{
				Feedback:           strings.TrimSpace(raw.Feedback),
				Identified:         raw.Newly,
				ProposedDifficulty: strings.TrimSpace(raw.Difficulty),
				ShouldAdvance:      parseBool(raw.ShouldAdvance),
				Score:              parseScore(raw.Score),
				Source:             lesson.SourceStructured,
			}
			if v.Identified == nil {
				v.Identified = raw.Identified
			}
			if v.ProposedDifficulty == "" {
				v.ProposedDifficulty = strings.TrimSpace(raw.UpdatedLevel)
			}
			if v.Feedback == "" {
				v.Feedback = DefaultFeedback
			}
			return v
		}
	}

	var v lesson.Verdict
	for _, line := range strings.Split(text, "\n") {
		label, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(value), "*"))
		switch normalizeLabel(label) {
		case "feedback":
			v.Feedback = value
		case "score":
			v.Score = parseScore(json.RawMessage(value))
		}
	}
	if v.Feedback != "" {
		v.Source = lesson.SourceLineExtracted
		return v
	}

	return lesson.Verdict{Feedback: DefaultFeedback, Source: lesson.SourceDefault}
}

// enclosed returns the outermost opening..closing span, which also skips any
// surrounding code fence.
func enclosed(text string, opening, closing byte) (string, bool) {
	start := strings.IndexByte(text, opening)
	end := strings.LastIndexByte(text, closing)
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

func normalizeLabel(s string) string {
	s = strings.ToLower(strings.Trim(strings.TrimSpace(s), "*#-_ "))
	return strings.NewReplacer(" ", "", "_", "", "-", "").Replace(s)
}

func parseBool(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var b bool
	if json.Unmarshal(raw, &b) == nil {
		return b
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		switch strings.ToLower(strings.Trim(strings.TrimSpace(s), ".*")) {
		case "true", "yes", "y", "1":
			return true
		}
	}
	return false
}

func parseScore(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if json.Unmarshal(raw, &f) != nil {
		var s string
		if json.Unmarshal(raw, &s) != nil {
			s = string(raw)
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "%")
		if before, _, ok := strings.Cut(s, "/"); ok {
			s = before
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0
		}
		f = parsed
	}
	return min(max(int(f), 0), 100)
}
