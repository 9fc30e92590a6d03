package domain

import (
	"slices"
	"time"
)

// Speaker identifies who wrote a chat entry.
type Speaker string

const (
	SpeakerLearner Speaker = "Child"
	SpeakerTeacher Speaker = "Teacher"
	SpeakerSystem  Speaker = "System"
)

// ChatEntry is one transcript line.
type ChatEntry struct {
	Speaker Speaker `json:"speaker"`
	Message string  `json:"message"`
}

// Image is the synthesized picture for one session.
type Image struct {
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// Extension returns a file extension matching the image MIME type.
func (img *Image) Extension() string {
	switch img.MIMEType {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}

const (
	// DefaultAttemptLimit applies when a start request omits the limit.
	DefaultAttemptLimit = 3
	// DefaultDetailsThreshold applies when a start request omits the threshold.
	DefaultDetailsThreshold = 0.7

	minDetailsThreshold = 0.1
	maxDetailsThreshold = 1.0
)

// NormalizeThreshold maps a threshold into [0.1, 1.0]. Values above 1 are
// treated as percentages.
func NormalizeThreshold(v float64) float64 {
	if v > maxDetailsThreshold {
		v /= 100
	}
	return min(max(v, minDetailsThreshold), maxDetailsThreshold)
}

// Session is the state of one learner/image pairing.
type Session struct {
	ID                string      `json:"id"`
	Prompt            string      `json:"prompt"`
	Image             *Image      `json:"image,omitempty"`
	Description       string      `json:"image_description"`
	Chat              []ChatEntry `json:"chat"`
	TreatmentPlan     string      `json:"treatment_plan"`
	TopicFocus        string      `json:"topic_focus"`
	KeyDetails        []string    `json:"key_details"`
	IdentifiedDetails []string    `json:"identified_details"`
	UsedHints         []string    `json:"used_hints"`
	Difficulty        Difficulty  `json:"difficulty"`
	Age               string      `json:"age"`
	AutismLevel       string      `json:"autism_level"`
	AttemptLimit      int         `json:"attempt_limit"`
	AttemptCount      int         `json:"attempt_count"`
	DetailsThreshold  float64     `json:"details_threshold"`
	ImageStyle        string      `json:"image_style"`
	Completed         bool        `json:"completed"`
	CreatedAt         time.Time   `json:"created_at"`
	CompletedAt       *time.Time  `json:"completed_at,omitempty"`
}

// HasImage reports whether an image has been generated for the session.
func (s *Session) HasImage() bool {
	return s != nil && s.Image != nil && len(s.Image.Data) > 0
}

// IsPlaceholder reports whether the session was never generated.
func (s *Session) IsPlaceholder() bool {
	return s == nil || s.Prompt == ""
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.Image != nil {
		img := *s.Image
		img.Data = slices.Clone(s.Image.Data)
		c.Image = &img
	}
	c.Chat = slices.Clone(s.Chat)
	c.KeyDetails = slices.Clone(s.KeyDetails)
	c.IdentifiedDetails = slices.Clone(s.IdentifiedDetails)
	c.UsedHints = slices.Clone(s.UsedHints)
	if s.CompletedAt != nil {
		at := *s.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}

// AppendChat adds a transcript entry.
func (s *Session) AppendChat(speaker Speaker, message string) {
	s.Chat = append(s.Chat, ChatEntry{Speaker: speaker, Message: message})
}

// IsIdentified reports whether detail has been identified already.
func (s *Session) IsIdentified(detail string) bool {
	return slices.Contains(s.IdentifiedDetails, detail)
}

// Identify marks key details as identified and returns the ones that were new.
// Phrases that are not key details are ignored. IdentifiedDetails stays in
// key-detail order.
func (s *Session) Identify(details []string) []string {
	var added []string
	for _, d := range details {
		if !slices.Contains(s.KeyDetails, d) || s.IsIdentified(d) || slices.Contains(added, d) {
			continue
		}
		added = append(added, d)
	}
	if len(added) == 0 {
		return nil
	}
	merged := make([]string, 0, len(s.IdentifiedDetails)+len(added))
	for _, kd := range s.KeyDetails {
		if s.IsIdentified(kd) || slices.Contains(added, kd) {
			merged = append(merged, kd)
		}
	}
	s.IdentifiedDetails = merged
	return added
}

// RecordMiss counts an attempt that identified nothing new.
func (s *Session) RecordMiss() {
	s.AttemptCount++
}

// AttemptsExhausted reports whether the attempt budget is used up.
func (s *Session) AttemptsExhausted() bool {
	return s.AttemptCount >= s.AttemptLimit
}

// MarkCompleted flags the session as finished.
func (s *Session) MarkCompleted(at time.Time) {
	s.Completed = true
	s.CompletedAt = &at
}

// ChecklistItem pairs a key detail with whether it was identified.
type ChecklistItem struct {
	ID         int    `json:"id"`
	Detail     string `json:"detail"`
	Identified bool   `json:"identified"`
}

// StartParams configures a new practice session.
type StartParams struct {
	Age              string   `json:"age"`
	AutismLevel      string   `json:"autism_level"`
	TopicFocus       string   `json:"topic_focus"`
	TreatmentPlan    string   `json:"treatment_plan"`
	AttemptLimit     *int     `json:"attempt_limit,omitempty"`
	DetailsThreshold *float64 `json:"details_threshold,omitempty"`
	ImageStyle       string   `json:"image_style"`
}

// ParamsFrom rebuilds start parameters from an existing session.
func ParamsFrom(s *Session) StartParams {
	limit := s.AttemptLimit
	threshold := s.DetailsThreshold
	return StartParams{
		Age:              s.Age,
		AutismLevel:      s.AutismLevel,
		TopicFocus:       s.TopicFocus,
		TreatmentPlan:    s.TreatmentPlan,
		AttemptLimit:     &limit,
		DetailsThreshold: &threshold,
		ImageStyle:       s.ImageStyle,
	}
}
