// Package lesson runs the practice loop: it mints sessions through the
// generation collaborators and advances learners based on evaluator verdicts.
package lesson

import (
	"context"

	"github.com/ashureev/viso-labs/internal/domain"
)

// PromptRequest carries everything a composer needs to describe a scene.
type PromptRequest struct {
	Difficulty    domain.Difficulty
	Age           string
	AutismLevel   string
	TopicFocus    string
	TreatmentPlan string
	ImageStyle    string
}

// SynthesisRequest asks for one image.
type SynthesisRequest struct {
	Prompt     string
	ImageStyle string
}

// DescriptionRequest asks for a reference description of a generated image.
type DescriptionRequest struct {
	Image      *domain.Image
	Prompt     string
	Difficulty domain.Difficulty
	TopicFocus string
}

// DetailRequest asks for the key details a learner should find.
type DetailRequest struct {
	Image      *domain.Image
	Prompt     string
	TopicFocus string
}

// EvaluationRequest is one learner turn plus the session context.
type EvaluationRequest struct {
	Utterance         string
	Image             *domain.Image
	Description       string
	KeyDetails        []string
	IdentifiedDetails []string
	Difficulty        domain.Difficulty
	Age               string
	AutismLevel       string
	TopicFocus        string
	TreatmentPlan     string
	Chat              []domain.ChatEntry
}

// ParseSource records which step of a tolerant parse produced a value.
type ParseSource string

const (
	SourceStructured    ParseSource = "structured"
	SourceLineExtracted ParseSource = "line_extracted"
	SourceDefault       ParseSource = "default"
)

// Verdict is the evaluator's judgement of one turn.
type Verdict struct {
	Feedback           string      `json:"feedback"`
	Identified         []string    `json:"newly_identified_details"`
	ProposedDifficulty string      `json:"difficulty"`
	ShouldAdvance      bool        `json:"should_advance"`
	Score              int         `json:"score"`
	Source             ParseSource `json:"source"`
}

// PromptComposer turns learner parameters into an image prompt.
type PromptComposer interface {
	ComposePrompt(ctx context.Context, req PromptRequest) (string, error)
}

// ImageSynthesizer renders a prompt into an image.
type ImageSynthesizer interface {
	Synthesize(ctx context.Context, req SynthesisRequest) (*domain.Image, error)
}

// DescriptionGenerator writes the reference description of an image.
type DescriptionGenerator interface {
	Describe(ctx context.Context, req DescriptionRequest) (string, error)
}

// DetailExtractor lists the key details of an image.
type DetailExtractor interface {
	ExtractDetails(ctx context.Context, req DetailRequest) ([]string, error)
}

// Evaluator judges a learner's description.
type Evaluator interface {
	Evaluate(ctx context.Context, req EvaluationRequest) (Verdict, error)
}

// Collaborators groups the generation services a Manager depends on.
type Collaborators struct {
	Composer    PromptComposer
	Synthesizer ImageSynthesizer
	Describer   DescriptionGenerator
	Extractor   DetailExtractor
}
