package agent

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ashureev/viso-labs/internal/catalog"
	"github.com/ashureev/viso-labs/internal/domain"
	"github.com/ashureev/viso-labs/internal/lesson"
)

// Composer writes image prompts from the learner's parameters.
type Composer struct {
	model   VisionModel
	catalog *catalog.Catalog
	logger  *slog.Logger
}

// NewComposer creates a Composer.
func NewComposer(model VisionModel, cat *catalog.Catalog, logger *slog.Logger) *Composer {
	if cat == nil {
		cat = catalog.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{model: model, catalog: cat, logger: logger}
}

// ComposePrompt asks the model for a detailed prompt. It never fails: when
// the model errors the composed instruction itself is used as the prompt.
func (c *Composer) ComposePrompt(ctx context.Context, req lesson.PromptRequest) (string, error) {
	req.TreatmentPlan = c.catalog.TreatmentPlan(req.AutismLevel, req.TreatmentPlan)
	instruction := composeInstruction(req, c.catalog.StyleInstruction(req.ImageStyle))

	prompt, err := c.model.Generate(ctx, instruction, nil)
	if err != nil {
		c.logger.Warn("prompt model failed, using composed instruction",
			"difficulty", req.Difficulty.String(),
			"error", err)
		return instruction, nil
	}
	return strings.Trim(strings.TrimSpace(prompt), `"`), nil
}

// Describer writes the reference description of a generated image.
type Describer struct {
	model VisionModel
}

// NewDescriber creates a Describer.
func NewDescriber(model VisionModel) *Describer {
	return &Describer{model: model}
}

// Describe asks the model to describe the image.
func (d *Describer) Describe(ctx context.Context, req lesson.DescriptionRequest) (string, error) {
	if req.Image == nil {
		return "", domain.ErrNoImageYet
	}
	return d.model.Generate(ctx, describeQuery(req), req.Image)
}

// Extractor lists the key details of a generated image.
type Extractor struct {
	model  VisionModel
	logger *slog.Logger
}

// NewExtractor creates an Extractor.
func NewExtractor(model VisionModel, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{model: model, logger: logger}
}

// ExtractDetails asks the model for key details and parses them tolerantly.
func (e *Extractor) ExtractDetails(ctx context.Context, req lesson.DetailRequest) ([]string, error) {
	if req.Image == nil {
		return nil, domain.ErrNoImageYet
	}
	text, err := e.model.Generate(ctx, detailsQuery(req), req.Image)
	if err != nil {
		return nil, err
	}
	details, source := ParseDetails(text)
	if source != lesson.SourceStructured {
		e.logger.Warn("key detail response was not a JSON array", "source", source, "count", len(details))
	}
	return details, nil
}

// Judge evaluates learner descriptions.
type Judge struct {
	model  VisionModel
	logger *slog.Logger
}

// NewJudge creates a Judge.
func NewJudge(model VisionModel, logger *slog.Logger) *Judge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Judge{model: model, logger: logger}
}

// Evaluate asks the model to judge the utterance. Unparseable answers
// degrade to a default verdict.
func (j *Judge) Evaluate(ctx context.Context, req lesson.EvaluationRequest) (lesson.Verdict, error) {
	text, err := j.model.Generate(ctx, judgeQuery(req), req.Image)
	if err != nil {
		return lesson.Verdict{}, err
	}
	v := ParseVerdict(text)
	if v.Source != lesson.SourceStructured {
		j.logger.Warn("verdict was not a JSON object", "source", v.Source)
	}
	return v, nil
}

var (
	_ lesson.PromptComposer       = (*Composer)(nil)
	_ lesson.DescriptionGenerator = (*Describer)(nil)
	_ lesson.DetailExtractor      = (*Extractor)(nil)
	_ lesson.Evaluator            = (*Judge)(nil)
	_ lesson.ImageSynthesizer     = (*HuggingFaceSynthesizer)(nil)
	_ lesson.ImageSynthesizer     = (*OpenAISynthesizer)(nil)
	_ VisionModel                 = (*GeminiModel)(nil)
	_ VisionModel                 = (*AnthropicModel)(nil)
)
