// Package agent adapts hosted generative models to the practice loop's
// collaborator contracts.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ashureev/viso-labs/internal/catalog"
	"github.com/ashureev/viso-labs/internal/domain"
	"github.com/ashureev/viso-labs/internal/lesson"
)

var (
	errEmptyResponse   = errors.New("empty model response")
	errNotConfigured   = errors.New("api key not configured")
	errUnknownProvider = errors.New("unknown provider")
)

// VisionModel answers a text query, optionally grounded on an image.
type VisionModel interface {
	Generate(ctx context.Context, query string, image *domain.Image) (string, error)
}

// ModelFunc adapts a function to VisionModel.
type ModelFunc func(ctx context.Context, query string, image *domain.Image) (string, error)

// Generate calls f.
func (f ModelFunc) Generate(ctx context.Context, query string, image *domain.Image) (string, error) {
	return f(ctx, query, image)
}

// Config selects and configures the model providers.
type Config struct {
	TextProvider  string
	ImageProvider string

	GeminiAPIKey        string
	GeminiPromptModel   string
	GeminiDescribeModel string
	GeminiDetailsModel  string

	AnthropicAPIKey string
	AnthropicModel  string

	HFToken      string
	HFImageModel string

	OpenAIAPIKey     string
	OpenAIImageModel string
}

// Models are the per-task text models.
type Models struct {
	Prompt   VisionModel
	Describe VisionModel
	Details  VisionModel
	Judge    VisionModel
}

// NewModels builds the text models for cfg.TextProvider.
func NewModels(cfg Config) (Models, error) {
	switch strings.ToLower(cfg.TextProvider) {
	case "", "gemini":
		return Models{
			Prompt:   NewGeminiModel(cfg.GeminiAPIKey, cfg.GeminiPromptModel),
			Describe: NewGeminiModel(cfg.GeminiAPIKey, cfg.GeminiDescribeModel),
			Details:  NewGeminiModel(cfg.GeminiAPIKey, cfg.GeminiDetailsModel),
			Judge:    NewGeminiModel(cfg.GeminiAPIKey, cfg.GeminiDescribeModel),
		}, nil
	case "anthropic":
		m := NewAnthropicModel(cfg.AnthropicAPIKey, cfg.AnthropicModel)
		return Models{Prompt: m, Describe: m, Details: m, Judge: m}, nil
	default:
		return Models{}, fmt.Errorf("%w: text provider %q", errUnknownProvider, cfg.TextProvider)
	}
}

// NewSynthesizer builds the image synthesizer for cfg.ImageProvider.
func NewSynthesizer(cfg Config, params catalog.Synthesis) (lesson.ImageSynthesizer, error) {
	switch strings.ToLower(cfg.ImageProvider) {
	case "", "huggingface":
		return NewHuggingFaceSynthesizer(cfg.HFToken, cfg.HFImageModel, params), nil
	case "openai":
		return NewOpenAISynthesizer(cfg.OpenAIAPIKey, cfg.OpenAIImageModel), nil
	default:
		return nil, fmt.Errorf("%w: image provider %q", errUnknownProvider, cfg.ImageProvider)
	}
}
