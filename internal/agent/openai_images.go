package agent

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/ashureev/viso-labs/internal/domain"
	"github.com/ashureev/viso-labs/internal/lesson"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultOpenAIImageModel is used when no image model is configured.
const DefaultOpenAIImageModel = "gpt-image-1"

// OpenAISynthesizer renders prompts with the OpenAI images API.
type OpenAISynthesizer struct {
	client openai.Client
	model  string
	ready  bool
}

// NewOpenAISynthesizer creates an OpenAI image synthesizer.
func NewOpenAISynthesizer(apiKey, model string, opts ...option.RequestOption) *OpenAISynthesizer {
	if model == "" {
		model = DefaultOpenAIImageModel
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAISynthesizer{
		client: openai.NewClient(opts...),
		model:  model,
		ready:  apiKey != "",
	}
}

// Synthesize requests one base64-encoded image.
func (o *OpenAISynthesizer) Synthesize(ctx context.Context, req lesson.SynthesisRequest) (*domain.Image, error) {
	if !o.ready {
		return nil, fmt.Errorf("openai: %w", errNotConfigured)
	}

	params := openai.ImageGenerateParams{
		Prompt: req.Prompt,
		Model:  openai.ImageModel(o.model),
		N:      openai.Int(1),
		Size:   openai.ImageGenerateParamsSize1024x1024,
	}
	// gpt-image models always answer with base64 and reject response_format.
	if strings.HasPrefix(o.model, "dall-e") {
		params.ResponseFormat = openai.ImageGenerateParamsResponseFormatB64JSON
	}

	resp, err := o.client.Images.Generate(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai image request failed: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, fmt.Errorf("openai: %w", errEmptyResponse)
	}

	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("decode openai image: %w", err)
	}
	return &domain.Image{MIMEType: http.DetectContentType(data), Data: data}, nil
}
