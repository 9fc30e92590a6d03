package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/viso-labs/internal/catalog"
	"github.com/ashureev/viso-labs/internal/domain"
	"github.com/ashureev/viso-labs/internal/lesson"
)

const (
	// DefaultHFImageModel is the text-to-image model used on the inference API.
	DefaultHFImageModel = "stabilityai/stable-diffusion-3.5-large-turbo"

	hfInferenceBase = "https://api-inference.huggingface.co/models/"
	maxImageBytes   = 32 << 20
)

// HuggingFaceSynthesizer renders prompts through the Hugging Face inference API.
type HuggingFaceSynthesizer struct {
	endpoint string
	token    string
	params   catalog.Synthesis
	client   *http.Client
}

// NewHuggingFaceSynthesizer creates a synthesizer for model. An empty model
// uses DefaultHFImageModel.
func NewHuggingFaceSynthesizer(token, model string, params catalog.Synthesis) *HuggingFaceSynthesizer {
	if model == "" {
		model = DefaultHFImageModel
	}
	return &HuggingFaceSynthesizer{
		endpoint: hfInferenceBase + model,
		token:    token,
		params:   params,
		client:   &http.Client{Timeout: 2 * time.Minute},
	}
}

// WithEndpoint overrides the inference URL.
func (h *HuggingFaceSynthesizer) WithEndpoint(url string) *HuggingFaceSynthesizer {
	h.endpoint = url
	return h
}

type hfRequest struct {
	Inputs     string       `json:"inputs"`
	Parameters hfParameters `json:"parameters"`
}

type hfParameters struct {
	GuidanceScale     float64 `json:"guidance_scale"`
	NegativePrompt    string  `json:"negative_prompt,omitempty"`
	NumInferenceSteps int     `json:"num_inference_steps"`
}

// Synthesize posts the prompt and returns the raw image bytes.
func (h *HuggingFaceSynthesizer) Synthesize(ctx context.Context, req lesson.SynthesisRequest) (*domain.Image, error) {
	if h.token == "" {
		return nil, fmt.Errorf("huggingface: %w", errNotConfigured)
	}

	body, err := json.Marshal(hfRequest{
		Inputs: req.Prompt,
		Parameters: hfParameters{
			GuidanceScale:     h.params.GuidanceScale,
			NegativePrompt:    h.params.NegativePrompt,
			NumInferenceSteps: h.params.InferenceSteps,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encode synthesis request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build synthesis request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+h.token)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "image/png")

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("huggingface request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, fmt.Errorf("read synthesis response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("huggingface returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return nil, fmt.Errorf("huggingface returned %s, not an image", mime)
	}
	return &domain.Image{MIMEType: mime, Data: data}, nil
}
