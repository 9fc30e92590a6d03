package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ashureev/viso-labs/internal/domain"
	"google.golang.org/genai"
)

// DefaultGeminiModel is used when no model name is configured.
const DefaultGeminiModel = "gemini-2.0-flash"

// GeminiModel implements VisionModel on the Gemini API. The underlying client
// is created on first use.
type GeminiModel struct {
	apiKey string
	model  string
	logger *slog.Logger

	mu     sync.Mutex
	client *genai.Client
}

// NewGeminiModel creates a Gemini-backed model with lazy initialization.
func NewGeminiModel(apiKey, model string) *GeminiModel {
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiModel{apiKey: apiKey, model: model, logger: slog.Default()}
}

// Name returns the configured model name.
func (g *GeminiModel) Name() string {
	return g.model
}

func (g *GeminiModel) clientFor(ctx context.Context) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client != nil {
		return g.client, nil
	}
	if g.apiKey == "" {
		return nil, fmt.Errorf("gemini: %w", errNotConfigured)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: g.apiKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	g.client = client
	g.logger.Debug("gemini client initialized", "model", g.model)
	return client, nil
}

// Generate sends the query, with the image inlined first when present.
func (g *GeminiModel) Generate(ctx context.Context, query string, image *domain.Image) (string, error) {
	client, err := g.clientFor(ctx)
	if err != nil {
		return "", err
	}

	parts := make([]*genai.Part, 0, 2)
	if image != nil && len(image.Data) > 0 {
		parts = append(parts, genai.NewPartFromBytes(image.Data, image.MIMEType))
	}
	parts = append(parts, genai.NewPartFromText(query))
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	result, err := client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("gemini request failed: %w", err)
	}

	text := geminiText(result)
	if text == "" {
		return "", fmt.Errorf("gemini: %w", errEmptyResponse)
	}
	return text, nil
}

// geminiText joins the text parts of the first candidate, skipping thoughts.
func geminiText(result *genai.GenerateContentResponse) string {
	if result == nil || len(result.Candidates) == 0 {
		return ""
	}
	cand := result.Candidates[0]
	if cand == nil || cand.Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range cand.Content.Parts {
		if part == nil || part.Thought || part.Text == "" {
			continue
		}
		b.WriteString(part.Text)
	}
	return strings.TrimSpace(b.String())
}
