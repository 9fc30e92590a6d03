package agent

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ashureev/viso-labs/internal/domain"
)

// DefaultAnthropicModel is used when no model name is configured.
const DefaultAnthropicModel = "claude-sonnet-4-5"

const anthropicMaxTokens = 2048

// AnthropicModel implements VisionModel on the Anthropic Messages API.
type AnthropicModel struct {
	apiKey string
	model  string

	mu     sync.Mutex
	client *anthropic.Client
}

// NewAnthropicModel creates an Anthropic-backed model with lazy initialization.
func NewAnthropicModel(apiKey, model string) *AnthropicModel {
	if model == "" {
		model = DefaultAnthropicModel
	}
	return &AnthropicModel{apiKey: apiKey, model: model}
}

func (a *AnthropicModel) clientOrInit() (*anthropic.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil {
		return a.client, nil
	}
	if a.apiKey == "" {
		return nil, fmt.Errorf("anthropic: %w", errNotConfigured)
	}
	client := anthropic.NewClient(option.WithAPIKey(a.apiKey))
	a.client = &client
	return a.client, nil
}

// Generate sends the query as a single user message.
func (a *AnthropicModel) Generate(ctx context.Context, query string, image *domain.Image) (string, error) {
	client, err := a.clientOrInit()
	if err != nil {
		return "", err
	}

	blocks := make([]anthropic.ContentBlockParamUnion, 0, 2)
	if image != nil && len(image.Data) > 0 {
		blocks = append(blocks, anthropic.NewImageBlockBase64(image.MIMEType, base64.StdEncoding.EncodeToString(image.Data)))
	}
	blocks = append(blocks, anthropic.NewTextBlock(query))

	msg, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: anthropicMaxTokens,
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(blocks...)},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic request failed: %w", err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", fmt.Errorf("anthropic: %w", errEmptyResponse)
	}
	return text, nil
}
