package agent

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/viso-labs/internal/catalog"
	"github.com/ashureev/viso-labs/internal/domain"
	"github.com/ashureev/viso-labs/internal/lesson"
)

type recordingModel struct {
	reply   string
	err     error
	queries []string
	images  []*domain.Image
}

func (m *recordingModel) Generate(_ context.Context, query string, image *domain.Image) (string, error) {
	m.queries = append(m.queries, query)
	m.images = append(m.images, image)
	return m.reply, m.err
}

var pngImage = &domain.Image{MIMEType: "image/png", Data: []byte("\x89PNG\r\n\x1a\n")}

func TestComposerUsesLevelDefaultPlan(t *testing.T) {
	model := &recordingModel{reply: "\"A cartoon park scene\"\n"}
	c := NewComposer(model, catalog.Default(), nil)

	prompt, err := c.ComposePrompt(context.Background(), lesson.PromptRequest{
		Difficulty:  domain.VerySimple,
		Age:         "6",
		AutismLevel: "Level 1",
		TopicFocus:  "parks",
		ImageStyle:  "Cartoon",
	})
	require.NoError(t, err)
	assert.Equal(t, "A cartoon park scene", prompt)

	require.Len(t, model.queries, 1)
	q := model.queries[0]
	assert.Contains(t, q, "Treatment Plan: Develop social communication skills")
	assert.Contains(t, q, "Difficulty: Very Simple")
	assert.Contains(t, q, "friendly cartoon-style illustration")
	assert.Nil(t, model.images[0])
}

func TestComposerFallsBackToInstruction(t *testing.T) {
	model := &recordingModel{err: errors.New("quota exceeded")}
	c := NewComposer(model, nil, nil)

	prompt, err := c.ComposePrompt(context.Background(), lesson.PromptRequest{
		Difficulty:    domain.Moderate,
		Age:           "9",
		AutismLevel:   "Level 2",
		TreatmentPlan: "Practice naming emotions",
		ImageStyle:    "Watercolor",
	})
	require.NoError(t, err)
	assert.Contains(t, prompt, "Treatment Plan: Practice naming emotions")
	assert.Contains(t, prompt, "Difficulty: Moderate")
}

func TestDescriberAndExtractorSendImage(t *testing.T) {
	model := &recordingModel{reply: `["red ball", "blue sky"]`}

	desc, err := NewDescriber(model).Describe(context.Background(), lesson.DescriptionRequest{
		Image: pngImage, Prompt: "a park", Difficulty: domain.Simple, TopicFocus: "play",
	})
	require.NoError(t, err)
	assert.Equal(t, `["red ball", "blue sky"]`, desc)

	details, err := NewExtractor(model, nil).ExtractDetails(context.Background(), lesson.DetailRequest{
		Image: pngImage, Prompt: "a park", TopicFocus: "play",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"red ball", "blue sky"}, details)

	require.Len(t, model.images, 2)
	assert.Same(t, pngImage, model.images[0])
	assert.Same(t, pngImage, model.images[1])
	assert.Contains(t, model.queries[0], "Simple difficulty level")
	assert.Contains(t, model.queries[1], "JSON array of strings")
}

func TestDescriberRequiresImage(t *testing.T) {
	_, err := NewDescriber(&recordingModel{}).Describe(context.Background(), lesson.DescriptionRequest{})
	assert.ErrorIs(t, err, domain.ErrNoImageYet)
}

func TestJudgeParsesVerdict(t *testing.T) {
	model := &recordingModel{reply: `{"feedback": "Yes, the ball!", "newly_identified_details": ["red ball"], "difficulty": "Very Simple", "should_advance": false, "score": 40}`}
	j := NewJudge(model, nil)

	v, err := j.Evaluate(context.Background(), lesson.EvaluationRequest{
		Utterance:         "I see a ball",
		Image:             pngImage,
		KeyDetails:        []string{"red ball", "blue sky"},
		IdentifiedDetails: []string{"blue sky"},
		Chat:              []domain.ChatEntry{{Speaker: domain.SpeakerLearner, Message: "the sky"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Yes, the ball!", v.Feedback)
	assert.Equal(t, []string{"red ball"}, v.Identified)

	q := model.queries[0]
	assert.Contains(t, q, `Key details still to find: "red ball"`)
	assert.Contains(t, q, `Key details already found: "blue sky"`)
	assert.Contains(t, q, "Child: the sky")
}

func TestJudgePropagatesModelError(t *testing.T) {
	_, err := NewJudge(&recordingModel{err: errors.New("down")}, nil).Evaluate(context.Background(), lesson.EvaluationRequest{})
	assert.Error(t, err)
}

func TestHuggingFaceSynthesizer(t *testing.T) {
	var got hfRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer hf-token", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngImage.Data)
	}))
	defer srv.Close()

	params := catalog.Default().Synthesis
	h := NewHuggingFaceSynthesizer("hf-token", "", params).WithEndpoint(srv.URL)

	img, err := h.Synthesize(context.Background(), lesson.SynthesisRequest{Prompt: "a park"})
	require.NoError(t, err)
	assert.Equal(t, "image/png", img.MIMEType)
	assert.Equal(t, pngImage.Data, img.Data)

	assert.Equal(t, "a park", got.Inputs)
	assert.Equal(t, 8.0, got.Parameters.GuidanceScale)
	assert.Equal(t, 50, got.Parameters.NumInferenceSteps)
	assert.True(t, strings.HasPrefix(got.Parameters.NegativePrompt, "blurry"))
}

func TestHuggingFaceSynthesizerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/text" {
			_, _ = w.Write([]byte(`{"estimated_time": 20}`))
			return
		}
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	params := catalog.Default().Synthesis

	_, err := NewHuggingFaceSynthesizer("t", "", params).WithEndpoint(srv.URL).Synthesize(context.Background(), lesson.SynthesisRequest{Prompt: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 503")

	_, err = NewHuggingFaceSynthesizer("t", "", params).WithEndpoint(srv.URL+"/text").Synthesize(context.Background(), lesson.SynthesisRequest{Prompt: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not an image")

	_, err = NewHuggingFaceSynthesizer("", "", params).Synthesize(context.Background(), lesson.SynthesisRequest{Prompt: "x"})
	assert.ErrorIs(t, err, errNotConfigured)
}

func TestOpenAISynthesizer(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/images/generations", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"created":1,"data":[{"b64_json":"` + base64.StdEncoding.EncodeToString(pngImage.Data) + `"}]}`))
	}))
	defer srv.Close()

	o := NewOpenAISynthesizer("sk-test", "", option.WithBaseURL(srv.URL+"/"), option.WithMaxRetries(0))
	img, err := o.Synthesize(context.Background(), lesson.SynthesisRequest{Prompt: "a red kite"})
	require.NoError(t, err)
	assert.Equal(t, "image/png", img.MIMEType)
	assert.Equal(t, pngImage.Data, img.Data)
	assert.Equal(t, "a red kite", got["prompt"])
	assert.Equal(t, DefaultOpenAIImageModel, got["model"])
	assert.NotContains(t, got, "response_format")
}

func TestOpenAISynthesizerEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"created":1,"data":[]}`))
	}))
	defer srv.Close()

	o := NewOpenAISynthesizer("sk-test", "dall-e-3", option.WithBaseURL(srv.URL+"/"), option.WithMaxRetries(0))
	_, err := o.Synthesize(context.Background(), lesson.SynthesisRequest{Prompt: "x"})
	assert.ErrorIs(t, err, errEmptyResponse)
}

func TestProviderSelection(t *testing.T) {
	models, err := NewModels(Config{TextProvider: "Anthropic"})
	require.NoError(t, err)
	assert.IsType(t, &AnthropicModel{}, models.Judge)

	models, err = NewModels(Config{})
	require.NoError(t, err)
	assert.IsType(t, &GeminiModel{}, models.Prompt)

	_, err = NewModels(Config{TextProvider: "llama"})
	assert.ErrorIs(t, err, errUnknownProvider)

	synth, err := NewSynthesizer(Config{ImageProvider: "openai"}, catalog.Synthesis{})
	require.NoError(t, err)
	assert.IsType(t, &OpenAISynthesizer{}, synth)

	_, err = NewSynthesizer(Config{ImageProvider: "midjourney"}, catalog.Synthesis{})
	assert.ErrorIs(t, err, errUnknownProvider)
}

func TestUnconfiguredModelsFailFast(t *testing.T) {
	_, err := NewGeminiModel("", "").Generate(context.Background(), "hi", nil)
	assert.ErrorIs(t, err, errNotConfigured)

	_, err = NewAnthropicModel("", "").Generate(context.Background(), "hi", nil)
	assert.ErrorIs(t, err, errNotConfigured)

	_, err = NewOpenAISynthesizer("", "").Synthesize(context.Background(), lesson.SynthesisRequest{Prompt: "x"})
	assert.ErrorIs(t, err, errNotConfigured)
}
