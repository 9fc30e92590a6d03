package lesson

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/viso-labs/internal/catalog"
	"github.com/ashureev/viso-labs/internal/domain"
	"github.com/ashureev/viso-labs/internal/progress"
	"github.com/google/uuid"
)

const maxKeyDetails = 15

// Manager mints practice sessions. It holds no session state; callers own
// the sessions and archives it returns.
type Manager struct {
	collab  Collaborators
	catalog *catalog.Catalog
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string

	defaultAttemptLimit int
	defaultThreshold    float64
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithIDGenerator overrides session ID generation.
func WithIDGenerator(fn func() string) Option {
	return func(m *Manager) { m.newID = fn }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithDefaults sets the attempt limit and threshold used when a start
// request leaves them out.
func WithDefaults(attemptLimit int, threshold float64) Option {
	return func(m *Manager) {
		if attemptLimit > 0 {
			m.defaultAttemptLimit = attemptLimit
		}
		if threshold > 0 {
			m.defaultThreshold = threshold
		}
	}
}

// NewManager creates a Manager. A nil catalog uses the embedded default.
func NewManager(collab Collaborators, cat *catalog.Catalog, opts ...Option) *Manager {
	if cat == nil {
		cat = catalog.Default()
	}
	m := &Manager{
		collab:              collab,
		catalog:             cat,
		logger:              slog.Default(),
		now:                 time.Now,
		newID:               uuid.NewString,
		defaultAttemptLimit: domain.DefaultAttemptLimit,
		defaultThreshold:    domain.DefaultDetailsThreshold,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Catalog returns the curriculum the manager composes prompts from.
func (m *Manager) Catalog() *catalog.Catalog {
	return m.catalog
}

// resolved is a validated StartParams with defaults applied.
type resolved struct {
	age           string
	autismLevel   string
	topicFocus    string
	treatmentPlan string
	imageStyle    string
	attemptLimit  int
	threshold     float64
}

func (m *Manager) resolve(p domain.StartParams) (resolved, error) {
	r := resolved{
		age:         strings.TrimSpace(p.Age),
		autismLevel: strings.TrimSpace(p.AutismLevel),
		topicFocus:  strings.TrimSpace(p.TopicFocus),
		imageStyle:  strings.TrimSpace(p.ImageStyle),
	}
	switch {
	case r.age == "":
		return r, fmt.Errorf("%w: age is required", domain.ErrInvalidParams)
	case r.autismLevel == "":
		return r, fmt.Errorf("%w: autism level is required", domain.ErrInvalidParams)
	case r.imageStyle == "":
		return r, fmt.Errorf("%w: image style is required", domain.ErrInvalidParams)
	}

	r.attemptLimit = m.defaultAttemptLimit
	if p.AttemptLimit != nil {
		if *p.AttemptLimit <= 0 {
			return r, fmt.Errorf("%w: attempt limit must be positive, got %d", domain.ErrInvalidParams, *p.AttemptLimit)
		}
		r.attemptLimit = *p.AttemptLimit
	}

	r.threshold = m.defaultThreshold
	if p.DetailsThreshold != nil {
		r.threshold = *p.DetailsThreshold
	}
	r.threshold = domain.NormalizeThreshold(r.threshold)

	r.treatmentPlan = m.catalog.TreatmentPlan(r.autismLevel, p.TreatmentPlan)
	return r, nil
}

// StartSession generates a fresh session. A prior active session that was
// actually generated is appended to the returned archive unchanged. On any
// error priorActive and archive are untouched and the caller keeps them.
func (m *Manager) StartSession(ctx context.Context, params domain.StartParams, priorActive *domain.Session, archive domain.Archive) (*domain.Session, []domain.ChecklistItem, domain.Archive, error) {
	r, err := m.resolve(params)
	if err != nil {
		return nil, nil, archive, err
	}

	difficulty := domain.DefaultDifficulty
	if priorActive != nil {
		difficulty = priorActive.Difficulty
	}

	s, err := m.generate(ctx, r, difficulty)
	if err != nil {
		return nil, nil, archive, err
	}

	next := archive
	if !priorActive.IsPlaceholder() {
		next = archive.Append(priorActive)
	}

	m.logger.Info("practice session started",
		"session_id", s.ID,
		"difficulty", s.Difficulty.String(),
		"key_details", len(s.KeyDetails),
		"archived", next.Len()-archive.Len())
	return s, progress.ProjectSession(s), next, nil
}

// Replace mints a session carrying over the outgoing session's learner
// settings at the given difficulty. The outgoing session is not modified.
func (m *Manager) Replace(ctx context.Context, outgoing *domain.Session, difficulty domain.Difficulty) (*domain.Session, error) {
	r, err := m.resolve(domain.ParamsFrom(outgoing))
	if err != nil {
		return nil, err
	}
	return m.generate(ctx, r, difficulty)
}

// generate runs the collaborators in order: prompt, image, description, details.
func (m *Manager) generate(ctx context.Context, r resolved, difficulty domain.Difficulty) (*domain.Session, error) {
	prompt, err := m.collab.Composer.ComposePrompt(ctx, PromptRequest{
		Difficulty:    difficulty,
		Age:           r.age,
		AutismLevel:   r.autismLevel,
		TopicFocus:    r.topicFocus,
		TreatmentPlan: r.treatmentPlan,
		ImageStyle:    r.imageStyle,
	})
	if err != nil {
		return nil, domain.NewCollaboratorError(domain.StagePrompt, err)
	}
	if strings.TrimSpace(prompt) == "" {
		return nil, domain.NewCollaboratorError(domain.StagePrompt, fmt.Errorf("empty prompt"))
	}

	img, err := m.collab.Synthesizer.Synthesize(ctx, SynthesisRequest{Prompt: prompt, ImageStyle: r.imageStyle})
	if err != nil {
		return nil, domain.NewCollaboratorError(domain.StageSynthesis, err)
	}
	if img == nil || len(img.Data) == 0 {
		return nil, domain.NewCollaboratorError(domain.StageSynthesis, fmt.Errorf("empty image"))
	}

	description, err := m.collab.Describer.Describe(ctx, DescriptionRequest{
		Image:      img,
		Prompt:     prompt,
		Difficulty: difficulty,
		TopicFocus: r.topicFocus,
	})
	if err != nil {
		return nil, domain.NewCollaboratorError(domain.StageDescription, err)
	}

	details, err := m.collab.Extractor.ExtractDetails(ctx, DetailRequest{
		Image:      img,
		Prompt:     prompt,
		TopicFocus: r.topicFocus,
	})
	if err != nil {
		return nil, domain.NewCollaboratorError(domain.StageDetails, err)
	}
	details = cleanDetails(details)
	if len(details) == 0 {
		return nil, domain.NewCollaboratorError(domain.StageDetails, fmt.Errorf("no key details"))
	}

	return &domain.Session{
		ID:                m.newID(),
		Prompt:            prompt,
		Image:             img,
		Description:       description,
		Chat:              []domain.ChatEntry{},
		TreatmentPlan:     r.treatmentPlan,
		TopicFocus:        r.topicFocus,
		KeyDetails:        details,
		IdentifiedDetails: []string{},
		UsedHints:         []string{},
		Difficulty:        difficulty,
		Age:               r.age,
		AutismLevel:       r.autismLevel,
		AttemptLimit:      r.attemptLimit,
		DetailsThreshold:  r.threshold,
		ImageStyle:        r.imageStyle,
		CreatedAt:         m.now(),
	}, nil
}

// cleanDetails trims, drops blanks and duplicates, and caps the list.
func cleanDetails(details []string) []string {
	out := make([]string, 0, len(details))
	seen := make(map[string]struct{}, len(details))
	for _, d := range details {
		d = strings.TrimSpace(d)
		key := strings.ToLower(d)
		if d == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, d)
		if len(out) == maxKeyDetails {
			break
		}
	}
	return out
}
