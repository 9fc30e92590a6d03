package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/viso-labs/internal/agent"
	"github.com/ashureev/viso-labs/internal/domain"
	"github.com/ashureev/viso-labs/internal/export"
	"github.com/ashureev/viso-labs/internal/lesson"
	"github.com/ashureev/viso-labs/internal/metrics"
	"github.com/ashureev/viso-labs/internal/progress"
	"github.com/ashureev/viso-labs/internal/store"
)

// ErrBusy is returned when another request for the same learner is running.
var ErrBusy = errors.New("practice request already in progress")

// PracticeView is the learner-facing state of the active session.
type PracticeView struct {
	Session   *domain.Session        `json:"session"`
	Checklist []domain.ChecklistItem `json:"checklist"`
	Progress  progress.Progress      `json:"progress"`
}

// TurnView is the response to one learner utterance.
type TurnView struct {
	PracticeView
	Outcome         lesson.Outcome  `json:"outcome"`
	Feedback        string          `json:"feedback"`
	NewlyIdentified []string        `json:"newly_identified"`
	Triggers        lesson.Triggers `json:"triggers"`
	ArchivedID      string          `json:"archived_session_id,omitempty"`
	Error           string          `json:"error,omitempty"`
}

// Practice runs the practice loop for stored learners: it loads state,
// drives the lifecycle manager and engine, and persists the result.
type Practice struct {
	repo      store.Repository
	manager   *lesson.Manager
	engine    *lesson.Engine
	exportDir string
	convLog   *agent.ConversationLogger
	metrics   *metrics.Metrics
	now       func() time.Time

	locks sync.Map
}

// PracticeConfig holds the optional dependencies of a Practice.
type PracticeConfig struct {
	ExportDir string
	ConvLog   *agent.ConversationLogger
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

// NewPractice creates the practice service. manager and engine may be nil
// for read-only use (history and exports).
func NewPractice(repo store.Repository, manager *lesson.Manager, engine *lesson.Engine, cfg PracticeConfig) *Practice {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Practice{
		repo:      repo,
		manager:   manager,
		engine:    engine,
		exportDir: cfg.ExportDir,
		convLog:   cfg.ConvLog,
		metrics:   cfg.Metrics,
		now:       now,
	}
}

// lock serializes mutating requests per learner. The returned func releases it.
// A learner's mutex stays in the map for the life of the process so that every
// caller contends on the same one.
func (p *Practice) lock(learnerID string) (func(), error) {
	v, _ := p.locks.LoadOrStore(learnerID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	if !mu.TryLock() {
		slog.Warn("Practice request already in progress", "learner_id", learnerID)
		return nil, ErrBusy
	}
	return mu.Unlock, nil
}

// Acquire takes the learner's practice lock for work outside a request,
// such as the retention sweep. It returns ErrBusy when the learner is busy.
func (p *Practice) Acquire(learnerID string) (func(), error) {
	return p.lock(learnerID)
}

func newView(s *domain.Session) PracticeView {
	return PracticeView{
		Session:   s,
		Checklist: progress.ProjectSession(s),
		Progress:  progress.Summarize(s),
	}
}

// Current returns the active session view. Session is nil when none exists.
func (p *Practice) Current(ctx context.Context, learnerID string) (*PracticeView, error) {
	active, _, err := p.repo.LoadPractice(ctx, learnerID)
	if err != nil {
		return nil, fmt.Errorf("load practice: %w", err)
	}
	v := newView(active)
	return &v, nil
}

// History returns the archive followed by the active session.
func (p *Practice) History(ctx context.Context, learnerID string) ([]*domain.Session, error) {
	active, archive, err := p.repo.LoadPractice(ctx, learnerID)
	if err != nil {
		return nil, fmt.Errorf("load practice: %w", err)
	}
	return archive.WithActive(active), nil
}

// Start generates a new session, archiving the learner's current one.
func (p *Practice) Start(ctx context.Context, learnerID string, params domain.StartParams) (*PracticeView, error) {
	unlock, err := p.lock(learnerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	active, archive, err := p.repo.LoadPractice(ctx, learnerID)
	if err != nil {
		return nil, fmt.Errorf("load practice: %w", err)
	}

	session, _, next, err := p.manager.StartSession(ctx, params, active, archive)
	if err != nil {
		p.recordFailure(err)
		return nil, err
	}

	if err := p.repo.SavePractice(ctx, learnerID, session, next.Since(archive.Len())); err != nil {
		return nil, fmt.Errorf("save practice: %w", err)
	}
	p.metrics.SessionStarted(session.Difficulty.String())
	p.logChat(learnerID, session, 0)

	v := newView(session)
	return &v, nil
}

// Turn evaluates one learner utterance against the active session.
func (p *Practice) Turn(ctx context.Context, learnerID, message string) (*TurnView, error) {
	unlock, err := p.lock(learnerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	started := p.now()
	active, archive, err := p.repo.LoadPractice(ctx, learnerID)
	if err != nil {
		return nil, fmt.Errorf("load practice: %w", err)
	}

	res, err := p.engine.SubmitUtterance(ctx, message, active, archive)
	if err != nil {
		p.recordFailure(err)
		return nil, err
	}
	if res.Err != nil {
		p.recordFailure(res.Err)
	}

	// A turn before any session exists has nothing worth storing.
	if active != nil {
		if err := p.repo.SavePractice(ctx, learnerID, res.Session, res.Archive.Since(archive.Len())); err != nil {
			return nil, fmt.Errorf("save practice: %w", err)
		}
	}

	p.metrics.TurnCompleted(string(res.Outcome), p.now().Sub(started))
	from := 0
	if active != nil {
		from = len(active.Chat)
	}
	if res.Outcome == lesson.OutcomeAdvanced {
		p.metrics.SessionStarted(res.Session.Difficulty.String())
		p.logChat(learnerID, res.Archived, from)
		p.logChat(learnerID, res.Session, 0)
	} else {
		p.logChat(learnerID, res.Session, from)
	}

	tv := &TurnView{
		PracticeView:    PracticeView{Session: res.Session, Checklist: res.Checklist, Progress: progress.Summarize(res.Session)},
		Outcome:         res.Outcome,
		Feedback:        res.Verdict.Feedback,
		NewlyIdentified: res.NewlyIdentified,
		Triggers:        res.Triggers,
	}
	if res.Archived != nil {
		tv.ArchivedID = res.Archived.ID
	}
	if res.Err != nil {
		tv.Error = res.Err.Error()
	}
	return tv, nil
}

// ExportImages writes the learner's session images below the export dir.
func (p *Practice) ExportImages(ctx context.Context, learnerID string) (export.ImageReport, error) {
	active, archive, err := p.repo.LoadPractice(ctx, learnerID)
	if err != nil {
		return export.ImageReport{}, fmt.Errorf("load practice: %w", err)
	}
	report := export.NewImageExporter(p.learnerExportDir(learnerID), p.now, nil).Export(archive, active)
	p.metrics.Exported("images", len(report.Failed) == 0)
	return report, nil
}

// ExportLog writes the learner's redacted session log below the export dir.
func (p *Practice) ExportLog(ctx context.Context, learnerID string) (export.LogReport, error) {
	active, archive, err := p.repo.LoadPractice(ctx, learnerID)
	if err != nil {
		return export.LogReport{}, fmt.Errorf("load practice: %w", err)
	}
	report, err := export.NewLogExporter(p.learnerExportDir(learnerID), p.now, nil).Export(archive, active)
	p.metrics.Exported("log", err == nil)
	return report, err
}

func (p *Practice) learnerExportDir(learnerID string) string {
	return filepath.Join(p.exportDir, filepath.Base(learnerID))
}

func (p *Practice) recordFailure(err error) {
	var ce *domain.CollaboratorError
	if errors.As(err, &ce) {
		p.metrics.CollaboratorFailed(string(ce.Stage))
	}
}

// logChat writes the session's chat entries from index from onward to the
// conversation log.
func (p *Practice) logChat(learnerID string, s *domain.Session, from int) {
	if p.convLog == nil || s == nil || s.ID == "" || from >= len(s.Chat) {
		return
	}
	for _, entry := range s.Chat[from:] {
		direction := "outbound"
		if entry.Speaker == domain.SpeakerLearner {
			direction = "inbound"
		}
		p.convLog.Log(agent.ConversationLogEvent{
			LearnerID:  learnerID,
			SessionID:  s.ID,
			Channel:    "practice",
			Direction:  direction,
			EventType:  "chat_" + string(entry.Speaker),
			ContentRaw: entry.Message,
			Metadata: map[string]any{
				"difficulty": s.Difficulty.String(),
			},
		})
	}
}
