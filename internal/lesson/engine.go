package lesson

import (
	"context"

	"github.com/ashureev/viso-labs/internal/domain"
	"github.com/ashureev/viso-labs/internal/progress"
)

// Outcome classifies how a turn ended.
type Outcome string

const (
	OutcomeNoImage           Outcome = "no_image"
	OutcomeContinue          Outcome = "continue"
	OutcomeAdvanced          Outcome = "advanced"
	OutcomeReplacementFailed Outcome = "replacement_failed"
)

// Triggers are the advancement conditions evaluated after a turn.
type Triggers struct {
	ThresholdReached  bool `json:"threshold_reached"`
	AllIdentified     bool `json:"all_identified"`
	AttemptsExhausted bool `json:"attempts_exhausted"`
	ShouldAdvance     bool `json:"should_advance"`
}

// Any reports whether the session should be replaced.
func (t Triggers) Any() bool {
	return t.ThresholdReached || t.AllIdentified || t.AttemptsExhausted || t.ShouldAdvance
}

// Result is the state after one learner turn. Session is the session the
// learner continues with and Archive the history to keep.
type Result struct {
	Session         *domain.Session
	Archive         domain.Archive
	Checklist       []domain.ChecklistItem
	Outcome         Outcome
	Verdict         Verdict
	Triggers        Triggers
	NewlyIdentified []string
	// Archived is the completed session moved into the archive, if any.
	Archived *domain.Session
	// Err is a non-fatal failure: ErrNoImageYet, or the replacement error
	// when Outcome is OutcomeReplacementFailed.
	Err error
}

// Engine evaluates learner turns and advances sessions.
type Engine struct {
	manager   *Manager
	evaluator Evaluator
}

// NewEngine creates an Engine that mints replacements through manager.
func NewEngine(manager *Manager, evaluator Evaluator) *Engine {
	return &Engine{manager: manager, evaluator: evaluator}
}

// SubmitUtterance evaluates one learner description against the active
// session. A returned error means nothing changed: active and archive are
// still the caller's current state.
func (e *Engine) SubmitUtterance(ctx context.Context, utterance string, active *domain.Session, archive domain.Archive) (*Result, error) {
	s := active.Clone()
	if s == nil {
		s = &domain.Session{}
	}

	if !s.HasImage() {
		s.AppendChat(domain.SpeakerLearner, utterance)
		s.AppendChat(domain.SpeakerTeacher, msgNoImage)
		return &Result{
			Session:   s,
			Archive:   archive,
			Checklist: progress.ProjectSession(s),
			Outcome:   OutcomeNoImage,
			Err:       domain.ErrNoImageYet,
		}, nil
	}

	verdict, err := e.evaluator.Evaluate(ctx, EvaluationRequest{
		Utterance:         utterance,
		Image:             s.Image,
		Description:       s.Description,
		KeyDetails:        s.KeyDetails,
		IdentifiedDetails: s.IdentifiedDetails,
		Difficulty:        s.Difficulty,
		Age:               s.Age,
		AutismLevel:       s.AutismLevel,
		TopicFocus:        s.TopicFocus,
		TreatmentPlan:     s.TreatmentPlan,
		Chat:              s.Chat,
	})
	if err != nil {
		return nil, domain.NewCollaboratorError(domain.StageEvaluation, err)
	}

	newly := s.Identify(progress.Match(s.KeyDetails, verdict.Identified))
	if len(newly) == 0 {
		s.RecordMiss()
	}
	s.AppendChat(domain.SpeakerLearner, utterance)
	s.AppendChat(domain.SpeakerTeacher, verdict.Feedback)

	checklist := progress.ProjectSession(s)
	total := len(s.KeyDetails)
	identified := len(s.IdentifiedDetails)
	triggers := Triggers{
		ThresholdReached:  total > 0 && identified >= progress.ThresholdCount(total, s.DetailsThreshold),
		AllIdentified:     progress.AllIdentified(checklist),
		AttemptsExhausted: s.AttemptsExhausted(),
		ShouldAdvance:     verdict.ShouldAdvance,
	}

	res := &Result{
		Session:         s,
		Archive:         archive,
		Checklist:       checklist,
		Outcome:         OutcomeContinue,
		Verdict:         verdict,
		Triggers:        triggers,
		NewlyIdentified: newly,
	}
	if !triggers.Any() {
		return res, nil
	}

	next := s.Difficulty
	if triggers.ThresholdReached || triggers.ShouldAdvance {
		if proposed, ok := domain.ParseDifficulty(verdict.ProposedDifficulty); ok {
			next = proposed
		}
	}
	announcement := systemMessage(triggers, identified, total, s.Difficulty, next)

	replacement, err := e.manager.Replace(ctx, s, next)
	if err != nil {
		e.manager.logger.Error("failed to generate replacement session",
			"session_id", s.ID,
			"difficulty", next.String(),
			"error", err)
		s.AppendChat(domain.SpeakerSystem, msgReplacementFailure)
		res.Outcome = OutcomeReplacementFailed
		res.Err = err
		return res, nil
	}

	outgoing := s.Clone()
	outgoing.MarkCompleted(e.manager.now())
	replacement.Chat = []domain.ChatEntry{{Speaker: domain.SpeakerSystem, Message: announcement}}

	e.manager.logger.Info("practice session advanced",
		"from_session", outgoing.ID,
		"to_session", replacement.ID,
		"from_difficulty", outgoing.Difficulty.String(),
		"to_difficulty", next.String(),
		"identified", identified,
		"total", total,
		"attempts", outgoing.AttemptCount)

	res.Session = replacement
	res.Archive = archive.Append(outgoing)
	res.Checklist = progress.ProjectSession(replacement)
	res.Outcome = OutcomeAdvanced
	res.Archived = outgoing
	return res, nil
}
