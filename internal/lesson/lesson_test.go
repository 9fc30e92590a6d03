package lesson

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/viso-labs/internal/catalog"
	"github.com/ashureev/viso-labs/internal/domain"
)

var fiveDetails = []string{"red ball", "green tree", "small dog", "blue sky", "wooden bench"}

type fakeComposer struct {
	err  error
	reqs []PromptRequest
}

func (f *fakeComposer) ComposePrompt(_ context.Context, req PromptRequest) (string, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("a %s park scene for age %s", req.Difficulty, req.Age), nil
}

type fakeSynthesizer struct {
	err    error
	failOn int
	calls  int
}

func (f *fakeSynthesizer) Synthesize(_ context.Context, req SynthesisRequest) (*domain.Image, error) {
	f.calls++
	if f.err != nil && (f.failOn == 0 || f.calls == f.failOn) {
		return nil, f.err
	}
	return &domain.Image{MIMEType: "image/png", Data: []byte("png:" + req.Prompt)}, nil
}

type fakeDescriber struct{ err error }

func (f *fakeDescriber) Describe(_ context.Context, req DescriptionRequest) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "A park with a dog. " + req.Prompt, nil
}

type fakeExtractor struct {
	details []string
	err     error
}

func (f *fakeExtractor) ExtractDetails(context.Context, DetailRequest) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.details, nil
}

type scriptedEvaluator struct {
	verdicts []Verdict
	err      error
	calls    int
}

func (f *scriptedEvaluator) Evaluate(context.Context, EvaluationRequest) (Verdict, error) {
	if f.err != nil {
		return Verdict{}, f.err
	}
	v := f.verdicts[f.calls]
	f.calls++
	return v, nil
}

type fixture struct {
	composer  *fakeComposer
	synth     *fakeSynthesizer
	describer *fakeDescriber
	extractor *fakeExtractor
	manager   *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		composer:  &fakeComposer{},
		synth:     &fakeSynthesizer{},
		describer: &fakeDescriber{},
		extractor: &fakeExtractor{details: fiveDetails},
	}
	n := 0
	clock := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	f.manager = NewManager(Collaborators{
		Composer:    f.composer,
		Synthesizer: f.synth,
		Describer:   f.describer,
		Extractor:   f.extractor,
	}, catalog.Default(),
		WithClock(func() time.Time { return clock }),
		WithIDGenerator(func() string { n++; return fmt.Sprintf("session-%d", n) }),
	)
	return f
}

func startParams(threshold float64) domain.StartParams {
	return domain.StartParams{
		Age:              "7",
		AutismLevel:      "Level 1",
		TopicFocus:       "parks",
		ImageStyle:       "Cartoon",
		DetailsThreshold: &threshold,
	}
}

func (f *fixture) start(t *testing.T, params domain.StartParams) *domain.Session {
	t.Helper()
	s, _, _, err := f.manager.StartSession(context.Background(), params, nil, domain.Archive{})
	if err != nil {
		t.Fatalf("StartSession returned error: %v", err)
	}
	return s
}

func TestStartSessionFresh(t *testing.T) {
	f := newFixture(t)
	s, checklist, archive, err := f.manager.StartSession(context.Background(), startParams(70), nil, domain.Archive{})
	if err != nil {
		t.Fatalf("StartSession returned error: %v", err)
	}
	if s.AttemptCount != 0 || len(s.IdentifiedDetails) != 0 {
		t.Fatalf("expected clean session, got attempts=%d identified=%v", s.AttemptCount, s.IdentifiedDetails)
	}
	if s.DetailsThreshold != 0.7 {
		t.Fatalf("expected threshold 0.7, got %v", s.DetailsThreshold)
	}
	if s.AttemptLimit != domain.DefaultAttemptLimit {
		t.Fatalf("expected default attempt limit, got %d", s.AttemptLimit)
	}
	if s.Difficulty != domain.VerySimple {
		t.Fatalf("expected Very Simple, got %s", s.Difficulty)
	}
	if len(checklist) != len(s.KeyDetails) {
		t.Fatalf("expected %d checklist items, got %d", len(s.KeyDetails), len(checklist))
	}
	for i, item := range checklist {
		if item.Identified || item.ID != i || item.Detail != fiveDetails[i] {
			t.Fatalf("unexpected checklist item %d: %+v", i, item)
		}
	}
	if archive.Len() != 0 {
		t.Fatalf("expected empty archive, got %d", archive.Len())
	}
	if !s.HasImage() || s.Description == "" || s.ID != "session-1" {
		t.Fatalf("session not fully generated: %+v", s)
	}
}

func TestStartSessionDefaultsTreatmentPlanByLevel(t *testing.T) {
	f := newFixture(t)
	s := f.start(t, startParams(0.7))

	want := catalog.Default().TreatmentPlans["Level 1"]
	if got := f.composer.reqs[0].TreatmentPlan; got != want {
		t.Fatalf("composer got plan %q, want %q", got, want)
	}
	if s.TreatmentPlan != want {
		t.Fatalf("session plan %q, want %q", s.TreatmentPlan, want)
	}
}

func TestStartSessionArchivesPriorAndKeepsDifficulty(t *testing.T) {
	f := newFixture(t)
	prior := f.start(t, startParams(0.7))
	prior.Difficulty = domain.Moderate
	prior.AppendChat(domain.SpeakerLearner, "a dog")
	before := prior.Clone()

	s, _, archive, err := f.manager.StartSession(context.Background(), startParams(0.7), prior, domain.Archive{})
	if err != nil {
		t.Fatalf("StartSession returned error: %v", err)
	}
	if archive.Len() != 1 {
		t.Fatalf("expected prior session archived, got %d", archive.Len())
	}
	archived := archive.At(0)
	if archived.ID != before.ID || archived.Completed || len(archived.Chat) != 1 {
		t.Fatalf("prior session should be archived unmodified: %+v", archived)
	}
	if s.Difficulty != domain.Moderate {
		t.Fatalf("expected difficulty carried from prior session, got %s", s.Difficulty)
	}
}

func TestStartSessionSkipsPlaceholderPrior(t *testing.T) {
	f := newFixture(t)
	_, _, archive, err := f.manager.StartSession(context.Background(), startParams(0.7), &domain.Session{}, domain.Archive{})
	if err != nil {
		t.Fatalf("StartSession returned error: %v", err)
	}
	if archive.Len() != 0 {
		t.Fatalf("placeholder session must not be archived, got %d", archive.Len())
	}
}

func TestStartSessionInvalidParams(t *testing.T) {
	zero := 0
	tests := []struct {
		name   string
		mutate func(p *domain.StartParams)
	}{
		{"missing age", func(p *domain.StartParams) { p.Age = "" }},
		{"missing level", func(p *domain.StartParams) { p.AutismLevel = " " }},
		{"missing style", func(p *domain.StartParams) { p.ImageStyle = "" }},
		{"zero attempt limit", func(p *domain.StartParams) { p.AttemptLimit = &zero }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			p := startParams(0.7)
			tt.mutate(&p)
			_, _, _, err := f.manager.StartSession(context.Background(), p, nil, domain.Archive{})
			if !errors.Is(err, domain.ErrInvalidParams) {
				t.Fatalf("expected ErrInvalidParams, got %v", err)
			}
			if len(f.composer.reqs) != 0 {
				t.Fatal("collaborators must not be called for invalid params")
			}
		})
	}
}

func TestStartSessionCollaboratorFailureLeavesStateUntouched(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name  string
		stage domain.Stage
		setup func(f *fixture)
	}{
		{"prompt", domain.StagePrompt, func(f *fixture) { f.composer.err = boom }},
		{"synthesis", domain.StageSynthesis, func(f *fixture) { f.synth.err = boom }},
		{"description", domain.StageDescription, func(f *fixture) { f.describer.err = boom }},
		{"details", domain.StageDetails, func(f *fixture) { f.extractor.err = boom }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			prior := f.start(t, startParams(0.7))
			archive := domain.NewArchive(&domain.Session{ID: "old", Prompt: "old"})
			tt.setup(f)

			s, _, gotArchive, err := f.manager.StartSession(context.Background(), startParams(0.7), prior, archive)
			var collabErr *domain.CollaboratorError
			if !errors.As(err, &collabErr) || collabErr.Stage != tt.stage {
				t.Fatalf("expected collaborator error at %s, got %v", tt.stage, err)
			}
			if !errors.Is(err, boom) || !errors.Is(err, domain.ErrCollaborator) {
				t.Fatalf("error should wrap cause and sentinel: %v", err)
			}
			if s != nil {
				t.Fatalf("expected no session, got %+v", s)
			}
			if gotArchive.Len() != 1 || archive.Len() != 1 {
				t.Fatalf("archive must be unchanged, got %d", gotArchive.Len())
			}
		})
	}
}

func TestSubmitUtteranceWithoutImage(t *testing.T) {
	f := newFixture(t)
	eval := &scriptedEvaluator{}
	engine := NewEngine(f.manager, eval)

	res, err := engine.SubmitUtterance(context.Background(), "I see a cat", nil, domain.Archive{})
	if err != nil {
		t.Fatalf("SubmitUtterance returned error: %v", err)
	}
	if res.Outcome != OutcomeNoImage || !errors.Is(res.Err, domain.ErrNoImageYet) {
		t.Fatalf("unexpected outcome %s err=%v", res.Outcome, res.Err)
	}
	if eval.calls != 0 {
		t.Fatal("evaluator must not run without an image")
	}
	want := []domain.ChatEntry{
		{Speaker: domain.SpeakerLearner, Message: "I see a cat"},
		{Speaker: domain.SpeakerTeacher, Message: "Please generate an image first."},
	}
	if len(res.Session.Chat) != 2 || res.Session.Chat[0] != want[0] || res.Session.Chat[1] != want[1] {
		t.Fatalf("unexpected chat: %+v", res.Session.Chat)
	}
}

func TestEndToEndThresholdScenario(t *testing.T) {
	f := newFixture(t)
	session := f.start(t, startParams(70))
	eval := &scriptedEvaluator{verdicts: []Verdict{
		{Feedback: "Nice!", Identified: []string{"Red Ball", "small dog"}, ProposedDifficulty: "Very Simple"},
		{Feedback: "Look again.", Identified: nil, ProposedDifficulty: "Very Simple"},
		{Feedback: "Great!", Identified: []string{"green tree", "blue sky."}, ProposedDifficulty: "Simple"},
	}}
	engine := NewEngine(f.manager, eval)
	ctx := context.Background()
	archive := domain.Archive{}

	res, err := engine.SubmitUtterance(ctx, "a red ball and a small dog", session, archive)
	if err != nil {
		t.Fatalf("turn 1: %v", err)
	}
	if res.Outcome != OutcomeContinue || len(res.Session.IdentifiedDetails) != 2 || res.Session.AttemptCount != 0 {
		t.Fatalf("turn 1: unexpected state outcome=%s identified=%v attempts=%d",
			res.Outcome, res.Session.IdentifiedDetails, res.Session.AttemptCount)
	}
	if len(session.IdentifiedDetails) != 0 {
		t.Fatal("caller's session must not be mutated")
	}

	res, err = engine.SubmitUtterance(ctx, "um", res.Session, res.Archive)
	if err != nil {
		t.Fatalf("turn 2: %v", err)
	}
	if res.Outcome != OutcomeContinue || len(res.Session.IdentifiedDetails) != 2 || res.Session.AttemptCount != 1 {
		t.Fatalf("turn 2: unexpected state outcome=%s identified=%v attempts=%d",
			res.Outcome, res.Session.IdentifiedDetails, res.Session.AttemptCount)
	}

	previous := res.Session
	res, err = engine.SubmitUtterance(ctx, "a tree and the sky", previous, res.Archive)
	if err != nil {
		t.Fatalf("turn 3: %v", err)
	}
	if res.Outcome != OutcomeAdvanced || !res.Triggers.ThresholdReached || res.Triggers.AllIdentified {
		t.Fatalf("turn 3: expected threshold advance, got %s %+v", res.Outcome, res.Triggers)
	}
	if res.Archive.Len() != 1 {
		t.Fatalf("expected outgoing session archived, got %d", res.Archive.Len())
	}
	archived := res.Archive.At(0)
	if !archived.Completed || archived.ID != previous.ID || len(archived.IdentifiedDetails) != 4 || archived.AttemptCount != 1 {
		t.Fatalf("unexpected archived session: %+v", archived)
	}
	wantOrder := []string{"red ball", "green tree", "small dog", "blue sky"}
	if strings.Join(archived.IdentifiedDetails, ",") != strings.Join(wantOrder, ",") {
		t.Fatalf("identified details should follow key-detail order: %v", archived.IdentifiedDetails)
	}

	next := res.Session
	if next.Difficulty != domain.Simple || next.AttemptCount != 0 || len(next.IdentifiedDetails) != 0 {
		t.Fatalf("unexpected replacement: difficulty=%s attempts=%d", next.Difficulty, next.AttemptCount)
	}
	wantMsg := "Congratulations! You've identified enough details (4/5) to advance to Simple difficulty! Here's a new image to describe."
	if len(next.Chat) != 1 || next.Chat[0].Speaker != domain.SpeakerSystem || next.Chat[0].Message != wantMsg {
		t.Fatalf("unexpected replacement chat: %+v", next.Chat)
	}
	if len(res.Checklist) != 5 || res.Checklist[0].Identified {
		t.Fatalf("replacement checklist should be fresh: %+v", res.Checklist)
	}
}

func TestAttemptsExhaustedKeepsDifficulty(t *testing.T) {
	f := newFixture(t)
	limit := 2
	p := startParams(0.7)
	p.AttemptLimit = &limit
	session := f.start(t, p)
	eval := &scriptedEvaluator{verdicts: []Verdict{
		{Feedback: "Try again", ProposedDifficulty: "Detailed"},
		{Feedback: "Try again", ProposedDifficulty: "Detailed"},
	}}
	engine := NewEngine(f.manager, eval)

	res, err := engine.SubmitUtterance(context.Background(), "nothing", session, domain.Archive{})
	if err != nil || res.Outcome != OutcomeContinue {
		t.Fatalf("turn 1: outcome=%v err=%v", res.Outcome, err)
	}
	res, err = engine.SubmitUtterance(context.Background(), "still nothing", res.Session, res.Archive)
	if err != nil {
		t.Fatalf("turn 2: %v", err)
	}
	if res.Outcome != OutcomeAdvanced || !res.Triggers.AttemptsExhausted {
		t.Fatalf("expected exhausted advance, got %s %+v", res.Outcome, res.Triggers)
	}
	if res.Session.Difficulty != domain.VerySimple {
		t.Fatalf("exhaustion must keep difficulty, got %s", res.Session.Difficulty)
	}
	if got := res.Session.Chat[0].Message; got != msgAttemptsExhausted {
		t.Fatalf("unexpected system message %q", got)
	}
	if res.Archived == nil || res.Archived.AttemptCount != 2 {
		t.Fatalf("expected archived session with 2 attempts, got %+v", res.Archived)
	}
}

func TestAdvanceMessages(t *testing.T) {
	tests := []struct {
		name    string
		verdict Verdict
		want    string
		level   domain.Difficulty
	}{
		{
			name:    "threshold at same difficulty",
			verdict: Verdict{Identified: fiveDetails[:4], ProposedDifficulty: "very simple"},
			want:    msgSameDifficulty,
			level:   domain.VerySimple,
		},
		{
			name:    "evaluator advance",
			verdict: Verdict{Identified: fiveDetails[:1], ShouldAdvance: true, ProposedDifficulty: "Moderate"},
			want:    "Congratulations! You've advanced to Moderate difficulty! Here's a new image to describe.",
			level:   domain.Moderate,
		},
		{
			name:    "unparseable proposal keeps difficulty",
			verdict: Verdict{Identified: fiveDetails[:4], ProposedDifficulty: "harder please"},
			want:    msgSameDifficulty,
			level:   domain.VerySimple,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			session := f.start(t, startParams(0.7))
			engine := NewEngine(f.manager, &scriptedEvaluator{verdicts: []Verdict{tt.verdict}})

			res, err := engine.SubmitUtterance(context.Background(), "description", session, domain.Archive{})
			if err != nil {
				t.Fatalf("SubmitUtterance returned error: %v", err)
			}
			if res.Outcome != OutcomeAdvanced {
				t.Fatalf("expected advance, got %s", res.Outcome)
			}
			if res.Session.Difficulty != tt.level {
				t.Fatalf("difficulty = %s, want %s", res.Session.Difficulty, tt.level)
			}
			if got := res.Session.Chat[0].Message; got != tt.want {
				t.Fatalf("message = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRepeatedDetailCountsAsMiss(t *testing.T) {
	f := newFixture(t)
	session := f.start(t, startParams(1.0))
	engine := NewEngine(f.manager, &scriptedEvaluator{verdicts: []Verdict{
		{Feedback: "Yes", Identified: []string{"red ball"}},
		{Feedback: "You said that", Identified: []string{"RED BALL", "purple elephant"}},
	}})

	res, err := engine.SubmitUtterance(context.Background(), "ball", session, domain.Archive{})
	if err != nil {
		t.Fatal(err)
	}
	res, err = engine.SubmitUtterance(context.Background(), "ball and elephant", res.Session, res.Archive)
	if err != nil {
		t.Fatal(err)
	}
	if res.Session.AttemptCount != 1 || len(res.NewlyIdentified) != 0 {
		t.Fatalf("expected a miss, got attempts=%d newly=%v", res.Session.AttemptCount, res.NewlyIdentified)
	}
	if len(res.Session.IdentifiedDetails) != 1 {
		t.Fatalf("unknown phrases must be ignored: %v", res.Session.IdentifiedDetails)
	}
}

func TestEvaluatorFailureChangesNothing(t *testing.T) {
	f := newFixture(t)
	session := f.start(t, startParams(0.7))
	engine := NewEngine(f.manager, &scriptedEvaluator{err: errors.New("quota")})

	res, err := engine.SubmitUtterance(context.Background(), "a dog", session, domain.Archive{})
	var collabErr *domain.CollaboratorError
	if !errors.As(err, &collabErr) || collabErr.Stage != domain.StageEvaluation {
		t.Fatalf("expected evaluation failure, got %v", err)
	}
	if res != nil {
		t.Fatalf("expected nil result, got %+v", res)
	}
	if len(session.Chat) != 0 || session.AttemptCount != 0 {
		t.Fatalf("session mutated on failure: %+v", session)
	}
}

func TestReplacementFailureKeepsOldSession(t *testing.T) {
	f := newFixture(t)
	session := f.start(t, startParams(0.7))
	f.synth.err = errors.New("gpu busy")
	f.synth.failOn = 2
	engine := NewEngine(f.manager, &scriptedEvaluator{verdicts: []Verdict{
		{Feedback: "Wonderful", Identified: fiveDetails, ProposedDifficulty: "Simple"},
	}})

	res, err := engine.SubmitUtterance(context.Background(), "everything", session, domain.Archive{})
	if err != nil {
		t.Fatalf("SubmitUtterance returned error: %v", err)
	}
	if res.Outcome != OutcomeReplacementFailed || res.Err == nil {
		t.Fatalf("expected replacement failure, got %s err=%v", res.Outcome, res.Err)
	}
	if res.Archive.Len() != 0 || res.Archived != nil {
		t.Fatal("archive must be unchanged when replacement fails")
	}
	s := res.Session
	if s.ID != session.ID || s.Completed || len(s.IdentifiedDetails) != 5 {
		t.Fatalf("expected updated old session, got %+v", s)
	}
	last := s.Chat[len(s.Chat)-1]
	if last.Speaker != domain.SpeakerSystem || last.Message != msgReplacementFailure {
		t.Fatalf("unexpected last chat entry: %+v", last)
	}
}

func TestSubmitUtteranceIsDeterministic(t *testing.T) {
	tests := []struct {
		name    string
		verdict Verdict
		want    Outcome
	}{
		{
			name:    "continue",
			verdict: Verdict{Feedback: "Good.", Identified: []string{"red ball"}, ProposedDifficulty: "Very Simple"},
			want:    OutcomeContinue,
		},
		{
			name:    "advance",
			verdict: Verdict{Feedback: "Great!", Identified: fiveDetails, ProposedDifficulty: "Moderate", ShouldAdvance: true},
			want:    OutcomeAdvanced,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := func() *Result {
				f := newFixture(t)
				session := f.start(t, startParams(0.7))
				engine := NewEngine(f.manager, &scriptedEvaluator{verdicts: []Verdict{tt.verdict}})
				res, err := engine.SubmitUtterance(context.Background(), "a red ball", session, domain.Archive{})
				if err != nil {
					t.Fatalf("SubmitUtterance returned error: %v", err)
				}
				return res
			}

			first, second := run(), run()
			if first.Outcome != tt.want {
				t.Fatalf("expected outcome %s, got %s", tt.want, first.Outcome)
			}
			if !reflect.DeepEqual(first, second) {
				t.Fatalf("identical inputs gave different results:\n%+v\n%+v", first, second)
			}
		})
	}
}
