package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNoImageYet is reported when a turn arrives before any image exists.
	ErrNoImageYet = errors.New("no image generated yet")
	// ErrCollaborator marks a failed call to an external generation service.
	ErrCollaborator = errors.New("collaborator call failed")
	// ErrInvalidParams marks start parameters that cannot produce a session.
	ErrInvalidParams = errors.New("invalid session parameters")
)

// Stage names the collaborator call that failed.
type Stage string

const (
	StagePrompt      Stage = "prompt"
	StageSynthesis   Stage = "synthesis"
	StageDescription Stage = "description"
	StageDetails     Stage = "details"
	StageEvaluation  Stage = "evaluation"
)

// CollaboratorError wraps an external failure with the stage it happened in.
type CollaboratorError struct {
	Stage Stage
	Err   error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *CollaboratorError) Unwrap() []error {
	return []error{ErrCollaborator, e.Err}
}

// NewCollaboratorError wraps err for stage.
func NewCollaboratorError(stage Stage, err error) error {
	return &CollaboratorError{Stage: stage, Err: err}
}
