package chaterr

import (
	"errors"
	"fmt"
)

var (
	ErrRetrievalFailure   = errors.New("retrieval failed")
	ErrGenerationFailure  = errors.New("generation failed")
	ErrOwnershipViolation = errors.New("conversation belongs to another user")
	ErrNotFound           = errors.New("conversation not found")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrGenerationTimeout  = fmt.Errorf("%w: timed out", ErrGenerationFailure)
	ErrNoDataTimeout      = fmt.Errorf("%w: no data received from model", ErrGenerationFailure)
)

// Stage names the pipeline step that failed
type Stage string

const (
	StageRetrieval  Stage = "retrieval"
	StageGeneration Stage = "generation"
)

// TurnError is returned when a turn fails after the user message was accepted.
// The message has been rolled back; UserMessage lets the client resubmit it verbatim.
type TurnError struct {
	Stage          Stage
	ConversationID string
	UserMessage    string
	Err            error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *TurnError) Unwrap() error {
	return e.Err
}

// Retryable reports whether resubmitting the same message may succeed
func (e *TurnError) Retryable() bool {
	return errors.Is(e.Err, ErrRetrievalFailure) || errors.Is(e.Err, ErrGenerationFailure)
}

// IsTimeout reports whether err is one of the generation timeouts
func IsTimeout(err error) bool {
	return errors.Is(err, ErrGenerationTimeout) || errors.Is(err, ErrNoDataTimeout)
}
