package state

import (
	"fmt"
	"sync"

	"research-chat-be/internal/pkg/logger"
)

// TurnState is the lifecycle of one request against a conversation
type TurnState string

const (
	Created        TurnState = "CREATED"
	Retrieving     TurnState = "RETRIEVING"
	Generating     TurnState = "GENERATING"
	PostProcessing TurnState = "POST_PROCESSING"
	Done           TurnState = "DONE"
	Failed         TurnState = "FAILED"
)

var allowed = map[TurnState][]TurnState{
	Created:        {Retrieving, Failed},
	Retrieving:     {Generating, Failed},
	Generating:     {PostProcessing, Failed},
	PostProcessing: {Done},
}

// Terminal reports whether no further transition is possible
func (s TurnState) Terminal() bool {
	return s == Done || s == Failed
}

// Turn tracks and logs the state of a single turn
type Turn struct {
	mu             sync.Mutex
	state          TurnState
	conversationID string
	logger         logger.ILogger
}

// NewTurn starts a turn in CREATED
func NewTurn(conversationID string, log logger.ILogger) *Turn {
	return &Turn{
		state:          Created,
		conversationID: conversationID,
		logger:         log,
	}
}

func (t *Turn) State() TurnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Transition moves to next, rejecting moves the lifecycle does not allow
func (t *Turn) Transition(next TurnState) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, s := range allowed[t.state] {
		if s == next {
			t.logger.Debug("TurnState", "Transition", map[string]interface{}{
				"conversation_id": t.conversationID,
				"from":            string(t.state),
				"to":              string(next),
			})
			t.state = next
			return nil
		}
	}
	return fmt.Errorf("invalid turn transition %s -> %s", t.state, next)
}
