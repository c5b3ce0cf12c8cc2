package state

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"research-chat-be/internal/pkg/logger"
)

func TestTurn_HappyPath(t *testing.T) {
	turn := NewTurn("c1", logger.NewNopLogger())
	for _, next := range []TurnState{Retrieving, Generating, PostProcessing, Done} {
		assert.NoError(t, turn.Transition(next))
	}
	assert.True(t, turn.State().Terminal())
	assert.Error(t, turn.Transition(Failed))
}

func TestTurn_FailureReachability(t *testing.T) {
	tests := []struct {
		path    []TurnState
		wantErr bool
	}{
		{path: []TurnState{Failed}},
		{path: []TurnState{Retrieving, Failed}},
		{path: []TurnState{Retrieving, Generating, Failed}},
		{path: []TurnState{Retrieving, Generating, PostProcessing, Failed}, wantErr: true},
		{path: []TurnState{Generating}, wantErr: true},
	}

	for _, tt := range tests {
		turn := NewTurn("c1", logger.NewNopLogger())
		var err error
		for _, next := range tt.path {
			if err = turn.Transition(next); err != nil {
				break
			}
		}
		if tt.wantErr {
			assert.Error(t, err, "%v", tt.path)
		} else {
			assert.NoError(t, err, "%v", tt.path)
		}
	}
}
