package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"research-chat-be/internal/pkg/logger"
	"research-chat-be/pkg/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runHub(t *testing.T) *Hub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewHub(nil, logger.NewNopLogger())
	go hub.Run(ctx)
	return hub
}

func TestHub_PublishReachesOnlyTargetUser(t *testing.T) {
	hub := runHub(t)
	alice := newClient(hub, nil, "alice", "tab-1", logger.NewNopLogger())
	bob := newClient(hub, nil, "bob", "tab-1", logger.NewNopLogger())
	hub.register <- alice
	hub.register <- bob
	require.Eventually(t, func() bool { return hub.Connected("alice") == 1 && hub.Connected("bob") == 1 }, time.Second, 5*time.Millisecond)

	ev := events.TurnCompleted("c1", "alice", 2, 150*time.Millisecond, time.Now())
	require.NoError(t, hub.Publish(context.Background(), ev))

	select {
	case data := <-alice.send:
		var got struct {
			Type string                 `json:"type"`
			Data map[string]interface{} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(data, &got))
		assert.Equal(t, events.TypeTurnCompleted, got.Type)
		assert.Equal(t, "c1", got.Data["conversation_id"])
	case <-time.After(time.Second):
		t.Fatal("alice did not receive the event")
	}
	assert.Empty(t, bob.send)
}

func TestHub_PublishWithoutUserIsIgnored(t *testing.T) {
	hub := runHub(t)
	ev := events.BaseEvent{Type: "chat.other", Data: map[string]interface{}{}}
	assert.NoError(t, hub.Publish(context.Background(), ev))
}

func TestHub_Unregister(t *testing.T) {
	hub := runHub(t)
	c1 := newClient(hub, nil, "alice", "tab-1", logger.NewNopLogger())
	c2 := newClient(hub, nil, "alice", "tab-2", logger.NewNopLogger())
	hub.register <- c1
	hub.register <- c2
	require.Eventually(t, func() bool { return hub.Connected("alice") == 2 }, time.Second, 5*time.Millisecond)

	hub.unregister <- c1
	require.Eventually(t, func() bool { return hub.Connected("alice") == 1 }, time.Second, 5*time.Millisecond)
	hub.unregister <- c2
	require.Eventually(t, func() bool { return hub.Connected("alice") == 0 }, time.Second, 5*time.Millisecond)
}

func TestClient_TrySend(t *testing.T) {
	c := newClient(nil, nil, "alice", "tab-1", logger.NewNopLogger())
	for i := 0; i < sendBuffer; i++ {
		require.True(t, c.TrySend([]byte("x")))
	}
	assert.False(t, c.TrySend([]byte("overflow")), "full buffer drops")

	c.cancel()
	assert.False(t, c.TrySend([]byte("closed")), "closed client drops")
	assert.Error(t, c.SendJSON(map[string]string{"a": "b"}))
}
