package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"research-chat-be/internal/dto"
	"research-chat-be/internal/pkg/logger"
	"research-chat-be/internal/repository/memory"
	"research-chat-be/pkg/events"
	"research-chat-be/pkg/llm"
	"research-chat-be/pkg/rag/chaterr"
	"research-chat-be/pkg/rag/response"
	"research-chat-be/pkg/rag/search"
	"research-chat-be/pkg/rag/session"
	"research-chat-be/pkg/store"
)

type scriptedLLM struct {
	mu      sync.Mutex
	replies []string
	calls   [][]llm.Message
	gap     time.Duration
	stall   bool
	err     error
}

func (s *scriptedLLM) next(history []llm.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, history)
	if s.err != nil {
		return "", s.err
	}
	if len(s.replies) == 0 {
		return "", errors.New("no scripted reply")
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return r, nil
}

func (s *scriptedLLM) lastCall() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[len(s.calls)-1]
}

func (s *scriptedLLM) Chat(ctx context.Context, history []llm.Message, _ ...llm.Option) (string, error) {
	return s.next(history)
}

func (s *scriptedLLM) Generate(ctx context.Context, prompt string, _ ...llm.Option) (string, error) {
	return s.next(nil)
}

func (s *scriptedLLM) ChatStream(ctx context.Context, history []llm.Message, _ ...llm.Option) (<-chan llm.StreamChunk, error) {
	reply, err := s.next(history)
	if err != nil {
		return nil, err
	}
	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)
		for len(reply) > 0 {
			n := 4
			if len(reply) < n {
				n = len(reply)
			}
			if s.gap > 0 {
				time.Sleep(s.gap)
			}
			if !llm.Send(ctx, ch, llm.StreamChunk{Content: reply[:n]}) {
				return
			}
			reply = reply[n:]
		}
		if s.stall {
			<-ctx.Done()
		}
	}()
	return ch, nil
}

type scriptedRetriever struct {
	mu      sync.Mutex
	turns   [][]store.Passage
	err     error
	lastReq search.Request
}

func (r *scriptedRetriever) Retrieve(_ context.Context, req search.Request) ([]store.Passage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastReq = req
	if r.err != nil {
		return nil, r.err
	}
	p := r.turns[0]
	if len(r.turns) > 1 {
		r.turns = r.turns[1:]
	}
	return p, nil
}

type mapCatalog map[string]store.Document

func (c mapCatalog) Documents(_ context.Context, ids []string) (map[string]store.Document, error) {
	out := make(map[string]store.Document)
	for _, id := range ids {
		if d, ok := c[id]; ok {
			out[id] = d
		}
	}
	return out, nil
}

type recordingEvents struct {
	mu    sync.Mutex
	types []string
}

func (r *recordingEvents) Publish(e events.Event) {
	r.mu.Lock()
	r.types = append(r.types, e.EventType())
	r.mu.Unlock()
}

func (r *recordingEvents) Consume(context.Context) error { return nil }
func (r *recordingEvents) Close() error                  { return nil }

func (r *recordingEvents) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.types...)
}

var testCatalog = mapCatalog{
	"D2": {ID: "D2", Title: "Hepatic effects of metformin", Journal: "Diabetologia", Year: 2019},
	"D7": {ID: "D7", Title: "Metformin and body weight", Year: 2021},
	"D9": {ID: "D9", Title: "Metformin in chronic kidney disease", Year: 2022},
}

type fixture struct {
	svc       IChatService
	llm       *scriptedLLM
	retriever *scriptedRetriever
	views     *session.ViewTracker
	events    *recordingEvents
}

func newFixture(llmFake *scriptedLLM, retriever *scriptedRetriever, genCfg response.Config) *fixture {
	log := logger.NewNopLogger()
	views := session.NewViewTracker(time.Hour, time.Minute)
	rec := &recordingEvents{}
	svc := NewChatService(
		memory.NewConversationStore(time.Hour, time.Minute, log),
		retriever,
		response.NewGenerator(llmFake, genCfg, log),
		testCatalog,
		views,
		rec,
		ChatServiceConfig{ResumeWaitDuration: 2 * time.Second, MaxCarried: 15},
		log,
	)
	return &fixture{svc: svc, llm: llmFake, retriever: retriever, views: views, events: rec}
}

func metforminFixture() *fixture {
	return newFixture(
		&scriptedLLM{replies: []string{
			"Let me look.\n## Answer\nMetformin lowers hepatic glucose output [D2] and modestly reduces weight [D7].\n\n## References\n[D2] Hepatic effects",
			"## Answer\nUse is limited in severe CKD [D9]; the weight effect persists [D7].",
		}},
		&scriptedRetriever{turns: [][]store.Passage{
			{{PassageID: "p1", DocumentID: "D2", Text: "Metformin suppresses gluconeogenesis [12]."}, {PassageID: "p2", DocumentID: "D7"}},
			{{PassageID: "p3", DocumentID: "D9"}, {PassageID: "p2", DocumentID: "D7"}},
		}},
		response.DefaultConfig(),
	)
}

func TestChatService_MetforminTwoTurns(t *testing.T) {
	ctx := context.Background()
	f := metforminFixture()

	first, err := f.svc.SendMessage(ctx, &dto.ChatRequest{UserMessage: "What does metformin do?", UserID: "alice"})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ConversationID)
	assert.Equal(t, "Metformin lowers hepatic glucose output [1] and modestly reduces weight [2].", strings.TrimSpace(first.AssistantMessage))
	require.Len(t, first.Citations, 2)
	assert.Equal(t, dto.CitationDTO{Number: 1, DocumentID: "D2", Title: "Hepatic effects of metformin", Journal: "Diabetologia", Year: 2019}, first.Citations[0])
	assert.Equal(t, 2, first.Citations[1].Number)

	second, err := f.svc.SendMessage(ctx, &dto.ChatRequest{
		UserMessage:    "Is it safe in kidney disease?",
		UserID:         "alice",
		ConversationID: first.ConversationID,
	})
	require.NoError(t, err)
	assert.Equal(t, "Use is limited in severe CKD [3]; the weight effect persists [2].", strings.TrimSpace(second.AssistantMessage))
	assert.Equal(t, []int{3, 2}, []int{second.Citations[0].Number, second.Citations[1].Number})
	require.Len(t, second.AllCitations, 3)
	assert.Equal(t, "D9", second.AllCitations[2].DocumentID)

	// the second prompt carries the first turn verbatim in canonical form
	prompt := f.llm.lastCall()
	require.Len(t, prompt, 4)
	assert.Equal(t, llm.RoleSystem, prompt[0].Role)
	assert.Equal(t, "What does metformin do?", prompt[1].Content)
	assert.Contains(t, prompt[2].Content, "[D2]")
	assert.Contains(t, prompt[3].Content, "<question>\nIs it safe in kidney disease?\n</question>")
	assert.False(t, f.retriever.lastReq.FirstTurn)
	assert.Equal(t, []string{"p1", "p2"}, f.retriever.lastReq.CarriedPassageIDs)

	conv, err := f.svc.GetConversation(ctx, first.ConversationID, "alice")
	require.NoError(t, err)
	require.Len(t, conv.Messages, 4)
	assert.Equal(t, second.AssistantMessage, conv.Messages[3].Content)
	assert.Equal(t, []int{3, 2}, conv.Messages[3].Citations)

	assert.Equal(t, []string{events.TypeTurnCompleted, events.TypeTurnCompleted}, f.events.all())
}

func TestChatService_HistoryAlternates(t *testing.T) {
	ctx := context.Background()
	replies := make([]string, 0, 6)
	for i := 0; i < 6; i++ {
		replies = append(replies, "## Answer\nSee [D2].")
	}
	f := newFixture(&scriptedLLM{replies: replies},
		&scriptedRetriever{turns: [][]store.Passage{{{PassageID: "p1", DocumentID: "D2"}}}},
		response.DefaultConfig())

	var id string
	for i := 0; i < 6; i++ {
		res, err := f.svc.SendMessage(ctx, &dto.ChatRequest{UserMessage: "q", UserID: "alice", ConversationID: id})
		require.NoError(t, err)
		id = res.ConversationID
	}

	conv, err := f.svc.GetConversation(ctx, id, "alice")
	require.NoError(t, err)
	require.Len(t, conv.Messages, 12)
	for i, m := range conv.Messages {
		want := store.RoleUser
		if i%2 == 1 {
			want = store.RoleAssistant
		}
		assert.Equal(t, want, m.Role, "message %d", i)
	}
	assert.Len(t, conv.AllCitations, 1)
}

func TestChatService_RollbackOnFailure(t *testing.T) {
	tests := []struct {
		name      string
		llm       *scriptedLLM
		retriever *scriptedRetriever
		genCfg    response.Config
		stream    bool
		wantErr   error
		wantStage chaterr.Stage
	}{
		{
			name:      "retrieval failure",
			llm:       &scriptedLLM{},
			retriever: &scriptedRetriever{err: chaterr.ErrRetrievalFailure},
			genCfg:    response.DefaultConfig(),
			wantErr:   chaterr.ErrRetrievalFailure,
			wantStage: chaterr.StageRetrieval,
		},
		{
			name:      "generation failure",
			llm:       &scriptedLLM{err: errors.New("model unavailable")},
			retriever: &scriptedRetriever{turns: [][]store.Passage{{{PassageID: "p1", DocumentID: "D2"}}}},
			genCfg:    response.DefaultConfig(),
			wantErr:   chaterr.ErrGenerationFailure,
			wantStage: chaterr.StageGeneration,
		},
		{
			name:      "overall timeout",
			llm:       &scriptedLLM{replies: []string{"## Answer\nslow slow slow slow"}, gap: 40 * time.Millisecond},
			retriever: &scriptedRetriever{turns: [][]store.Passage{{{PassageID: "p1", DocumentID: "D2"}}}},
			genCfg:    response.Config{Timeout: 100 * time.Millisecond, NoDataTimeout: time.Second},
			stream:    true,
			wantErr:   chaterr.ErrGenerationTimeout,
			wantStage: chaterr.StageGeneration,
		},
		{
			name:      "no data timeout",
			llm:       &scriptedLLM{replies: []string{"## Answer\n"}, stall: true},
			retriever: &scriptedRetriever{turns: [][]store.Passage{{{PassageID: "p1", DocumentID: "D2"}}}},
			genCfg:    response.Config{Timeout: 5 * time.Second, NoDataTimeout: 50 * time.Millisecond},
			stream:    true,
			wantErr:   chaterr.ErrNoDataTimeout,
			wantStage: chaterr.StageGeneration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			// seed one successful turn so rollback must keep it intact
			tt.llm.replies = append([]string{"## Answer\nFirst [D2]."}, tt.llm.replies...)
			seedErr := tt.llm.err
			tt.llm.err = nil
			seedRetrieverErr := tt.retriever.err
			tt.retriever.err = nil
			if len(tt.retriever.turns) == 0 {
				tt.retriever.turns = [][]store.Passage{{{PassageID: "p1", DocumentID: "D2"}}}
			}

			f := newFixture(tt.llm, tt.retriever, response.DefaultConfig())
			seed, err := f.svc.SendMessage(ctx, &dto.ChatRequest{UserMessage: "first", UserID: "alice"})
			require.NoError(t, err)

			tt.llm.err = seedErr
			tt.retriever.err = seedRetrieverErr
			f = refixture(f, tt.genCfg)

			req := &dto.ChatRequest{UserMessage: "second question", UserID: "alice", ConversationID: seed.ConversationID}
			if tt.stream {
				var got []dto.StreamEvent
				err = f.svc.Stream(ctx, req, func(ev dto.StreamEvent) error {
					got = append(got, ev)
					return nil
				})
				require.NoError(t, err)
				last := got[len(got)-1]
				require.Equal(t, dto.StreamEventError, last.Type)
				assert.True(t, last.Error.Retryable)
				assert.Equal(t, "second question", last.Error.FailedMessage)
			} else {
				_, err = f.svc.SendMessage(ctx, req)
				assert.ErrorIs(t, err, tt.wantErr)
				var turnErr *chaterr.TurnError
				require.ErrorAs(t, err, &turnErr)
				assert.Equal(t, tt.wantStage, turnErr.Stage)
				assert.Equal(t, "second question", turnErr.UserMessage)
				assert.True(t, turnErr.Retryable())
			}

			conv, err := f.svc.GetConversation(ctx, seed.ConversationID, "alice")
			require.NoError(t, err)
			require.Len(t, conv.Messages, 2)
			assert.Equal(t, "first", conv.Messages[0].Content)
			assert.Equal(t, "First [1].", strings.TrimSpace(conv.Messages[1].Content))
			assert.Len(t, conv.AllCitations, 1)
			assert.False(t, conv.InFlight)
			assert.Contains(t, f.events.all(), events.TypeTurnFailed)
		})
	}
}

// refixture keeps the conversation store but swaps the generator tuning
func refixture(f *fixture, genCfg response.Config) *fixture {
	cs := f.svc.(*chatService)
	cs.generator = response.NewGenerator(f.llm, genCfg, logger.NewNopLogger())
	return f
}

func TestChatService_Ownership(t *testing.T) {
	ctx := context.Background()
	f := metforminFixture()

	res, err := f.svc.SendMessage(ctx, &dto.ChatRequest{UserMessage: "What does metformin do?", UserID: "alice"})
	require.NoError(t, err)

	_, err = f.svc.SendMessage(ctx, &dto.ChatRequest{UserMessage: "hijack", UserID: "mallory", ConversationID: res.ConversationID})
	assert.ErrorIs(t, err, chaterr.ErrOwnershipViolation)
	_, err = f.svc.GetConversation(ctx, res.ConversationID, "mallory")
	assert.ErrorIs(t, err, chaterr.ErrOwnershipViolation)
	assert.ErrorIs(t, f.svc.SwitchView(ctx, "tab", res.ConversationID, "mallory"), chaterr.ErrOwnershipViolation)

	conv, err := f.svc.GetConversation(ctx, res.ConversationID, "alice")
	require.NoError(t, err)
	assert.Len(t, conv.Messages, 2)

	require.NoError(t, f.svc.DeleteConversation(ctx, res.ConversationID, "alice"))
	_, err = f.svc.GetConversation(ctx, res.ConversationID, "alice")
	assert.ErrorIs(t, err, chaterr.ErrNotFound)
}

func TestChatService_StreamEvents(t *testing.T) {
	f := metforminFixture()

	var got []dto.StreamEvent
	err := f.svc.Stream(context.Background(), &dto.ChatRequest{UserMessage: "What does metformin do?", UserID: "alice"}, func(ev dto.StreamEvent) error {
		got = append(got, ev)
		return nil
	})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(got), 3)
	assert.Equal(t, dto.StreamEventStart, got[0].Type)

	done := got[len(got)-1]
	require.Equal(t, dto.StreamEventDone, done.Type)

	var streamed strings.Builder
	for _, ev := range got[1 : len(got)-1] {
		require.Equal(t, dto.StreamEventToken, ev.Type)
		assert.NotContains(t, ev.Content, "[D", "canonical ids never reach the client")
		streamed.WriteString(ev.Content)
	}
	assert.Equal(t, done.Message.AssistantMessage, streamed.String())
	assert.NotContains(t, streamed.String(), "References")
}

func TestChatService_ViewSwitchSuppressesDelivery(t *testing.T) {
	ctx := context.Background()
	f := metforminFixture()
	f.llm.gap = 5 * time.Millisecond

	var got []dto.StreamEvent
	err := f.svc.Stream(ctx, &dto.ChatRequest{UserMessage: "What does metformin do?", UserID: "alice", ClientSessionID: "tab"}, func(ev dto.StreamEvent) error {
		got = append(got, ev)
		if ev.Type == dto.StreamEventToken {
			f.views.Activate("tab", "another-conversation")
		}
		return nil
	})
	require.NoError(t, err)

	require.Len(t, got, 2, "start and the first token only")
	assert.Equal(t, dto.StreamEventStart, got[0].Type)
	assert.Equal(t, dto.StreamEventToken, got[1].Type)

	// generation kept going and the answer was stored
	res, err := f.svc.Resume(ctx, got[0].ConversationID, "alice")
	require.NoError(t, err)
	assert.Contains(t, res.AssistantMessage, "[1]")
}

func TestChatService_ClientDisconnectStillStores(t *testing.T) {
	f := metforminFixture()
	f.llm.gap = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	var conversationID string
	err := f.svc.Stream(ctx, &dto.ChatRequest{UserMessage: "What does metformin do?", UserID: "alice"}, func(ev dto.StreamEvent) error {
		conversationID = ev.ConversationID
		cancel()
		return nil
	})
	require.NoError(t, err)

	conv, err := f.svc.GetConversation(context.Background(), conversationID, "alice")
	require.NoError(t, err)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, store.RoleAssistant, conv.Messages[1].Role)
}

func TestChatService_DeleteDuringStreamStaysDeleted(t *testing.T) {
	ctx := context.Background()
	f := metforminFixture()
	f.llm.gap = 20 * time.Millisecond

	var conversationID string
	var deleteErr error
	err := f.svc.Stream(ctx, &dto.ChatRequest{UserMessage: "What does metformin do?", UserID: "alice"}, func(ev dto.StreamEvent) error {
		if ev.Type == dto.StreamEventStart {
			conversationID = ev.ConversationID
			deleteErr = f.svc.DeleteConversation(ctx, conversationID, "alice")
		}
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, deleteErr)
	require.NotEmpty(t, conversationID)

	_, err = f.svc.GetConversation(ctx, conversationID, "alice")
	assert.ErrorIs(t, err, chaterr.ErrNotFound, "a finished turn must not bring the conversation back")
}

func TestChatService_ResumeWaitsForRunningTurn(t *testing.T) {
	ctx := context.Background()
	f := metforminFixture()
	f.llm.gap = 10 * time.Millisecond

	started := make(chan string, 1)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		_ = f.svc.Stream(ctx, &dto.ChatRequest{UserMessage: "What does metformin do?", UserID: "alice"}, func(ev dto.StreamEvent) error {
			if ev.Type == dto.StreamEventStart {
				started <- ev.ConversationID
			}
			return nil
		})
	}()

	id := <-started
	res, err := f.svc.Resume(ctx, id, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Metformin lowers hepatic glucose output [1] and modestly reduces weight [2].", strings.TrimSpace(res.AssistantMessage))
	<-finished
}

func TestChatService_InvalidRequest(t *testing.T) {
	f := metforminFixture()
	_, err := f.svc.SendMessage(context.Background(), &dto.ChatRequest{UserMessage: "   ", UserID: "alice"})
	assert.ErrorIs(t, err, chaterr.ErrInvalidRequest)
	assert.ErrorIs(t, f.svc.SwitchView(context.Background(), "", "c1", "alice"), chaterr.ErrInvalidRequest)
}
