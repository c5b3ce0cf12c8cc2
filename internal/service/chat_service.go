package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"research-chat-be/internal/dto"
	"research-chat-be/internal/pkg/logger"
	"research-chat-be/internal/repository/memory"
	"research-chat-be/pkg/events"
	"research-chat-be/pkg/rag/chaterr"
	"research-chat-be/pkg/rag/citation"
	"research-chat-be/pkg/rag/message"
	"research-chat-be/pkg/rag/prompt"
	"research-chat-be/pkg/rag/response"
	"research-chat-be/pkg/rag/search"
	"research-chat-be/pkg/rag/session"
	"research-chat-be/pkg/rag/state"
	"research-chat-be/pkg/store"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const chatModule = "ChatService"

// Retriever selects the passages for a turn
type Retriever interface {
	Retrieve(ctx context.Context, req search.Request) ([]store.Passage, error)
}

// Catalog resolves bibliographic records for citations
type Catalog interface {
	Documents(ctx context.Context, ids []string) (map[string]store.Document, error)
}

// StreamWriter delivers one event to a streaming client. An error means the client is gone.
type StreamWriter func(event dto.StreamEvent) error

type IChatService interface {
	SendMessage(ctx context.Context, req *dto.ChatRequest) (*dto.ChatResponse, error)
	Stream(ctx context.Context, req *dto.ChatRequest, write StreamWriter) error
	Resume(ctx context.Context, conversationID, userID string) (*dto.ChatResponse, error)
	GetConversation(ctx context.Context, conversationID, userID string) (*dto.ConversationResponse, error)
	DeleteConversation(ctx context.Context, conversationID, userID string) error
	SwitchView(ctx context.Context, clientSessionID, conversationID, userID string) error
	ForgetView(clientSessionID string)
}

type ChatServiceConfig struct {
	GenerationTimeout  time.Duration
	ResumeWaitDuration time.Duration
	MaxCarried         int
}

type chatService struct {
	conversations *memory.ConversationStore
	retriever     Retriever
	generator     *response.Generator
	catalog       Catalog
	views         *session.ViewTracker
	events        IEventService
	factory       *message.Factory
	config        ChatServiceConfig
	logger        logger.ILogger
	tracer        trace.Tracer
	now           func() time.Time
}

func NewChatService(
	conversations *memory.ConversationStore,
	retriever Retriever,
	generator *response.Generator,
	catalog Catalog,
	views *session.ViewTracker,
	eventService IEventService,
	config ChatServiceConfig,
	log logger.ILogger,
) IChatService {
	if config.GenerationTimeout <= 0 {
		config.GenerationTimeout = 5 * time.Minute
	}
	if config.ResumeWaitDuration <= 0 {
		config.ResumeWaitDuration = 30 * time.Second
	}
	return &chatService{
		conversations: conversations,
		retriever:     retriever,
		generator:     generator,
		catalog:       catalog,
		views:         views,
		events:        eventService,
		factory:       message.NewFactory(),
		config:        config,
		logger:        log,
		tracer:        otel.Tracer("research-chat-be/service/chat"),
		now:           time.Now,
	}
}

func (cs *chatService) SendMessage(ctx context.Context, req *dto.ChatRequest) (*dto.ChatResponse, error) {
	return cs.runTurn(ctx, req, nil)
}

// Stream runs a turn and writes start, token, done or error events. Events for a conversation
// the client session no longer shows are dropped; the turn itself always runs to completion.
func (cs *chatService) Stream(ctx context.Context, req *dto.ChatRequest, write StreamWriter) error {
	gone := false
	deliver := func(conversationID string, ev dto.StreamEvent) {
		if gone || ctx.Err() != nil {
			return
		}
		if !cs.views.IsActive(req.ClientSessionID, conversationID) {
			return
		}
		ev.ConversationID = conversationID
		if err := write(ev); err != nil {
			gone = true
			cs.logger.Info(chatModule, "Stream client gone, generation continues", map[string]interface{}{
				"conversation_id": conversationID,
			})
		}
	}

	res, err := cs.runTurn(ctx, req, &turnStream{
		start: func(conversationID string) {
			deliver(conversationID, dto.StreamEvent{Type: dto.StreamEventStart})
		},
		token: func(conversationID, text string) {
			deliver(conversationID, dto.StreamEvent{Type: dto.StreamEventToken, Content: text})
		},
	})
	if err != nil {
		var turnErr *chaterr.TurnError
		if errors.As(err, &turnErr) {
			deliver(turnErr.ConversationID, dto.StreamEvent{Type: dto.StreamEventError, Error: streamError(err, turnErr)})
			return nil
		}
		// nothing was accepted yet; the caller reports it like a plain request error
		return err
	}

	deliver(res.ConversationID, dto.StreamEvent{Type: dto.StreamEventDone, Message: res})
	return nil
}

type turnStream struct {
	start func(conversationID string)
	token func(conversationID, text string)
}

func (cs *chatService) runTurn(ctx context.Context, req *dto.ChatRequest, ts *turnStream) (*dto.ChatResponse, error) {
	query := strings.TrimSpace(req.UserMessage)
	if query == "" || req.UserID == "" {
		return nil, chaterr.ErrInvalidRequest
	}

	h, created, err := cs.conversations.GetOrCreate(ctx, req.ConversationID, req.UserID)
	if err != nil {
		return nil, err
	}
	if req.ClientSessionID != "" {
		cs.views.Activate(req.ClientSessionID, h.ID())
	}

	// the turn belongs to the server from here; client cancellation only stops delivery
	turnCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cs.config.GenerationTimeout)
	defer cancel()

	ctx, span := cs.tracer.Start(turnCtx, "chat.turn", trace.WithAttributes(
		attribute.String("conversation.id", h.ID()),
		attribute.Bool("conversation.created", created),
		attribute.Bool("stream", ts != nil),
	))
	defer span.End()

	endTurn, err := h.BeginTurn(ctx)
	if err != nil {
		return nil, chaterr.ErrGenerationTimeout
	}
	defer endTurn()

	started := cs.now()
	turn := state.NewTurn(h.ID(), cs.logger)
	history := h.History()
	userMsg := h.AppendUser(query, started)

	fail := func(stage chaterr.Stage, cause error) error {
		h.RollbackUser(userMsg.ID)
		_ = turn.Transition(state.Failed)
		cs.conversations.Persist(context.WithoutCancel(ctx), h)

		turnErr := &chaterr.TurnError{
			Stage:          stage,
			ConversationID: h.ID(),
			UserMessage:    req.UserMessage,
			Err:            cause,
		}
		span.RecordError(cause)
		span.SetStatus(codes.Error, string(stage))
		cs.logger.Error(chatModule, "Turn failed", map[string]interface{}{
			"conversation_id": h.ID(),
			"stage":           string(stage),
			"error":           cause.Error(),
		})
		cs.publish(events.TurnFailed(h.ID(), h.UserID(), string(stage), turnErr.Retryable(), cs.now()))
		return turnErr
	}

	if ts != nil {
		ts.start(h.ID())
	}

	// RETRIEVING
	_ = turn.Transition(state.Retrieving)
	passages, err := cs.retrieve(ctx, h, query, len(history) == 0, req.UseReranker)
	if err != nil {
		return nil, fail(chaterr.StageRetrieval, err)
	}
	catalog := cs.documents(ctx, documentIDs(passages))
	messages := prompt.NewBuilder(catalog).Build(query, passages, history)

	// GENERATING
	_ = turn.Transition(state.Generating)
	genCtx, genSpan := cs.tracer.Start(ctx, "chat.generate", trace.WithAttributes(
		attribute.Int("prompt.messages", len(messages)),
		attribute.Int("prompt.passages", len(passages)),
	))
	var answer string
	if ts == nil {
		answer, err = cs.generator.Generate(genCtx, messages)
	} else {
		remapper := citation.NewStreamRemapper(h.Registry(), cs.factory.CitableIDs(h.Registry(), passages))
		answer, err = cs.generator.Stream(genCtx, messages, func(text string) {
			if shown := remapper.Push(text); shown != "" {
				ts.token(h.ID(), shown)
			}
		})
		if err == nil {
			if rest := remapper.Close(); rest != "" {
				ts.token(h.ID(), rest)
			}
		}
	}
	genSpan.End()
	if err != nil {
		return nil, fail(chaterr.StageGeneration, err)
	}

	// POST_PROCESSING
	_ = turn.Transition(state.PostProcessing)
	_, postSpan := cs.tracer.Start(ctx, "chat.post_process")
	assistant := h.CommitAssistant(cs.now(), func(reg *citation.Registry) store.Message {
		return cs.factory.Assistant(reg, answer, passages)
	})
	cs.conversations.Persist(ctx, h)
	res := cs.render(ctx, h.ID(), h.Registry(), assistant)
	postSpan.End()

	_ = turn.Transition(state.Done)
	latency := cs.now().Sub(started)
	cs.logger.Info(chatModule, "Turn completed", map[string]interface{}{
		"conversation_id": h.ID(),
		"passages":        len(passages),
		"citations":       len(assistant.CitedDocumentIDs),
		"latency_ms":      latency.Milliseconds(),
	})
	cs.publish(events.TurnCompleted(h.ID(), h.UserID(), len(assistant.CitedDocumentIDs), latency, cs.now()))
	return res, nil
}

func (cs *chatService) retrieve(ctx context.Context, h *memory.ConversationHandle, query string, firstTurn bool, useReranker *bool) ([]store.Passage, error) {
	ctx, span := cs.tracer.Start(ctx, "chat.retrieve")
	defer span.End()

	req := search.Request{
		Query:       query,
		FirstTurn:   firstTurn,
		UseReranker: useReranker,
	}
	if !firstTurn {
		req.CarriedPassageIDs = h.CitedPassageIDs(cs.config.MaxCarried)
	}
	passages, err := cs.retriever.Retrieve(ctx, req)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("passages", len(passages)))
	return passages, nil
}

// Resume returns the newest assistant answer, waiting briefly for a running turn to finish
func (cs *chatService) Resume(ctx context.Context, conversationID, userID string) (*dto.ChatResponse, error) {
	h, err := cs.conversations.Get(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, cs.config.ResumeWaitDuration)
	defer cancel()
	if err := h.Wait(waitCtx); err != nil {
		cs.logger.Debug(chatModule, "Resume returned before the running turn finished", map[string]interface{}{
			"conversation_id": conversationID,
		})
	}

	conv := h.Snapshot()
	last, ok := conv.LastAssistant()
	if !ok {
		return nil, chaterr.ErrNotFound
	}
	return cs.render(ctx, conv.ID, conv.Citations, last), nil
}

func (cs *chatService) GetConversation(ctx context.Context, conversationID, userID string) (*dto.ConversationResponse, error) {
	h, err := cs.conversations.Get(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}

	conv := h.Snapshot()
	res := &dto.ConversationResponse{
		ConversationID: conv.ID,
		Messages:       make([]dto.MessageDTO, 0, len(conv.Messages)),
		AllCitations:   cs.allCitations(ctx, conv.Citations),
		InFlight:       h.InFlight(),
		CreatedAt:      conv.CreatedAt,
		LastAccessed:   conv.LastAccessed,
	}
	for _, m := range conv.Messages {
		res.Messages = append(res.Messages, dto.MessageDTO{
			ID:        m.ID,
			Role:      m.Role,
			Content:   cs.factory.Render(conv.Citations, m),
			Citations: numbers(conv.Citations, m.CitedDocumentIDs),
			CreatedAt: m.CreatedAt,
		})
	}
	return res, nil
}

func (cs *chatService) DeleteConversation(ctx context.Context, conversationID, userID string) error {
	return cs.conversations.Delete(ctx, conversationID, userID)
}

// SwitchView makes conversationID the one a client session shows. Only the owner may view it.
func (cs *chatService) SwitchView(ctx context.Context, clientSessionID, conversationID, userID string) error {
	if clientSessionID == "" {
		return chaterr.ErrInvalidRequest
	}
	if _, err := cs.conversations.Get(ctx, conversationID, userID); err != nil {
		return err
	}
	cs.views.Activate(clientSessionID, conversationID)
	return nil
}

func (cs *chatService) ForgetView(clientSessionID string) {
	cs.views.Forget(clientSessionID)
}

func (cs *chatService) render(ctx context.Context, conversationID string, reg *citation.Registry, m store.Message) *dto.ChatResponse {
	all := cs.allCitations(ctx, reg)
	byDoc := make(map[string]dto.CitationDTO, len(all))
	for _, c := range all {
		byDoc[c.DocumentID] = c
	}
	turn := make([]dto.CitationDTO, 0, len(m.CitedDocumentIDs))
	for _, id := range m.CitedDocumentIDs {
		if c, ok := byDoc[id]; ok {
			turn = append(turn, c)
		}
	}

	return &dto.ChatResponse{
		ConversationID:   conversationID,
		MessageID:        m.ID,
		AssistantMessage: cs.factory.Render(reg, m),
		Citations:        turn,
		AllCitations:     all,
		CreatedAt:        m.CreatedAt,
	}
}

func (cs *chatService) allCitations(ctx context.Context, reg *citation.Registry) []dto.CitationDTO {
	entries := reg.Entries()
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.DocumentID)
	}
	docs := cs.documents(ctx, ids)

	out := make([]dto.CitationDTO, 0, len(entries))
	for _, e := range entries {
		c := dto.CitationDTO{Number: e.DisplayNumber, DocumentID: e.DocumentID}
		if d, ok := docs[e.DocumentID]; ok {
			c.Title = d.Title
			c.Journal = d.Journal
			c.Year = d.Year
			c.Authors = d.Authors
			c.URL = d.URL
		}
		out = append(out, c)
	}
	return out
}

// documents never fails a turn; missing metadata only leaves citations untitled
func (cs *chatService) documents(ctx context.Context, ids []string) map[string]store.Document {
	if cs.catalog == nil || len(ids) == 0 {
		return nil
	}
	docs, err := cs.catalog.Documents(ctx, ids)
	if err != nil {
		cs.logger.Warn(chatModule, "Document catalog lookup failed", map[string]interface{}{
			"documents": len(ids),
			"error":     err.Error(),
		})
		return nil
	}
	return docs
}

func (cs *chatService) publish(event events.Event) {
	if cs.events != nil {
		cs.events.Publish(event)
	}
}

func documentIDs(passages []store.Passage) []string {
	seen := make(map[string]bool, len(passages))
	ids := make([]string, 0, len(passages))
	for _, p := range passages {
		if !seen[p.DocumentID] {
			seen[p.DocumentID] = true
			ids = append(ids, p.DocumentID)
		}
	}
	return ids
}

func numbers(reg *citation.Registry, ids []string) []int {
	var out []int
	for _, id := range ids {
		if n, ok := reg.Lookup(id); ok {
			out = append(out, n)
		}
	}
	return out
}

func streamError(err error, turnErr *chaterr.TurnError) *dto.StreamError {
	code := 502
	if chaterr.IsTimeout(err) {
		code = 504
	}
	return &dto.StreamError{
		Code:          code,
		Message:       err.Error(),
		Retryable:     turnErr.Retryable(),
		FailedMessage: turnErr.UserMessage,
	}
}
