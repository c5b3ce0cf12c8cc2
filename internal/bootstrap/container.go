package bootstrap

import (
	"context"
	"fmt"
	"time"

	"research-chat-be/internal/config"
	"research-chat-be/internal/controller"
	"research-chat-be/internal/pkg/logger"
	"research-chat-be/internal/repository/implementation"
	"research-chat-be/internal/repository/memory"
	"research-chat-be/internal/service"
	"research-chat-be/internal/websocket"
	"research-chat-be/pkg/embedding"
	"research-chat-be/pkg/embedding/jina"
	"research-chat-be/pkg/events"
	"research-chat-be/pkg/llm"
	"research-chat-be/pkg/llm/factory"
	pktNats "research-chat-be/pkg/nats"
	"research-chat-be/pkg/rag/response"
	"research-chat-be/pkg/rag/search"
	"research-chat-be/pkg/rag/session"
	"research-chat-be/pkg/rag/stream"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const module = "Bootstrap"

type Container struct {
	ChatController controller.IChatController

	// Background services, started by main
	EventService service.IEventService
	WebSocketHub *websocket.Hub

	Conversations *memory.ConversationStore
	Logger        logger.ILogger
	IndexBackend  string

	closers []func()
}

// NewContainer wires every component. db may be nil when the memory index backend is selected.
func NewContainer(ctx context.Context, db *gorm.DB, cfg *config.Config, sysLogger logger.ILogger) (*Container, error) {
	c := &Container{Logger: sysLogger, IndexBackend: cfg.Chat.IndexBackend}

	// 1. Providers
	embeddingProvider := NewEmbeddingProvider(cfg, sysLogger)

	llmBaseURL := cfg.Ai.LLMBaseURL
	if llmBaseURL == "" && cfg.Ai.LLMProvider == "ollama" {
		llmBaseURL = cfg.Ai.OllamaBaseURL
	}
	llmProvider, err := factory.NewLLMProvider(cfg.Ai.LLMProvider, cfg.Ai.LLMModel, llmBaseURL, cfg.Keys.HuggingFace)
	if err != nil {
		return nil, fmt.Errorf("init LLM provider: %w", err)
	}
	sysLogger.Info(module, "LLM provider ready", map[string]interface{}{
		"provider": cfg.Ai.LLMProvider,
		"model":    cfg.Ai.LLMModel,
	})

	// 2. Index and document catalog
	var index search.Index
	var catalog service.Catalog
	switch cfg.Chat.IndexBackend {
	case "memory":
		idx, err := memory.LoadCorpus(ctx, cfg.Chat.CorpusFile, embeddingProvider)
		if err != nil {
			return nil, fmt.Errorf("load corpus: %w", err)
		}
		sysLogger.Info(module, "In-memory passage index loaded", map[string]interface{}{
			"passages": idx.Len(),
			"file":     cfg.Chat.CorpusFile,
		})
		index, catalog = idx, idx
	case "pgvector":
		if db == nil {
			return nil, fmt.Errorf("pgvector index backend needs a database connection")
		}
		passages := implementation.NewPassageRepository(db)
		count, err := passages.Count(ctx)
		if err != nil {
			return nil, fmt.Errorf("count passages: %w", err)
		}
		if count == 0 {
			sysLogger.Warn(module, "Passage table is empty, run cmd/seed", nil)
		}
		index = passages
		catalog = implementation.NewDocumentRepository(db)
	default:
		return nil, fmt.Errorf("unsupported index backend: %s", cfg.Chat.IndexBackend)
	}

	// 3. Infrastructure
	rdb := connectRedis(ctx, cfg.App.RedisURL, sysLogger)
	if rdb != nil {
		c.closers = append(c.closers, func() { _ = rdb.Close() })
	}

	wsLogger := logger.NewIsolatedLogger(cfg.App.WsLogFilePath)
	wsHub := websocket.NewHub(rdb, wsLogger)
	c.WebSocketHub = wsHub

	sinks := []service.EventSink{wsHub}
	if cfg.Chat.EventsEnabled {
		natsPub, err := pktNats.NewPublisher(ctx, cfg.App.NatsURL)
		if err != nil {
			sysLogger.Warn(module, "NATS publisher unavailable, events stay in process", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			sinks = append(sinks, natsPub)
			c.closers = append(c.closers, natsPub.Close)
		}
	}

	// 4. Event bus
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: 256},
		watermill.NewStdLogger(false, false),
	)
	eventService := service.NewEventService(pubSub, service.ChatEventsTopic, sysLogger, sinks...)
	c.EventService = eventService

	// 5. Conversation store
	storeOpts := []memory.StoreOption{
		memory.WithEvictionHook(func(conversationID, userID string) {
			eventService.Publish(events.ConversationEvicted(conversationID, userID, time.Now()))
		}),
	}
	if cfg.Chat.ArchiveEnabled {
		if rdb == nil {
			sysLogger.Warn(module, "Conversation archive enabled but redis is unavailable", nil)
		} else {
			storeOpts = append(storeOpts, memory.WithArchive(implementation.NewRedisConversationArchive(rdb, cfg.Chat.IdleTimeout)))
		}
	}
	conversations := memory.NewConversationStore(cfg.Chat.IdleTimeout, cfg.Chat.CleanupInterval, sysLogger, storeOpts...)
	c.Conversations = conversations

	// 6. Domain components
	orchestrator := search.NewOrchestrator(
		embedding.QueryEmbedder{Provider: embeddingProvider},
		index,
		NewReranker(cfg, sysLogger),
		search.Config{
			TopK:            cfg.Chat.TopK,
			TopN:            cfg.Chat.TopN,
			MaxCarried:      cfg.Chat.MaxCarried,
			Hybrid:          cfg.Chat.Hybrid,
			RerankByDefault: cfg.Chat.RerankByDefault,
		},
		sysLogger,
	)
	sysLogger.Info(module, "Retrieval ready", map[string]interface{}{
		"hybrid": orchestrator.Hybrid(),
		"top_k":  cfg.Chat.TopK,
		"top_n":  cfg.Chat.TopN,
	})

	generator := response.NewGenerator(llmProvider, response.Config{
		Timeout:       cfg.Chat.GenerationTimeout,
		NoDataTimeout: cfg.Chat.NoDataTimeout,
		Filter: stream.Config{
			Lookahead:     cfg.Chat.Lookahead,
			PreambleLimit: cfg.Chat.PreambleLimit,
		},
		Options: []llm.Option{
			llm.WithTemperature(cfg.Ai.LLMTemperature),
			llm.WithMaxTokens(cfg.Ai.LLMMaxTokens),
		},
	}, sysLogger)

	chatService := service.NewChatService(
		conversations,
		orchestrator,
		generator,
		catalog,
		session.NewViewTracker(cfg.Chat.IdleTimeout, cfg.Chat.CleanupInterval),
		eventService,
		service.ChatServiceConfig{
			GenerationTimeout:  cfg.Chat.GenerationTimeout,
			ResumeWaitDuration: cfg.Chat.ResumeWaitDuration,
			MaxCarried:         cfg.Chat.MaxCarried,
		},
		sysLogger,
	)

	// 7. Controllers
	c.ChatController = controller.NewChatController(chatService, wsHub, cfg.App.JWTSecret, sysLogger)
	c.closers = append(c.closers, func() { _ = eventService.Close() })

	return c, nil
}

// Close releases connections in reverse order of creation
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

// NewEmbeddingProvider selects the embedding backend from config
func NewEmbeddingProvider(cfg *config.Config, log logger.ILogger) embedding.EmbeddingProvider {
	var p embedding.EmbeddingProvider
	switch cfg.Ai.EmbeddingProvider {
	case "jina":
		p = jina.NewJinaProvider(cfg.Keys.Jina, cfg.Ai.EmbeddingBaseURL)
	case "gemini":
		p = embedding.NewGeminiProvider(cfg.Keys.GoogleGemini)
	default:
		p = embedding.NewOllamaProvider(cfg.Ai.OllamaBaseURL, cfg.Ai.OllamaModel)
	}
	log.Info(module, "Embedding provider ready", map[string]interface{}{
		"provider": cfg.Ai.EmbeddingProvider,
	})
	return p
}

// NewReranker selects the reranker; the lexical scorer needs no external service
func NewReranker(cfg *config.Config, log logger.ILogger) search.Reranker {
	if cfg.Chat.RerankerProvider == "jina" {
		if cfg.Keys.Jina != "" {
			return jina.NewReranker(cfg.Keys.Jina, "")
		}
		log.Warn(module, "JINA_API_KEY missing, using lexical reranker", nil)
	}
	return search.LexicalReranker{}
}

func connectRedis(ctx context.Context, url string, log logger.ILogger) *redis.Client {
	if url == "" {
		return nil
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		log.Warn(module, "Failed to parse Redis URL, using it as address", map[string]interface{}{
			"error": err.Error(),
		})
		opt = &redis.Options{Addr: url}
	}
	rdb := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Warn(module, "Redis unavailable", map[string]interface{}{
			"error": err.Error(),
		})
		_ = rdb.Close()
		return nil
	}
	return rdb
}
