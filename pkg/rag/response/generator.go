package response

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"research-chat-be/internal/pkg/logger"
	"research-chat-be/pkg/llm"
	"research-chat-be/pkg/rag/chaterr"
	"research-chat-be/pkg/rag/stream"
)

const module = "Generator"

type Config struct {
	// Timeout bounds the whole generation
	Timeout time.Duration
	// NoDataTimeout fails a stream that goes quiet
	NoDataTimeout time.Duration
	Filter        stream.Config
	Options       []llm.Option
}

func DefaultConfig() Config {
	return Config{
		Timeout:       5 * time.Minute,
		NoDataTimeout: 60 * time.Second,
		Filter:        stream.DefaultConfig(),
	}
}

// Generator runs the model and returns the filtered answer
type Generator struct {
	llmProvider llm.LLMProvider
	config      Config
	logger      logger.ILogger
}

func NewGenerator(llmProvider llm.LLMProvider, config Config, log logger.ILogger) *Generator {
	def := DefaultConfig()
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.NoDataTimeout <= 0 {
		config.NoDataTimeout = def.NoDataTimeout
	}
	return &Generator{
		llmProvider: llmProvider,
		config:      config,
		logger:      log,
	}
}

// Generate makes a single blocking call. Failures wrap ErrGenerationFailure.
func (g *Generator) Generate(ctx context.Context, messages []llm.Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	raw, err := g.llmProvider.Chat(ctx, messages, g.config.Options...)
	if err != nil {
		return "", g.wrap(ctx, err)
	}

	answer := stream.Apply(raw, g.config.Filter)
	if strings.TrimSpace(answer) == "" {
		return "", fmt.Errorf("%w: empty answer", chaterr.ErrGenerationFailure)
	}
	return answer, nil
}

// Stream delivers filtered chunks to onText as they become safe to show and returns
// the full filtered answer. onText runs on the calling goroutine.
func (g *Generator) Stream(ctx context.Context, messages []llm.Message, onText func(string)) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	chunks, err := g.llmProvider.ChatStream(ctx, messages, g.config.Options...)
	if err != nil {
		return "", g.wrap(ctx, err)
	}

	filter := stream.NewFilter(g.config.Filter)
	deliver := func(parts []string) {
		for _, p := range parts {
			if p != "" && onText != nil {
				onText(p)
			}
		}
	}

	idle := time.NewTimer(g.config.NoDataTimeout)
	defer idle.Stop()

	tokens := 0
loop:
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				break loop
			}
			if chunk.Err != nil {
				return "", g.wrap(ctx, chunk.Err)
			}
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(g.config.NoDataTimeout)

			tokens++
			deliver(filter.Push(chunk.Content))
			if filter.Terminated() {
				// trailer reached; the rest of the stream is discarded
				break loop
			}
		case <-idle.C:
			g.logger.Warn(module, "No data from model", map[string]interface{}{
				"tokens":  tokens,
				"timeout": g.config.NoDataTimeout.String(),
			})
			return "", chaterr.ErrNoDataTimeout
		case <-ctx.Done():
			return "", g.wrap(ctx, ctx.Err())
		}
	}
	if err := ctx.Err(); err != nil && !filter.Terminated() {
		// the provider closed the stream because the deadline passed
		return "", g.wrap(ctx, err)
	}
	deliver(filter.Close())

	g.logger.Debug(module, "Stream finished", map[string]interface{}{
		"tokens":  tokens,
		"state":   filter.State().String(),
		"trailer": filter.Terminated(),
	})

	answer := filter.Text()
	if strings.TrimSpace(answer) == "" {
		return "", fmt.Errorf("%w: empty answer", chaterr.ErrGenerationFailure)
	}
	return answer, nil
}

func (g *Generator) wrap(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return chaterr.ErrGenerationTimeout
	}
	return fmt.Errorf("%w: %v", chaterr.ErrGenerationFailure, err)
}
