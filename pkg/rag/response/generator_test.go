package response

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"research-chat-be/internal/pkg/logger"
	"research-chat-be/pkg/llm"
	"research-chat-be/pkg/rag/chaterr"
)

type fakeLLM struct {
	reply   string
	tokens  []string
	gap     time.Duration // pause before each token
	stall   bool          // stop sending without closing
	err     error
	chatErr error
}

func (f *fakeLLM) Chat(ctx context.Context, _ []llm.Message, _ ...llm.Option) (string, error) {
	if f.chatErr != nil {
		return "", f.chatErr
	}
	return f.reply, nil
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string, _ ...llm.Option) (string, error) {
	return f.Chat(ctx, nil)
}

func (f *fakeLLM) ChatStream(ctx context.Context, _ []llm.Message, _ ...llm.Option) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk)
	go func() {
		for _, tok := range f.tokens {
			if f.gap > 0 {
				select {
				case <-time.After(f.gap):
				case <-ctx.Done():
					close(ch)
					return
				}
			}
			if !llm.Send(ctx, ch, llm.StreamChunk{Content: tok}) {
				close(ch)
				return
			}
		}
		if f.stall {
			<-ctx.Done()
			close(ch)
			return
		}
		if f.err != nil {
			llm.Send(ctx, ch, llm.StreamChunk{Err: f.err})
		}
		close(ch)
	}()
	return ch, nil
}

func split(s string, n int) []string {
	var out []string
	for len(s) > n {
		out = append(out, s[:n])
		s = s[n:]
	}
	return append(out, s)
}

func TestGenerator_Stream(t *testing.T) {
	raw := "Sure, here is what I found.\n## Answer\nMetformin lowers hepatic glucose output [D2].\n\n## References\n[D2] Foo et al."
	gen := NewGenerator(&fakeLLM{tokens: split(raw, 3)}, DefaultConfig(), logger.NewNopLogger())

	var delivered strings.Builder
	answer, err := gen.Stream(context.Background(), nil, func(s string) { delivered.WriteString(s) })
	require.NoError(t, err)
	assert.Equal(t, "Metformin lowers hepatic glucose output [D2].", strings.TrimSpace(answer))
	assert.Equal(t, answer, delivered.String())
}

func TestGenerator_SyncMatchesStream(t *testing.T) {
	raw := "## Answer\nIt reduces HbA1c [D2, D7].\nReferences:\n- D2\n- D7"
	streamed, err := NewGenerator(&fakeLLM{tokens: split(raw, 2)}, DefaultConfig(), logger.NewNopLogger()).
		Stream(context.Background(), nil, nil)
	require.NoError(t, err)

	sync, err := NewGenerator(&fakeLLM{reply: raw}, DefaultConfig(), logger.NewNopLogger()).
		Generate(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, sync, streamed)
}

func TestGenerator_Failures(t *testing.T) {
	tests := []struct {
		name   string
		llm    *fakeLLM
		config Config
		want   error
	}{
		{
			name: "stream error",
			llm:  &fakeLLM{tokens: []string{"## Answer\n", "partial"}, err: errors.New("connection reset")},
			want: chaterr.ErrGenerationFailure,
		},
		{
			name:   "no data",
			llm:    &fakeLLM{tokens: []string{"## Answer\n"}, stall: true},
			config: Config{Timeout: time.Second, NoDataTimeout: 50 * time.Millisecond},
			want:   chaterr.ErrNoDataTimeout,
		},
		{
			name:   "overall timeout",
			llm:    &fakeLLM{tokens: []string{"a", "b", "c", "d", "e", "f"}, gap: 30 * time.Millisecond},
			config: Config{Timeout: 80 * time.Millisecond, NoDataTimeout: time.Second},
			want:   chaterr.ErrGenerationTimeout,
		},
		{
			name: "empty answer",
			llm:  &fakeLLM{tokens: []string{"## Answer\n", "   "}},
			want: chaterr.ErrGenerationFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := NewGenerator(tt.llm, tt.config, logger.NewNopLogger())
			_, err := gen.Stream(context.Background(), nil, nil)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, chaterr.ErrGenerationFailure)
		})
	}
}

func TestGenerator_SyncError(t *testing.T) {
	gen := NewGenerator(&fakeLLM{chatErr: errors.New("503")}, DefaultConfig(), logger.NewNopLogger())
	_, err := gen.Generate(context.Background(), nil)
	assert.ErrorIs(t, err, chaterr.ErrGenerationFailure)
	assert.False(t, chaterr.IsTimeout(err))
}
