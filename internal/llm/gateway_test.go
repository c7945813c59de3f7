package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hangingProvider never answers; it only returns once its context is cut.
type hangingProvider struct{}

func (hangingProvider) Name() string { return "hanging" }

func (hangingProvider) ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (hangingProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*EmbeddingResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestChatBoundsProviderCall(t *testing.T) {
	g := &gateway{
		providers:       map[string]Provider{"hanging": hangingProvider{}},
		defaultProvider: "hanging",
		callTimeout:     20 * time.Millisecond,
	}

	start := time.Now()
	_, err := g.Chat(context.Background(), ChatRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestEmbedBoundsProviderCall(t *testing.T) {
	g := &gateway{
		providers:       map[string]Provider{"hanging": hangingProvider{}},
		defaultProvider: "hanging",
		callTimeout:     20 * time.Millisecond,
	}

	start := time.Now()
	_, err := g.Embed(context.Background(), EmbeddingRequest{Input: []string{"xin chào"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}
