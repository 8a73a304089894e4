package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEchoStream(t *testing.T) {
	c := NewEchoClient()
	req := &CompletionRequest{Messages: []ChatMessage{
		{Role: "system", Content: "ignored"},
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "first"},
		{Role: "user", Content: "This is  a summary."},
	}}

	var tokens []string
	resp, err := c.CompleteStream(context.Background(), req, func(token string, index int) error {
		assert.Equal(t, len(tokens), index)
		tokens = append(tokens, token)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"This ", "is  ", "a ", "summary."}, tokens)
	assert.Equal(t, "This is  a summary.", strings.Join(tokens, ""))
	assert.Equal(t, "This is  a summary.", resp.Content)
	assert.Equal(t, echoModel, resp.Model)
	assert.Equal(t, 4, resp.TokensOut)
}

func TestEchoStreamCallbackError(t *testing.T) {
	boom := errors.New("client gone")
	_, err := NewEchoClient().CompleteStream(context.Background(),
		&CompletionRequest{Model: "m", Messages: []ChatMessage{{Role: "user", Content: "a b c"}}},
		func(string, int) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestEchoStreamCancelled(t *testing.T) {
	c := &EchoClient{Delay: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.CompleteStream(ctx, &CompletionRequest{Messages: []ChatMessage{{Role: "user", Content: "a b"}}},
		func(string, int) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEchoNeedsUserMessage(t *testing.T) {
	_, err := NewEchoClient().Complete(context.Background(), &CompletionRequest{})
	assert.Error(t, err)
}

func TestNewClient(t *testing.T) {
	c, err := NewClient(ProviderEcho, "")
	require.NoError(t, err)
	assert.Equal(t, "echo", c.Name())

	_, err = NewClient(ProviderOpenAI, "")
	assert.Error(t, err)

	_, err = NewClient("mystery", "key")
	assert.Error(t, err)
}

func TestSplitWords(t *testing.T) {
	assert.Nil(t, splitWords(""))
	assert.Equal(t, []string{"   "}, splitWords("   "))
	assert.Equal(t, []string{"one"}, splitWords("one"))
	assert.Equal(t, []string{"a ", "b"}, splitWords("a b"))
}

func TestCountTokens(t *testing.T) {
	assert.Zero(t, CountTokens(""))
	assert.Positive(t, CountTokens("This is a summary."))
	assert.Equal(t, CountTokens("a b")+CountTokens("c d"), estimateTokens([]ChatMessage{{Content: "a b"}, {Content: "c d"}}))
}
