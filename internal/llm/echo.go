package llm

import (
	"context"
	"errors"
	"strings"
	"time"
)

const echoModel = "echo-1"

// EchoClient replies with the last user message, one word per token. It
// needs no credentials and is used for local development and tests.
type EchoClient struct {
	// Delay is slept before each token.
	Delay time.Duration
}

// NewEchoClient creates an echo client.
func NewEchoClient() *EchoClient {
	return &EchoClient{}
}

// Name returns the provider name.
func (c *EchoClient) Name() string {
	return string(ProviderEcho)
}

// Models returns available models.
func (c *EchoClient) Models() []string {
	return []string{echoModel}
}

// Complete returns the last user message unchanged.
func (c *EchoClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()
	text, err := lastUserMessage(req)
	if err != nil {
		return nil, err
	}
	return &CompletionResponse{
		Content:    text,
		Model:      echoModelName(req),
		TokensIn:   estimateTokens(req.Messages),
		TokensOut:  len(strings.Fields(text)),
		StopReason: "end_turn",
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}

// CompleteStream streams the last user message back word by word.
func (c *EchoClient) CompleteStream(ctx context.Context, req *CompletionRequest, callback StreamCallback) (*CompletionResponse, error) {
	start := time.Now()
	text, err := lastUserMessage(req)
	if err != nil {
		return nil, err
	}

	tokens := splitWords(text)
	for i, token := range tokens {
		if c.Delay > 0 {
			select {
			case <-time.After(c.Delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := callback(token, i); err != nil {
			return nil, err
		}
	}

	return &CompletionResponse{
		Content:    text,
		Model:      echoModelName(req),
		TokensIn:   estimateTokens(req.Messages),
		TokensOut:  len(tokens),
		StopReason: "end_turn",
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}

func echoModelName(req *CompletionRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return echoModel
}

func lastUserMessage(req *CompletionRequest) (string, error) {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			return req.Messages[i].Content, nil
		}
	}
	return "", errors.New("no user message to echo")
}

// splitWords splits s after each run of spaces so that the pieces
// concatenate back to s.
func splitWords(s string) []string {
	var out []string
	for len(s) > 0 {
		i := strings.IndexByte(s, ' ')
		if i < 0 {
			out = append(out, s)
			break
		}
		j := i
		for j < len(s) && s[j] == ' ' {
			j++
		}
		out = append(out, s[:j])
		s = s[j:]
	}
	return out
}
