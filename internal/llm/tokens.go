package llm

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

var (
	codec     tokenizer.Codec
	codecOnce sync.Once
	codecErr  error
)

// getCodec returns the cl100k_base tokenizer, a close enough match for the
// supported providers.
func getCodec() (tokenizer.Codec, error) {
	codecOnce.Do(func() {
		codec, codecErr = tokenizer.Get(tokenizer.Cl100kBase)
	})
	return codec, codecErr
}

// CountTokens returns the token count of text, falling back to four bytes
// per token when the tokenizer is unavailable.
func CountTokens(text string) int {
	c, err := getCodec()
	if err != nil {
		return len(text) / 4
	}
	ids, _, err := c.Encode(text)
	if err != nil {
		return len(text) / 4
	}
	return len(ids)
}

// estimateTokens counts the prompt tokens of a conversation.
func estimateTokens(messages []ChatMessage) int {
	n := 0
	for _, m := range messages {
		n += CountTokens(m.Content)
	}
	return n
}
