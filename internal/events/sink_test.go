package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/capitalize-ai/threadchat/internal/model"
)

func TestSubject(t *testing.T) {
	assert.Equal(t, "chat.t1.exchange.complete", Subject("t1", model.StatusComplete))
	assert.Equal(t, "chat.t1.>", ThreadFilter("t1"))
}

func TestNopSink(t *testing.T) {
	var s Sink = NopSink{}
	assert.NoError(t, s.Publish(context.Background(), &model.ExchangeEvent{ThreadID: "t1"}))
}
