package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/threadchat/internal/llm"
	"github.com/capitalize-ai/threadchat/internal/model"
	"github.com/capitalize-ai/threadchat/pkg/logger"
)

const threadID = "0190f0f0-0000-7000-8000-000000000001"

func newServices(t *testing.T) (*ThreadService, *MessageService) {
	t.Helper()
	threads := NewThreadService(logger.Nop())
	return threads, NewMessageService(threads, llm.NewEchoClient(), logger.Nop())
}

func TestCreateIsIdempotent(t *testing.T) {
	threads, _ := newServices(t)
	ctx := context.Background()

	first, err := threads.Create(ctx, "tenant-a", "u1", &model.CreateThreadRequest{ID: threadID, Name: "New chat"})
	require.NoError(t, err)
	assert.True(t, first.IsNew)
	assert.Equal(t, "tenant-a", first.TenantID)

	again, err := threads.Create(ctx, "tenant-a", "u1", &model.CreateThreadRequest{ID: threadID, Name: "Other"})
	require.NoError(t, err)
	assert.False(t, again.IsNew)
	assert.Equal(t, "New chat", again.Name)

	_, err = threads.Create(ctx, "tenant-b", "u2", &model.CreateThreadRequest{ID: threadID})
	assert.ErrorIs(t, err, ErrThreadConflict)
}

func TestTenantIsolation(t *testing.T) {
	threads, _ := newServices(t)
	ctx := context.Background()

	_, err := threads.Create(ctx, "tenant-a", "u1", &model.CreateThreadRequest{ID: threadID})
	require.NoError(t, err)

	_, err = threads.Get(ctx, "tenant-b", threadID)
	assert.ErrorIs(t, err, ErrThreadNotFound)
	_, err = threads.Messages(ctx, "tenant-b", threadID)
	assert.ErrorIs(t, err, ErrThreadNotFound)
	assert.ErrorIs(t, threads.SetTitle(ctx, "tenant-b", threadID, "x"), ErrThreadNotFound)
}

func TestSendWithStream(t *testing.T) {
	threads, messages := newServices(t)
	ctx := context.Background()

	_, err := threads.Create(ctx, "t", "u", &model.CreateThreadRequest{ID: threadID, Instructions: "be brief"})
	require.NoError(t, err)

	var deltas []model.StreamDelta
	reply, err := messages.SendWithStream(ctx, "t", threadID,
		&model.SendMessageRequest{Role: model.RoleUser, Text: "This is a summary.", Model: "gpt-4"},
		func(d model.StreamDelta) error {
			deltas = append(deltas, d)
			return nil
		})
	require.NoError(t, err)

	require.Len(t, deltas, 4)
	var text strings.Builder
	for _, d := range deltas {
		assert.Equal(t, reply.ID, d.ID)
		assert.Equal(t, "gpt-4", d.Model)
		text.WriteString(d.Text)
	}
	assert.Equal(t, "This is a summary.", text.String())
	assert.Equal(t, "This is a summary.", reply.Text)

	stored, err := threads.Messages(ctx, "t", threadID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, model.RoleUser, stored[0].Role)
	assert.Equal(t, model.RoleAssistant, stored[1].Role)
	assert.True(t, stored[1].Complete)

	thread, err := threads.Get(ctx, "t", threadID)
	require.NoError(t, err)
	assert.Equal(t, 2, thread.MessageCount)
}

func TestSendWithStreamAbortedByCallback(t *testing.T) {
	threads, messages := newServices(t)
	ctx := context.Background()
	_, err := threads.Create(ctx, "t", "u", &model.CreateThreadRequest{ID: threadID})
	require.NoError(t, err)

	gone := errors.New("client disconnected")
	_, err = messages.SendWithStream(ctx, "t", threadID,
		&model.SendMessageRequest{Role: model.RoleUser, Text: "a b c"},
		func(model.StreamDelta) error { return gone })
	assert.ErrorIs(t, err, gone)

	stored, err := threads.Messages(ctx, "t", threadID)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestSendWithStreamUnknownThread(t *testing.T) {
	_, messages := newServices(t)
	_, err := messages.SendWithStream(context.Background(), "t", threadID,
		&model.SendMessageRequest{Role: model.RoleUser, Text: "hi"},
		func(model.StreamDelta) error { return nil })
	assert.ErrorIs(t, err, ErrThreadNotFound)
}

func TestGenerateTitle(t *testing.T) {
	threads, messages := newServices(t)
	ctx := context.Background()
	_, err := threads.Create(ctx, "t", "u", &model.CreateThreadRequest{ID: threadID})
	require.NoError(t, err)

	title, err := messages.GenerateTitle(ctx, "t", threadID)
	require.NoError(t, err)
	assert.Empty(t, title)

	_, err = messages.SendWithStream(ctx, "t", threadID,
		&model.SendMessageRequest{Role: model.RoleUser, Text: "Summarize this quarterly report for the board of directors please"},
		func(model.StreamDelta) error { return nil })
	require.NoError(t, err)

	title, err = messages.GenerateTitle(ctx, "t", threadID)
	require.NoError(t, err)
	assert.Equal(t, "Summarize this quarterly report for the board of", title)

	thread, err := threads.Get(ctx, "t", threadID)
	require.NoError(t, err)
	assert.Equal(t, title, thread.Title)
}

func TestCleanTitle(t *testing.T) {
	assert.Equal(t, "Quarterly report", cleanTitle(`  "Quarterly report" `))
	assert.LessOrEqual(t, len(cleanTitle(strings.Repeat("é", 100))), maxTitleLength)
}
