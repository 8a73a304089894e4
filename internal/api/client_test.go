package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/threadchat/internal/auth"
	"github.com/capitalize-ai/threadchat/internal/model"
	"github.com/capitalize-ai/threadchat/internal/sse"
)

func TestCreateThread(t *testing.T) {
	var got model.CreateThreadRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/threads", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("X-Correlation-ID"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(model.Thread{ID: got.ID, Name: got.Name, Model: got.Model})
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", WithTokenSource(auth.StaticToken("tok")))
	thread, err := c.CreateThread(context.Background(), &model.CreateThreadRequest{
		ID:           "0190f0f0-0000-7000-8000-000000000001",
		Name:         "New chat",
		Instructions: "be brief",
		Model:        "gpt-4",
	})
	require.NoError(t, err)
	assert.Equal(t, "0190f0f0-0000-7000-8000-000000000001", thread.ID)
	assert.Equal(t, "be brief", got.Instructions)
	assert.Equal(t, "be brief", thread.Instructions)
}

func TestCreateThreadMismatchedID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(model.Thread{ID: "someone-else"})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).CreateThread(context.Background(), &model.CreateThreadRequest{ID: "mine"})
	require.Error(t, err)
}

func TestStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"conversation not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.OpenStream(context.Background(), "t1", &model.SendMessageRequest{Role: model.RoleUser, Text: "hi"})
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
	assert.Contains(t, se.Body, "conversation not found")
	assert.True(t, errors.Is(err, ErrRequestFailed))
}

func TestOpenStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/threads/t1/messages", r.URL.Path)
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))

		var req model.SendMessageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, model.RoleUser, req.Role)
		assert.Equal(t, "img-1", req.Metadata["image"])

		sse.SetHeaders(w)
		sse.WriteFrame(w, model.StreamDelta{ID: "a1", Text: "hel", Model: req.Model})
		sse.WriteFrame(w, model.StreamDelta{ID: "a1", Text: "lo", Model: req.Model})
	}))
	defer srv.Close()

	body, err := NewClient(srv.URL).OpenStream(context.Background(), "t1", &model.SendMessageRequest{
		Role:     model.RoleUser,
		Text:     "hi",
		Model:    "gpt-4",
		Metadata: map[string]any{"image": "img-1"},
	})
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)

	records := sse.NewDecoder().Feed(data)
	require.Len(t, records, 2)
	assert.Equal(t, "hel", records[0].Delta.Text)
	assert.Equal(t, "gpt-4", records[1].Delta.Model)
}

func TestOpenStreamCancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sse.SetHeaders(w)
		sse.WriteFrame(w, model.StreamDelta{ID: "a1", Text: "x", Model: "m"})
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	body, err := NewClient(srv.URL).OpenStream(ctx, "t1", &model.SendMessageRequest{Role: model.RoleUser, Text: "hi"})
	require.NoError(t, err)
	defer body.Close()

	buf := make([]byte, 256)
	n, err := body.Read(buf)
	require.NoError(t, err)
	assert.Positive(t, n)

	done := make(chan error, 1)
	go func() {
		_, err := io.ReadAll(body)
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("read did not abort after cancel")
	}
}

func TestGenerateTitle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/threads/t1/title", r.URL.Path)
		json.NewEncoder(w).Encode(model.TitleResponse{Title: "Summaries"})
	}))
	defer srv.Close()

	title, err := NewClient(srv.URL).GenerateTitle(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "Summaries", title)
}

func TestHMACTokenSourceHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		const prefix = "Bearer "
		h := r.Header.Get("Authorization")
		require.True(t, len(h) > len(prefix))
		claims, err := auth.Parse("s3cret", h[len(prefix):])
		require.NoError(t, err)
		assert.Equal(t, "tenant-a", claims.TenantID)
		json.NewEncoder(w).Encode(model.TitleResponse{Title: "ok"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithTokenSource(auth.NewHMACTokenSource("s3cret", "u1", "tenant-a", time.Minute)))
	_, err := c.GenerateTitle(context.Background(), "t1")
	require.NoError(t, err)
}

func TestListMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v1/threads/t%201/messages", r.URL.EscapedPath())
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Write([]byte(`{"messages":[
			{"id":"u1","role":"user","text":"hi","complete":true},
			{"id":"a1","role":"assistant","text":"hello","model":"gpt-4","complete":true}
		]}`))
	}))
	defer srv.Close()

	msgs, err := NewClient(srv.URL).ListMessages(context.Background(), "t 1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, "hello", msgs[1].Text)
	assert.Equal(t, "gpt-4", msgs[1].Model)
	assert.True(t, msgs[1].Complete)
}

func TestListMessagesNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"thread not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).ListMessages(context.Background(), "missing")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
}
