package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/threadchat/internal/chat"
	"github.com/capitalize-ai/threadchat/internal/config"
	"github.com/capitalize-ai/threadchat/internal/model"
	"github.com/capitalize-ai/threadchat/internal/sse"
)

func TestPrinterStreamsIncrementally(t *testing.T) {
	var out bytes.Buffer
	p := newPrinter(&out)

	user := model.ThreadMessage{ID: "u1", Role: model.RoleUser, Text: "hi"}
	p.update(chat.Snapshot{Status: model.StatusAwaiting, Messages: []model.ThreadMessage{user}})
	p.update(chat.Snapshot{Status: model.StatusStreaming, Messages: []model.ThreadMessage{user}})
	p.update(chat.Snapshot{Status: model.StatusStreaming, Messages: []model.ThreadMessage{user,
		{ID: "a1", Role: model.RoleAssistant, Text: "This "}}})
	p.update(chat.Snapshot{Status: model.StatusStreaming, Messages: []model.ThreadMessage{user,
		{ID: "a1", Role: model.RoleAssistant, Text: "This is"}}})
	p.update(chat.Snapshot{Status: model.StatusFailed, Err: errors.New("connection reset"), Messages: []model.ThreadMessage{user,
		{ID: "a1", Role: model.RoleAssistant, Text: "This is"}}})

	assert.Equal(t, "This is\n[failed: connection reset]\n", out.String())
}

func TestPrinterTitle(t *testing.T) {
	var out bytes.Buffer
	p := newPrinter(&out)

	snap := chat.Snapshot{Status: model.StatusComplete, Thread: model.Thread{Title: "Greetings"}}
	p.update(snap)
	p.update(snap)

	assert.Equal(t, "\n[thread: Greetings]\n", out.String())
}

func TestRunAgainstServer(t *testing.T) {
	var sent atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/v1/threads/thread-1/messages" && r.Method == http.MethodGet:
			w.Write([]byte(`{"messages":[]}`))
		case r.URL.Path == "/api/v1/threads/thread-1/messages":
			sse.SetHeaders(w)
			sent.Add(1)
			sse.WriteFrame(w, model.StreamDelta{ID: "a1", Text: "Hello ", Model: "echo-1"})
			sse.WriteFrame(w, model.StreamDelta{ID: "a1", Text: "there", Model: "echo-1"})
			sse.WriteDone(w)
		case strings.HasSuffix(r.URL.Path, "/title"):
			w.Write([]byte(`{"title":""}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	cfg := config.Load()
	cfg.Client.APIURL = srv.URL
	cfg.Client.APIToken = "token"
	cfg.EventsEnabled = false
	cfg.TracingEnabled = false

	var out bytes.Buffer
	err := run(context.Background(), cfg, options{threadID: "thread-1"}, strings.NewReader("hi\n\n"), &out)
	require.NoError(t, err)

	assert.Equal(t, int32(1), sent.Load())
	assert.Contains(t, out.String(), "Hello there\n")
}

func TestRunResumesThreadHistory(t *testing.T) {
	var titles atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/v1/threads/thread-1/messages" && r.Method == http.MethodGet:
			w.Write([]byte(`{"messages":[
				{"id":"u0","role":"user","text":"earlier question","complete":true},
				{"id":"a0","role":"assistant","text":"earlier answer","complete":true}
			]}`))
		case r.URL.Path == "/api/v1/threads/thread-1/messages":
			sse.SetHeaders(w)
			sse.WriteFrame(w, model.StreamDelta{ID: "a1", Text: "Hello there", Model: "echo-1"})
			sse.WriteDone(w)
		case strings.HasSuffix(r.URL.Path, "/title"):
			titles.Add(1)
			w.Write([]byte(`{"title":"Overwritten"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	cfg := config.Load()
	cfg.Client.APIURL = srv.URL
	cfg.Client.APIToken = "token"
	cfg.EventsEnabled = false
	cfg.TracingEnabled = false

	var out bytes.Buffer
	err := run(context.Background(), cfg, options{threadID: "thread-1"}, strings.NewReader("hi\n"), &out)
	require.NoError(t, err)

	assert.Contains(t, out.String(), "> earlier question\nearlier answer\n")
	assert.Contains(t, out.String(), "Hello there\n")
	assert.Equal(t, int32(0), titles.Load())
	assert.NotContains(t, out.String(), "Overwritten")
}

func TestRunUnknownThread(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"thread not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	cfg := config.Load()
	cfg.Client.APIURL = srv.URL
	cfg.Client.APIToken = "token"
	cfg.EventsEnabled = false
	cfg.TracingEnabled = false

	var out bytes.Buffer
	err := run(context.Background(), cfg, options{threadID: "missing"}, strings.NewReader(""), &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}
