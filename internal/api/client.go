// Package api is the HTTP client for the thread API consumed by the chat
// controller.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/threadchat/internal/auth"
	"github.com/capitalize-ai/threadchat/internal/model"
	"github.com/capitalize-ai/threadchat/pkg/logger"
	"github.com/capitalize-ai/threadchat/pkg/tracing"
)

// ErrRequestFailed is matched by every StatusError.
var ErrRequestFailed = errors.New("API request failed")

const (
	defaultRequestTimeout = 30 * time.Second
	maxErrorBody          = 4 << 10
)

// StatusError is a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%v: %d %s", ErrRequestFailed, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("%v: %d - %s", ErrRequestFailed, e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error {
	return ErrRequestFailed
}

// Client talks to the thread API.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	tokens         auth.TokenSource
	requestTimeout time.Duration
	logger         *logger.Logger
	tracer         trace.Tracer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client. The client must not set
// an overall Timeout, since it would cut long streams short.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTokenSource sets the bearer token source.
func WithTokenSource(ts auth.TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// WithRequestTimeout bounds the non-streaming calls.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(log *logger.Logger) Option {
	return func(c *Client) { c.logger = log }
}

// NewClient creates a client for the API rooted at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimSuffix(baseURL, "/"),
		httpClient:     &http.Client{},
		tokens:         auth.StaticToken(""),
		requestTimeout: defaultRequestTimeout,
		logger:         logger.Nop(),
		tracer:         tracing.Tracer("threadchat/api"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateThread creates a thread under the identifier carried in req.
func (c *Client) CreateThread(ctx context.Context, req *model.CreateThreadRequest) (*model.Thread, error) {
	ctx, span := c.tracer.Start(ctx, "api.CreateThread", trace.WithAttributes(attribute.String("thread.id", req.ID)))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	resp, err := c.do(ctx, http.MethodPost, "/api/v1/threads", req, "application/json")
	if err != nil {
		recordErr(span, err)
		return nil, err
	}
	defer resp.Body.Close()

	thread := &model.Thread{
		ID:           req.ID,
		Name:         req.Name,
		Description:  req.Description,
		Instructions: req.Instructions,
		Model:        req.Model,
	}
	if err := json.NewDecoder(resp.Body).Decode(thread); err != nil && !errors.Is(err, io.EOF) {
		recordErr(span, err)
		return nil, fmt.Errorf("failed to decode thread: %w", err)
	}
	if thread.ID != req.ID {
		err := fmt.Errorf("backend created thread %q, requested %q", thread.ID, req.ID)
		recordErr(span, err)
		return nil, err
	}

	return thread, nil
}

// OpenStream sends a message and returns the event stream body. The body is
// only returned for a 2xx status; cancelling ctx aborts it.
func (c *Client) OpenStream(ctx context.Context, threadID string, req *model.SendMessageRequest) (io.ReadCloser, error) {
	ctx, span := c.tracer.Start(ctx, "api.OpenStream", trace.WithAttributes(
		attribute.String("thread.id", threadID),
		attribute.String("model", req.Model),
	))
	defer span.End()

	resp, err := c.do(ctx, http.MethodPost, "/api/v1/threads/"+url.PathEscape(threadID)+"/messages", req, "text/event-stream")
	if err != nil {
		recordErr(span, err)
		return nil, err
	}

	return resp.Body, nil
}

// GenerateTitle asks the backend to title the thread from its transcript.
func (c *Client) GenerateTitle(ctx context.Context, threadID string) (string, error) {
	ctx, span := c.tracer.Start(ctx, "api.GenerateTitle", trace.WithAttributes(attribute.String("thread.id", threadID)))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	resp, err := c.do(ctx, http.MethodPost, "/api/v1/threads/"+url.PathEscape(threadID)+"/title", nil, "application/json")
	if err != nil {
		recordErr(span, err)
		return "", err
	}
	defer resp.Body.Close()

	var out model.TitleResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		recordErr(span, err)
		return "", fmt.Errorf("failed to decode title: %w", err)
	}
	return out.Title, nil
}

// ListMessages returns the stored transcript of a thread, oldest first.
func (c *Client) ListMessages(ctx context.Context, threadID string) ([]model.ThreadMessage, error) {
	ctx, span := c.tracer.Start(ctx, "api.ListMessages", trace.WithAttributes(attribute.String("thread.id", threadID)))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	resp, err := c.do(ctx, http.MethodGet, "/api/v1/threads/"+url.PathEscape(threadID)+"/messages", nil, "application/json")
	if err != nil {
		recordErr(span, err)
		return nil, err
	}
	defer resp.Body.Close()

	var out struct {
		Messages []model.ThreadMessage `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		recordErr(span, err)
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	return out.Messages, nil
}

// do issues a request and converts non-2xx responses into StatusError.
func (c *Client) do(ctx context.Context, method, path string, body any, accept string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("X-Correlation-ID", uuid.New().String())

	token, err := c.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to obtain token: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	c.logger.Debug("HTTP request",
		zap.String("method", method),
		zap.String("path", path),
		zap.String("correlation_id", req.Header.Get("X-Correlation-ID")),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Warn("HTTP request rejected",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
		)
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	return resp, nil
}

func recordErr(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
