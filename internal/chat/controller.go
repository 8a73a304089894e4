// Package chat keeps the local transcript of one thread and drives each
// exchange with the assistant backend: optimistic echo of the user's
// message, lazy thread creation, and folding of the streamed reply into a
// single assistant message.
package chat

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/threadchat/internal/events"
	"github.com/capitalize-ai/threadchat/internal/model"
	"github.com/capitalize-ai/threadchat/pkg/logger"
	"github.com/capitalize-ai/threadchat/pkg/metrics"
	"github.com/capitalize-ai/threadchat/pkg/tracing"
)

// Backend is the thread API as seen by the controller.
type Backend interface {
	// CreateThread creates the thread under the identifier in req.
	CreateThread(ctx context.Context, req *model.CreateThreadRequest) (*model.Thread, error)

	// OpenStream sends a user message. The returned body is the reply's
	// event stream and must abort when ctx is cancelled.
	OpenStream(ctx context.Context, threadID string, req *model.SendMessageRequest) (io.ReadCloser, error)

	// GenerateTitle asks the backend to title the thread.
	GenerateTitle(ctx context.Context, threadID string) (string, error)
}

// Snapshot is a consistent copy of the controller state at one mutation.
type Snapshot struct {
	Thread   model.Thread
	Status   model.ExchangeStatus
	Messages []model.ThreadMessage
	Err      error
}

// Last returns the last transcript message, if any.
func (s Snapshot) Last() (model.ThreadMessage, bool) {
	if len(s.Messages) == 0 {
		return model.ThreadMessage{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

const (
	defaultThreadName   = "New chat"
	defaultReadSize     = 4 << 10
	titleTimeout        = 30 * time.Second
	eventPublishTimeout = 5 * time.Second
)

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller logger.
func WithLogger(log *logger.Logger) Option {
	return func(c *Controller) { c.logger = log }
}

// WithEventSink publishes terminal exchange events to sink.
func WithEventSink(sink events.Sink) Option {
	return func(c *Controller) { c.sink = sink }
}

// WithDefaultModel is used when Send is called without a model.
func WithDefaultModel(name string) Option {
	return func(c *Controller) { c.defaultModel = name }
}

// WithSystemPrompt sets the instructions sent when creating a new thread.
func WithSystemPrompt(prompt string) Option {
	return func(c *Controller) { c.thread.Instructions = prompt }
}

// WithThreadName sets the name sent when creating a new thread.
func WithThreadName(name string) Option {
	return func(c *Controller) { c.thread.Name = name }
}

// WithIdleTimeout fails a stream when no chunk arrives within d. Zero
// disables the timeout.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Controller) { c.idleTimeout = d }
}

// WithReadSize sets the size of each read from the response body.
func WithReadSize(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.readSize = n
		}
	}
}

// WithHistory seeds the transcript of an existing thread.
func WithHistory(messages []model.ThreadMessage) Option {
	return func(c *Controller) {
		for _, m := range messages {
			c.messages = append(c.messages, m.Clone())
			if m.Role == model.RoleAssistant && m.Complete {
				c.titled = true
			}
		}
	}
}

// WithTitleGeneration toggles title generation after the first completed
// exchange. It is on by default.
func WithTitleGeneration(enabled bool) Option {
	return func(c *Controller) { c.titleEnabled = enabled }
}

// Controller owns the transcript of one thread. Only its methods mutate the
// transcript; observers read snapshots through Subscribe or the accessors.
type Controller struct {
	backend      Backend
	logger       *logger.Logger
	sink         events.Sink
	tracer       trace.Tracer
	defaultModel string
	idleTimeout  time.Duration
	readSize     int
	titleEnabled bool

	mu       sync.Mutex
	thread   model.Thread
	messages []model.ThreadMessage
	status   model.ExchangeStatus
	lastErr  error
	current  *Exchange
	titled   bool
	closed   bool

	subs    map[int]func(Snapshot)
	nextSub int

	// Snapshots waiting for delivery; delivering is set while one goroutine
	// drains the queue so that nested commits keep their order.
	pending    []Snapshot
	delivering bool

	bg sync.WaitGroup
}

// NewController creates a controller for threadID. An empty threadID
// starts a new thread whose identifier is generated on the first Send.
func NewController(backend Backend, threadID string, opts ...Option) *Controller {
	c := &Controller{
		backend:      backend,
		logger:       logger.Nop(),
		sink:         events.NopSink{},
		tracer:       tracing.Tracer("threadchat/chat"),
		readSize:     defaultReadSize,
		titleEnabled: true,
		thread: model.Thread{
			ID:   threadID,
			Name: defaultThreadName,
		},
		status: model.StatusIdle,
		subs:   make(map[int]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("chat")
	return c
}

// Subscribe registers fn to receive a snapshot after every mutation, in
// mutation order. Deliveries are serialized: when another goroutine is
// already delivering, the snapshot is queued behind it and the mutating call
// may return before fn sees it. fn must not block.
func (c *Controller) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Transcript returns a copy of the ordered message list.
func (c *Controller) Transcript() []model.ThreadMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.copyMessagesLocked()
}

// Status returns the status of the latest exchange.
func (c *Controller) Status() model.ExchangeStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Thread returns a copy of the thread descriptor.
func (c *Controller) Thread() model.Thread {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.thread
}

// Send appends the user's message to the transcript and starts an exchange
// for it. The append happens before Send returns and is never rolled back.
// Send is rejected with ErrExchangeActive while another exchange is
// awaiting or streaming; in that case nothing is appended.
//
// Cancelling ctx cancels the exchange.
func (c *Controller) Send(ctx context.Context, text, modelName string, attachments map[string]any) (*Exchange, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if c.current != nil && c.current.status.Active() {
		c.mu.Unlock()
		return nil, ErrExchangeActive
	}

	if modelName == "" {
		modelName = c.defaultModel
	}
	if c.thread.ID == "" {
		c.thread.ID = uuid.Must(uuid.NewV7()).String()
		c.thread.IsNew = true
		c.thread.Model = modelName
		c.thread.CreatedAt = time.Now()
	}

	userMsg := model.ThreadMessage{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Role:      model.RoleUser,
		Text:      text,
		Metadata:  attachments,
		Complete:  true,
		CreatedAt: time.Now(),
	}
	userMsg = userMsg.Clone()
	c.messages = append(c.messages, userMsg)

	exCtx, span := c.tracer.Start(ctx, "chat.exchange", trace.WithAttributes(
		attribute.String("thread.id", c.thread.ID),
		attribute.String("model", modelName),
		attribute.Bool("thread.new", c.thread.IsNew),
	))
	exCtx, cancel := context.WithCancel(exCtx)

	ex := &Exchange{
		ID:           uuid.Must(uuid.NewV7()).String(),
		ctrl:         c,
		request:      userMsg,
		model:        modelName,
		threadID:     c.thread.ID,
		assistantIdx: -1,
		status:       model.StatusAwaiting,
		started:      time.Now(),
		cancel:       cancel,
		span:         span,
		done:         make(chan struct{}),
	}
	ex.log = c.logger.WithThread(ex.threadID).With(zap.String("exchange_id", ex.ID))

	c.current = ex
	c.status = model.StatusAwaiting
	c.lastErr = nil
	metrics.ExchangesActive.Inc()

	c.commitLocked()

	ex.log.Debug("exchange started", zap.String("model", modelName))
	go ex.run(exCtx)

	return ex, nil
}

// Cancel cancels the active exchange, if any. The transcript is left as it
// is. Calling Cancel when nothing is active is a no-op.
func (c *Controller) Cancel() {
	c.mu.Lock()
	ex := c.current
	c.mu.Unlock()

	if ex != nil {
		ex.Cancel()
	}
}

// Close cancels the active exchange and waits for it and for any background
// side effects to finish. Later sends fail with ErrClosed.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	ex := c.current
	c.mu.Unlock()

	if ex != nil {
		ex.Cancel()
		<-ex.done
	}
	c.bg.Wait()
}

// applyDelta folds one streamed fragment into the exchange's assistant
// message, creating it on the first fragment. It reports false once the
// exchange is no longer streaming, in which case nothing was applied.
func (c *Controller) applyDelta(ex *Exchange, d model.StreamDelta) bool {
	c.mu.Lock()
	if ex.status != model.StatusStreaming {
		c.mu.Unlock()
		return false
	}

	if ex.assistantIdx < 0 {
		id := d.ID
		if id == "" {
			id = uuid.Must(uuid.NewV7()).String()
		}
		modelName := d.Model
		if modelName == "" {
			modelName = ex.model
		}
		c.messages = append(c.messages, model.ThreadMessage{
			ID:        id,
			Role:      model.RoleAssistant,
			Text:      d.Text,
			Model:     modelName,
			CreatedAt: time.Now(),
		})
		ex.assistantIdx = len(c.messages) - 1
		ex.span.AddEvent("first_delta")
	} else {
		c.messages[ex.assistantIdx].Text += d.Text
	}
	ex.records++

	c.commitLocked()
	return true
}

// finalize seals the exchange as complete.
func (c *Controller) finalize(ex *Exchange) {
	c.mu.Lock()
	if ex.status.Terminal() {
		c.mu.Unlock()
		return
	}
	if ex.assistantIdx >= 0 {
		c.messages[ex.assistantIdx].Complete = true
	}
	generateTitle := c.titleEnabled && !c.titled
	c.titled = true

	c.terminateLocked(ex, model.StatusComplete, nil)

	if generateTitle {
		c.generateTitle(ex.threadID)
	}
}

// fail ends the exchange with err. Text already applied stays, and the
// assistant message stays incomplete. It reports false if the exchange had
// already ended.
func (c *Controller) fail(ex *Exchange, status model.ExchangeStatus, err error) bool {
	c.mu.Lock()
	if ex.status.Terminal() {
		c.mu.Unlock()
		return false
	}
	c.terminateLocked(ex, status, &ExchangeError{Status: status, Err: err})
	return true
}

// terminateLocked records the terminal status, notifies subscribers and
// releases c.mu.
func (c *Controller) terminateLocked(ex *Exchange, status model.ExchangeStatus, err error) {
	ex.status = status
	ex.err = err
	c.status = status
	c.lastErr = err

	event := &model.ExchangeEvent{
		ID:         ex.ID,
		ThreadID:   ex.threadID,
		Status:     status,
		Model:      ex.model,
		Records:    ex.records,
		DurationMs: time.Since(ex.started).Milliseconds(),
		CreatedAt:  time.Now(),
	}
	if ex.assistantIdx >= 0 {
		event.ReplyLength = len(c.messages[ex.assistantIdx].Text)
	}
	if err != nil {
		event.Reason = err.Error()
	}

	c.commitLocked()

	metrics.ExchangesActive.Dec()
	metrics.RecordExchange(string(status), time.Since(ex.started).Seconds())

	switch status {
	case model.StatusComplete:
		ex.log.Info("exchange complete", zap.Int("records", event.Records), zap.Int("reply_length", event.ReplyLength))
	case model.StatusCancelled:
		ex.log.Info("exchange cancelled", zap.Int("records", event.Records))
	default:
		ex.log.Warn("exchange failed", zap.Error(err), zap.Int("records", event.Records))
	}

	c.publish(event)
}

// markThreadCreated records the backend's acknowledgement of a new thread.
func (c *Controller) markThreadCreated(created *model.Thread) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.thread.IsNew = false
	if created == nil {
		return
	}
	if created.Title != "" {
		c.thread.Title = created.Title
	}
	if !created.CreatedAt.IsZero() {
		c.thread.CreatedAt = created.CreatedAt
	}
	c.thread.UpdatedAt = created.UpdatedAt
}

// createRequest builds the create-thread request for the current thread.
func (c *Controller) createRequest() (*model.CreateThreadRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.thread.IsNew {
		return nil, false
	}
	return &model.CreateThreadRequest{
		ID:           c.thread.ID,
		Name:         c.thread.Name,
		Description:  c.thread.Description,
		Instructions: c.thread.Instructions,
		Model:        c.thread.Model,
	}, true
}

// generateTitle runs title generation in the background. Failures are
// logged and otherwise ignored.
func (c *Controller) generateTitle(threadID string) {
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), titleTimeout)
		defer cancel()

		title, err := c.backend.GenerateTitle(ctx, threadID)
		if err != nil {
			c.logger.Warn("title generation failed", zap.String("thread_id", threadID), zap.Error(err))
			return
		}
		if title == "" {
			return
		}

		c.mu.Lock()
		if c.thread.ID != threadID {
			c.mu.Unlock()
			return
		}
		c.thread.Title = title
		c.commitLocked()
	}()
}

func (c *Controller) publish(event *model.ExchangeEvent) {
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), eventPublishTimeout)
		defer cancel()

		if err := c.sink.Publish(ctx, event); err != nil {
			c.logger.Warn("failed to publish exchange event",
				zap.String("thread_id", event.ThreadID),
				zap.String("exchange_id", event.ID),
				zap.Error(err),
			)
		}
	}()
}

// commitLocked queues a snapshot of the current state for subscribers and
// delivers the queue unless another goroutine is already doing so. It must
// be called with c.mu held and returns with it released.
func (c *Controller) commitLocked() {
	c.pending = append(c.pending, c.snapshotLocked())
	if c.delivering {
		c.mu.Unlock()
		return
	}

	c.delivering = true
	for len(c.pending) > 0 {
		batch := c.pending
		c.pending = nil
		subs := make([]func(Snapshot), 0, len(c.subs))
		for id := 0; id < c.nextSub; id++ {
			if fn, ok := c.subs[id]; ok {
				subs = append(subs, fn)
			}
		}
		c.mu.Unlock()

		for _, snap := range batch {
			for _, fn := range subs {
				c.deliver(fn, snap)
			}
		}

		c.mu.Lock()
	}
	c.delivering = false
	c.mu.Unlock()
}

func (c *Controller) deliver(fn func(Snapshot), snap Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("subscriber panicked", zap.Any("panic", r))
		}
	}()
	fn(snap)
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		Thread:   c.thread,
		Status:   c.status,
		Messages: c.copyMessagesLocked(),
		Err:      c.lastErr,
	}
}

func (c *Controller) copyMessagesLocked() []model.ThreadMessage {
	out := make([]model.ThreadMessage, len(c.messages))
	for i, m := range c.messages {
		out[i] = m.Clone()
	}
	return out
}
