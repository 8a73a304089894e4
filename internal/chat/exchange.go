package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/threadchat/internal/model"
	"github.com/capitalize-ai/threadchat/internal/sse"
	"github.com/capitalize-ai/threadchat/pkg/logger"
	"github.com/capitalize-ai/threadchat/pkg/metrics"
)

// Exchange is one send-through-reply cycle. Its mutable fields are guarded
// by the owning controller's mutex.
type Exchange struct {
	ID string

	ctrl     *Controller
	request  model.ThreadMessage
	model    string
	threadID string
	started  time.Time
	cancel   context.CancelFunc
	span     trace.Span
	log      *logger.Logger
	done     chan struct{}
	timedOut atomic.Bool

	status       model.ExchangeStatus
	err          error
	assistantIdx int
	records      int
}

// Status returns the exchange status.
func (ex *Exchange) Status() model.ExchangeStatus {
	ex.ctrl.mu.Lock()
	defer ex.ctrl.mu.Unlock()
	return ex.status
}

// Err returns the terminal error; nil while running and after completion.
func (ex *Exchange) Err() error {
	ex.ctrl.mu.Lock()
	defer ex.ctrl.mu.Unlock()
	return ex.err
}

// Done is closed once the exchange has stopped touching the network.
func (ex *Exchange) Done() <-chan struct{} {
	return ex.done
}

// Wait blocks until the exchange ends and returns its terminal error, nil
// when it completed.
func (ex *Exchange) Wait(ctx context.Context) error {
	select {
	case <-ex.done:
		return ex.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel aborts the exchange. The transcript is left as it is at the moment
// of the call. Cancelling a finished exchange is a no-op.
func (ex *Exchange) Cancel() {
	if ex.ctrl.fail(ex, model.StatusCancelled, ErrCancelled) {
		ex.span.SetStatus(codes.Error, ErrCancelled.Error())
	}
	ex.cancel()
}

func (ex *Exchange) run(ctx context.Context) {
	c := ex.ctrl
	defer close(ex.done)
	defer ex.span.End()
	defer ex.cancel()
	defer func() {
		if r := recover(); r != nil {
			ex.log.Error("exchange panicked", zap.Any("panic", r))
			ex.end(transportError(fmt.Errorf("panic: %v", r)))
		}
	}()

	if req, isNew := c.createRequest(); isNew {
		created, err := c.backend.CreateThread(ctx, req)
		if err != nil {
			ex.endWith(ctx, threadCreationError(err))
			return
		}
		c.markThreadCreated(created)
		ex.span.AddEvent("thread_created")
		ex.log.Info("thread created")
	}

	if !ex.transition(model.StatusStreaming) {
		return
	}

	// The idle timer covers the wait for response headers as well as every
	// read of the body.
	var timer *time.Timer
	if c.idleTimeout > 0 {
		timer = time.AfterFunc(c.idleTimeout, func() {
			ex.timedOut.Store(true)
			ex.cancel()
		})
		defer timer.Stop()
	}

	body, err := c.backend.OpenStream(ctx, ex.threadID, &model.SendMessageRequest{
		Role:     model.RoleUser,
		Text:     ex.request.Text,
		Model:    ex.model,
		Metadata: ex.request.Metadata,
	})
	if err != nil {
		ex.endWith(ctx, transportError(err))
		return
	}
	defer body.Close()

	var r io.Reader = body
	if timer != nil {
		timer.Reset(c.idleTimeout)
		r = &idleReader{r: body, timer: timer, timeout: c.idleTimeout}
	}
	ex.consume(ctx, r)
}

// consume reads the body, feeding the decoder until end of input, an error,
// or cancellation.
func (ex *Exchange) consume(ctx context.Context, body io.Reader) {
	c := ex.ctrl
	dec := sse.NewDecoder(sse.WithErrorHandler(func(e *sse.DecodeError) {
		metrics.DecodeErrorsTotal.Inc()
		ex.log.Debug("dropped stream frame", zap.String("line", e.Line), zap.Error(e.Err))
	}))

	buf := make([]byte, c.readSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if ex.Status() != model.StatusStreaming {
				return
			}
			for _, rec := range dec.Feed(buf[:n]) {
				if !ex.apply(rec) {
					return
				}
			}
		}

		if errors.Is(err, io.EOF) {
			dec.Flush()
			c.finalize(ex)
			return
		}
		if err != nil {
			dec.Flush()
			ex.endWith(ctx, transportError(err))
			return
		}
	}
}

// apply hands one record to the controller. It reports false when the
// exchange must stop reading.
func (ex *Exchange) apply(rec sse.Record) bool {
	metrics.RecordStreamRecord(string(rec.Kind))

	switch rec.Kind {
	case sse.KindDelta:
		return ex.ctrl.applyDelta(ex, rec.Delta)
	case sse.KindError:
		msg := rec.Err.Message
		if rec.Err.Code != "" {
			msg = rec.Err.Code + ": " + msg
		}
		ex.end(transportError(fmt.Errorf("backend reported %s", msg)))
		return false
	default:
		ex.log.Debug("ignoring unknown stream record", zap.ByteString("payload", rec.Raw))
		return true
	}
}

// transition moves an awaiting exchange to status and notifies observers.
func (ex *Exchange) transition(status model.ExchangeStatus) bool {
	c := ex.ctrl
	c.mu.Lock()
	if ex.status.Terminal() {
		c.mu.Unlock()
		return false
	}
	ex.status = status
	c.status = status
	c.commitLocked()
	return true
}

// endWith classifies err against the exchange context: an idle timeout is a
// transport failure, any other cancellation is a cancel.
func (ex *Exchange) endWith(ctx context.Context, err error) {
	switch {
	case ex.timedOut.Load():
		ex.end(transportError(ErrStreamIdle))
	case ctx.Err() != nil:
		ex.ctrl.fail(ex, model.StatusCancelled, ErrCancelled)
	default:
		ex.end(err)
	}
}

func (ex *Exchange) end(err error) {
	if ex.ctrl.fail(ex, model.StatusFailed, err) {
		ex.span.RecordError(err)
		ex.span.SetStatus(codes.Error, err.Error())
	}
}

// idleReader re-arms the idle timer whenever a read returns data.
type idleReader struct {
	r       io.Reader
	timer   *time.Timer
	timeout time.Duration
}

func (r *idleReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		r.timer.Reset(r.timeout)
	}
	return n, err
}
