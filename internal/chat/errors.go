package chat

import (
	"errors"
	"fmt"

	"github.com/capitalize-ai/threadchat/internal/model"
)

var (
	// ErrThreadCreationFailed means the backend did not create the thread.
	// The user message stays in the transcript.
	ErrThreadCreationFailed = errors.New("thread creation failed")

	// ErrStreamTransport covers a rejected stream (non-2xx, see
	// api.StatusError), a dropped connection, an in-band error frame and the
	// idle timeout. Partial assistant text is kept.
	ErrStreamTransport = errors.New("stream transport error")

	// ErrStreamIdle is wrapped by ErrStreamTransport when no chunk arrived
	// within the idle timeout.
	ErrStreamIdle = errors.New("stream idle timeout")

	// ErrCancelled means the exchange was cancelled before it finished.
	ErrCancelled = errors.New("exchange cancelled")

	// ErrExchangeActive rejects a send while another exchange holds the thread.
	ErrExchangeActive = errors.New("an exchange is already in progress for this thread")

	// ErrClosed rejects a send on a closed controller.
	ErrClosed = errors.New("controller closed")
)

// ExchangeError is the terminal error of a failed or cancelled exchange.
type ExchangeError struct {
	Status model.ExchangeStatus
	Err    error
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("exchange %s: %v", e.Status, e.Err)
}

func (e *ExchangeError) Unwrap() error {
	return e.Err
}

func threadCreationError(cause error) error {
	return fmt.Errorf("%w: %w", ErrThreadCreationFailed, cause)
}

func transportError(cause error) error {
	return fmt.Errorf("%w: %w", ErrStreamTransport, cause)
}
