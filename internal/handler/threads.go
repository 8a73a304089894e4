package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/threadchat/internal/middleware"
	"github.com/capitalize-ai/threadchat/internal/model"
	"github.com/capitalize-ai/threadchat/internal/service"
	"github.com/capitalize-ai/threadchat/internal/sse"
	"github.com/capitalize-ai/threadchat/pkg/logger"
	"github.com/capitalize-ai/threadchat/pkg/metrics"
)

const defaultKeepAlive = 15 * time.Second

// ThreadHandler handles thread and message endpoints.
type ThreadHandler struct {
	threadService  *service.ThreadService
	messageService *service.MessageService
	logger         *logger.Logger
	keepAlive      time.Duration
}

// NewThreadHandler creates a new thread handler. keepAlive is the interval
// between comment lines on an idle event stream; zero uses the default.
func NewThreadHandler(
	threadSvc *service.ThreadService,
	msgSvc *service.MessageService,
	log *logger.Logger,
	keepAlive time.Duration,
) *ThreadHandler {
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	return &ThreadHandler{
		threadService:  threadSvc,
		messageService: msgSvc,
		logger:         log,
		keepAlive:      keepAlive,
	}
}

// Create handles POST /api/v1/threads
func (h *ThreadHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req model.CreateThreadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateThreadID(req.ID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateName(req.Name); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	thread, err := h.threadService.Create(ctx, middleware.GetTenantID(ctx), middleware.GetUserID(ctx), &req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	status := http.StatusOK
	if thread.IsNew {
		status = http.StatusCreated
	}
	writeJSON(w, status, thread)
}

// Get handles GET /api/v1/threads/{id}
func (h *ThreadHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	threadID := chi.URLParam(r, "id")

	thread, err := h.threadService.Get(ctx, middleware.GetTenantID(ctx), threadID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, thread)
}

// ListMessages handles GET /api/v1/threads/{id}/messages
func (h *ThreadHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	threadID := chi.URLParam(r, "id")

	messages, err := h.threadService.Messages(ctx, middleware.GetTenantID(ctx), threadID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"messages": messages,
	})
}

// SendMessage handles POST /api/v1/threads/{id}/messages. The reply is
// streamed as one data line per fragment, ended by [DONE]. Failures after
// the stream has started are reported in-band as an error frame.
func (h *ThreadHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)
	threadID := chi.URLParam(r, "id")

	var req model.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Role == "" {
		req.Role = model.RoleUser
	}
	if req.Role != model.RoleUser {
		writeError(w, http.StatusBadRequest, "only user messages can be sent")
		return
	}
	if err := middleware.ValidateMessageText(req.Text); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Unknown threads are rejected before the stream starts.
	if _, err := h.threadService.Get(ctx, tenantID, threadID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	if _, ok := w.(http.Flusher); !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	sse.SetHeaders(w)
	w.WriteHeader(http.StatusOK)

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	log := h.logger.WithContext(middleware.GetCorrelationID(ctx), tenantID, middleware.GetUserID(ctx)).
		With(zap.String("thread_id", threadID))

	sw := &streamWriter{w: w, log: log}
	stop := sw.keepAlive(h.keepAlive)
	defer stop()

	_, err := h.messageService.SendWithStream(ctx, tenantID, threadID, &req, func(d model.StreamDelta) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return sw.frame(d)
	})
	if err != nil {
		if ctx.Err() != nil {
			log.Info("client disconnected during stream")
			return
		}
		log.Warn("stream failed", zap.Error(err))
		if werr := sw.frame(model.StreamError{Error: model.ErrorBody{Code: "stream_error", Message: err.Error()}}); werr != nil {
			log.Debug("failed to write error frame", zap.Error(werr))
		}
		return
	}

	if err := sw.done(); err != nil {
		log.Debug("failed to write end of stream", zap.Error(err))
	}
}

// GenerateTitle handles POST /api/v1/threads/{id}/title
func (h *ThreadHandler) GenerateTitle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	threadID := chi.URLParam(r, "id")

	title, err := h.messageService.GenerateTitle(ctx, middleware.GetTenantID(ctx), threadID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.TitleResponse{Title: title})
}

func (h *ThreadHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrThreadNotFound):
		writeError(w, http.StatusNotFound, "thread not found")
	case errors.Is(err, service.ErrThreadConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// streamWriter serializes writes from the reply stream and the keep-alive
// ticker.
type streamWriter struct {
	mu  sync.Mutex
	w   http.ResponseWriter
	log *logger.Logger
}

func (s *streamWriter) frame(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sse.WriteFrame(s.w, v)
}

func (s *streamWriter) done() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sse.WriteDone(s.w)
}

// keepAlive writes a comment line every interval until the returned stop
// function is called.
func (s *streamWriter) keepAlive(interval time.Duration) (stop func()) {
	ticker := time.NewTicker(interval)
	quit := make(chan struct{})
	finished := make(chan struct{})

	go func() {
		defer close(finished)
		for {
			select {
			case <-ticker.C:
				s.mu.Lock()
				err := sse.WriteComment(s.w, "keep-alive")
				s.mu.Unlock()
				if err != nil {
					s.log.Debug("keep-alive write failed", zap.Error(err))
					return
				}
			case <-quit:
				return
			}
		}
	}()

	return func() {
		ticker.Stop()
		close(quit)
		<-finished
	}
}
