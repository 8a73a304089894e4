// Package service provides the business logic of the development thread API.
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/threadchat/internal/model"
	"github.com/capitalize-ai/threadchat/pkg/logger"
	"github.com/capitalize-ai/threadchat/pkg/metrics"
)

var (
	// ErrThreadNotFound is returned for unknown threads and for threads owned
	// by another tenant.
	ErrThreadNotFound = errors.New("thread not found")

	// ErrThreadConflict is returned when a create request reuses an
	// identifier owned by another tenant.
	ErrThreadConflict = errors.New("thread id already in use")
)

// ThreadService stores threads and their messages in memory.
type ThreadService struct {
	logger *logger.Logger

	mu       sync.RWMutex
	threads  map[string]*model.Thread
	messages map[string][]model.ThreadMessage
}

// NewThreadService creates a new thread service.
func NewThreadService(log *logger.Logger) *ThreadService {
	return &ThreadService{
		logger:   log,
		threads:  make(map[string]*model.Thread),
		messages: make(map[string][]model.ThreadMessage),
	}
}

// Create creates a thread under the client-chosen identifier. Repeating the
// request for a thread the tenant already owns returns the existing thread
// with IsNew unset, so clients can retry creation safely.
func (s *ThreadService) Create(ctx context.Context, tenantID, userID string, req *model.CreateThreadRequest) (*model.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.threads[req.ID]; ok {
		if existing.TenantID != tenantID {
			return nil, ErrThreadConflict
		}
		thread := *existing
		return &thread, nil
	}

	now := time.Now()
	thread := &model.Thread{
		ID:           req.ID,
		TenantID:     tenantID,
		UserID:       userID,
		Name:         req.Name,
		Description:  req.Description,
		Instructions: req.Instructions,
		Model:        req.Model,
		Metadata:     req.Metadata,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.threads[thread.ID] = thread

	metrics.ThreadsTotal.WithLabelValues(tenantID).Inc()
	s.logger.Info("thread created",
		zap.String("thread_id", thread.ID),
		zap.String("tenant_id", tenantID),
	)

	out := *thread
	out.IsNew = true
	return &out, nil
}

// Get retrieves a thread by ID.
func (s *ThreadService) Get(ctx context.Context, tenantID, threadID string) (*model.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	thread, err := s.getLocked(tenantID, threadID)
	if err != nil {
		return nil, err
	}
	out := *thread
	return &out, nil
}

// Messages returns a copy of the thread's stored messages.
func (s *ThreadService) Messages(ctx context.Context, tenantID, threadID string) ([]model.ThreadMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.getLocked(tenantID, threadID); err != nil {
		return nil, err
	}
	stored := s.messages[threadID]
	out := make([]model.ThreadMessage, len(stored))
	for i, m := range stored {
		out[i] = m.Clone()
	}
	return out, nil
}

// AppendMessage stores msg at the end of the thread.
func (s *ThreadService) AppendMessage(ctx context.Context, tenantID, threadID string, msg model.ThreadMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	thread, err := s.getLocked(tenantID, threadID)
	if err != nil {
		return err
	}
	s.messages[threadID] = append(s.messages[threadID], msg.Clone())
	thread.MessageCount++
	thread.UpdatedAt = time.Now()

	metrics.MessagesTotal.WithLabelValues(tenantID, string(msg.Role)).Inc()
	return nil
}

// SetTitle updates the thread title.
func (s *ThreadService) SetTitle(ctx context.Context, tenantID, threadID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	thread, err := s.getLocked(tenantID, threadID)
	if err != nil {
		return err
	}
	thread.Title = title
	thread.UpdatedAt = time.Now()
	return nil
}

func (s *ThreadService) getLocked(tenantID, threadID string) (*model.Thread, error) {
	thread, ok := s.threads[threadID]
	if !ok || thread.TenantID != tenantID {
		return nil, ErrThreadNotFound
	}
	return thread, nil
}
