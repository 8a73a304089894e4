package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/threadchat/internal/llm"
	"github.com/capitalize-ai/threadchat/internal/model"
	"github.com/capitalize-ai/threadchat/pkg/logger"
	"github.com/capitalize-ai/threadchat/pkg/metrics"
)

const (
	historyLimit   = 50
	maxTitleWords  = 8
	maxTitleLength = 64

	titlePrompt = "Write a short title, at most eight words, for a conversation that starts with the next message. Reply with the title only."
)

// DeltaCallback receives each fragment of the assistant reply.
type DeltaCallback func(delta model.StreamDelta) error

// MessageService handles message operations.
type MessageService struct {
	threads   *ThreadService
	llmClient llm.Client
	logger    *logger.Logger
}

// NewMessageService creates a new message service.
func NewMessageService(threads *ThreadService, llmClient llm.Client, log *logger.Logger) *MessageService {
	return &MessageService{
		threads:   threads,
		llmClient: llmClient,
		logger:    log,
	}
}

// SendWithStream stores the user message, streams the assistant reply
// through onDelta and stores the reply once the model finishes. Every delta
// carries the ID the stored reply will have.
func (s *MessageService) SendWithStream(
	ctx context.Context,
	tenantID, threadID string,
	req *model.SendMessageRequest,
	onDelta DeltaCallback,
) (*model.ThreadMessage, error) {
	thread, err := s.threads.Get(ctx, tenantID, threadID)
	if err != nil {
		return nil, err
	}

	history, err := s.threads.Messages(ctx, tenantID, threadID)
	if err != nil {
		return nil, err
	}

	userMsg := model.ThreadMessage{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Role:      model.RoleUser,
		Text:      req.Text,
		Metadata:  req.Metadata,
		Complete:  true,
		CreatedAt: time.Now(),
	}
	if err := s.threads.AppendMessage(ctx, tenantID, threadID, userMsg); err != nil {
		return nil, err
	}

	modelName := req.Model
	if modelName == "" {
		modelName = thread.Model
	}
	if modelName == "" && len(s.llmClient.Models()) > 0 {
		modelName = s.llmClient.Models()[0]
	}

	assistantID := uuid.Must(uuid.NewV7()).String()
	log := s.logger.WithThread(threadID).With(zap.String("message_id", assistantID))

	resp, err := s.llmClient.CompleteStream(ctx, &llm.CompletionRequest{
		Model:    modelName,
		Messages: chatMessages(thread.Instructions, append(history, userMsg)),
		Stream:   true,
	}, func(token string, index int) error {
		return onDelta(model.StreamDelta{ID: assistantID, Text: token, Model: modelName})
	})
	if err != nil {
		metrics.RecordLLMStream(modelName, "error", 0, 0, 0)
		log.Warn("llm stream failed", zap.Error(err))
		return nil, fmt.Errorf("llm stream failed: %w", err)
	}

	assistantMsg := model.ThreadMessage{
		ID:        assistantID,
		Role:      model.RoleAssistant,
		Text:      resp.Content,
		Model:     modelName,
		Complete:  true,
		CreatedAt: time.Now(),
	}
	if err := s.threads.AppendMessage(ctx, tenantID, threadID, assistantMsg); err != nil {
		return nil, err
	}

	metrics.RecordLLMStream(modelName, "success", float64(resp.LatencyMs)/1000.0, resp.TokensIn, resp.TokensOut)
	log.Info("reply streamed",
		zap.String("model", modelName),
		zap.Int("tokens_out", resp.TokensOut),
		zap.Int64("latency_ms", resp.LatencyMs),
	)

	return &assistantMsg, nil
}

// GenerateTitle asks the model for a title based on the thread's first user
// message and stores it.
func (s *MessageService) GenerateTitle(ctx context.Context, tenantID, threadID string) (string, error) {
	thread, err := s.threads.Get(ctx, tenantID, threadID)
	if err != nil {
		return "", err
	}
	messages, err := s.threads.Messages(ctx, tenantID, threadID)
	if err != nil {
		return "", err
	}

	var first string
	for _, m := range messages {
		if m.Role == model.RoleUser {
			first = m.Text
			break
		}
	}
	if first == "" {
		return thread.Title, nil
	}

	resp, err := s.llmClient.Complete(ctx, &llm.CompletionRequest{
		Model: thread.Model,
		Messages: []llm.ChatMessage{
			{Role: string(model.RoleSystem), Content: titlePrompt},
			{Role: string(model.RoleUser), Content: first},
		},
		MaxTokens: 32,
	})
	if err != nil {
		return "", fmt.Errorf("title completion failed: %w", err)
	}

	title := cleanTitle(resp.Content)
	if err := s.threads.SetTitle(ctx, tenantID, threadID, title); err != nil {
		return "", err
	}
	s.logger.WithThread(threadID).Info("thread titled", zap.String("title", title))
	return title, nil
}

// chatMessages converts a transcript to LLM format, keeping the most recent
// messages and the thread instructions.
func chatMessages(instructions string, history []model.ThreadMessage) []llm.ChatMessage {
	if len(history) > historyLimit {
		history = history[len(history)-historyLimit:]
	}

	out := make([]llm.ChatMessage, 0, len(history)+1)
	if instructions != "" {
		out = append(out, llm.ChatMessage{Role: string(model.RoleSystem), Content: instructions})
	}
	for _, m := range history {
		out = append(out, llm.ChatMessage{Role: string(m.Role), Content: m.Text})
	}
	return out
}

func cleanTitle(s string) string {
	s = strings.Trim(strings.TrimSpace(s), `"'`)
	words := strings.Fields(s)
	if len(words) > maxTitleWords {
		words = words[:maxTitleWords]
	}
	title := strings.Join(words, " ")
	for len(title) > maxTitleLength {
		_, size := utf8.DecodeLastRuneInString(title)
		title = title[:len(title)-size]
	}
	return title
}
