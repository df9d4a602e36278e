// Package chat runs one chat turn: it resolves the conversation, stores the
// user message, asks the LLM for a reply and stores the reply.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/semaphore"

	"github.com/hrygo/lumichat/plugin/ai"
	"github.com/hrygo/lumichat/plugin/ai/timeout"
	apierrors "github.com/hrygo/lumichat/server/internal/errors"
	"github.com/hrygo/lumichat/server/internal/observability"
	"github.com/hrygo/lumichat/store"
)

const (
	// DefaultTitle names conversations started without text.
	DefaultTitle = "New conversation"
	// maxTitleLength is counted in runes.
	maxTitleLength = 50
	// DefaultMaxConcurrency caps concurrent upstream generations when Config leaves it unset.
	DefaultMaxConcurrency = 16
)

// Config configures the chat service.
type Config struct {
	// LLM is nil when the LLM is not configured.
	LLM ai.LLMService
	// LLMError explains why LLM is nil. It is reported to the caller after the
	// user message has been stored.
	LLMError error
	// MaxConcurrency caps concurrent upstream generations.
	MaxConcurrency int
	Metrics        *observability.Metrics
}

// Service handles buffered and streaming chat turns.
type Service struct {
	store   *store.Store
	llm     ai.LLMService
	llmErr  error
	sem     *semaphore.Weighted
	metrics *observability.Metrics
}

func NewService(store *store.Store, cfg Config) *Service {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewMetrics()
	}
	llmErr := cfg.LLMError
	if cfg.LLM == nil && llmErr == nil {
		llmErr = &ai.ConfigError{Variable: "LUMICHAT_AI_API_KEY", Reason: "LLM service is not configured"}
	}
	return &Service{
		store:   store,
		llm:     cfg.LLM,
		llmErr:  llmErr,
		sem:     semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		metrics: cfg.Metrics,
	}
}

// Attachment is a file referenced by URL. Only the first attachment of a message is kept.
type Attachment struct {
	URL         string
	ContentType string
	Name        string
}

// SendRequest is one buffered chat turn.
type SendRequest struct {
	UserID string
	// ConversationID is the public id of an existing conversation; empty starts a new one.
	ConversationID string
	Content        string
	Attachments    []Attachment
}

// SendResult is the reply of a buffered chat turn.
type SendResult struct {
	Reply          string
	ConversationID string
	// Created reports whether the turn started a new conversation.
	Created bool
}

// Send stores the user message, generates a reply from the conversation's
// full history and stores the reply.
func (s *Service) Send(ctx context.Context, req *SendRequest) (*SendResult, error) {
	start := time.Now()
	result, err := s.send(ctx, req)
	s.metrics.RecordRequest(observability.EndpointSend, err, time.Since(start))
	return result, err
}

func (s *Service) send(ctx context.Context, req *SendRequest) (*SendResult, error) {
	logger := observability.RequestFromContext(ctx, "chat.send", req.UserID)
	if req.UserID == "" {
		return nil, apierrors.Unauthorized("authentication required")
	}
	if strings.TrimSpace(req.Content) == "" && len(req.Attachments) == 0 {
		return nil, apierrors.InvalidArgument("content is required")
	}

	conversation, created, err := s.resolveConversation(ctx, logger, req.UserID, req.ConversationID, req.Content)
	if err != nil {
		return nil, err
	}
	conversationAttr := slog.String(observability.LogFieldConversationID, conversation.UID)

	if err := s.createUserMessage(ctx, logger, conversation, req.UserID, req.Content, req.Attachments); err != nil {
		return nil, err
	}
	if s.llm == nil {
		logger.Warn("LLM is not configured", conversationAttr, slog.String("reason", s.llmErr.Error()))
		return nil, configurationError(s.llmErr)
	}

	history, err := s.store.ListMessages(ctx, &store.FindMessage{ConversationID: &conversation.ID})
	if err != nil {
		logger.Error("failed to list messages", err, conversationAttr)
		return nil, apierrors.Internal("failed to list messages", err)
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, apierrors.Internal("failed to wait for generation slot", err)
	}
	chatCtx, cancel := context.WithTimeout(ctx, timeout.ChatTimeout)
	generationStart := time.Now()
	reply, err := s.llm.Chat(chatCtx, toLLMMessages(history))
	cancel()
	s.sem.Release(1)
	if err != nil {
		logger.Error("LLM chat failed", err, conversationAttr)
		return nil, apierrors.Internal("failed to generate reply", err)
	}

	if err := s.persistReply(ctx, conversation, reply); err != nil {
		logger.Error("failed to persist reply", err, conversationAttr)
		return nil, apierrors.Internal("failed to persist reply", err)
	}

	logger.Info("chat reply generated",
		conversationAttr,
		slog.Int(observability.LogFieldMessageLen, len(reply)),
		slog.Int64(observability.LogFieldDuration, time.Since(generationStart).Milliseconds()),
	)
	return &SendResult{
		Reply:          reply,
		ConversationID: conversation.UID,
		Created:        created,
	}, nil
}

// resolveConversation returns the caller's conversation, creating one when
// conversationID is empty. Conversations of other users are reported as not found.
func (s *Service) resolveConversation(ctx context.Context, logger *observability.RequestContext, userID, conversationID, content string) (*store.Conversation, bool, error) {
	if conversationID != "" {
		conversation, err := s.store.GetConversation(ctx, &store.FindConversation{
			UID:       &conversationID,
			CreatorID: &userID,
		})
		if err != nil {
			logger.Error("failed to get conversation", err, slog.String(observability.LogFieldConversationID, conversationID))
			return nil, false, apierrors.Internal("failed to get conversation", err)
		}
		if conversation == nil {
			return nil, false, apierrors.NotFound("conversation not found")
		}
		return conversation, false, nil
	}

	conversation, err := s.store.CreateConversation(ctx, &store.Conversation{
		CreatorID: userID,
		Title:     Title(content),
	})
	if err != nil {
		logger.Error("failed to create conversation", err)
		return nil, false, apierrors.Internal("failed to create conversation", err)
	}
	logger.Debug("conversation created", slog.String(observability.LogFieldConversationID, conversation.UID))
	return conversation, true, nil
}

func (s *Service) createUserMessage(ctx context.Context, logger *observability.RequestContext, conversation *store.Conversation, userID, content string, attachments []Attachment) error {
	_, err := s.store.CreateMessage(ctx, &store.Message{
		ConversationID: conversation.ID,
		CreatorID:      userID,
		Role:           store.MessageRoleUser,
		Content:        content,
		ImageURL:       firstAttachmentURL(attachments),
	})
	if err != nil {
		logger.Error("failed to create user message", err, slog.String(observability.LogFieldConversationID, conversation.UID))
		return apierrors.Internal("failed to create message", err)
	}
	return nil
}

// persistReply stores the assistant message and refreshes the conversation's updated time.
func (s *Service) persistReply(ctx context.Context, conversation *store.Conversation, reply string) error {
	if _, err := s.store.CreateMessage(ctx, &store.Message{
		ConversationID: conversation.ID,
		Role:           store.MessageRoleAssistant,
		Content:        reply,
	}); err != nil {
		return err
	}
	if _, err := s.store.TouchConversation(ctx, conversation.ID); err != nil {
		return err
	}
	return nil
}

// Title derives a conversation title from the first message.
func Title(content string) string {
	if strings.TrimSpace(content) == "" {
		return DefaultTitle
	}
	if utf8.RuneCountInString(content) <= maxTitleLength {
		return content
	}
	return string([]rune(content)[:maxTitleLength])
}

func configurationError(err error) *apierrors.APIError {
	var cfgErr *ai.ConfigError
	if errors.As(err, &cfgErr) {
		return apierrors.Configuration(fmt.Sprintf("missing configuration %s: %s", cfgErr.Variable, cfgErr.Reason), err)
	}
	return apierrors.Configuration("missing configuration LUMICHAT_AI_API_KEY: LLM service is not configured", err)
}

func firstAttachmentURL(attachments []Attachment) string {
	if len(attachments) == 0 {
		return ""
	}
	return attachments[0].URL
}

func toLLMMessages(messages []*store.Message) []ai.Message {
	llmMessages := make([]ai.Message, 0, len(messages))
	for _, m := range messages {
		llmMessages = append(llmMessages, ai.Message{
			Role:     m.Role.String(),
			Content:  m.Content,
			ImageURL: m.ImageURL,
		})
	}
	return llmMessages
}
