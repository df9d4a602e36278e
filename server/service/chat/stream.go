package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/hrygo/lumichat/plugin/ai"
	"github.com/hrygo/lumichat/plugin/ai/timeout"
	apierrors "github.com/hrygo/lumichat/server/internal/errors"
	"github.com/hrygo/lumichat/server/internal/observability"
	"github.com/hrygo/lumichat/store"
)

// StreamMessage is one entry of the client-held history.
type StreamMessage struct {
	Role        string
	Content     string
	Attachments []Attachment
}

// StreamRequest is one streaming chat turn. The last message is the new user message.
type StreamRequest struct {
	UserID         string
	ConversationID string
	Messages       []StreamMessage
}

// Stream is a reply being generated. Fragments must be drained, or the stream
// cancelled, for generation to finish.
type Stream struct {
	// ConversationID is the public id of the conversation the reply belongs to.
	ConversationID string
	// Created reports whether the turn started a new conversation.
	Created bool

	fragments chan string
	cancel    context.CancelFunc
	done      chan struct{}
	err       error
}

// Fragments yields the reply text in order. It is closed when generation ends.
func (s *Stream) Fragments() <-chan string {
	return s.fragments
}

// Cancel stops generation. Text produced so far is still persisted.
func (s *Stream) Cancel() {
	s.cancel()
}

// Wait blocks until the reply has been persisted and returns the error that
// ended generation, if any.
func (s *Stream) Wait() error {
	<-s.done
	return s.err
}

// Stream stores the user message and starts generating a reply from the
// client-supplied messages. It returns once the first fragment is available,
// so failures before any output are reported here rather than through the stream.
// The reply is persisted when generation ends, including after Cancel.
func (s *Service) Stream(ctx context.Context, req *StreamRequest) (*Stream, error) {
	start := time.Now()
	stream, err := s.stream(ctx, req, start)
	if err != nil {
		s.metrics.RecordRequest(observability.EndpointStream, err, time.Since(start))
	}
	return stream, err
}

func (s *Service) stream(ctx context.Context, req *StreamRequest, start time.Time) (*Stream, error) {
	logger := observability.RequestFromContext(ctx, "chat.stream", req.UserID)
	if req.UserID == "" {
		return nil, apierrors.Unauthorized("authentication required")
	}
	if len(req.Messages) == 0 {
		return nil, apierrors.InvalidArgument("messages are required")
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != ai.RoleUser {
		return nil, apierrors.InvalidArgument("the last message must have role user")
	}

	conversation, created, err := s.resolveConversation(ctx, logger, req.UserID, req.ConversationID, last.Content)
	if err != nil {
		return nil, err
	}
	conversationAttr := slog.String(observability.LogFieldConversationID, conversation.UID)

	if err := s.createUserMessage(ctx, logger, conversation, req.UserID, last.Content, last.Attachments); err != nil {
		return nil, err
	}
	if s.llm == nil {
		logger.Warn("LLM is not configured", conversationAttr, slog.String("reason", s.llmErr.Error()))
		return nil, configurationError(s.llmErr)
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, apierrors.Internal("failed to wait for generation slot", err)
	}
	genCtx, cancel := context.WithTimeout(ctx, timeout.StreamTimeout)
	contentChan, errChan := s.llm.ChatStream(genCtx, streamMessagesToLLM(req.Messages))

	first, ok := <-contentChan
	if !ok {
		if err := <-errChan; err != nil {
			cancel()
			s.sem.Release(1)
			logger.Error("LLM stream failed before any output", err, conversationAttr)
			return nil, apierrors.Internal("failed to generate reply", err)
		}
	}

	stream := &Stream{
		ConversationID: conversation.UID,
		Created:        created,
		fragments:      make(chan string),
		cancel:         cancel,
		done:           make(chan struct{}),
	}
	p := &producer{
		service:      s,
		logger:       logger,
		conversation: conversation,
		stream:       stream,
		genCtx:       genCtx,
		persistCtx:   context.WithoutCancel(ctx),
		start:        start,
	}
	go p.run(first, ok, contentChan, errChan)
	return stream, nil
}

// producer forwards fragments of one generation to its Stream and persists the reply.
type producer struct {
	service      *Service
	logger       *observability.RequestContext
	conversation *store.Conversation
	stream       *Stream
	genCtx       context.Context
	persistCtx   context.Context
	start        time.Time
}

func (p *producer) run(first string, hasFirst bool, contentChan <-chan string, errChan <-chan error) {
	metrics := p.service.metrics
	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()
	defer p.service.sem.Release(1)
	defer close(p.stream.done)
	defer p.stream.cancel()

	conversationAttr := slog.String(observability.LogFieldConversationID, p.conversation.UID)

	var text strings.Builder
	var genErr error
	if hasFirst {
		// Only fragments the consumer received become part of the stored reply.
		delivered := true
		for fragment, ok := first, true; ok; fragment, ok = <-contentChan {
			if delivered = p.forward(fragment); !delivered {
				break
			}
			text.WriteString(fragment)
		}
		// The adapter closes errChan right after contentChan, also on cancellation.
		genErr = <-errChan
		if !delivered && genErr == nil {
			genErr = p.genCtx.Err()
		}
	}
	close(p.stream.fragments)

	if genErr != nil {
		if errors.Is(genErr, context.Canceled) {
			metrics.ClientDisconnectsTotal.Inc()
			p.logger.Warn("stream cancelled by client", conversationAttr, slog.Int(observability.LogFieldMessageLen, text.Len()))
		} else {
			p.logger.Error("LLM stream failed", genErr, conversationAttr)
		}
	}

	// A generation that failed before any text leaves no assistant message.
	if genErr == nil || text.Len() > 0 {
		ctx, cancel := context.WithTimeout(p.persistCtx, timeout.PersistTimeout)
		err := p.service.persistReply(ctx, p.conversation, text.String())
		cancel()
		if err != nil {
			p.logger.Error("failed to persist reply", err, conversationAttr)
			if genErr == nil {
				genErr = err
			}
		}
	}

	metrics.RecordRequest(observability.EndpointStream, genErr, time.Since(p.start))
	if genErr != nil {
		p.stream.err = apierrors.Internal("stream ended early", genErr)
		return
	}
	p.logger.Info("chat stream completed",
		conversationAttr,
		slog.Int(observability.LogFieldMessageLen, text.Len()),
		slog.Int64(observability.LogFieldDuration, time.Since(p.start).Milliseconds()),
	)
}

// forward hands fragment to the consumer. It reports false once generation is cancelled.
func (p *producer) forward(fragment string) bool {
	select {
	case p.stream.fragments <- fragment:
		p.service.metrics.FragmentsTotal.Inc()
		return true
	case <-p.genCtx.Done():
		return false
	}
}

func streamMessagesToLLM(messages []StreamMessage) []ai.Message {
	llmMessages := make([]ai.Message, 0, len(messages))
	for _, m := range messages {
		llmMessages = append(llmMessages, ai.Message{
			Role:     m.Role,
			Content:  m.Content,
			ImageURL: firstAttachmentURL(m.Attachments),
		})
	}
	return llmMessages
}
