package v1

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/lumichat/server/internal/observability"
	"github.com/hrygo/lumichat/server/service/chat"
)

// HeaderConversationID carries the id of a conversation created by a streaming turn.
const HeaderConversationID = "X-Conversation-Id"

type AttachmentPayload struct {
	URL         string `json:"url" validate:"required"`
	ContentType string `json:"contentType,omitempty"`
	Name        string `json:"name,omitempty"`
}

type ChatMessagePayload struct {
	Role        string              `json:"role" validate:"required,oneof=user assistant system"`
	Content     string              `json:"content" validate:"max=32000"`
	Attachments []AttachmentPayload `json:"attachments,omitempty" validate:"dive"`
	// ExperimentalAttachments is the field name used by older clients.
	ExperimentalAttachments []AttachmentPayload `json:"experimental_attachments,omitempty" validate:"dive"`
}

type ChatRequest struct {
	Messages       []ChatMessagePayload `json:"messages" validate:"required,min=1,dive"`
	ConversationID string               `json:"conversationId,omitempty"`
}

type SendChatRequest struct {
	Content                 string              `json:"content" validate:"max=32000"`
	ConversationID          string              `json:"conversationId,omitempty"`
	Attachments             []AttachmentPayload `json:"attachments,omitempty" validate:"dive"`
	ExperimentalAttachments []AttachmentPayload `json:"experimental_attachments,omitempty" validate:"dive"`
}

type SendChatResponse struct {
	Reply          string `json:"reply"`
	ConversationID string `json:"conversationId"`
}

// Chat streams the reply as plain text, flushing each fragment as it arrives.
// POST /api/chat
func (s *APIV1Service) Chat(c echo.Context) error {
	userID, err := currentUserID(c)
	if err != nil {
		return err
	}
	request := &ChatRequest{}
	if err := bindAndValidate(c, request); err != nil {
		return err
	}

	messages := make([]chat.StreamMessage, 0, len(request.Messages))
	for _, m := range request.Messages {
		messages = append(messages, chat.StreamMessage{
			Role:        m.Role,
			Content:     m.Content,
			Attachments: convertAttachments(m.Attachments, m.ExperimentalAttachments),
		})
	}

	ctx := c.Request().Context()
	stream, err := s.ChatService.Stream(ctx, &chat.StreamRequest{
		UserID:         userID,
		ConversationID: request.ConversationID,
		Messages:       messages,
	})
	if err != nil {
		return err
	}

	response := c.Response()
	header := response.Header()
	header.Set(echo.HeaderContentType, echo.MIMETextPlainCharsetUTF8)
	header.Set("Cache-Control", "no-cache")
	header.Set("X-Accel-Buffering", "no")
	if stream.Created {
		header.Set(HeaderConversationID, stream.ConversationID)
	}
	response.WriteHeader(http.StatusOK)
	response.Flush()

	for fragment := range stream.Fragments() {
		if _, err := response.Write([]byte(fragment)); err != nil {
			stream.Cancel()
			break
		}
		response.Flush()
	}
	// Unblock the producer after a failed write.
	for range stream.Fragments() {
	}

	if err := stream.Wait(); err != nil {
		logger := observability.RequestFromContext(ctx, "chat.stream", userID)
		logger.Warn("stream ended early",
			slog.String(observability.LogFieldConversationID, stream.ConversationID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// SendChat returns the whole reply as JSON.
// POST /api/chat/send
func (s *APIV1Service) SendChat(c echo.Context) error {
	userID, err := currentUserID(c)
	if err != nil {
		return err
	}
	request := &SendChatRequest{}
	if err := bindAndValidate(c, request); err != nil {
		return err
	}

	result, err := s.ChatService.Send(c.Request().Context(), &chat.SendRequest{
		UserID:         userID,
		ConversationID: request.ConversationID,
		Content:        request.Content,
		Attachments:    convertAttachments(request.Attachments, request.ExperimentalAttachments),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, &SendChatResponse{
		Reply:          result.Reply,
		ConversationID: result.ConversationID,
	})
}

func convertAttachments(attachments, experimental []AttachmentPayload) []chat.Attachment {
	if len(attachments) == 0 {
		attachments = experimental
	}
	if len(attachments) == 0 {
		return nil
	}
	converted := make([]chat.Attachment, 0, len(attachments))
	for _, a := range attachments {
		converted = append(converted, chat.Attachment{
			URL:         a.URL,
			ContentType: a.ContentType,
			Name:        a.Name,
		})
	}
	return converted
}
