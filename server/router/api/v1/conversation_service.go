package v1

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	apierrors "github.com/hrygo/lumichat/server/internal/errors"
	"github.com/hrygo/lumichat/server/internal/observability"
	"github.com/hrygo/lumichat/store"
)

// imageContentType is reported for stored attachments; only their URL is kept.
const imageContentType = "image/*"

type ConversationSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Conversation struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	Messages  []*Message `json:"messages"`
}

type Message struct {
	ID          string        `json:"id"`
	Role        string        `json:"role"`
	Content     string        `json:"content"`
	CreatedAt   time.Time     `json:"createdAt"`
	Attachments []*Attachment `json:"attachments,omitempty"`
	// ExperimentalAttachments mirrors Attachments for clients that read the older field name.
	ExperimentalAttachments []*Attachment `json:"experimental_attachments,omitempty"`
}

type Attachment struct {
	URL         string `json:"url"`
	ContentType string `json:"contentType"`
}

type UpdateConversationRequest struct {
	Title string `json:"title" validate:"required,max=200"`
}

// ListConversations returns the caller's conversations, most recently updated first.
// GET /api/conversations
func (s *APIV1Service) ListConversations(c echo.Context) error {
	userID, err := currentUserID(c)
	if err != nil {
		return err
	}

	conversations, err := s.Store.ListConversations(c.Request().Context(), &store.FindConversation{
		CreatorID: &userID,
	})
	if err != nil {
		return apierrors.Internal("failed to list conversations", err)
	}

	response := make([]*ConversationSummary, 0, len(conversations))
	for _, conversation := range conversations {
		response = append(response, convertConversationSummaryFromStore(conversation))
	}
	return c.JSON(http.StatusOK, response)
}

// GetConversation returns a conversation with its messages in order.
// GET /api/conversations/:id
func (s *APIV1Service) GetConversation(c echo.Context) error {
	conversation, err := s.findOwnedConversation(c)
	if err != nil {
		return err
	}

	messages, err := s.Store.ListMessages(c.Request().Context(), &store.FindMessage{
		ConversationID: &conversation.ID,
	})
	if err != nil {
		return apierrors.Internal("failed to list messages", err)
	}

	response := &Conversation{
		ID:        conversation.UID,
		Title:     conversation.Title,
		CreatedAt: unixToTime(conversation.CreatedTs),
		UpdatedAt: unixToTime(conversation.UpdatedTs),
		Messages:  make([]*Message, 0, len(messages)),
	}
	for _, message := range messages {
		response.Messages = append(response.Messages, convertMessageFromStore(message))
	}
	return c.JSON(http.StatusOK, response)
}

// UpdateConversation renames a conversation.
// PATCH /api/conversations/:id
func (s *APIV1Service) UpdateConversation(c echo.Context) error {
	conversation, err := s.findOwnedConversation(c)
	if err != nil {
		return err
	}
	request := &UpdateConversationRequest{}
	if err := bindAndValidate(c, request); err != nil {
		return err
	}

	updated, err := s.Store.UpdateConversation(c.Request().Context(), &store.UpdateConversation{
		ID:    conversation.ID,
		Title: &request.Title,
	})
	if err != nil {
		return apierrors.Internal("failed to update conversation", err)
	}
	return c.JSON(http.StatusOK, convertConversationSummaryFromStore(updated))
}

// DeleteConversation removes a conversation and its messages.
// DELETE /api/conversations/:id
func (s *APIV1Service) DeleteConversation(c echo.Context) error {
	conversation, err := s.findOwnedConversation(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	if err := s.Store.DeleteConversation(ctx, &store.DeleteConversation{ID: conversation.ID}); err != nil {
		return apierrors.Internal("failed to delete conversation", err)
	}
	observability.RequestFromContext(ctx, "conversation.delete", conversation.CreatorID).
		Info("conversation deleted", slog.String(observability.LogFieldConversationID, conversation.UID))
	return c.NoContent(http.StatusNoContent)
}

// findOwnedConversation resolves the :id path parameter for the caller.
// Conversations of other users are reported as not found.
func (s *APIV1Service) findOwnedConversation(c echo.Context) (*store.Conversation, error) {
	userID, err := currentUserID(c)
	if err != nil {
		return nil, err
	}
	uid := c.Param("id")
	if uid == "" {
		return nil, apierrors.NotFound("conversation not found")
	}

	conversation, err := s.Store.GetConversation(c.Request().Context(), &store.FindConversation{
		UID:       &uid,
		CreatorID: &userID,
	})
	if err != nil {
		return nil, apierrors.Internal("failed to get conversation", err)
	}
	if conversation == nil {
		return nil, apierrors.NotFound("conversation not found")
	}
	return conversation, nil
}

func convertConversationSummaryFromStore(conversation *store.Conversation) *ConversationSummary {
	return &ConversationSummary{
		ID:        conversation.UID,
		Title:     conversation.Title,
		UpdatedAt: unixToTime(conversation.UpdatedTs),
	}
}

func convertMessageFromStore(message *store.Message) *Message {
	m := &Message{
		ID:        message.UID,
		Role:      message.Role.String(),
		Content:   message.Content,
		CreatedAt: unixToTime(message.CreatedTs),
	}
	if message.ImageURL != "" {
		m.Attachments = []*Attachment{{URL: message.ImageURL, ContentType: imageContentType}}
		m.ExperimentalAttachments = m.Attachments
	}
	return m
}

func unixToTime(ts int64) time.Time {
	return time.Unix(ts, 0).UTC()
}
