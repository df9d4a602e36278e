package v1_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "github.com/hrygo/lumichat/server/internal/errors"
	v1 "github.com/hrygo/lumichat/server/router/api/v1"
	"github.com/hrygo/lumichat/store"
)

func TestSendChatHello(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, testServerOptions{}, "Hello! ", "How can I help?")

	rec := s.do(t, http.MethodPost, "/api/chat/send", map[string]any{"content": "Hello"}, "new-user")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[v1.SendChatResponse](t, rec)
	assert.NotEmpty(t, resp.ConversationID)
	assert.Equal(t, "Hello! How can I help?", resp.Reply)

	rec = s.do(t, http.MethodGet, "/api/conversations", nil, "new-user")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]v1.ConversationSummary](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, resp.ConversationID, list[0].ID)
	assert.Equal(t, "Hello", list[0].Title)
}

func TestSendChatRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, testServerOptions{}, "A cat.")

	rec := s.do(t, http.MethodPost, "/api/chat/send", map[string]any{
		"content":     "What is this?",
		"attachments": []map[string]string{{"url": "https://example.com/cat.png", "contentType": "image/png"}},
	}, "alice")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[v1.SendChatResponse](t, rec)

	rec = s.do(t, http.MethodGet, "/api/conversations/"+resp.ConversationID, nil, "alice")
	require.Equal(t, http.StatusOK, rec.Code)
	conversation := decode[v1.Conversation](t, rec)
	assert.Equal(t, resp.ConversationID, conversation.ID)
	require.Len(t, conversation.Messages, 2)

	user := conversation.Messages[0]
	assert.Equal(t, "user", user.Role)
	assert.Equal(t, "What is this?", user.Content)
	require.Len(t, user.Attachments, 1)
	assert.Equal(t, "https://example.com/cat.png", user.Attachments[0].URL)
	assert.Equal(t, "image/*", user.Attachments[0].ContentType)

	assistant := conversation.Messages[1]
	assert.Equal(t, "assistant", assistant.Role)
	assert.Equal(t, "A cat.", assistant.Content)
	assert.Empty(t, assistant.Attachments)
}

func TestSendChatExperimentalAttachments(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, testServerOptions{}, "ok")

	rec := s.do(t, http.MethodPost, "/api/chat/send", map[string]any{
		"content":                  "look",
		"experimental_attachments": []map[string]string{{"url": "https://example.com/a.png"}},
	}, "alice")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	conversations := s.conversations(t, "alice")
	require.Len(t, conversations, 1)
	assert.Equal(t, "https://example.com/a.png", s.messages(t, conversations[0])[0].ImageURL)

	// Both field names are returned when reading the conversation back.
	rec = s.do(t, http.MethodGet, "/api/conversations/"+conversations[0].UID, nil, "alice")
	require.Equal(t, http.StatusOK, rec.Code)
	var raw struct {
		Messages []map[string]json.RawMessage `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	require.Len(t, raw.Messages, 2)
	user := raw.Messages[0]
	require.Contains(t, user, "attachments")
	require.Contains(t, user, "experimental_attachments")
	assert.JSONEq(t, string(user["attachments"]), string(user["experimental_attachments"]))
	assert.NotContains(t, raw.Messages[1], "experimental_attachments")
}

func TestSendChatConversationNotOwned(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, testServerOptions{}, "ok")

	rec := s.do(t, http.MethodPost, "/api/chat/send", map[string]any{"content": "mine"}, "alice")
	require.Equal(t, http.StatusOK, rec.Code)
	owned := decode[v1.SendChatResponse](t, rec)

	for _, id := range []string{owned.ConversationID, "unknown-id"} {
		rec := s.do(t, http.MethodPost, "/api/chat/send", map[string]any{"content": "hi", "conversationId": id}, "bob")
		require.Equal(t, http.StatusNotFound, rec.Code)
		body := decode[v1.ErrorResponse](t, rec)
		assert.Equal(t, apierrors.ErrCodeNotFound, body.Code)
	}
	assert.Empty(t, s.conversations(t, "bob"))
}

func TestSendChatMissingCredential(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, testServerOptions{noLLM: true})

	rec := s.do(t, http.MethodPost, "/api/chat/send", map[string]any{"content": "Hello"}, "alice")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode[v1.ErrorResponse](t, rec)
	assert.Equal(t, apierrors.ErrCodeConfiguration, body.Code)
	assert.Contains(t, body.Error, "LUMICHAT_AI_API_KEY")

	conversations := s.conversations(t, "alice")
	require.Len(t, conversations, 1)
	messages := s.messages(t, conversations[0])
	require.Len(t, messages, 1)
	assert.Equal(t, store.MessageRoleUser, messages[0].Role)
}

func TestSendChatUpstreamFailureHidesDetail(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, testServerOptions{}, "ok")
	s.upstream.FailWith(http.StatusUnauthorized)

	rec := s.do(t, http.MethodPost, "/api/chat/send", map[string]any{"content": "Hello"}, "alice")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode[v1.ErrorResponse](t, rec)
	assert.Equal(t, apierrors.ErrCodeInternal, body.Code)
	assert.Equal(t, apierrors.InternalMessage, body.Error)
}

func TestSendChatMalformedBody(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, testServerOptions{}, "ok")

	req := httptest.NewRequest(http.MethodPost, "/api/chat/send", strings.NewReader("{not json"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+sessionToken(t, "alice"))
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apierrors.ErrCodeInvalidArgument, decode[v1.ErrorResponse](t, rec).Code)
	assert.Empty(t, s.conversations(t, "alice"))
}

func TestChatStream(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, testServerOptions{}, "Once ", "upon ", "a time")

	rec := s.do(t, http.MethodPost, "/api/chat", map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "Tell me a story"}},
	}, "alice")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, echo.MIMETextPlainCharsetUTF8, rec.Header().Get(echo.HeaderContentType))
	assert.Equal(t, "Once upon a time", rec.Body.String())

	conversationID := rec.Header().Get(v1.HeaderConversationID)
	require.NotEmpty(t, conversationID)

	conversations := s.conversations(t, "alice")
	require.Len(t, conversations, 1)
	assert.Equal(t, conversationID, conversations[0].UID)
	messages := s.messages(t, conversations[0])
	require.Len(t, messages, 2)
	assert.Equal(t, rec.Body.String(), messages[1].Content)

	// Continuing the conversation does not repeat the header.
	rec = s.do(t, http.MethodPost, "/api/chat", map[string]any{
		"conversationId": conversationID,
		"messages": []map[string]string{
			{"role": "user", "content": "Tell me a story"},
			{"role": "assistant", "content": "Once upon a time"},
			{"role": "user", "content": "More"},
		},
	}, "alice")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Empty(t, rec.Header().Get(v1.HeaderConversationID))
	assert.Len(t, s.messages(t, conversations[0]), 4)
}

func TestChatStreamValidation(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, testServerOptions{}, "ok")

	bodies := []map[string]any{
		{},
		{"messages": []map[string]string{}},
		{"messages": []map[string]string{{"role": "robot", "content": "x"}}},
		{"messages": []map[string]string{{"role": "assistant", "content": "x"}}},
	}
	for _, body := range bodies {
		rec := s.do(t, http.MethodPost, "/api/chat", body, "alice")
		require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	}
	assert.Empty(t, s.conversations(t, "alice"))
}

func TestChatStreamUpstreamFailure(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, testServerOptions{}, "ok")
	s.upstream.FailWith(http.StatusServiceUnavailable)

	rec := s.do(t, http.MethodPost, "/api/chat", map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	}, "alice")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, rec.Header().Get(v1.HeaderConversationID))
	assert.Equal(t, apierrors.ErrCodeInternal, decode[v1.ErrorResponse](t, rec).Code)
}

func TestChatStreamDisconnectPersistsPartialReply(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, testServerOptions{}, "first part ", "never delivered")
	s.upstream.HoldAfterFirstFragment()

	server := httptest.NewServer(s.echo)
	t.Cleanup(server.Close)

	data, err := json.Marshal(map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "go"}},
	})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, server.URL+"/api/chat", bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+sessionToken(t, "alice"))

	resp, err := server.Client().Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	conversationID := resp.Header.Get(v1.HeaderConversationID)
	require.NotEmpty(t, conversationID)

	buf := make([]byte, len("first part "))
	_, err = io.ReadFull(resp.Body, buf)
	require.NoError(t, err)
	assert.Equal(t, "first part ", string(buf))

	cancel()
	resp.Body.Close()

	uid := conversationID
	require.Eventually(t, func() bool {
		conversation, err := s.store.GetConversation(context.Background(), &store.FindConversation{UID: &uid})
		if err != nil || conversation == nil {
			return false
		}
		messages, err := s.store.ListMessages(context.Background(), &store.FindMessage{ConversationID: &conversation.ID})
		if err != nil {
			return false
		}
		return len(messages) == 2 && messages[1].Content == "first part "
	}, 5*time.Second, 20*time.Millisecond)
}

func TestChatRateLimit(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, testServerOptions{rateLimit: true}, "ok")

	var last *httptest.ResponseRecorder
	for i := 0; i < 11; i++ {
		last = s.do(t, http.MethodPost, "/api/chat/send", map[string]any{}, "alice")
	}
	require.Equal(t, http.StatusTooManyRequests, last.Code)
	assert.Equal(t, apierrors.ErrCodeRateLimitExceeded, decode[v1.ErrorResponse](t, last).Code)

	// Other users keep their own budget.
	rec := s.do(t, http.MethodPost, "/api/chat/send", map[string]any{"content": "hi"}, "bob")
	assert.Equal(t, http.StatusOK, rec.Code)
}
