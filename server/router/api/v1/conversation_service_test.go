package v1_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "github.com/hrygo/lumichat/server/internal/errors"
	v1 "github.com/hrygo/lumichat/server/router/api/v1"
	"github.com/hrygo/lumichat/store"
)

func (s *testServer) createConversation(t *testing.T, userID, title string) *store.Conversation {
	t.Helper()
	conversation, err := s.store.CreateConversation(context.Background(), &store.Conversation{CreatorID: userID, Title: title})
	require.NoError(t, err)
	return conversation
}

func TestUnauthenticatedRequests(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, testServerOptions{}, "ok")
	conversation := s.createConversation(t, "alice", "kept")

	requests := []struct {
		method string
		path   string
		body   any
	}{
		{http.MethodPost, "/api/chat", map[string]any{"messages": []map[string]string{{"role": "user", "content": "hi"}}}},
		{http.MethodPost, "/api/chat/send", map[string]any{"content": "hi"}},
		{http.MethodGet, "/api/conversations", nil},
		{http.MethodGet, "/api/conversations/" + conversation.UID, nil},
		{http.MethodPatch, "/api/conversations/" + conversation.UID, map[string]any{"title": "stolen"}},
		{http.MethodDelete, "/api/conversations/" + conversation.UID, nil},
	}
	for _, r := range requests {
		t.Run(r.method+" "+r.path, func(t *testing.T) {
			rec := s.do(t, r.method, r.path, r.body, "")
			require.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, apierrors.ErrCodeUnauthorized, decode[v1.ErrorResponse](t, rec).Code)
		})
	}

	all, err := s.store.ListConversations(context.Background(), &store.FindConversation{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "kept", all[0].Title)
	assert.Empty(t, s.messages(t, all[0]))
	assert.Empty(t, s.upstream.Requests())
}

func TestInvalidSessionToken(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, testServerOptions{}, "ok")

	req := newRequest(t, http.MethodGet, "/api/conversations")
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := serve(s, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestListConversations(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, testServerOptions{}, "ok")
	ctx := context.Background()

	older := s.createConversation(t, "alice", "older")
	newer := s.createConversation(t, "alice", "newer")
	s.createConversation(t, "bob", "not mine")

	updatedTs := newer.UpdatedTs + 10
	_, err := s.store.UpdateConversation(ctx, &store.UpdateConversation{ID: newer.ID, UpdatedTs: &updatedTs})
	require.NoError(t, err)

	rec := s.do(t, http.MethodGet, "/api/conversations", nil, "alice")
	require.Equal(t, http.StatusOK, rec.Code)
	first := decode[[]v1.ConversationSummary](t, rec)
	require.Len(t, first, 2)
	assert.Equal(t, newer.UID, first[0].ID)
	assert.Equal(t, older.UID, first[1].ID)

	rec = s.do(t, http.MethodGet, "/api/conversations", nil, "alice")
	second := decode[[]v1.ConversationSummary](t, rec)
	assert.Equal(t, first, second)

	rec = s.do(t, http.MethodGet, "/api/conversations", nil, "carol")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestGetConversationNotOwned(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, testServerOptions{}, "ok")
	conversation := s.createConversation(t, "alice", "private")

	for _, path := range []string{"/api/conversations/" + conversation.UID, "/api/conversations/missing"} {
		rec := s.do(t, http.MethodGet, path, nil, "bob")
		require.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, apierrors.ErrCodeNotFound, decode[v1.ErrorResponse](t, rec).Code)
	}

	rec := s.do(t, http.MethodGet, "/api/conversations/"+conversation.UID, nil, "alice")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[v1.Conversation](t, rec)
	assert.Equal(t, "private", got.Title)
	assert.Empty(t, got.Messages)
}

func TestUpdateConversation(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, testServerOptions{}, "ok")
	conversation := s.createConversation(t, "alice", "draft")
	path := "/api/conversations/" + conversation.UID

	rec := s.do(t, http.MethodPatch, path, map[string]any{"title": "stolen"}, "bob")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPatch, path, map[string]any{"title": ""}, "alice")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPatch, path, map[string]any{"title": "final"}, "alice")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	summary := decode[v1.ConversationSummary](t, rec)
	assert.Equal(t, conversation.UID, summary.ID)
	assert.Equal(t, "final", summary.Title)

	rec = s.do(t, http.MethodGet, path, nil, "alice")
	assert.Equal(t, "final", decode[v1.Conversation](t, rec).Title)
}

func TestDeleteConversation(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, testServerOptions{}, "ok")

	rec := s.do(t, http.MethodPost, "/api/chat/send", map[string]any{"content": "bye"}, "alice")
	require.Equal(t, http.StatusOK, rec.Code)
	path := "/api/conversations/" + decode[v1.SendChatResponse](t, rec).ConversationID

	rec = s.do(t, http.MethodDelete, path, nil, "bob")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodDelete, path, nil, "alice")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodGet, path, nil, "alice")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, s.conversations(t, "alice"))
}
