package test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hrygo/lumichat/store"
)

func TestMessageStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)

	conversation, err := ts.CreateConversation(ctx, &store.Conversation{CreatorID: "user-1", Title: "Pictures"})
	require.NoError(t, err)

	userMessage, err := ts.CreateMessage(ctx, &store.Message{
		ConversationID: conversation.ID,
		CreatorID:      "user-1",
		Role:           store.MessageRoleUser,
		Content:        "What is this?",
		ImageURL:       "https://example.com/cat.png",
	})
	require.NoError(t, err)
	require.NotZero(t, userMessage.ID)
	require.NotEmpty(t, userMessage.UID)

	_, err = ts.CreateMessage(ctx, &store.Message{
		ConversationID: conversation.ID,
		Role:           store.MessageRoleAssistant,
		Content:        "A cat.",
		CreatedTs:      userMessage.CreatedTs,
	})
	require.NoError(t, err)

	messages, err := ts.ListMessages(ctx, &store.FindMessage{ConversationID: &conversation.ID})
	require.NoError(t, err)
	require.Len(t, messages, 2)

	require.Equal(t, store.MessageRoleUser, messages[0].Role)
	require.Equal(t, "What is this?", messages[0].Content)
	require.Equal(t, "https://example.com/cat.png", messages[0].ImageURL)
	require.Equal(t, "user-1", messages[0].CreatorID)

	require.Equal(t, store.MessageRoleAssistant, messages[1].Role)
	require.Equal(t, "A cat.", messages[1].Content)
	require.Empty(t, messages[1].CreatorID)
	require.Empty(t, messages[1].ImageURL)
}

func TestDeleteConversationRemovesMessages(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)

	conversation, err := ts.CreateConversation(ctx, &store.Conversation{CreatorID: "user-1"})
	require.NoError(t, err)
	_, err = ts.CreateMessage(ctx, &store.Message{ConversationID: conversation.ID, CreatorID: "user-1", Role: store.MessageRoleUser, Content: "hi"})
	require.NoError(t, err)

	require.NoError(t, ts.DeleteConversation(ctx, &store.DeleteConversation{ID: conversation.ID}))

	messages, err := ts.ListMessages(ctx, &store.FindMessage{ConversationID: &conversation.ID})
	require.NoError(t, err)
	require.Empty(t, messages)
}

func TestCreateMessageRequiresConversation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)

	_, err := ts.CreateMessage(ctx, &store.Message{ConversationID: 999, Role: store.MessageRoleUser, Content: "orphan"})
	require.Error(t, err)
}
