package store

type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

func (r MessageRole) String() string {
	return string(r)
}

// Message is one turn of a conversation. Messages are never updated once created.
type Message struct {
	ID             int32
	UID            string
	ConversationID int32
	// CreatorID is empty for assistant messages and stored as NULL.
	CreatorID string
	Role      MessageRole
	Content   string
	ImageURL  string
	CreatedTs int64
}

type FindMessage struct {
	ID             *int32
	UID            *string
	ConversationID *int32
}
