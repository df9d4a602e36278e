package store

// Conversation is a titled, user-owned thread of messages.
type Conversation struct {
	ID int32

	// Standard fields
	UID       string
	CreatorID string
	CreatedTs int64
	UpdatedTs int64

	// Domain specific fields
	Title string
}

type FindConversation struct {
	ID        *int32
	UID       *string
	CreatorID *string

	Limit *int
}

type UpdateConversation struct {
	ID        int32
	Title     *string
	UpdatedTs *int64
}

type DeleteConversation struct {
	ID int32
}
