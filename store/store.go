package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	"github.com/hrygo/lumichat/internal/profile"
	"github.com/hrygo/lumichat/store/cache"
)

// Store provides database access to all raw objects.
type Store struct {
	profile *profile.Profile
	driver  Driver

	// conversationCache holds JSON encoded conversations keyed by UID.
	conversationCache *cache.TieredCache
}

// New creates a new instance of Store.
// A nil cacheConfig uses the memory-only default.
func New(driver Driver, profile *profile.Profile, cacheConfig *cache.TieredCacheConfig) *Store {
	return &Store{
		driver:            driver,
		profile:           profile,
		conversationCache: cache.NewTieredCache(cacheConfig),
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Close() error {
	if err := s.conversationCache.Close(); err != nil {
		slog.Warn("failed to close conversation cache", slog.Any("error", err))
	}
	return s.driver.Close()
}

func conversationCacheKey(uid string) string {
	return "conversation:" + uid
}

func (s *Store) cacheConversation(ctx context.Context, conversation *Conversation) {
	data, err := json.Marshal(conversation)
	if err != nil {
		slog.Warn("failed to encode conversation for cache", slog.String("uid", conversation.UID), slog.Any("error", err))
		return
	}
	s.conversationCache.Set(ctx, conversationCacheKey(conversation.UID), string(data))
}

func (s *Store) cachedConversation(ctx context.Context, uid string) (*Conversation, bool) {
	data, ok := s.conversationCache.Get(ctx, conversationCacheKey(uid))
	if !ok {
		return nil, false
	}
	conversation := &Conversation{}
	if err := json.Unmarshal([]byte(data), conversation); err != nil {
		s.conversationCache.Delete(ctx, conversationCacheKey(uid))
		return nil, false
	}
	return conversation, true
}

// CreateConversation inserts a conversation, filling in UID and timestamps when unset.
func (s *Store) CreateConversation(ctx context.Context, create *Conversation) (*Conversation, error) {
	if create.UID == "" {
		create.UID = shortuuid.New()
	}
	now := time.Now().Unix()
	if create.CreatedTs == 0 {
		create.CreatedTs = now
	}
	if create.UpdatedTs == 0 {
		create.UpdatedTs = create.CreatedTs
	}

	conversation, err := s.driver.CreateConversation(ctx, create)
	if err != nil {
		return nil, err
	}
	s.cacheConversation(ctx, conversation)
	return conversation, nil
}

// ListConversations returns conversations ordered by most recently updated first.
func (s *Store) ListConversations(ctx context.Context, find *FindConversation) ([]*Conversation, error) {
	return s.driver.ListConversations(ctx, find)
}

// GetConversation returns the matching conversation, or nil when none matches.
// Lookups by UID are served from the cache; the creator is checked on every hit.
func (s *Store) GetConversation(ctx context.Context, find *FindConversation) (*Conversation, error) {
	if find.UID != nil && find.ID == nil {
		if conversation, ok := s.cachedConversation(ctx, *find.UID); ok {
			if find.CreatorID != nil && conversation.CreatorID != *find.CreatorID {
				return nil, nil
			}
			return conversation, nil
		}
	}

	limit := 1
	query := *find
	query.Limit = &limit
	list, err := s.ListConversations(ctx, &query)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}

	conversation := list[0]
	s.cacheConversation(ctx, conversation)
	return conversation, nil
}

func (s *Store) UpdateConversation(ctx context.Context, update *UpdateConversation) (*Conversation, error) {
	conversation, err := s.driver.UpdateConversation(ctx, update)
	if err != nil {
		return nil, err
	}
	s.cacheConversation(ctx, conversation)
	return conversation, nil
}

// TouchConversation sets the conversation's updated timestamp to now.
func (s *Store) TouchConversation(ctx context.Context, id int32) (*Conversation, error) {
	updatedTs := time.Now().Unix()
	return s.UpdateConversation(ctx, &UpdateConversation{
		ID:        id,
		UpdatedTs: &updatedTs,
	})
}

// DeleteConversation removes a conversation with its messages and evicts it from the cache.
func (s *Store) DeleteConversation(ctx context.Context, delete *DeleteConversation) error {
	conversation, err := s.GetConversation(ctx, &FindConversation{ID: &delete.ID})
	if err != nil {
		return err
	}
	if conversation == nil {
		return errors.Errorf("conversation %d not found", delete.ID)
	}
	if err := s.driver.DeleteConversation(ctx, delete); err != nil {
		return err
	}
	s.conversationCache.Delete(ctx, conversationCacheKey(conversation.UID))
	return nil
}

// CreateMessage appends a message, filling in UID and timestamp when unset.
func (s *Store) CreateMessage(ctx context.Context, create *Message) (*Message, error) {
	if create.UID == "" {
		create.UID = shortuuid.New()
	}
	if create.CreatedTs == 0 {
		create.CreatedTs = time.Now().Unix()
	}
	return s.driver.CreateMessage(ctx, create)
}

// ListMessages returns messages in insertion order.
func (s *Store) ListMessages(ctx context.Context, find *FindMessage) ([]*Message, error) {
	return s.driver.ListMessages(ctx, find)
}
