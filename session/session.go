package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/sweetpotato0/askdb/message"
)

// Store persists the message history of conversations, keyed by
// conversation ID. Implementations must be safe for concurrent use.
type Store interface {
	// History returns the stored messages of a conversation in order. An
	// unknown conversation has an empty history.
	History(ctx context.Context, conversationID string) ([]*message.Message, error)
	// Append adds messages to the end of a conversation.
	Append(ctx context.Context, conversationID string, msgs ...*message.Message) error
	// Clear removes a conversation.
	Clear(ctx context.Context, conversationID string) error
}

// InMemoryStore keeps histories in process memory.
type InMemoryStore struct {
	mu            sync.RWMutex
	conversations map[string][]*message.Message
	maxMessages   int
}

// NewInMemoryStore creates an in-memory history store. When maxMessages is
// positive, each conversation keeps only its most recent maxMessages entries.
func NewInMemoryStore(maxMessages int) *InMemoryStore {
	return &InMemoryStore{
		conversations: make(map[string][]*message.Message),
		maxMessages:   maxMessages,
	}
}

func (s *InMemoryStore) History(ctx context.Context, conversationID string) ([]*message.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return message.CloneMessages(s.conversations[conversationID]), nil
}

func (s *InMemoryStore) Append(ctx context.Context, conversationID string, msgs ...*message.Message) error {
	if conversationID == "" {
		return fmt.Errorf("conversation id cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	history := append(s.conversations[conversationID], message.CloneMessages(msgs)...)
	if s.maxMessages > 0 && len(history) > s.maxMessages {
		history = append([]*message.Message(nil), history[len(history)-s.maxMessages:]...)
	}
	s.conversations[conversationID] = history
	return nil
}

func (s *InMemoryStore) Clear(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, conversationID)
	return nil
}

// Count returns the number of stored conversations.
func (s *InMemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conversations)
}

var _ Store = (*InMemoryStore)(nil)
