// Package history keeps bounded in-memory conversation context per
// (sender, chat) key. Nothing persists across restarts.
package history

import (
	"sync"

	"github.com/AI-Wallfacer/feishu-family-bot/internal/providers"
)

// DefaultCapacity is the number of turns kept per conversation.
const DefaultCapacity = 10

type conversation struct {
	mu    sync.Mutex
	turns []providers.Turn
}

// Store is a capacity-bounded per-conversation turn store. Different keys
// never contend beyond map access; appends on the same key serialize.
type Store struct {
	mu       sync.Mutex
	capacity int
	convs    map[string]*conversation
}

// NewStore creates a store keeping up to capacity turns per key.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		capacity: capacity,
		convs:    make(map[string]*conversation),
	}
}

func (s *Store) conv(key string) *conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[key]
	if !ok {
		c = &conversation{}
		s.convs[key] = c
	}
	return c
}

// AppendUser appends a user turn and returns a copy of the full bounded
// context in arrival order, ready to send to a provider.
func (s *Store) AppendUser(key, content string) []providers.Turn {
	c := s.conv(key)
	c.mu.Lock()
	defer c.mu.Unlock()

	c.append(providers.Turn{Role: "user", Content: content}, s.capacity)
	out := make([]providers.Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// AppendAssistant records the assistant's reply in the conversation.
func (s *Store) AppendAssistant(key, content string) {
	c := s.conv(key)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.append(providers.Turn{Role: "assistant", Content: content}, s.capacity)
}

// Context returns a copy of the stored turns for a key.
func (s *Store) Context(key string) []providers.Turn {
	c := s.conv(key)
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]providers.Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// append drops the oldest turn once the capacity is reached.
func (c *conversation) append(t providers.Turn, capacity int) {
	c.turns = append(c.turns, t)
	if len(c.turns) > capacity {
		c.turns = c.turns[1:]
	}
}
