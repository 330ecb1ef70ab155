// Package store looks up chat messages that were persisted by the chat
// application so they can be rendered or read aloud by id.
//
// The store is read-only from murmur's point of view; [PostgresStore.Migrate]
// only exists so a fresh database can be prepared for local development.
package store

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/MrWong99/murmur/pkg/message"
)

// ErrNotFound is returned by Get when no message has the requested id.
var ErrNotFound = errors.New("store: message not found")

// Store provides read access to persisted messages.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the message with the given id or [ErrNotFound].
	Get(ctx context.Context, id string) (message.Message, error)

	// Recent returns the ids of up to limit messages, newest first.
	Recent(ctx context.Context, limit int) ([]string, error)
}

// MemStore is an in-memory [Store], used when no database is configured and
// in tests.
type MemStore struct {
	mu    sync.RWMutex
	msgs  map[string]message.Message
	order []string
}

// Compile-time interface check.
var _ Store = (*MemStore)(nil)

// NewMemStore returns a MemStore seeded with msgs in insertion order.
func NewMemStore(msgs ...message.Message) *MemStore {
	s := &MemStore{msgs: make(map[string]message.Message)}
	for _, m := range msgs {
		s.Put(m)
	}
	return s
}

// Put inserts or replaces msg. A replaced message becomes the newest.
func (s *MemStore) Put(msg message.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.msgs[msg.ID]; ok {
		s.order = slices.DeleteFunc(s.order, func(id string) bool { return id == msg.ID })
	}
	s.msgs[msg.ID] = msg
	s.order = append(s.order, msg.ID)
}

// Get implements [Store].
func (s *MemStore) Get(_ context.Context, id string) (message.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.msgs[id]
	if !ok {
		return message.Message{}, ErrNotFound
	}
	return msg, nil
}

// Recent implements [Store].
func (s *MemStore) Recent(_ context.Context, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := min(max(limit, 0), len(s.order))
	out := make([]string, 0, n)
	for i := len(s.order) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.order[i])
	}
	return out, nil
}
