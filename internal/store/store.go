// Package store keeps the process-lifetime conversation cache. Conversations
// are created on first observation of a chat and never deleted.
package store

import (
	"sync"

	"rental-agent/internal/domain"
)

// Store is the keyed conversation cache. Reads and writes of a single
// conversation must happen while holding its chat lock (Lock); the store's
// own mutex only guards the maps.
type Store struct {
	mu    sync.Mutex
	convs map[string]*domain.Conversation
	locks map[string]*sync.Mutex
}

func New() *Store {
	return &Store{
		convs: make(map[string]*domain.Conversation),
		locks: make(map[string]*sync.Mutex),
	}
}

// Lock acquires the per-chat mutex and returns its unlock function. All
// mutation of a conversation's watermark or follow-up ladder happens under
// this lock, so a tick pass and a chat-processing pass for the same chat
// never interleave.
func (s *Store) Lock(chatID string) (unlock func()) {
	s.mu.Lock()
	l, ok := s.locks[chatID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[chatID] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// GetOrCreate returns the conversation for a chat, creating it on first
// observation.
func (s *Store) GetOrCreate(chatID string) *domain.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[chatID]
	if !ok {
		conv = &domain.Conversation{ChatID: chatID}
		s.convs[chatID] = conv
	}
	return conv
}

// Completed reports whether a chat's conversation is marked completed. An
// unknown chat is not completed.
func (s *Store) Completed(chatID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[chatID]
	return ok && conv.Completed
}

// Len returns the number of tracked conversations.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.convs)
}
