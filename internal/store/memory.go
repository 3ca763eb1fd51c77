package store

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ClareAI/astra-callbot-service/internal/domain"
	"github.com/ClareAI/astra-callbot-service/pkg/logger"
	"go.uber.org/zap"
)

// memoryEntry pairs a per-conversation writer lock with the last committed
// snapshot. Committed snapshots are never mutated, so readers skip the lock.
type memoryEntry struct {
	mu      sync.Mutex
	current atomic.Pointer[domain.Conversation]
}

// MemoryStore is a process-local Store
type MemoryStore struct {
	entries map[string]*memoryEntry
	mutex   sync.RWMutex
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}
}

// Create stores a new conversation
func (s *MemoryStore) Create(ctx context.Context, conv *domain.Conversation) error {
	if conv == nil || conv.ID == "" {
		return fmt.Errorf("%w: conversation id is required", domain.ErrValidation)
	}

	clone, err := cloneConversation(conv)
	if err != nil {
		return err
	}
	if clone.UpdatedAt.IsZero() {
		clone.UpdatedAt = s.now()
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.entries[conv.ID]; exists {
		return fmt.Errorf("%w: %s", ErrConversationExists, conv.ID)
	}

	entry := &memoryEntry{}
	entry.current.Store(clone)
	s.entries[conv.ID] = entry
	return nil
}

// Get returns a snapshot of the conversation
func (s *MemoryStore) Get(ctx context.Context, id string) (*domain.Conversation, error) {
	entry := s.entry(id)
	if entry == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	return cloneConversation(entry.current.Load())
}

// Update runs fn on a working copy under the conversation lock and commits it
// when fn succeeds
func (s *MemoryStore) Update(ctx context.Context, id string, fn UpdateFunc) (*domain.Conversation, error) {
	entry := s.entry(id)
	if entry == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	// The reaper may have dropped the entry while we waited for the lock
	if s.entry(id) != entry {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}

	working, err := cloneConversation(entry.current.Load())
	if err != nil {
		return nil, err
	}
	if err := fn(working); err != nil {
		return nil, err
	}
	working.UpdatedAt = s.now()

	entry.current.Store(working)
	return cloneConversation(working)
}

// Len returns the number of stored conversations
func (s *MemoryStore) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.entries)
}

// ExpiredFunc receives each conversation removed by the cleanup routine
type ExpiredFunc func(conv *domain.Conversation)

// CleanupExpired removes conversations not updated within ttl and returns
// their last snapshots. Conversations with a turn in progress are skipped.
func (s *MemoryStore) CleanupExpired(ttl time.Duration) []*domain.Conversation {
	cutoff := s.now().Add(-ttl)

	s.mutex.Lock()
	defer s.mutex.Unlock()

	var removed []*domain.Conversation
	for id, entry := range s.entries {
		if !entry.mu.TryLock() {
			continue
		}
		if conv := entry.current.Load(); conv != nil && conv.UpdatedAt.Before(cutoff) {
			delete(s.entries, id)
			removed = append(removed, conv)
		}
		entry.mu.Unlock()
	}
	return removed
}

// StartCleanupRoutine periodically expires idle conversations until ctx is
// done. onExpired, when set, is called for every removed conversation.
func (s *MemoryStore) StartCleanupRoutine(ctx context.Context, checkInterval, ttl time.Duration, onExpired ExpiredFunc) {
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	logger.Base().Info("Started conversation cleanup routine",
		zap.Duration("check_interval", checkInterval),
		zap.Duration("ttl", ttl))
	for {
		select {
		case <-ctx.Done():
			logger.Base().Info("Conversation cleanup routine stopped")
			return
		case <-ticker.C:
			removed := s.CleanupExpired(ttl)
			if len(removed) == 0 {
				continue
			}
			logger.Base().Info("Expired idle conversations", zap.Int("removed", len(removed)), zap.Int("remaining", s.Len()))
			if onExpired != nil {
				for _, conv := range removed {
					onExpired(conv)
				}
			}
		}
	}
}

func (s *MemoryStore) entry(id string) *memoryEntry {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.entries[id]
}
