// Package store keeps the per-call conversation state shared by the webhook
// handlers. Every mutation of one conversation is serialized; reads return
// snapshots that callers may keep or modify freely.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/ClareAI/astra-callbot-service/internal/domain"
	"github.com/jinzhu/copier"
)

// ErrConversationExists is returned when creating an id that is already stored
var ErrConversationExists = errors.New("conversation already exists")

// UpdateFunc mutates a conversation in place. Returning an error discards
// the mutation.
type UpdateFunc func(conv *domain.Conversation) error

// Store holds one conversation per active call
type Store interface {
	// Create stores a new conversation
	Create(ctx context.Context, conv *domain.Conversation) error

	// Get returns a snapshot, or domain.ErrNotFound
	Get(ctx context.Context, id string) (*domain.Conversation, error)

	// Update runs fn while holding the conversation's exclusive lock and
	// persists the result. It returns a snapshot of the committed state.
	Update(ctx context.Context, id string, fn UpdateFunc) (*domain.Conversation, error)
}

// cloneConversation deep copies a conversation so that snapshots never share
// history slices with stored state
func cloneConversation(original *domain.Conversation) (*domain.Conversation, error) {
	if original == nil {
		return nil, nil
	}

	clone := *original
	clone.History = make([]domain.Turn, 0, len(original.History))
	if err := copier.CopyWithOption(&clone.History, original.History, copier.Option{DeepCopy: true}); err != nil {
		return nil, fmt.Errorf("failed to copy conversation %s: %w", original.ID, err)
	}
	if clone.History == nil {
		clone.History = make([]domain.Turn, 0)
	}
	return &clone, nil
}
