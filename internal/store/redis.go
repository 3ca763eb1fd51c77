package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ClareAI/astra-callbot-service/internal/domain"
	"github.com/ClareAI/astra-callbot-service/pkg/logger"
	redisservice "github.com/ClareAI/astra-callbot-service/pkg/redis"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultLockTTL      = 30 * time.Second
	defaultLockWait     = 15 * time.Second
	defaultLockInterval = 25 * time.Millisecond
)

// ErrLockTimeout is returned when another replica holds a conversation for too long
var ErrLockTimeout = errors.New("timed out waiting for conversation lock")

// RedisStore shares conversations between replicas. Updates are serialized
// with a token-scoped SET NX lock per conversation.
type RedisStore struct {
	redis        redisservice.RedisServiceInterface
	ttl          time.Duration
	lockTTL      time.Duration
	lockWait     time.Duration
	lockInterval time.Duration
	now          func() time.Time
}

// NewRedisStore creates a store whose entries expire ttl after their last update
func NewRedisStore(redis redisservice.RedisServiceInterface, ttl time.Duration) *RedisStore {
	return &RedisStore{
		redis:        redis,
		ttl:          ttl,
		lockTTL:      defaultLockTTL,
		lockWait:     defaultLockWait,
		lockInterval: defaultLockInterval,
		now:          time.Now,
	}
}

// Create stores a new conversation
func (s *RedisStore) Create(ctx context.Context, conv *domain.Conversation) error {
	if conv == nil || conv.ID == "" {
		return fmt.Errorf("%w: conversation id is required", domain.ErrValidation)
	}

	key := s.redis.GenerateKey(redisservice.CALL_CONVERSATION, conv.ID)
	return s.withLock(ctx, conv.ID, func() error {
		_, err := s.redis.GetValue(ctx, key)
		if err == nil {
			return fmt.Errorf("%w: %s", ErrConversationExists, conv.ID)
		}
		if !errors.Is(err, redisservice.ErrKeyNotExist) {
			return fmt.Errorf("failed to check conversation %s: %w", conv.ID, err)
		}

		clone, err := cloneConversation(conv)
		if err != nil {
			return err
		}
		if clone.UpdatedAt.IsZero() {
			clone.UpdatedAt = s.now()
		}
		return s.save(ctx, clone)
	})
}

// Get returns the stored conversation
func (s *RedisStore) Get(ctx context.Context, id string) (*domain.Conversation, error) {
	return s.load(ctx, id)
}

// Update applies fn under the conversation lock and writes the result back
func (s *RedisStore) Update(ctx context.Context, id string, fn UpdateFunc) (*domain.Conversation, error) {
	var committed *domain.Conversation
	err := s.withLock(ctx, id, func() error {
		conv, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(conv); err != nil {
			return err
		}
		conv.UpdatedAt = s.now()
		if err := s.save(ctx, conv); err != nil {
			return err
		}
		committed = conv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cloneConversation(committed)
}

func (s *RedisStore) load(ctx context.Context, id string) (*domain.Conversation, error) {
	key := s.redis.GenerateKey(redisservice.CALL_CONVERSATION, id)
	raw, err := s.redis.GetValue(ctx, key)
	if err != nil {
		if errors.Is(err, redisservice.ErrKeyNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to load conversation %s: %w", id, err)
	}

	var conv domain.Conversation
	if err := json.Unmarshal([]byte(raw), &conv); err != nil {
		return nil, fmt.Errorf("failed to decode conversation %s: %w", id, err)
	}
	if conv.History == nil {
		conv.History = make([]domain.Turn, 0)
	}
	return &conv, nil
}

func (s *RedisStore) save(ctx context.Context, conv *domain.Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("failed to encode conversation %s: %w", conv.ID, err)
	}
	key := s.redis.GenerateKey(redisservice.CALL_CONVERSATION, conv.ID)
	if err := s.redis.SetValue(ctx, key, string(data), s.ttl); err != nil {
		return fmt.Errorf("failed to save conversation %s: %w", conv.ID, err)
	}
	return nil
}

func (s *RedisStore) withLock(ctx context.Context, id string, fn func() error) error {
	lockKey := s.redis.GenerateKey(redisservice.CALL_CONVERSATION_LOCK, id)
	token := uuid.NewString()

	waitCtx, cancel := context.WithTimeout(ctx, s.lockWait)
	defer cancel()

	ticker := time.NewTicker(s.lockInterval)
	defer ticker.Stop()
	for {
		ok, err := s.redis.AcquireLock(waitCtx, lockKey, token, s.lockTTL)
		if err != nil && waitCtx.Err() == nil {
			return fmt.Errorf("failed to lock conversation %s: %w", id, err)
		}
		if ok && err == nil {
			break
		}
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %s", ErrLockTimeout, id)
		case <-ticker.C:
		}
	}

	defer func() {
		// Released with a fresh context so a cancelled request still unlocks
		releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer releaseCancel()
		if err := s.redis.ReleaseLock(releaseCtx, lockKey, token); err != nil {
			logger.Base().Warn("Failed to release conversation lock",
				zap.String("conversation_id", id),
				zap.Error(err))
		}
	}()
	return fn()
}
