package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ClareAI/astra-callbot-service/internal/domain"
	redisservice "github.com/ClareAI/astra-callbot-service/pkg/redis"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis, *redisservice.RedisService) {
	t.Helper()
	mr := miniredis.RunT(t)
	svc, err := redisservice.NewRedisService(&redisservice.RedisConfig{Host: mr.Host(), Port: mr.Port()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return NewRedisStore(svc, time.Hour), mr, svc
}

func TestRedisStoreCreateGetUpdate(t *testing.T) {
	s, mr, svc := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, newTestConversation("c1")))
	assert.True(t, errors.Is(s.Create(ctx, newTestConversation("c1")), ErrConversationExists))

	key := svc.GenerateKey(redisservice.CALL_CONVERSATION, "c1")
	assert.Equal(t, time.Hour, mr.TTL(key))

	updated, err := s.Update(ctx, "c1", func(conv *domain.Conversation) error {
		conv.AppendTurn(domain.RoleAssistant, "hello")
		conv.SetExternalCallID("CA123")
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, updated.History, 1)

	got, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "CA123", got.Context.ExternalCallID)
	assert.Equal(t, []domain.Turn{{Role: domain.RoleAssistant, Content: "hello"}}, got.History)

	_, err = s.Get(ctx, "missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	_, err = s.Update(ctx, "missing", func(*domain.Conversation) error { return nil })
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestRedisStoreUpdateErrorKeepsStoredValue(t *testing.T) {
	s, _, _ := newTestRedisStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newTestConversation("c1")))

	boom := errors.New("boom")
	_, err := s.Update(ctx, "c1", func(conv *domain.Conversation) error {
		conv.AppendTurn(domain.RoleAssistant, "discarded")
		return boom
	})
	assert.True(t, errors.Is(err, boom))

	got, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, got.History)
}

func TestRedisStoreSerializesConcurrentUpdates(t *testing.T) {
	s, _, _ := newTestRedisStore(t)
	s.lockInterval = time.Millisecond
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newTestConversation("c1")))

	const writers = 10
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update(ctx, "c1", func(conv *domain.Conversation) error {
				conv.AppendTurn(domain.RoleServiceRep, "hi")
				conv.AppendTurn(domain.RoleAssistant, "hello")
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, got.History, 2*writers)
}

func TestRedisStoreLockTimeout(t *testing.T) {
	s, _, svc := newTestRedisStore(t)
	s.lockWait = 50 * time.Millisecond
	s.lockInterval = 5 * time.Millisecond
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newTestConversation("c1")))

	lockKey := svc.GenerateKey(redisservice.CALL_CONVERSATION_LOCK, "c1")
	ok, err := svc.AcquireLock(ctx, lockKey, "someone-else", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = s.Update(ctx, "c1", func(*domain.Conversation) error { return nil })
	assert.True(t, errors.Is(err, ErrLockTimeout))
}
