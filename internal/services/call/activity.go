package call

import (
	"context"
	"sync"
	"time"

	"github.com/ClareAI/astra-callbot-service/internal/core/event"
	"github.com/ClareAI/astra-callbot-service/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type activityEntry struct {
	active   bool
	lastSeen time.Time
}

// ActivityTracker keeps the active conversation gauge in step with the call
// lifecycle events. A conversation counts as active from a successful
// placement until it ends or expires.
type ActivityTracker struct {
	gauge   prometheus.Gauge
	mutex   sync.Mutex
	entries map[string]*activityEntry
	now     func() time.Time
}

// NewActivityTracker creates a tracker driving gauge
func NewActivityTracker(gauge prometheus.Gauge) *ActivityTracker {
	return &ActivityTracker{
		gauge:   gauge,
		entries: make(map[string]*activityEntry),
		now:     time.Now,
	}
}

// Subscribe registers the tracker on the lifecycle events it needs
func (t *ActivityTracker) Subscribe(bus event.EventBus) error {
	handlers := []struct {
		eventType event.EventType
		handler   event.EventHandler
	}{
		{event.CallInitiated, t.handleStarted},
		{event.TurnCompleted, t.handleTouched},
		{event.CallStatusChanged, t.handleStatusChanged},
		{event.CallEnded, t.handleFinished},
		{event.ConversationExpired, t.handleFinished},
	}
	for _, h := range handlers {
		if err := bus.Subscribe(h.eventType, h.handler); err != nil {
			return err
		}
	}
	return nil
}

// Active returns the number of conversations currently counted
func (t *ActivityTracker) Active() int {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	count := 0
	for _, entry := range t.entries {
		if entry.active {
			count++
		}
	}
	return count
}

func (t *ActivityTracker) handleStarted(e *event.CallEvent) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	// Handlers run concurrently, so the end may be seen before the start
	if entry, ok := t.entries[e.ConversationID]; ok {
		entry.lastSeen = t.now()
		return
	}
	t.entries[e.ConversationID] = &activityEntry{active: true, lastSeen: t.now()}
	t.gauge.Inc()
}

func (t *ActivityTracker) handleTouched(e *event.CallEvent) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if entry, ok := t.entries[e.ConversationID]; ok {
		entry.lastSeen = t.now()
	}
}

func (t *ActivityTracker) handleStatusChanged(e *event.CallEvent) {
	data, ok := e.GetStatusData()
	if !ok || !data.Ended {
		t.handleTouched(e)
		return
	}
	t.handleFinished(e)
}

func (t *ActivityTracker) handleFinished(e *event.CallEvent) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	entry, ok := t.entries[e.ConversationID]
	if !ok {
		t.entries[e.ConversationID] = &activityEntry{lastSeen: t.now()}
		return
	}
	entry.lastSeen = t.now()
	if entry.active {
		entry.active = false
		t.gauge.Dec()
	}
}

// Prune forgets conversations without events for longer than ttl. Active
// ones are no longer counted; this covers conversations a shared store
// expired on its own.
func (t *ActivityTracker) Prune(ttl time.Duration) int {
	cutoff := t.now().Add(-ttl)

	t.mutex.Lock()
	defer t.mutex.Unlock()

	pruned := 0
	for id, entry := range t.entries {
		if !entry.lastSeen.Before(cutoff) {
			continue
		}
		if entry.active {
			t.gauge.Dec()
			pruned++
		}
		delete(t.entries, id)
	}
	return pruned
}

// StartPruneRoutine runs Prune every checkInterval until ctx is done
func (t *ActivityTracker) StartPruneRoutine(ctx context.Context, checkInterval, ttl time.Duration) {
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if pruned := t.Prune(ttl); pruned > 0 {
				logger.Base().Info("Stopped counting idle conversations", zap.Int("pruned", pruned))
			}
		}
	}
}
