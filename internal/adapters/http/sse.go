package httpadapter

import (
	"context"
	"sync"

	"github.com/arxlab/litagent/internal/core/domain"
)

const subscriberBuffer = 16

// EventBroker fans run events out to SSE subscribers keyed by
// conversation. Emit never blocks the agent loop: a slow subscriber
// drops events instead of stalling tool execution.
type EventBroker struct {
	mu   sync.RWMutex
	subs map[string]map[chan domain.RunEvent]struct{}
}

func NewEventBroker() *EventBroker {
	return &EventBroker{
		subs: make(map[string]map[chan domain.RunEvent]struct{}),
	}
}

func (b *EventBroker) Emit(_ context.Context, event domain.RunEvent) {
	if event.ConversationID == "" {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[event.ConversationID] {
		select {
		case ch <- event:
		default:
		}
	}
}

func (b *EventBroker) Subscribe(conversationID string) (<-chan domain.RunEvent, func()) {
	ch := make(chan domain.RunEvent, subscriberBuffer)

	b.mu.Lock()
	if b.subs[conversationID] == nil {
		b.subs[conversationID] = make(map[chan domain.RunEvent]struct{})
	}
	b.subs[conversationID][ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[conversationID], ch)
		if len(b.subs[conversationID]) == 0 {
			delete(b.subs, conversationID)
		}
	}
	return ch, cancel
}
