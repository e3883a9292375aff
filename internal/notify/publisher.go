// Package notify publishes pack change events for the notification
// scheduler. The engine only announces (packId, windowState,
// completionPercent) changes; scheduling and delivery belong to the
// consumer on the other side of the topic.
package notify

import (
	"context"
	"sync"
	"time"
)

// PackEvent is one change announcement. Fields are plain strings so the
// payload stays stable for external consumers regardless of internal types.
type PackEvent struct {
	PackKey           string    `json:"packKey"`
	Status            string    `json:"status"`
	WindowState       string    `json:"windowState"`
	CompletionPercent int       `json:"completionPercent"`
	OccurredAt        time.Time `json:"occurredAt"`
}

// Publisher fans pack events out to whoever schedules notifications.
type Publisher interface {
	Publish(ctx context.Context, event PackEvent) error
	Close() error
}

// InMemoryPublisher records events for tests and for deployments without a
// broker configured.
type InMemoryPublisher struct {
	mu     sync.Mutex
	events []PackEvent
}

func NewInMemoryPublisher() *InMemoryPublisher {
	return &InMemoryPublisher{}
}

func (p *InMemoryPublisher) Publish(_ context.Context, event PackEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

// Events returns a copy of everything published so far.
func (p *InMemoryPublisher) Events() []PackEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PackEvent{}, p.events...)
}

func (p *InMemoryPublisher) Close() error { return nil }
