// Package events publishes scan and promotion notifications.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind names an event type.
type Kind string

const (
	KindScanCompleted      Kind = "scan_completed"
	KindPromotionCandidate Kind = "promotion_candidate"
)

// Event is one published message. Key selects the partition.
type Event struct {
	ID      string          `json:"id"`
	Kind    Kind            `json:"kind"`
	Time    time.Time       `json:"time"`
	Key     string          `json:"key"`
	Payload json.RawMessage `json:"payload"`
}

// ScanCompleted summarizes one finished scan.
type ScanCompleted struct {
	ScanID     string `json:"scan_id"`
	ImageHash  string `json:"image_hash"`
	Mode       string `json:"mode"`
	Bottles    int    `json:"bottles"`
	Overlay    int    `json:"overlay"`
	Fallback   int    `json:"fallback"`
	Degraded   bool   `json:"degraded"`
	CacheHit   bool   `json:"cache_hit"`
	DurationMS int64  `json:"duration_ms"`
}

// PromotionCandidate announces a wine that crossed the promotion threshold.
type PromotionCandidate struct {
	Name        string  `json:"name"`
	DisplayName string  `json:"display_name"`
	HitCount    int64   `json:"hit_count"`
	Rating      float64 `json:"rating"`
	Provider    string  `json:"provider"`
}

// New builds an event with a fresh ID.
func New(kind Kind, key string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return Event{
		ID:      uuid.NewString(),
		Kind:    kind,
		Time:    time.Now().UTC(),
		Key:     key,
		Payload: data,
	}, nil
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Kind, err)
	}
	return nil
}

// Publisher sends events. Publish must not block on delivery.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Noop discards events.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close() error                         { return nil }

// Memory keeps published events in order.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

// Publish records e.
func (m *Memory) Publish(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

// Events returns a copy of everything published so far.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// OfKind returns the recorded events of one kind.
func (m *Memory) OfKind(kind Kind) []Event {
	var out []Event
	for _, e := range m.Events() {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}
