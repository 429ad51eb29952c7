// Package events fans family-scoped change notifications out to the
// snapshot cache and the websocket hub.
package events

import (
	"fmt"
	"log/slog"
	"sync"
)

// Entities that publish changes.
const (
	EntityChild        = "child"
	EntityChore        = "chore"
	EntityLedger       = "ledger"
	EntityReward       = "reward"
	EntityRedemption   = "redemption"
	EntityCoupon       = "coupon"
	EntitySubscription = "subscription"
)

// Event describes a committed change within one family.
type Event struct {
	FamilyID int64
	Entity   string
	Action   string
	ID       int64
	Extra    map[string]any
}

// Type is the wire name of the event, e.g. "chore_approved".
func (e Event) Type() string {
	return fmt.Sprintf("%s_%s", e.Entity, e.Action)
}

// Publisher is implemented by anything that accepts committed changes.
// Publish must only be called after the owning transaction commits.
type Publisher interface {
	Publish(e Event)
}

// Discard drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}

// Bus delivers each event synchronously to every subscriber. A panicking
// subscriber is logged and does not affect the others.
type Bus struct {
	mu     sync.RWMutex
	subs   []func(Event)
	logger *slog.Logger
}

func NewBus(logger *slog.Logger) *Bus {
	return &Bus{logger: logger}
}

func (b *Bus) Subscribe(fn func(Event)) {
	b.mu.Lock()
	b.subs = append(b.subs, fn)
	b.mu.Unlock()
}

func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, fn := range subs {
		b.deliver(fn, e)
	}
}

func (b *Bus) deliver(fn func(Event), e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event subscriber panicked", "type", e.Type(), "family_id", e.FamilyID, "panic", r)
		}
	}()
	fn(e)
}
