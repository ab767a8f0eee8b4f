package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"
)

const defaultSubscriberBuffer = 32

// Message is an event as delivered to subscribers.
type Message struct {
	Kind     string          `json:"kind"`
	Audience []uuid.UUID     `json:"-"`
	Payload  json.RawMessage `json:"payload"`
}

type subscription struct {
	accountID uuid.UUID
	all       bool
	ch        chan Message
}

// Broker fans messages out to in-process subscribers. Slow subscribers lose
// messages rather than blocking publishers; clients re-read state through
// the query API.
type Broker struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscription
	nextID uint64
	buffer int
	log    *slog.Logger
}

func NewBroker(log *slog.Logger) *Broker {
	if log == nil {
		log = slog.Default()
	}
	return &Broker{
		subs:   make(map[uint64]*subscription),
		buffer: defaultSubscriberBuffer,
		log:    log,
	}
}

// Subscribe registers a listener for messages addressed to accountID, or
// for every message when all is set. The returned func unsubscribes and
// closes the channel.
func (b *Broker) Subscribe(accountID uuid.UUID, all bool) (<-chan Message, func()) {
	sub := &subscription{accountID: accountID, all: all, ch: make(chan Message, b.buffer)}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
}

// Subscribers returns the number of active subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Broker) Publish(msg Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !sub.all && !slices.Contains(msg.Audience, sub.accountID) {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			b.log.Warn("dropping event for slow subscriber", "kind", msg.Kind, "account_id", sub.accountID)
		}
	}
}

func (b *Broker) publishEvent(ev Event, audience ...uuid.UUID) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Kind(), err)
	}
	b.Publish(Message{Kind: ev.Kind(), Audience: audience, Payload: payload})
	return nil
}
