// Package pubsub is an in-process topic based publish/subscribe service.
//
// A PubSub is constructed explicitly and handed to whoever publishes or
// subscribes; there is no package level instance.
package pubsub

import (
	"context"
	"errors"
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/vvakame/libraryql/internal/log"
)

// ErrClosed is returned by Subscribe after Close.
var ErrClosed = errors.New("pubsub: closed")

const defaultBuffer = 16

type PubSub struct {
	mu     sync.RWMutex
	topics map[string]map[string]*subscriber
	buffer int
	closed bool
}

type subscriber struct {
	id string
	ch chan any
}

type Option func(*PubSub)

// WithBuffer sets how many undelivered events a subscriber may queue before
// new events to it are dropped.
func WithBuffer(n int) Option {
	return func(ps *PubSub) {
		if n > 0 {
			ps.buffer = n
		}
	}
}

func New(opts ...Option) *PubSub {
	ps := &PubSub{
		topics: make(map[string]map[string]*subscriber),
		buffer: defaultBuffer,
	}
	for _, opt := range opts {
		opt(ps)
	}
	return ps
}

// Publish delivers payload to every current subscriber of topic without
// blocking. It returns how many subscribers accepted the event.
func (ps *PubSub) Publish(ctx context.Context, topic string, payload any) int {
	logger := log.FromContext(ctx)

	ps.mu.RLock()
	defer ps.mu.RUnlock()

	delivered := 0
	for _, sub := range ps.topics[topic] {
		select {
		case sub.ch <- payload:
			delivered++
		default:
			logger.Info("subscriber buffer full, dropping event", "topic", topic, "subscriber", sub.id)
		}
	}
	logger.V(1).Info("published", "topic", topic, "delivered", delivered)
	return delivered
}

// Subscribe registers interest in topic until ctx is done. The returned
// channel is closed after the subscription ends.
func (ps *PubSub) Subscribe(ctx context.Context, topic string) (<-chan any, error) {
	id, err := gonanoid.New()
	if err != nil {
		return nil, err
	}
	sub := &subscriber{id: id, ch: make(chan any, ps.buffer)}

	ps.mu.Lock()
	if ps.closed {
		ps.mu.Unlock()
		return nil, ErrClosed
	}
	subs, ok := ps.topics[topic]
	if !ok {
		subs = make(map[string]*subscriber)
		ps.topics[topic] = subs
	}
	subs[id] = sub
	ps.mu.Unlock()

	log.FromContext(ctx).V(1).Info("subscribed", "topic", topic, "subscriber", id)

	go func() {
		<-ctx.Done()
		ps.unsubscribe(topic, id)
	}()

	return sub.ch, nil
}

func (ps *PubSub) unsubscribe(topic, id string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	subs := ps.topics[topic]
	sub, ok := subs[id]
	if !ok {
		return
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(ps.topics, topic)
	}
	close(sub.ch)
}

// Subscribers returns the number of live subscriptions on topic.
func (ps *PubSub) Subscribers(topic string) int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.topics[topic])
}

// Close ends every subscription.
func (ps *PubSub) Close() {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.closed = true
	for topic, subs := range ps.topics {
		for _, sub := range subs {
			close(sub.ch)
		}
		delete(ps.topics, topic)
	}
}
