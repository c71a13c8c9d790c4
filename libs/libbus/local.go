package libbus

import (
	"context"
	"sync"
)

// localPS is an in-process Messenger used when no NATS URL is configured.
// Semantics match the NATS implementation closely enough for the worker
// triggers and progress events: at-most-once delivery, slow subscribers drop.
type localPS struct {
	mu     sync.Mutex
	subs   map[string][]*localSubscription
	closed bool
}

type localSubscription struct {
	bus     *localPS
	subject string
	ch      chan<- []byte
	done    chan struct{}
	once    sync.Once
}

// NewLocalPubSub returns a process-local Messenger with no external broker.
func NewLocalPubSub() Messenger {
	return &localPS{subs: map[string][]*localSubscription{}}
}

func (p *localPS) Publish(ctx context.Context, subject string, data []byte) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrConnectionClosed
	}
	subs := make([]*localSubscription, len(p.subs[subject]))
	copy(subs, p.subs[subject])
	p.mu.Unlock()

	for _, sub := range subs {
		select {
		case <-sub.done:
		case sub.ch <- data:
		default:
			// Subscriber buffer is full, drop rather than block the publisher.
		}
	}
	return nil
}

func (p *localPS) Stream(ctx context.Context, subject string, ch chan<- []byte) (Subscription, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrConnectionClosed
	}

	sub := &localSubscription{bus: p, subject: subject, ch: ch, done: make(chan struct{})}
	p.subs[subject] = append(p.subs[subject], sub)

	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Unsubscribe()
		case <-sub.done:
		}
	}()

	return sub, nil
}

func (p *localPS) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	for _, subs := range p.subs {
		for _, sub := range subs {
			sub.once.Do(func() { close(sub.done) })
		}
	}
	p.subs = map[string][]*localSubscription{}
	return nil
}

func (s *localSubscription) Unsubscribe() error {
	s.once.Do(func() { close(s.done) })

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	subs := s.bus.subs[s.subject]
	for i, sub := range subs {
		if sub == s {
			s.bus.subs[s.subject] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	return nil
}
