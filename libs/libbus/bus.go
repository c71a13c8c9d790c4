// Package libbus provides an interface for core publish-subscribe messaging.
//
// It is a thin abstraction over a message broker offering fire-and-forget
// publishing and streaming subscriptions. Two implementations exist: a NATS
// backed one for deployments that want download progress visible outside the
// process, and an in-process one used when no broker is configured.
package libbus

import (
	"context"
	"errors"
)

var (
	// ErrConnectionClosed indicates the underlying broker connection is gone.
	ErrConnectionClosed = errors.New("libbus: connection closed")
	// ErrMessagePublish indicates a publish failed for a reason other than a closed connection.
	ErrMessagePublish = errors.New("libbus: message publish failed")
	// ErrStreamSubscriptionFail indicates a subscription could not be established.
	ErrStreamSubscriptionFail = errors.New("libbus: stream subscription failed")
)

// Messenger is the pub/sub surface shared by all implementations.
type Messenger interface {
	// Publish sends data on the subject. It never blocks on slow consumers.
	Publish(ctx context.Context, subject string, data []byte) error
	// Stream delivers messages on the subject into ch until the context is
	// cancelled or the subscription is unsubscribed. Messages a slow
	// subscriber cannot take in time are dropped.
	Stream(ctx context.Context, subject string, ch chan<- []byte) (Subscription, error)
	// Close releases the broker connection. Safe to call more than once.
	Close() error
}

// Subscription represents an active stream registration.
type Subscription interface {
	Unsubscribe() error
}
