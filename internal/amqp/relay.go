package amqp

import (
	"context"

	"github.com/google/uuid"
)

// Applier receives changes published by other processes.
type Applier interface {
	Apply(collections ...string)
}

// changePublisher is the slice of Client the relay needs.
type changePublisher interface {
	PublishChange(ctx context.Context, msg *ChangeMessage) error
	ConsumeChanges(ctx context.Context, handler func(*ChangeMessage)) error
}

// ChangeRelay bridges the in-process subscription hub and the broker so
// subscribers in every replica observe each other's writes.
type ChangeRelay struct {
	client changePublisher
	origin string
}

func NewChangeRelay(client *Client) *ChangeRelay {
	return newChangeRelay(client)
}

func newChangeRelay(client changePublisher) *ChangeRelay {
	return &ChangeRelay{client: client, origin: uuid.NewString()}
}

// Origin identifies this process on the wire.
func (r *ChangeRelay) Origin() string { return r.origin }

// Publish implements live.Relay.
func (r *ChangeRelay) Publish(ctx context.Context, collection string) error {
	return r.client.PublishChange(ctx, NewChangeMessage(r.origin, collection))
}

// Run applies remote changes until ctx is done.
func (r *ChangeRelay) Run(ctx context.Context, target Applier) error {
	return r.client.ConsumeChanges(ctx, func(msg *ChangeMessage) {
		r.apply(target, msg)
	})
}

func (r *ChangeRelay) apply(target Applier, msg *ChangeMessage) {
	if msg.Origin == r.origin || msg.Collection == "" {
		return
	}
	target.Apply(msg.Collection)
}
