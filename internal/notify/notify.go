// Package notify delivers invitation notices. Dispatch is best effort:
// callers log a failure and carry on.
package notify

import (
	"context"
	"fmt"

	"moneymanager/internal/amqp"
	"moneymanager/internal/log"
)

// Invitation is what a recipient needs to find and accept an invite.
type Invitation struct {
	InviteID    string
	FamilyID    string
	FamilyName  string
	InviterName string
	Recipient   string
	AppURL      string
}

// Dispatcher hands an invitation to whatever delivers it.
type Dispatcher interface {
	DispatchInvite(ctx context.Context, inv Invitation) error
}

type invitePublisher interface {
	PublishInviteEmail(ctx context.Context, msg *amqp.InviteEmailMessage) error
}

// AMQPDispatcher queues invitations for the notify worker.
type AMQPDispatcher struct {
	publisher invitePublisher
}

var _ Dispatcher = (*AMQPDispatcher)(nil)

func NewAMQPDispatcher(publisher invitePublisher) *AMQPDispatcher {
	return &AMQPDispatcher{publisher: publisher}
}

func (d *AMQPDispatcher) DispatchInvite(ctx context.Context, inv Invitation) error {
	msg := amqp.NewInviteEmailMessage(inv.InviteID, inv.FamilyID, inv.FamilyName, inv.InviterName, inv.Recipient, inv.AppURL)
	if err := d.publisher.PublishInviteEmail(ctx, msg); err != nil {
		return fmt.Errorf("queue invite email: %w", err)
	}
	return nil
}

// LogDispatcher is used when no broker is configured. It records that the
// mail was skipped.
type LogDispatcher struct {
	logger *log.Logger
}

func NewLogDispatcher(logger *log.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger.WithComponent(log.ComponentNotify)}
}

func (d *LogDispatcher) DispatchInvite(ctx context.Context, inv Invitation) error {
	d.logger.InfoContext(ctx, "Invite email skipped, no dispatcher configured",
		log.FieldInviteID, inv.InviteID,
		log.FieldFamilyID, inv.FamilyID)
	return nil
}

// FromMessage converts a queued message back into an Invitation.
func FromMessage(m *amqp.InviteEmailMessage) Invitation {
	return Invitation{
		InviteID:    m.InviteID,
		FamilyID:    m.FamilyID,
		FamilyName:  m.FamilyName,
		InviterName: m.InviterName,
		Recipient:   m.Recipient,
		AppURL:      m.AppURL,
	}
}
