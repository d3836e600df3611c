package worker

import (
	"context"
	"fmt"
	"time"

	"moneymanager/internal/amqp"
	"moneymanager/internal/log"
	"moneymanager/internal/notify"
)

type inviteConsumer interface {
	ConsumeInviteEmails(ctx context.Context, handler func(*amqp.InviteEmailMessage) error) error
}

// MailWorker turns queued invite messages into email.
type MailWorker struct {
	consumer inviteConsumer
	mailer   notify.Mailer
	logger   *log.Logger
}

func NewMailWorker(consumer inviteConsumer, mailer notify.Mailer, logger *log.Logger) *MailWorker {
	return &MailWorker{
		consumer: consumer,
		mailer:   mailer,
		logger:   logger.WithComponent(log.ComponentWorker),
	}
}

// Run consumes until ctx is done.
func (w *MailWorker) Run(ctx context.Context) error {
	return w.consumer.ConsumeInviteEmails(ctx, func(msg *amqp.InviteEmailMessage) error {
		return w.HandleInviteMessage(ctx, msg)
	})
}

// HandleInviteMessage renders and sends one invitation. A returned error
// makes the consumer requeue the message.
func (w *MailWorker) HandleInviteMessage(ctx context.Context, msg *amqp.InviteEmailMessage) error {
	w.logger.InfoContext(ctx, "Processing invite email",
		log.FieldInviteID, msg.InviteID,
		log.FieldFamilyID, msg.FamilyID)

	subject, body, err := notify.RenderInvite(notify.FromMessage(msg))
	if err != nil {
		// unrenderable messages would fail forever
		w.logger.ErrorContext(ctx, "Dropping invite email", log.FieldInviteID, msg.InviteID, log.FieldError, err)
		return nil
	}

	if err := w.mailer.Send(ctx, msg.Recipient, subject, body); err != nil {
		return fmt.Errorf("send invite %s: %w", msg.InviteID, err)
	}

	w.logger.InfoContext(ctx, "Invite email sent",
		log.FieldInviteID, msg.InviteID,
		"queued_for", time.Since(msg.Timestamp).Round(time.Millisecond))
	return nil
}
