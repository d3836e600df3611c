package amqp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"moneymanager/internal/log"
)

const (
	// RoutingInviteEmail routes invitation mails to the durable invite queue.
	RoutingInviteEmail = "invite.email"
	changePrefix       = "change."
	changeBinding      = "change.#"
)

// Circuit breaker states.
const (
	StateClosed int32 = iota
	StateOpen
	StateHalfOpen
)

const (
	maxFailures          = 5
	openTimeout          = 30 * time.Second
	maxBackoff           = 30 * time.Second
	maxReconnectAttempts = 3
	publishTimeout       = 5 * time.Second
)

// Client publishes to and consumes from a topic exchange. Publishing is
// guarded by a circuit breaker so a dead broker fails fast instead of
// stalling every write path.
type Client struct {
	url          string
	exchangeName string
	queueName    string
	logger       *log.Logger

	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel

	state        int32
	failureCount int64
	cbMu         sync.Mutex
	lastFailure  time.Time
}

// NewClient dials the broker and declares the exchange and the durable
// invite queue. queueName is the invite queue.
func NewClient(url, exchangeName, queueName string, logger *log.Logger) (*Client, error) {
	if logger == nil {
		logger = log.Nop()
	}
	client := &Client{
		url:          url,
		exchangeName: exchangeName,
		queueName:    queueName,
		logger:       logger.WithComponent(log.ComponentAMQP),
	}
	if err := client.connect(); err != nil {
		return nil, err
	}
	return client, nil
}

func (c *Client) connect() error {
	conn, err := amqp091.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	if err := c.setup(channel); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("setup exchange and queue: %w", err)
	}

	c.conn = conn
	c.channel = channel
	return nil
}

func (c *Client) setup(ch *amqp091.Channel) error {
	err := ch.ExchangeDeclare(
		c.exchangeName, // name
		"topic",        // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	_, err = ch.QueueDeclare(
		c.queueName, // name
		true,        // durable
		false,       // delete when unused
		false,       // exclusive
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	err = ch.QueueBind(c.queueName, RoutingInviteEmail, c.exchangeName, false, nil)
	if err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	return nil
}

// ensureChannel returns a live channel, reconnecting with backoff when the
// previous one was closed.
func (c *Client) ensureChannel(ctx context.Context) (*amqp091.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel != nil && !c.channel.IsClosed() {
		return c.channel, nil
	}
	c.closeLocked()

	var lastErr error
	for attempt := 0; attempt < maxReconnectAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(exponentialBackoff(attempt - 1)):
			}
		}
		if lastErr = c.connect(); lastErr == nil {
			c.logger.Info("Reconnected to AMQP broker", "attempt", attempt+1)
			return c.channel, nil
		}
		c.logger.Warn("AMQP reconnect failed", "attempt", attempt+1, log.FieldError, lastErr)
	}
	return nil, fmt.Errorf("reconnect after %d attempts: %w", maxReconnectAttempts, lastErr)
}

func (c *Client) publish(ctx context.Context, routingKey string, body []byte, mode uint8) error {
	if c.isCircuitOpen() {
		return errors.New("circuit breaker is open, AMQP publishing unavailable")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ch, err := c.ensureChannel(ctx)
	if err != nil {
		c.recordFailure()
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = ch.PublishWithContext(
		ctx,
		c.exchangeName, // exchange
		routingKey,     // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: mode,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		c.recordFailure()
		if isConnectionError(err) {
			c.mu.Lock()
			c.closeLocked()
			c.mu.Unlock()
		}
		return fmt.Errorf("publish message: %w", err)
	}

	c.recordSuccess()
	return nil
}

// PublishChange announces a mutated collection to every process bound to
// the exchange. Change notices are transient.
func (c *Client) PublishChange(ctx context.Context, msg *ChangeMessage) error {
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := c.publish(ctx, changePrefix+msg.Collection, body, amqp091.Transient); err != nil {
		return err
	}
	c.logger.DebugContext(ctx, "Published change", log.FieldCollection, msg.Collection)
	return nil
}

// PublishInviteEmail queues an invitation mail for the notify worker.
func (c *Client) PublishInviteEmail(ctx context.Context, msg *InviteEmailMessage) error {
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := c.publish(ctx, RoutingInviteEmail, body, amqp091.Persistent); err != nil {
		return err
	}
	c.logger.InfoContext(ctx, "Published invite email message",
		log.FieldInviteID, msg.InviteID,
		"exchange", c.exchangeName,
		"queue", c.queueName)
	return nil
}

// ConsumeChanges binds a private, auto-deleted queue to every change
// routing key and hands each notice to handler until ctx is done.
func (c *Client) ConsumeChanges(ctx context.Context, handler func(*ChangeMessage)) error {
	return c.consumeLoop(ctx, "changes", func(ch *amqp091.Channel) (<-chan amqp091.Delivery, error) {
		q, err := ch.QueueDeclare("", false, true, true, false, nil)
		if err != nil {
			return nil, fmt.Errorf("declare change queue: %w", err)
		}
		if err := ch.QueueBind(q.Name, changeBinding, c.exchangeName, false, nil); err != nil {
			return nil, fmt.Errorf("bind change queue: %w", err)
		}
		return ch.Consume(q.Name, "", true, true, false, false, nil)
	}, func(d amqp091.Delivery) {
		msg, err := ChangeMessageFromJSON(d.Body)
		if err != nil {
			c.logger.WarnContext(ctx, "Dropping malformed change message", log.FieldError, err)
			return
		}
		handler(msg)
	})
}

// ConsumeInviteEmails consumes the durable invite queue with manual
// acknowledgement. A failed message is requeued once and dropped if it
// fails again.
func (c *Client) ConsumeInviteEmails(ctx context.Context, handler func(*InviteEmailMessage) error) error {
	return c.consumeLoop(ctx, "invite emails", func(ch *amqp091.Channel) (<-chan amqp091.Delivery, error) {
		if err := ch.Qos(1, 0, false); err != nil {
			return nil, fmt.Errorf("set qos: %w", err)
		}
		return ch.Consume(
			c.queueName, // queue
			"",          // consumer
			false,       // auto-ack (we want manual ack)
			false,       // exclusive
			false,       // no-local
			false,       // no-wait
			nil,         // args
		)
	}, func(delivery amqp091.Delivery) {
		msg, err := InviteEmailMessageFromJSON(delivery.Body)
		if err != nil {
			c.logger.ErrorContext(ctx, "Failed to unmarshal message", log.FieldError, err)
			delivery.Nack(false, false) // reject and don't requeue
			return
		}

		if err := handler(msg); err != nil {
			requeue := !delivery.Redelivered
			c.logger.ErrorContext(ctx, "Failed to handle invite email",
				log.FieldError, err,
				log.FieldInviteID, msg.InviteID,
				"requeue", requeue)
			delivery.Nack(false, requeue)
			return
		}

		delivery.Ack(false)
		c.logger.InfoContext(ctx, "Sent invite email", log.FieldInviteID, msg.InviteID)
	})
}

// consumeLoop (re)starts a consumer until ctx is done, backing off
// between broker outages.
func (c *Client) consumeLoop(ctx context.Context, name string,
	start func(*amqp091.Channel) (<-chan amqp091.Delivery, error),
	handle func(amqp091.Delivery),
) error {
	for attempt := 0; ; {
		ch, err := c.ensureChannel(ctx)
		var msgs <-chan amqp091.Delivery
		if err == nil {
			msgs, err = start(ch)
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			wait := exponentialBackoff(attempt)
			attempt++
			c.logger.WarnContext(ctx, "Consumer unavailable, retrying", "consumer", name, "retry_in", wait, log.FieldError, err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			continue
		}

		attempt = 0
		c.logger.InfoContext(ctx, "Started consuming", "consumer", name)

	deliveries:
		for {
			select {
			case <-ctx.Done():
				c.logger.InfoContext(ctx, "Stopping message consumption", "consumer", name, "reason", ctx.Err())
				return ctx.Err()
			case d, ok := <-msgs:
				if !ok {
					c.logger.WarnContext(ctx, "Delivery channel closed", "consumer", name)
					break deliveries
				}
				handle(d)
			}
		}
	}
}

func (c *Client) isCircuitOpen() bool {
	if atomic.LoadInt32(&c.state) != StateOpen {
		return false
	}
	c.cbMu.Lock()
	last := c.lastFailure
	c.cbMu.Unlock()
	if time.Since(last) > openTimeout {
		atomic.CompareAndSwapInt32(&c.state, StateOpen, StateHalfOpen)
		return false
	}
	return true
}

func (c *Client) recordSuccess() {
	atomic.StoreInt64(&c.failureCount, 0)
	atomic.StoreInt32(&c.state, StateClosed)
}

func (c *Client) recordFailure() {
	n := atomic.AddInt64(&c.failureCount, 1)
	c.cbMu.Lock()
	c.lastFailure = time.Now()
	c.cbMu.Unlock()
	// a half-open trial call that fails reopens immediately
	if n >= maxFailures || atomic.LoadInt32(&c.state) == StateHalfOpen {
		if atomic.SwapInt32(&c.state, StateOpen) != StateOpen {
			c.logger.Warn("AMQP circuit breaker opened", "failures", n)
		}
	}
}

func exponentialBackoff(attempt int) time.Duration {
	if attempt >= 5 {
		return maxBackoff
	}
	d := time.Second << attempt
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp091.ErrClosed) {
		return true
	}
	msg := err.Error()
	for _, s := range []string{"connection refused", "connection closed", "EOF", "broken pipe", "closed network connection"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func (c *Client) closeLocked() {
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var err error
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		err = c.conn.Close()
		c.conn = nil
	}
	return err
}
