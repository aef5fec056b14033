package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// MailPublisher pushes outbound account mail onto the queue consumed by
// the notification service. Callers treat publish failures as
// non-fatal: the triggering operation already committed.
type MailPublisher interface {
	PublishAccountMail(ctx context.Context, event AccountMailEvent) error
}

type mailPublisher struct {
	conn              *RabbitMQConnection
	messagesPublished int64
	messagesFailed    int64
	lastPublishTime   time.Time
}

func NewMailPublisher(conn *RabbitMQConnection) MailPublisher {
	return &mailPublisher{
		conn:            conn,
		lastPublishTime: time.Now(),
	}
}

type noopMailPublisher struct{}

// NewNoopMailPublisher stands in when the broker is unreachable at
// startup. Mail delivery degrades; authentication keeps working.
func NewNoopMailPublisher() MailPublisher {
	return noopMailPublisher{}
}

func (noopMailPublisher) PublishAccountMail(_ context.Context, event AccountMailEvent) error {
	slog.Warn("mail publisher unavailable, dropping event", "kind", event.Kind, "email", event.Email)
	return nil
}

func (p *mailPublisher) PublishAccountMail(ctx context.Context, event AccountMailEvent) error {
	_, err := p.conn.Channel.QueueDeclare(
		AccountMailQueue, // queue name
		true,             // durable
		false,            // delete when unused
		false,            // exclusive
		false,            // no-wait
		nil,              // arguments
	)
	if err != nil {
		p.messagesFailed++
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	body, err := json.Marshal(event)
	if err != nil {
		p.messagesFailed++
		return fmt.Errorf("failed to marshal mail event: %w", err)
	}

	err = p.conn.Channel.PublishWithContext(
		ctx,
		"",               // exchange
		AccountMailQueue, // routing key (queue name)
		false,            // mandatory
		false,            // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		p.messagesFailed++
		return fmt.Errorf("failed to publish mail event: %w", err)
	}

	p.messagesPublished++
	p.lastPublishTime = time.Now()

	slog.Info("Account mail event published",
		"queue", AccountMailQueue,
		"kind", event.Kind,
		"email", event.Email,
	)

	return nil
}
