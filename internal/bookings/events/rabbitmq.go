package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"slotkeeper/pkg/logger"

	amqp "github.com/rabbitmq/amqp091-go"
)

const exchangeKindTopic = "topic"

// amqpChannel is the part of *amqp.Channel used for publishing.
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// openFunc opens a fresh channel along with whatever owns it.
type openFunc func() (amqpChannel, io.Closer, error)

// RabbitMQPublisher sends events to a durable topic exchange, routed by event
// type. A channel or connection closed by the broker is reopened on the next
// publish.
type RabbitMQPublisher struct {
	exchange string
	open     openFunc

	mu     sync.Mutex
	ch     amqpChannel
	conn   io.Closer
	closed bool
}

func NewRabbitMQPublisher(url, exchange string) (*RabbitMQPublisher, error) {
	open := func() (amqpChannel, io.Closer, error) {
		return dialExchange(url, exchange)
	}
	ch, conn, err := open()
	if err != nil {
		return nil, err
	}
	return &RabbitMQPublisher{exchange: exchange, open: open, ch: ch, conn: conn}, nil
}

func dialExchange(url, exchange string) (amqpChannel, io.Closer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("rabbitmq: dial failed: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("rabbitmq: channel open failed: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, exchangeKindTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("rabbitmq: exchange declare failed: %w", err)
	}
	return ch, conn, nil
}

func newRabbitMQPublisherWithChannel(exchange string, ch amqpChannel, open openFunc) *RabbitMQPublisher {
	return &RabbitMQPublisher{exchange: exchange, ch: ch, open: open}
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("rabbitmq: marshal event failed: %w", err)
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Type:         event.Type,
		AppId:        Source,
		Timestamp:    event.OccurredAt,
		Headers: amqp.Table{
			"schema-version": SchemaVersion,
			"resource-id":    event.Key(),
		},
		Body: body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("rabbitmq: publish failed: %w", amqp.ErrClosed)
	}

	if p.ch == nil {
		if err := p.reopen(); err != nil {
			return err
		}
	}
	err = p.ch.PublishWithContext(ctx, p.exchange, event.Type, false, false, pub)
	if errors.Is(err, amqp.ErrClosed) {
		if err := p.reopen(); err != nil {
			return err
		}
		err = p.ch.PublishWithContext(ctx, p.exchange, event.Type, false, false, pub)
	}
	if err != nil {
		return fmt.Errorf("rabbitmq: publish failed: %w", err)
	}
	return nil
}

// reopen drops the current channel and connection and opens new ones. Callers
// hold p.mu.
func (p *RabbitMQPublisher) reopen() error {
	_ = p.release()
	if p.open == nil {
		return fmt.Errorf("rabbitmq: publish failed: %w", amqp.ErrClosed)
	}
	ch, conn, err := p.open()
	if err != nil {
		return err
	}
	p.ch, p.conn = ch, conn
	return nil
}

func (p *RabbitMQPublisher) release() error {
	var errs []error
	if p.ch != nil {
		errs = append(errs, p.ch.Close())
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
	}
	p.ch, p.conn = nil, nil
	return errors.Join(errs...)
}

func (p *RabbitMQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	return p.release()
}

// ConsumeRabbitMQ binds a durable queue to every booking event on exchange and
// hands each decoded event to handle until ctx is done. It redials with
// backoff when the broker goes away.
func ConsumeRabbitMQ(ctx context.Context, url, exchange, queue string, handle func(context.Context, Event) error, log *logger.Logger) error {
	backoff := time.Second
	for {
		err := consumeOnce(ctx, url, exchange, queue, handle, log)
		if ctx.Err() != nil {
			return nil
		}
		log.Warn("RabbitMQ consume loop ended, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func consumeOnce(ctx context.Context, url, exchange, queue string, handle func(context.Context, Event) error, log *logger.Logger) error {
	conn, err := amqp.Dial(url)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		log.Warn("RabbitMQ QoS failed", "error", err)
	}
	if err := ch.ExchangeDeclare(exchange, exchangeKindTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("exchange declare: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	if err := ch.QueueBind(queue, "booking.*", exchange, false, nil); err != nil {
		return fmt.Errorf("queue bind: %w", err)
	}

	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	log.Info("Consuming booking events from RabbitMQ", "exchange", exchange, "queue", queue)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			var event Event
			if err := json.Unmarshal(d.Body, &event); err != nil {
				log.Error("Dropping undecodable event", "message_id", d.MessageId, "error", err)
				_ = d.Nack(false, false)
				continue
			}
			if err := handle(ctx, event); err != nil {
				log.Error("Failed to handle event", "event_id", event.ID, "error", err)
				_ = d.Nack(false, !d.Redelivered)
				continue
			}
			_ = d.Ack(false)
		}
	}
}
