package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// amqpChannel is the part of *amqp091.Channel the publisher uses.
type amqpChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// RabbitPublisher publishes events as JSON to durable queues. Events go to
// "<prefix>_<queue>" unless their type is listed in specific, in which case
// they get their own "<prefix>_<type>" queue.
type RabbitPublisher struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	channel  amqpChannel
	queue    string
	prefix   string
	specific map[string]bool
	declared map[string]bool
}

// NewRabbitPublisher dials url and opens a channel.
func NewRabbitPublisher(url, queue, prefix string, specific []string) (*RabbitPublisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("could not connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("could not open RabbitMQ channel: %w", err)
	}

	p := newRabbitPublisher(ch, queue, prefix, specific)
	p.conn = conn

	log.Info().
		Str("queue", queue).
		Str("prefix", prefix).
		Msg("RabbitMQ connection established.")
	return p, nil
}

func newRabbitPublisher(ch amqpChannel, queue, prefix string, specific []string) *RabbitPublisher {
	p := &RabbitPublisher{
		channel:  ch,
		queue:    queue,
		prefix:   prefix,
		specific: make(map[string]bool),
		declared: make(map[string]bool),
	}
	for _, s := range specific {
		if s = strings.TrimSpace(s); s != "" {
			p.specific[s] = true
		}
	}
	return p
}

// QueueName returns the queue an event type is routed to.
func (p *RabbitPublisher) QueueName(eventType string) string {
	if p.specific[eventType] {
		return p.prefix + "_" + strings.ToLower(strings.ReplaceAll(eventType, ".", "_"))
	}
	return p.prefix + "_" + p.queue
}

// Publish declares the target queue once and publishes the event.
func (p *RabbitPublisher) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}

	queueName := p.QueueName(event.Type)

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.declared[queueName] {
		_, err := p.channel.QueueDeclare(
			queueName,
			true,  // durable
			false, // auto-delete
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		)
		if err != nil {
			log.Error().Err(err).Str("queue", queueName).Msg("Could not declare RabbitMQ queue")
			return fmt.Errorf("could not declare queue %s: %w", queueName, err)
		}
		p.declared[queueName] = true
	}

	err = p.channel.PublishWithContext(ctx,
		"",        // default exchange
		queueName, // routing key = queue
		false,     // mandatory
		false,     // immediate
		amqp091.Publishing{
			ContentType: "application/json",
			MessageId:   event.ID,
			Type:        event.Type,
			Timestamp:   event.OccurredAt,
			Body:        body,
		},
	)
	if err != nil {
		log.Error().Err(err).Str("queue", queueName).Str("eventType", event.Type).Msg("Could not publish to RabbitMQ")
		return fmt.Errorf("could not publish to queue %s: %w", queueName, err)
	}

	log.Debug().Str("queue", queueName).Str("eventType", event.Type).Msg("Published event to RabbitMQ")
	return nil
}

// Close closes the channel and the connection.
func (p *RabbitPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	if p.channel != nil {
		firstErr = p.channel.Close()
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
