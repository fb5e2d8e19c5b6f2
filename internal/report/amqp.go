package report

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

const DefaultExchange = "rdispatch.results"

// Publisher sends one JSON event per record to a fanout exchange.
type Publisher struct {
	url      string
	exchange string

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

func NewPublisher(url, exchange string) *Publisher {
	if exchange == "" {
		exchange = DefaultExchange
	}

	return &Publisher{url: url, exchange: exchange}
}

func (p *Publisher) Name() string {
	return "amqp"
}

func (p *Publisher) connect() error {
	if p.channel != nil {
		return nil
	}

	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		p.exchange, // name
		amqp.ExchangeFanout,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare exchange %s: %w", p.exchange, err)
	}

	p.conn = conn
	p.channel = ch

	return nil
}

func (p *Publisher) Send(ctx context.Context, records []Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.connect(); err != nil {
		return err
	}

	for _, r := range records {
		msg, err := message(r)
		if err != nil {
			return err
		}

		if err := p.channel.PublishWithContext(ctx, p.exchange, "", false, false, msg); err != nil {
			return fmt.Errorf("failed to publish result for %s: %w", r.Name, err)
		}
	}

	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel != nil {
		p.channel.Close()
		p.channel = nil
	}

	if p.conn != nil {
		err := p.conn.Close()
		p.conn = nil
		return err
	}

	return nil
}

func message(r Record) (amqp.Publishing, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal result for %s: %w", r.Name, err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    r.Timestamp,
		Type:         "rdispatch.result",
		Body:         body,
	}

	if r.DispatchResult != nil {
		msg.MessageId = r.DispatchResult.ID
	}

	return msg, nil
}
