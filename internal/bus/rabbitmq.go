package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/opensource-finance/tern/internal/domain"
)

const defaultExchange = "tern"

// RabbitMQBus implements EventBus over a durable RabbitMQ topic exchange.
// Topics are routing keys. Plain subscribers get a private auto-delete
// queue; queue groups share a durable named queue.
type RabbitMQBus struct {
	mu            sync.Mutex
	conn          *amqp.Connection
	pub           *amqp.Channel
	exchange      string
	subscriptions map[string]*rabbitSubscription
	closed        bool
}

type rabbitSubscription struct {
	bus   *RabbitMQBus
	id    string
	topic string
	ch    *amqp.Channel
}

// NewRabbitMQBus dials the broker and declares the exchange.
func NewRabbitMQBus(cfg domain.EventBusConfig) (*RabbitMQBus, error) {
	if cfg.AMQPUrl == "" {
		return nil, fmt.Errorf("AMQP url is required")
	}
	exchange := cfg.AMQPExchange
	if exchange == "" {
		exchange = defaultExchange
	}

	conn, err := amqp.DialConfig(cfg.AMQPUrl, amqp.Config{Dial: amqp.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	pub, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open RabbitMQ channel: %w", err)
	}

	if err := pub.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // autoDelete
		false,    // internal
		false,    // noWait
		nil,      // args
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	slog.Info("RabbitMQ connected", "exchange", exchange)

	return &RabbitMQBus{
		conn:          conn,
		pub:           pub,
		exchange:      exchange,
		subscriptions: make(map[string]*rabbitSubscription),
	}, nil
}

// Publish sends a message with topic as the routing key.
func (b *RabbitMQBus) Publish(ctx context.Context, topic string, payload []byte) error {
	return b.publish(ctx, newMessage(ctx, topic, payload))
}

func (b *RabbitMQBus) publish(ctx context.Context, msg *domain.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	return b.pub.PublishWithContext(ctx,
		b.exchange, // exchange
		msg.Topic,  // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    msg.ID,
			Timestamp:    time.Unix(0, msg.Timestamp),
			Body:         data,
		},
	)
}

// Subscribe binds a private queue to topic.
func (b *RabbitMQBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	return b.consume(ctx, topic, "", handler)
}

// QueueSubscribe joins the competing consumers of a durable queue bound to topic.
func (b *RabbitMQBus) QueueSubscribe(ctx context.Context, topic, queue string, handler domain.MessageHandler) (domain.Subscription, error) {
	return b.consume(ctx, topic, queue, handler)
}

func (b *RabbitMQBus) consume(ctx context.Context, topic, queue string, handler domain.MessageHandler) (domain.Subscription, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open RabbitMQ channel: %w", err)
	}

	durable, autoDelete, exclusive := true, false, false
	if queue == "" {
		durable, autoDelete, exclusive = false, true, true
	}

	q, err := ch.QueueDeclare(queue, durable, autoDelete, exclusive, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, topic, b.exchange, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to bind queue %s to %s: %w", q.Name, topic, err)
	}

	sub := &rabbitSubscription{
		bus:   b,
		id:    uuid.New().String(),
		topic: topic,
		ch:    ch,
	}

	deliveries, err := ch.Consume(q.Name, sub.id, false, exclusive, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to consume from %s: %w", q.Name, err)
	}

	b.mu.Lock()
	b.subscriptions[sub.id] = sub
	b.mu.Unlock()

	go sub.run(ctx, deliveries, handler)
	return sub, nil
}

// run acknowledges handled deliveries and requeues failed ones once.
func (s *rabbitSubscription) run(ctx context.Context, deliveries <-chan amqp.Delivery, handler domain.MessageHandler) {
	for {
		select {
		case <-ctx.Done():
			_ = s.Unsubscribe()
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}

			var msg domain.Message
			if err := json.Unmarshal(d.Body, &msg); err != nil {
				slog.Error("failed to unmarshal RabbitMQ message", "routing_key", d.RoutingKey, "error", err)
				_ = d.Nack(false, false)
				continue
			}

			if err := handler(messageContext(ctx, &msg), &msg); err != nil {
				slog.Error("handler error",
					"routing_key", d.RoutingKey,
					"message_id", msg.ID,
					"error", err,
				)
				_ = d.Nack(false, !d.Redelivered)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// Request implements request-reply over a private reply queue.
func (b *RabbitMQBus) Request(ctx context.Context, topic string, payload []byte) ([]byte, error) {
	return request(ctx, b, func(msg *domain.Message) error { return b.publish(ctx, msg) }, topic, payload)
}

// Ping checks the connection.
func (b *RabbitMQBus) Ping(ctx context.Context) error {
	if b.conn.IsClosed() {
		return fmt.Errorf("RabbitMQ not connected")
	}
	return nil
}

// Close closes every subscription channel and the connection.
func (b *RabbitMQBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subscriptions
	b.subscriptions = make(map[string]*rabbitSubscription)
	b.mu.Unlock()

	for _, sub := range subs {
		_ = sub.ch.Close()
	}
	return b.conn.Close()
}

// Unsubscribe cancels the consumer and closes its channel.
func (s *rabbitSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	_, active := s.bus.subscriptions[s.id]
	delete(s.bus.subscriptions, s.id)
	s.bus.mu.Unlock()

	if !active {
		return nil
	}
	if err := s.ch.Cancel(s.id, false); err != nil {
		_ = s.ch.Close()
		return fmt.Errorf("failed to cancel consumer: %w", err)
	}
	return s.ch.Close()
}

// Topic returns the subscribed topic.
func (s *rabbitSubscription) Topic() string {
	return s.topic
}
