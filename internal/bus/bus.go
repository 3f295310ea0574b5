// Package bus provides event bus implementations for tern.
package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/opensource-finance/tern/internal/domain"
)

// MetaReplyTo names the topic a request expects its reply on.
const MetaReplyTo = "reply_to"

const defaultRequestTimeout = 30 * time.Second

var (
	// ErrClosed is returned by operations on a closed bus.
	ErrClosed = errors.New("bus is closed")

	// ErrNoReplyTopic is returned when replying to a message that is not a request.
	ErrNoReplyTopic = errors.New("message has no reply topic")
)

// QueueSubscriber is implemented by buses that can spread a topic across a
// group of competing subscribers, each message going to one member.
type QueueSubscriber interface {
	QueueSubscribe(ctx context.Context, topic, queue string, handler domain.MessageHandler) (domain.Subscription, error)
}

// New creates a new event bus based on configuration.
// For Community tier: returns ChannelBus.
// For Pro tier: returns NATSBus or RabbitMQBus.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	case "rabbitmq":
		return NewRabbitMQBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// Reply answers a request message on its reply topic.
func Reply(ctx context.Context, b domain.EventBus, msg *domain.Message, payload []byte) error {
	topic := msg.Metadata[MetaReplyTo]
	if topic == "" {
		return ErrNoReplyTopic
	}
	return b.Publish(ctx, topic, payload)
}

// newMessage builds an envelope carrying the trace context of ctx.
func newMessage(ctx context.Context, topic string, payload []byte) *domain.Message {
	msg := &domain.Message{
		ID:        uuid.New().String(),
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(msg.Metadata))
	return msg
}

// messageContext returns ctx carrying the trace context of msg.
func messageContext(ctx context.Context, msg *domain.Message) context.Context {
	if len(msg.Metadata) == 0 {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(msg.Metadata))
}

// requestTimeout is the time left on ctx, or the default.
func requestTimeout(ctx context.Context) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		return time.Until(deadline)
	}
	return defaultRequestTimeout
}

// request implements request-reply over Publish and Subscribe: it listens on
// a private reply topic and names it in the request metadata.
func request(ctx context.Context, b domain.EventBus, publish func(*domain.Message) error, topic string, payload []byte) ([]byte, error) {
	replyCh := make(chan []byte, 1)
	replyTopic := topic + ".reply." + uuid.New().String()

	sub, err := b.Subscribe(ctx, replyTopic, func(ctx context.Context, msg *domain.Message) error {
		select {
		case replyCh <- msg.Payload:
		default:
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	msg := newMessage(ctx, topic, payload)
	msg.Metadata[MetaReplyTo] = replyTopic
	if err := publish(msg); err != nil {
		return nil, err
	}

	timer := time.NewTimer(requestTimeout(ctx))
	defer timer.Stop()

	select {
	case reply := <-replyCh:
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("request timeout")
	}
}
