// Package messaging provides the optional audit/recommendation publish
// path: a Publisher interface plus Kafka, RabbitMQ, and in-memory
// implementations, mirroring the teacher's broker-adapter layer but talking
// to the real upstream client libraries directly instead of an extracted
// internal module.
package messaging

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// Publisher is the capability the routing engine uses to emit routing
// audit records. Implementations must never block the caller's hot path on
// broker unavailability; the router discards Publish errors.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload interface{}) error
	Close() error
}

// NopPublisher discards every payload. Used when Messaging.Backend is "".
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, topic string, payload interface{}) error {
	return nil
}

func (NopPublisher) Close() error { return nil }

// InMemoryPublisher records published payloads for inspection in tests.
type InMemoryPublisher struct {
	mu       sync.Mutex
	messages map[string][]interface{}
}

// NewInMemoryPublisher builds an empty InMemoryPublisher.
func NewInMemoryPublisher() *InMemoryPublisher {
	return &InMemoryPublisher{messages: make(map[string][]interface{})}
}

func (p *InMemoryPublisher) Publish(ctx context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages[topic] = append(p.messages[topic], payload)
	return nil
}

func (p *InMemoryPublisher) Close() error { return nil }

// Messages returns everything published to topic, in publish order.
func (p *InMemoryPublisher) Messages(topic string) []interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]interface{}, len(p.messages[topic]))
	copy(out, p.messages[topic])
	return out
}

// KafkaPublisher publishes JSON-encoded payloads via segmentio/kafka-go.
type KafkaPublisher struct {
	writer *kafka.Writer
	log    *logrus.Entry
}

// NewKafkaPublisher builds a KafkaPublisher targeting the given brokers.
func NewKafkaPublisher(brokers []string, log *logrus.Entry) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
		},
		log: log,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, topic string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{Topic: topic, Value: body})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// AMQPPublisher publishes JSON-encoded payloads via rabbitmq/amqp091-go,
// declaring one fanout exchange named after each topic it is asked to use.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	declared map[string]bool
}

// NewAMQPPublisher dials url and opens one channel for publishing.
func NewAMQPPublisher(url string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &AMQPPublisher{conn: conn, channel: ch, declared: make(map[string]bool)}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, topic string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if !p.declared[topic] {
		if err := p.channel.ExchangeDeclare(topic, "fanout", true, false, false, false, nil); err != nil {
			p.mu.Unlock()
			return err
		}
		p.declared[topic] = true
	}
	p.mu.Unlock()

	return p.channel.PublishWithContext(ctx, topic, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
		Timestamp:   time.Now(),
	})
}

func (p *AMQPPublisher) Close() error {
	p.channel.Close()
	return p.conn.Close()
}
