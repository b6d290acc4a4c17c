package mail

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"
)

// KafkaConfig locates the email topic
type KafkaConfig struct {
	Broker   string
	Topic    string
	GroupID  string
	Username string
	Password string
}

func (c KafkaConfig) usesSASL() bool {
	return c.Username != ""
}

// KafkaGateway publishes messages as events for the mailer worker
type KafkaGateway struct {
	writer *kafka.Writer
}

// NewKafkaGateway creates a producer for cfg.Topic
func NewKafkaGateway(cfg KafkaConfig) *KafkaGateway {
	transport := &kafka.Transport{}
	if cfg.usesSASL() {
		transport.SASL = plain.Mechanism{Username: cfg.Username, Password: cfg.Password}
		transport.TLS = &tls.Config{}
	}

	return &KafkaGateway{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Broker),
			Topic:        cfg.Topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			Transport:    transport,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Send publishes msg keyed by recipient
func (g *KafkaGateway) Send(ctx context.Context, msg Message) error {
	if g == nil || g.writer == nil {
		log.Println("Kafka producer not ready - skip publish")
		return nil
	}
	if err := msg.Validate(); err != nil {
		return err
	}

	value, err := json.Marshal(NewEvent(msg))
	if err != nil {
		return fmt.Errorf("failed to encode email event: %w", err)
	}

	err = g.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.To),
		Value: value,
		Time:  time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s email: %w", msg.Kind, err)
	}
	return nil
}

// Close flushes and closes the producer
func (g *KafkaGateway) Close() error {
	if g == nil || g.writer == nil {
		return nil
	}
	return g.writer.Close()
}

// Consumer reads queued email events and hands them to a delivery gateway
type Consumer struct {
	reader  *kafka.Reader
	gateway Gateway
	timeout time.Duration
}

// NewConsumer creates a consumer-group reader for cfg.Topic
func NewConsumer(cfg KafkaConfig, gateway Gateway, sendTimeout time.Duration) *Consumer {
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	if cfg.usesSASL() {
		dialer.TLS = &tls.Config{}
		dialer.SASLMechanism = plain.Mechanism{Username: cfg.Username, Password: cfg.Password}
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  []string{cfg.Broker},
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 10e3,
		MaxBytes: 10e6,
		Dialer:   dialer,
	})

	return &Consumer{reader: reader, gateway: gateway, timeout: sendTimeout}
}

// Run consumes until ctx is cancelled. Undeliverable events are logged and skipped.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("[mailer] read error: %v", err)
			continue
		}

		if err := c.Handle(ctx, msg.Value); err != nil {
			log.Printf("[mailer] handler error: %v", err)
		}
	}
}

// Handle delivers one encoded event
func (c *Consumer) Handle(ctx context.Context, value []byte) error {
	event, err := DecodeEvent(value)
	if err != nil {
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.gateway.Send(sendCtx, event.Message()); err != nil {
		return err
	}
	log.Printf("[mailer] delivered %s to %s", event.Kind, event.To)
	return nil
}

// Close closes the reader
func (c *Consumer) Close() error {
	return c.reader.Close()
}
