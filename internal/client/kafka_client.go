package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"identity-service/internal/config"
	"identity-service/internal/util"
)

// KafkaProducer publishes to a single topic. Writes are synchronous so the
// caller's context bounds the wait.
type KafkaProducer struct {
	Writer  *kafka.Writer
	brokers []string
	topic   string
}

func NewKafkaProducer(cfg *config.Config) (*KafkaProducer, error) {
	kc := cfg.Kafka
	if len(kc.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(kc.Brokers...),
		Topic:                  kc.SessionEventsTopic,
		Balancer:               &kafka.Hash{},
		MaxAttempts:            3,
		BatchSize:              100,
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: !cfg.IsProduction(),
	}

	util.Info("Kafka producer initialized",
		zap.Strings("brokers", kc.Brokers),
		zap.String("topic", kc.SessionEventsTopic))

	return &KafkaProducer{Writer: writer, brokers: kc.Brokers, topic: kc.SessionEventsTopic}, nil
}

// ProduceMessage writes one keyed message. Messages sharing a key land on
// the same partition, so per-employer ordering is kept.
func (p *KafkaProducer) ProduceMessage(ctx context.Context, key, value []byte, headers map[string]string) error {
	msg := kafka.Message{Key: key, Value: value}
	for k, v := range headers {
		msg.Headers = append(msg.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	if err := p.Writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write kafka message: %w", err)
	}
	util.Debug("Produced kafka message",
		zap.String("topic", p.topic),
		zap.Int("value_size", len(value)))
	return nil
}

// HealthCheck dials the first broker and asks for the controller.
func (p *KafkaProducer) HealthCheck(ctx context.Context) error {
	dialer := &kafka.Dialer{Timeout: 5 * time.Second, DualStack: true}
	conn, err := dialer.DialContext(ctx, "tcp", p.brokers[0])
	if err != nil {
		return fmt.Errorf("failed to connect to kafka broker: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("failed to read kafka controller: %w", err)
	}
	util.Debug("Kafka health check passed",
		zap.String("controller", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port))))
	return nil
}

func (p *KafkaProducer) Close() error {
	if p.Writer == nil {
		return nil
	}
	if err := p.Writer.Close(); err != nil {
		util.Error("failed to close Kafka producer", zap.Error(err))
		return err
	}
	util.Info("Kafka producer closed")
	return nil
}
