package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"lucky-wheel/internal/metrics"
)

const (
	defaultWorkerNum = 4
	queueSize        = 256
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher hands events to a small worker pool that writes them to
// one topic. A full queue drops the event rather than stall a spin.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	logger *slog.Logger
	jobs   chan kafka.Message
	wg     sync.WaitGroup
	once   sync.Once
}

func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}
	return newKafkaPublisher(writer, topic, logger, defaultWorkerNum)
}

func newKafkaPublisher(writer messageWriter, topic string, logger *slog.Logger, workers int) *KafkaPublisher {
	p := &KafkaPublisher{
		writer: writer,
		topic:  topic,
		logger: logger.With("component", "kafka-publisher"),
		jobs:   make(chan kafka.Message, queueSize),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *KafkaPublisher) worker() {
	defer p.wg.Done()
	for msg := range p.jobs {
		p.write(msg)
	}
}

func (p *KafkaPublisher) write(msg kafka.Message) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic recovered", "panic", fmt.Sprintf("%v", r), "stack", string(debug.Stack()))
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	eventType := headerValue(msg, "type")
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		metrics.EventsPublished.WithLabelValues(eventType, "failed").Inc()
		p.logger.Error("failed to send event", "topic", p.topic, "key", string(msg.Key), "error", err)
		return
	}
	metrics.EventsPublished.WithLabelValues(eventType, "sent").Inc()
}

func (p *KafkaPublisher) Publish(_ context.Context, e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	value, err := json.Marshal(e)
	if err != nil {
		p.logger.Error("failed to marshal event", "type", e.Type, "error", err)
		return
	}
	msg := kafka.Message{
		Key:     []byte(e.Wallet),
		Value:   value,
		Time:    e.Timestamp,
		Headers: []kafka.Header{{Key: "type", Value: []byte(e.Type)}},
	}
	select {
	case p.jobs <- msg:
	default:
		metrics.EventsPublished.WithLabelValues(e.Type, "dropped").Inc()
		p.logger.Warn("event queue full, dropping event", "type", e.Type, "wallet", e.Wallet)
	}
}

// Close drains the queue and closes the writer.
func (p *KafkaPublisher) Close() error {
	p.once.Do(func() { close(p.jobs) })
	p.wg.Wait()
	return p.writer.Close()
}

func headerValue(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
