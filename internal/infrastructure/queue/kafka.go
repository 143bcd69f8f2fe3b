package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig holds Kafka connection configuration
type KafkaConfig struct {
	Brokers       []string
	ConsumerGroup string
	MinBytes      int
	MaxBytes      int
	MaxWait       time.Duration
	// CommitEach commits every message after its handler returns. Otherwise offsets
	// are committed by the reader every CommitInterval.
	CommitEach     bool
	CommitInterval time.Duration
}

// KafkaTopic maps a bus topic to a legal Kafka topic name ("smartbin/detection" -> "smartbin.detection").
func KafkaTopic(topic string) string {
	return strings.NewReplacer("/", ".", "+", "_", "#", "_").Replace(topic)
}

// KafkaTransport implements Transport with one consumer-group reader per topic and a shared writer.
type KafkaTransport struct {
	cfg    KafkaConfig
	log    *slog.Logger
	writer *kafka.Writer

	mu       sync.Mutex
	handlers map[string]Handler
	readers  map[string]*kafka.Reader
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewKafkaTransport creates a transport. Readers are created on Connect.
func NewKafkaTransport(cfg KafkaConfig, logger *slog.Logger) *KafkaTransport {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.MinBytes <= 0 {
		cfg.MinBytes = 1
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 10e6
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 500 * time.Millisecond
	}
	if cfg.CommitInterval <= 0 {
		cfg.CommitInterval = time.Second
	}

	return &KafkaTransport{
		cfg:      cfg,
		log:      logger.With("transport", "kafka"),
		handlers: make(map[string]Handler),
		readers:  make(map[string]*kafka.Reader),
	}
}

func (t *KafkaTransport) Name() string { return "kafka" }

// Connect starts a reader for every registered topic. Calling it while running is a no-op.
// kafka-go dials lazily and retries on its own, so Connect does not wait for the brokers.
func (t *KafkaTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancel != nil {
		return nil
	}
	if len(t.cfg.Brokers) == 0 {
		return errors.New("kafka connect: no brokers configured")
	}
	t.ctx, t.cancel = context.WithCancel(context.WithoutCancel(ctx))
	t.writer = &kafka.Writer{
		Addr:                   kafka.TCP(t.cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	for topic, h := range t.handlers {
		t.startReaderLocked(topic, h)
	}
	t.log.Info("consumers started", "brokers", t.cfg.Brokers, "topics", len(t.handlers))
	return nil
}

// Disconnect stops every reader and waits for their loops to exit.
func (t *KafkaTransport) Disconnect() {
	t.mu.Lock()
	cancel := t.cancel
	t.cancel = nil
	readers := t.readers
	t.readers = make(map[string]*kafka.Reader)
	writer := t.writer
	t.writer = nil
	t.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	t.wg.Wait()
	for topic, r := range readers {
		if err := r.Close(); err != nil {
			t.log.Warn("error closing reader", "topic", topic, "error", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.log.Warn("error closing writer", "error", err)
	}
	t.log.Info("disconnected")
}

func (t *KafkaTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancel != nil
}

// Subscribe registers the handler. While running the topic's reader is (re)started at once.
func (t *KafkaTransport) Subscribe(topic string, handler Handler) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.handlers[topic] = handler
	if t.cancel != nil {
		if old, ok := t.readers[topic]; ok {
			_ = old.Close()
		}
		t.startReaderLocked(topic, handler)
	}
	return nil
}

// Publish writes one message, keyed by topic so a topic stays on one partition.
func (t *KafkaTransport) Publish(ctx context.Context, topic string, payload []byte) error {
	t.mu.Lock()
	writer := t.writer
	t.mu.Unlock()
	if writer == nil {
		return ErrNotConnected
	}
	err := writer.WriteMessages(ctx, kafka.Message{
		Topic: KafkaTopic(topic),
		Key:   []byte(topic),
		Value: payload,
		Time:  time.Now(),
	})
	if err != nil {
		return fmt.Errorf("kafka publish %s: %w", topic, err)
	}
	return nil
}

func (t *KafkaTransport) startReaderLocked(topic string, handler Handler) {
	commitInterval := t.cfg.CommitInterval
	if t.cfg.CommitEach {
		commitInterval = 0 // explicit commits
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        t.cfg.Brokers,
		Topic:          KafkaTopic(topic),
		GroupID:        t.cfg.ConsumerGroup,
		MinBytes:       t.cfg.MinBytes,
		MaxBytes:       t.cfg.MaxBytes,
		MaxWait:        t.cfg.MaxWait,
		CommitInterval: commitInterval,
		StartOffset:    kafka.LastOffset,
	})
	t.readers[topic] = reader

	t.wg.Add(1)
	go t.consume(t.ctx, topic, reader, handler)
}

// consume delivers messages of one topic in partition order until ctx is cancelled.
func (t *KafkaTransport) consume(ctx context.Context, topic string, reader *kafka.Reader, handler Handler) {
	defer t.wg.Done()
	log := t.log.With("topic", topic)

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			log.Error("error fetching message", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		handler(Message{Topic: topic, Payload: msg.Value, ReceivedAt: time.Now().UTC()})

		// With a commit interval this only marks the offset; the reader flushes it later.
		if err := reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			log.Warn("error committing message", "offset", msg.Offset, "error", err)
		}
	}
}

var _ Transport = (*KafkaTransport)(nil)
