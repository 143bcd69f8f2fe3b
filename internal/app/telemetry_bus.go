package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"smartBin/internal/app/dto"
	"smartBin/internal/domain/model"
	"smartBin/internal/infrastructure/queue"
)

// ErrDuplicateSubscription is returned when a topic already has a handler.
var ErrDuplicateSubscription = errors.New("topic already has a handler")

// EnvelopeHandler processes one decoded message.
type EnvelopeHandler func(ctx context.Context, env model.Envelope)

// BusMetrics observes inbound traffic.
type BusMetrics interface {
	MessageReceived(topic string)
	DecodeError(topic string)
}

// DefaultTopicBuffer is the per-topic queue length between the transport and the worker.
const DefaultTopicBuffer = 256

type topicWorker struct {
	topic   string
	kind    model.EventKind
	handler EnvelopeHandler
	queue   chan queue.Message
}

// TelemetryBus decodes transport messages into typed envelopes and hands them to one handler per topic.
// Every topic has its own worker goroutine: messages of a topic are handled one at a time in
// arrival order, different topics run concurrently.
type TelemetryBus struct {
	transport queue.Transport
	metrics   BusMetrics
	log       *slog.Logger
	buffer    int

	mu      sync.Mutex
	workers map[string]*topicWorker
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closed  bool
}

func NewTelemetryBus(transport queue.Transport, buffer int, metrics BusMetrics, logger *slog.Logger) *TelemetryBus {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if buffer <= 0 {
		buffer = DefaultTopicBuffer
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &TelemetryBus{
		transport: transport,
		metrics:   metrics,
		log:       logger.With("component", "bus", "transport", transport.Name()),
		buffer:    buffer,
		workers:   make(map[string]*topicWorker),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Subscribe registers the handler for topic. Payloads are decoded as kind.
func (b *TelemetryBus) Subscribe(topic string, kind model.EventKind, handler EnvelopeHandler) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.New("bus closed")
	}
	if _, exists := b.workers[topic]; exists {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateSubscription, topic)
	}
	w := &topicWorker{topic: topic, kind: kind, handler: handler, queue: make(chan queue.Message, b.buffer)}
	b.workers[topic] = w
	b.mu.Unlock()

	if err := b.transport.Subscribe(topic, b.enqueue(w)); err != nil {
		b.mu.Lock()
		delete(b.workers, topic)
		b.mu.Unlock()
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}

	// closed is set under mu before Close waits, so Add never races with Wait.
	b.mu.Lock()
	if !b.closed {
		b.wg.Add(1)
		go b.run(w)
	}
	b.mu.Unlock()

	b.log.Info("subscribed", "topic", topic, "kind", kind)
	return nil
}

// Connect opens the transport session. It is idempotent.
func (b *TelemetryBus) Connect(ctx context.Context) error {
	return b.transport.Connect(ctx)
}

func (b *TelemetryBus) IsConnected() bool {
	return b.transport.IsConnected()
}

// Disconnect releases the transport session. Workers keep running so the bus can reconnect.
func (b *TelemetryBus) Disconnect() {
	b.transport.Disconnect()
}

// Close disconnects and stops the workers. Messages already queued are handled before it returns.
func (b *TelemetryBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	b.transport.Disconnect()
	b.cancel()
	b.wg.Wait()
}

// Publish forwards to the transport.
func (b *TelemetryBus) Publish(ctx context.Context, topic string, payload []byte) error {
	return b.transport.Publish(ctx, topic, payload)
}

// enqueue runs on the transport's delivery goroutine and only hands the message off.
func (b *TelemetryBus) enqueue(w *topicWorker) queue.Handler {
	return func(msg queue.Message) {
		select {
		case w.queue <- msg:
		case <-b.ctx.Done():
		}
	}
}

func (b *TelemetryBus) run(w *topicWorker) {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			b.drain(w)
			return
		case msg := <-w.queue:
			b.handle(w, msg)
		}
	}
}

// drain handles what the transport queued before it was disconnected.
func (b *TelemetryBus) drain(w *topicWorker) {
	for {
		select {
		case msg := <-w.queue:
			b.handle(w, msg)
		default:
			return
		}
	}
}

func (b *TelemetryBus) handle(w *topicWorker, msg queue.Message) {
	if b.metrics != nil {
		b.metrics.MessageReceived(w.topic)
	}

	env, err := dto.Decode(w.kind, w.topic, msg.Payload, msg.ReceivedAt)
	if err != nil {
		b.log.Warn("dropping malformed message", "topic", w.topic, "error", err)
		if b.metrics != nil {
			b.metrics.DecodeError(w.topic)
		}
		return
	}

	defer func() {
		if r := recover(); r != nil {
			b.log.Error("handler panicked", "topic", w.topic, "panic", r)
		}
	}()
	w.handler(b.ctx, env)
}
