package queue

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConfig holds MQTT connection configuration
type MQTTConfig struct {
	Broker               string
	ClientID             string
	Username             string
	Password             string
	QoS                  byte
	KeepAlive            time.Duration
	MaxReconnectInterval time.Duration
}

// MQTTTransport implements Transport on a paho client with automatic reconnect.
type MQTTTransport struct {
	cfg    MQTTConfig
	client mqtt.Client
	log    *slog.Logger

	mu       sync.Mutex
	handlers map[string]Handler
	pending  mqtt.Token

	sessions atomic.Int64
}

// NewMQTTTransport creates a transport. No network activity happens until Connect.
func NewMQTTTransport(cfg MQTTConfig, logger *slog.Logger) *MQTTTransport {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 30 * time.Second
	}
	if cfg.MaxReconnectInterval <= 0 {
		cfg.MaxReconnectInterval = 10 * time.Second
	}
	if cfg.QoS > 2 {
		cfg.QoS = 1
	}

	t := &MQTTTransport{
		cfg:      cfg,
		log:      logger.With("transport", "mqtt", "broker", cfg.Broker),
		handlers: make(map[string]Handler),
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetCleanSession(true).
		SetOrderMatters(true).
		SetKeepAlive(cfg.KeepAlive).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(cfg.MaxReconnectInterval).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second).
		SetOnConnectHandler(t.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			t.log.Warn("connection lost, reconnecting", "error", err)
		}).
		SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
			t.log.Info("reconnecting")
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username).SetPassword(cfg.Password)
	}

	t.client = mqtt.NewClient(opts)
	return t
}

func (t *MQTTTransport) Name() string { return "mqtt" }

// Connect starts the session and waits until it is up or ctx is done. The client keeps
// retrying in the background after ctx expires. Calling Connect while connected or
// connecting is a no-op apart from waiting.
func (t *MQTTTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.pending == nil {
		t.pending = t.client.Connect()
	}
	token := t.pending
	t.mu.Unlock()

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			t.mu.Lock()
			if t.pending == token {
				t.pending = nil
			}
			t.mu.Unlock()
			return fmt.Errorf("mqtt connect %s: %w", t.cfg.Broker, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("mqtt connect %s: %w", t.cfg.Broker, ctx.Err())
	}
}

// Disconnect closes the session and stops reconnecting.
func (t *MQTTTransport) Disconnect() {
	t.mu.Lock()
	started := t.pending != nil
	t.pending = nil
	t.mu.Unlock()

	if started {
		t.client.Disconnect(250)
		t.log.Info("disconnected")
	}
}

func (t *MQTTTransport) IsConnected() bool {
	return t.client.IsConnectionOpen()
}

// Sessions returns how many times a session has been established.
func (t *MQTTTransport) Sessions() int64 {
	return t.sessions.Load()
}

// Subscribe records the handler and, when a session is open, subscribes right away.
func (t *MQTTTransport) Subscribe(topic string, handler Handler) error {
	t.mu.Lock()
	t.handlers[topic] = handler
	t.mu.Unlock()

	if !t.client.IsConnectionOpen() {
		return nil
	}
	return t.subscribe(topic, handler)
}

func (t *MQTTTransport) Publish(ctx context.Context, topic string, payload []byte) error {
	if !t.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	token := t.client.Publish(topic, t.cfg.QoS, false, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt publish %s: %w", topic, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *MQTTTransport) subscribe(topic string, handler Handler) error {
	token := t.client.Subscribe(topic, t.cfg.QoS, func(_ mqtt.Client, m mqtt.Message) {
		handler(Message{Topic: m.Topic(), Payload: m.Payload(), ReceivedAt: time.Now().UTC()})
	})
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("mqtt subscribe %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", topic, err)
	}
	return nil
}

// onConnect runs for the first session and after every automatic reconnect. With a clean
// session the broker has forgotten our subscriptions, so every registered topic is re-armed.
// The paho router replaces the route for a topic, so handlers are never duplicated.
func (t *MQTTTransport) onConnect(_ mqtt.Client) {
	n := t.sessions.Add(1)

	t.mu.Lock()
	snapshot := make(map[string]Handler, len(t.handlers))
	for topic, h := range t.handlers {
		snapshot[topic] = h
	}
	t.mu.Unlock()

	for topic, h := range snapshot {
		if err := t.subscribe(topic, h); err != nil {
			t.log.Error("re-subscribe failed", "topic", topic, "error", err)
			continue
		}
		t.log.Debug("subscribed", "topic", topic)
	}
	t.log.Info("connected", "session", n, "topics", len(snapshot))
}

var _ Transport = (*MQTTTransport)(nil)
