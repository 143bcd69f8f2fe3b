// Package queue holds the publish/subscribe transports the telemetry bus runs on.
package queue

import (
	"context"
	"errors"
	"time"
)

var ErrNotConnected = errors.New("transport not connected")

// Message is one payload received on a topic.
type Message struct {
	Topic      string
	Payload    []byte
	ReceivedAt time.Time
}

// Handler receives the messages of one topic. Transports call it from their delivery goroutine,
// in arrival order, so it must hand the message off quickly.
type Handler func(Message)

// Transport is a topic based message bus connection.
//
// Subscribe may be called before or after Connect; a transport re-arms every registered
// topic when its session is re-established. Subscribing to a topic twice replaces the handler.
type Transport interface {
	Name() string
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool
	Subscribe(topic string, handler Handler) error
	Publish(ctx context.Context, topic string, payload []byte) error
}
