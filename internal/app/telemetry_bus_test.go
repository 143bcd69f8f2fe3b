package app_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartBin/internal/app"
	"smartBin/internal/domain/model"
	"smartBin/internal/infrastructure/queue"
)

// fakeTransport delivers messages synchronously on the caller's goroutine, like a transport's
// delivery loop would.
type fakeTransport struct {
	mu        sync.Mutex
	handlers  map[string]queue.Handler
	connects  int
	connected bool
	published []string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[string]queue.Handler)}
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		f.connects++
		f.connected = true
	}
	return nil
}

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) Subscribe(topic string, h queue.Handler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = h
	return nil
}

func (f *fakeTransport) Publish(ctx context.Context, topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, topic)
	return nil
}

func (f *fakeTransport) deliver(topic, payload string) {
	f.mu.Lock()
	h := f.handlers[topic]
	f.mu.Unlock()
	h(queue.Message{Topic: topic, Payload: []byte(payload), ReceivedAt: time.Now()})
}

type busCounters struct {
	received atomic.Int64
	decode   atomic.Int64
}

func (c *busCounters) MessageReceived(string) { c.received.Add(1) }
func (c *busCounters) DecodeError(string)     { c.decode.Add(1) }

func TestTelemetryBusRejectsDuplicateSubscription(t *testing.T) {
	bus := app.NewTelemetryBus(newFakeTransport(), 8, nil, nil)
	defer bus.Close()

	noop := func(context.Context, model.Envelope) {}
	require.NoError(t, bus.Subscribe("smartbin/detection", model.KindDetection, noop))
	err := bus.Subscribe("smartbin/detection", model.KindDetection, noop)
	assert.ErrorIs(t, err, app.ErrDuplicateSubscription)
}

func TestTelemetryBusConnectIsIdempotent(t *testing.T) {
	tr := newFakeTransport()
	bus := app.NewTelemetryBus(tr, 8, nil, nil)
	defer bus.Close()

	require.NoError(t, bus.Connect(context.Background()))
	require.NoError(t, bus.Connect(context.Background()))
	assert.True(t, bus.IsConnected())
	assert.Equal(t, 1, tr.connects)

	bus.Disconnect()
	assert.False(t, bus.IsConnected())
}

func TestTelemetryBusDropsMalformedAndContinues(t *testing.T) {
	tr := newFakeTransport()
	counters := &busCounters{}
	bus := app.NewTelemetryBus(tr, 8, counters, nil)
	defer bus.Close()

	var mu sync.Mutex
	var got []model.Envelope
	require.NoError(t, bus.Subscribe("smartbin/detection", model.KindDetection, func(_ context.Context, env model.Envelope) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, env)
	}))

	tr.deliver("smartbin/detection", `{"object":"can","destination":"dry"`)
	tr.deliver("smartbin/detection", `{"object":"can","destination":"dry","confidence":0.9}`)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, int64(2), counters.received.Load())
	assert.Equal(t, int64(1), counters.decode.Load())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, model.KindDetection, got[0].Kind)
	assert.Equal(t, "can", got[0].Detection.ObjectLabel)
}

func TestTelemetryBusSerializesPerTopic(t *testing.T) {
	tr := newFakeTransport()
	bus := app.NewTelemetryBus(tr, 64, nil, nil)
	defer bus.Close()

	var inFlight, maxInFlight atomic.Int64
	var mu sync.Mutex
	var order []float64
	require.NoError(t, bus.Subscribe("smartbin/bin_status", model.KindBinStatus, func(_ context.Context, env model.Envelope) {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		mu.Lock()
		order = append(order, env.BinStatus.Levels["dry"])
		mu.Unlock()
		inFlight.Add(-1)
	}))

	for i := 0; i < 20; i++ {
		tr.deliver("smartbin/bin_status", fmt.Sprintf(`{"levels":{"dry":%d}}`, i))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 20
	}, 5*time.Second, 5*time.Millisecond)

	assert.Equal(t, int64(1), maxInFlight.Load())
	for i, level := range order {
		assert.Equal(t, float64(i), level)
	}
}

func TestTelemetryBusTopicsRunConcurrently(t *testing.T) {
	tr := newFakeTransport()
	bus := app.NewTelemetryBus(tr, 8, nil, nil)
	defer bus.Close()

	release := make(chan struct{})
	systemHandled := make(chan struct{})

	require.NoError(t, bus.Subscribe("smartbin/detection", model.KindDetection, func(context.Context, model.Envelope) {
		<-release
	}))
	require.NoError(t, bus.Subscribe("smartbin/system", model.KindSystem, func(context.Context, model.Envelope) {
		close(systemHandled)
	}))

	tr.deliver("smartbin/detection", `{"destination":"wet"}`)
	tr.deliver("smartbin/system", `{"status":"online","message":"ok"}`)

	select {
	case <-systemHandled:
	case <-time.After(2 * time.Second):
		t.Fatal("system topic blocked behind detection topic")
	}
	close(release)
}

func TestTelemetryBusRecoversFromHandlerPanic(t *testing.T) {
	tr := newFakeTransport()
	bus := app.NewTelemetryBus(tr, 8, nil, nil)
	defer bus.Close()

	var calls atomic.Int64
	require.NoError(t, bus.Subscribe("smartbin/alerts", model.KindAlert, func(context.Context, model.Envelope) {
		if calls.Add(1) == 1 {
			panic("boom")
		}
	}))

	tr.deliver("smartbin/alerts", `{"title":"a","message":"b"}`)
	tr.deliver("smartbin/alerts", `{"title":"c","message":"d"}`)

	require.Eventually(t, func() bool { return calls.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestTelemetryBusCloseHandlesQueuedMessages(t *testing.T) {
	tr := newFakeTransport()
	bus := app.NewTelemetryBus(tr, 32, nil, nil)

	release := make(chan struct{})
	started := make(chan struct{})
	var handled atomic.Int64
	require.NoError(t, bus.Subscribe("smartbin/detection", model.KindDetection, func(context.Context, model.Envelope) {
		if handled.Add(1) == 1 {
			close(started)
			<-release
		}
	}))

	for i := 0; i < 10; i++ {
		tr.deliver("smartbin/detection", `{"destination":"dry"}`)
	}
	<-started

	closed := make(chan struct{})
	go func() {
		bus.Close()
		close(closed)
	}()
	close(release)

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("close did not return")
	}
	assert.Equal(t, int64(10), handled.Load())
}

// failingTransport refuses subscriptions while fail is set.
type failingTransport struct {
	*fakeTransport
	fail atomic.Bool
}

func (f *failingTransport) Subscribe(topic string, h queue.Handler) error {
	if f.fail.Load() {
		return errors.New("broker timeout")
	}
	return f.fakeTransport.Subscribe(topic, h)
}

func TestTelemetryBusSubscribeFailureCanBeRetried(t *testing.T) {
	tr := &failingTransport{fakeTransport: newFakeTransport()}
	tr.fail.Store(true)
	bus := app.NewTelemetryBus(tr, 8, nil, nil)
	defer bus.Close()

	var handled atomic.Int64
	handler := func(context.Context, model.Envelope) { handled.Add(1) }

	err := bus.Subscribe("smartbin/detection", model.KindDetection, handler)
	require.Error(t, err)
	assert.NotErrorIs(t, err, app.ErrDuplicateSubscription)
	assert.Contains(t, err.Error(), "broker timeout")

	tr.fail.Store(false)
	require.NoError(t, bus.Subscribe("smartbin/detection", model.KindDetection, handler))

	tr.deliver("smartbin/detection", `{"destination":"wet"}`)
	require.Eventually(t, func() bool { return handled.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
}
