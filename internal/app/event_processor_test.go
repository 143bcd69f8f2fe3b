package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartBin/internal/app"
	"smartBin/internal/app/dto"
	"smartBin/internal/domain/model"
	"smartBin/internal/domain/service"
)

// MockBroadcaster implements the Broadcaster interface for testing
type MockBroadcaster struct {
	mu         sync.Mutex
	broadcasts []broadcast
}

type broadcast struct {
	kind    string
	payload any
}

func (b *MockBroadcaster) Broadcast(kind string, payload any) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.broadcasts = append(b.broadcasts, broadcast{kind, payload})
	return 1
}

func (b *MockBroadcaster) kinds() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.broadcasts))
	for i, bc := range b.broadcasts {
		out[i] = bc.kind
	}
	return out
}

// MockNotifier records every alert it is asked to send
type MockNotifier struct {
	mu     sync.Mutex
	alerts []model.Alert
}

func (n *MockNotifier) Send(ctx context.Context, alert model.Alert) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, alert)
	return true
}

func (n *MockNotifier) sent() []model.Alert {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]model.Alert(nil), n.alerts...)
}

type mockCache struct {
	mu     sync.Mutex
	stats  []model.Stats
	levels []model.BinStatusEvent
	fail   bool
}

func (c *mockCache) SaveStats(ctx context.Context, s model.Stats) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("redis down")
	}
	c.stats = append(c.stats, s)
	return nil
}

func (c *mockCache) GetStats(ctx context.Context) (*model.Stats, error) { return nil, nil }

func (c *mockCache) SaveBinLevels(ctx context.Context, e model.BinStatusEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("redis down")
	}
	c.levels = append(c.levels, e)
	return nil
}

type storageErrors struct {
	mu     sync.Mutex
	counts map[string]int
	alerts []string
}

func (s *storageErrors) SetBinLevel(string, float64) {}
func (s *storageErrors) BinAlert(bin string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, bin)
}
func (s *storageErrors) StorageError(backend string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counts == nil {
		s.counts = map[string]int{}
	}
	s.counts[backend]++
}

type fixture struct {
	processor   *app.EventProcessor
	aggregator  *service.DetectionAggregator
	broadcaster *MockBroadcaster
	notifier    *MockNotifier
}

func newFixture() *fixture {
	agg := service.NewDetectionAggregator(10)
	b := &MockBroadcaster{}
	n := &MockNotifier{}
	p := app.NewEventProcessor(agg, service.NewBinMonitor(80, 70), b, n, nil)
	return &fixture{processor: p, aggregator: agg, broadcaster: b, notifier: n}
}

func envelope(t *testing.T, kind model.EventKind, payload string) model.Envelope {
	t.Helper()
	env, err := dto.Decode(kind, "test", []byte(payload), time.Now())
	require.NoError(t, err)
	return env
}

func TestEventProcessorDetection(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	raw := `{"id":"d1","object":"bottle","destination":"dry","confidence":0.93}`
	f.processor.HandleDetection(ctx, envelope(t, model.KindDetection, raw))
	f.processor.HandleDetection(ctx, envelope(t, model.KindDetection, `{"id":"d2","object":"hand","destination":"none"}`))
	f.processor.Wait()

	stats := f.aggregator.GetStats()
	assert.Equal(t, 2, stats.TotalDetections)
	assert.Equal(t, 1, stats.CountsByDestination[model.DestinationDry])

	require.Equal(t, []string{"detectionUpdate", "detectionUpdate"}, f.broadcaster.kinds())
	payload, ok := f.broadcaster.broadcasts[0].payload.(json.RawMessage)
	require.True(t, ok)
	assert.JSONEq(t, raw, string(payload))

	alerts := f.notifier.sent()
	require.Len(t, alerts, 1, "destination none must not notify")
	assert.Equal(t, model.AlertDetection, alerts[0].Kind)
	assert.Equal(t, "d1", alerts[0].Detection.ID)
}

func TestEventProcessorDetectionNotificationsCanBeDisabled(t *testing.T) {
	f := newFixture()
	f.processor.NotifyDetections = false
	f.processor.HandleDetection(context.Background(), envelope(t, model.KindDetection, `{"destination":"wet"}`))
	f.processor.Wait()
	assert.Empty(t, f.notifier.sent())
}

func TestEventProcessorBinStatusAlertsOnEdgesOnly(t *testing.T) {
	f := newFixture()
	metrics := &storageErrors{}
	f.processor.Metrics = metrics
	ctx := context.Background()

	for _, level := range []int{50, 82, 75, 65, 90, 95} {
		f.processor.HandleBinStatus(ctx, envelope(t, model.KindBinStatus, fmt.Sprintf(`{"levels":{"dry":%d}}`, level)))
	}
	f.processor.Wait()

	assert.Len(t, f.broadcaster.kinds(), 6, "every snapshot is broadcast")
	alerts := f.notifier.sent()
	require.Len(t, alerts, 2)
	levels := []float64{alerts[0].Level, alerts[1].Level}
	assert.ElementsMatch(t, []float64{82, 90}, levels)
	for _, a := range alerts {
		assert.Equal(t, model.AlertBinFull, a.Kind)
		assert.Equal(t, "dry", a.BinType)
	}
	assert.Equal(t, []string{"dry", "dry"}, metrics.alerts)
}

func TestEventProcessorSystemAndCustomAlerts(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.processor.HandleSystem(ctx, envelope(t, model.KindSystem, `{"status":"warning","message":"camera lag"}`))
	f.processor.HandleSystem(ctx, envelope(t, model.KindSystem, `{"status":"online"}`))
	f.processor.HandleAlert(ctx, envelope(t, model.KindAlert, `{"title":"Jam","message":"lid stuck","emoji":"🔧"}`))
	f.processor.HandleAlert(ctx, envelope(t, model.KindAlert, `{"message":"no title"}`))
	f.processor.Wait()

	assert.Equal(t, []string{"systemStatus", "systemStatus", "alert", "alert"}, f.broadcaster.kinds())

	alerts := f.notifier.sent()
	require.Len(t, alerts, 2)
	kinds := []model.AlertKind{alerts[0].Kind, alerts[1].Kind}
	assert.ElementsMatch(t, []model.AlertKind{model.AlertSystemStatus, model.AlertCustom}, kinds)
}

func TestEventProcessorBackendsAreBestEffort(t *testing.T) {
	f := newFixture()
	cache := &mockCache{fail: true}
	metrics := &storageErrors{}
	f.processor.StatsCache = cache
	f.processor.Metrics = metrics
	ctx := context.Background()

	f.processor.HandleDetection(ctx, envelope(t, model.KindDetection, `{"destination":"dry"}`))
	f.processor.HandleBinStatus(ctx, envelope(t, model.KindBinStatus, `{"levels":{"wet":10}}`))
	f.processor.Wait()

	assert.Equal(t, 1, f.aggregator.GetStats().TotalDetections)
	assert.Equal(t, 2, metrics.counts["redis"])

	cache.fail = false
	f.processor.ResetStats(ctx)
	require.Len(t, cache.stats, 1)
	assert.Equal(t, 0, cache.stats[0].TotalDetections)
	assert.Len(t, f.aggregator.GetHistory(10), 1)

	f.processor.ClearHistory(ctx)
	assert.Empty(t, f.aggregator.GetHistory(10))
}

func TestEventProcessorEndToEndOverBus(t *testing.T) {
	f := newFixture()
	tr := newFakeTransport()
	bus := app.NewTelemetryBus(tr, 16, nil, nil)
	defer bus.Close()

	require.NoError(t, f.processor.Register(bus, app.Topics{
		Detection: "smartbin/detection",
		BinStatus: "smartbin/bin_status",
		System:    "smartbin/system",
		Alerts:    "smartbin/alerts",
	}))
	require.NoError(t, bus.Connect(context.Background()))

	tr.deliver("smartbin/detection", `{"object":"can","destination":"dry"}`)
	tr.deliver("smartbin/detection", `not json`)
	tr.deliver("smartbin/bin_status", `{"levels":{"dry":85}}`)

	require.Eventually(t, func() bool {
		return f.aggregator.GetStats().TotalDetections == 1 && len(f.broadcaster.kinds()) == 2
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool { return len(f.notifier.sent()) == 2 }, 2*time.Second, 5*time.Millisecond)
}
