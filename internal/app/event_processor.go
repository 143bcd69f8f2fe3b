package app

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"smartBin/internal/domain/model"
	"smartBin/internal/domain/repository"
	"smartBin/internal/domain/useCases"
	ws "smartBin/internal/handlers/websocket"
)

// storeTimeout bounds each write to an optional backend.
const storeTimeout = 3 * time.Second

// ProcessorMetrics observes pipeline decisions.
type ProcessorMetrics interface {
	SetBinLevel(bin string, level float64)
	BinAlert(bin string)
	StorageError(backend string)
}

// Topics names the inbound topic of each event kind.
type Topics struct {
	Detection string
	BinStatus string
	System    string
	Alerts    string
}

// EventProcessor routes decoded telemetry: every event is broadcast to dashboards, detections
// feed the aggregator, bin levels feed the threshold monitor, and notifications go out only
// for the cases that warrant them. Notifications are sent on their own goroutine so a slow
// channel never holds up a topic.
type EventProcessor struct {
	Aggregator  useCases.DetectionAggregator
	Monitor     useCases.ThresholdMonitor
	Broadcaster useCases.Broadcaster
	Notifier    useCases.Notifier

	// Optional backends, nil when not configured.
	StatsCache repository.StatsCache
	Archive    repository.DetectionPersistence
	BinArchive repository.BinLevelArchive
	Metrics    ProcessorMetrics

	NotifyDetections bool

	log      *slog.Logger
	inflight sync.WaitGroup
}

func NewEventProcessor(aggregator useCases.DetectionAggregator, monitor useCases.ThresholdMonitor,
	broadcaster useCases.Broadcaster, notifier useCases.Notifier, logger *slog.Logger) *EventProcessor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &EventProcessor{
		Aggregator:       aggregator,
		Monitor:          monitor,
		Broadcaster:      broadcaster,
		Notifier:         notifier,
		NotifyDetections: true,
		log:              logger.With("component", "processor"),
	}
}

// Register subscribes the processor's handlers on the bus.
func (p *EventProcessor) Register(bus *TelemetryBus, topics Topics) error {
	subs := []struct {
		topic   string
		kind    model.EventKind
		handler EnvelopeHandler
	}{
		{topics.Detection, model.KindDetection, p.HandleDetection},
		{topics.BinStatus, model.KindBinStatus, p.HandleBinStatus},
		{topics.System, model.KindSystem, p.HandleSystem},
		{topics.Alerts, model.KindAlert, p.HandleAlert},
	}
	for _, s := range subs {
		if err := bus.Subscribe(s.topic, s.kind, s.handler); err != nil {
			return err
		}
	}
	return nil
}

func (p *EventProcessor) HandleDetection(ctx context.Context, env model.Envelope) {
	if env.Detection == nil {
		return
	}
	event := *env.Detection
	p.Aggregator.Record(event)
	p.log.Debug("detection recorded", "id", event.ID, "object", event.ObjectLabel, "destination", event.Destination)

	p.Broadcaster.Broadcast(ws.KindDetectionUpdate, env.Payload)

	if p.NotifyDetections && event.Destination != model.DestinationNone {
		p.Notify(ctx, model.Alert{Kind: model.AlertDetection, Detection: &event})
	}

	if p.Archive != nil {
		p.store(ctx, "clickhouse", func(ctx context.Context) error { return p.Archive.SaveDetection(ctx, event) })
	}
	p.cacheStats(ctx)
}

func (p *EventProcessor) HandleBinStatus(ctx context.Context, env model.Envelope) {
	if env.BinStatus == nil {
		return
	}
	event := *env.BinStatus

	if p.Metrics != nil {
		for bin, level := range event.Levels {
			p.Metrics.SetBinLevel(bin, level)
		}
	}

	transitions := p.Monitor.Evaluate(event)
	p.Broadcaster.Broadcast(ws.KindBinStatus, env.Payload)

	for _, tr := range transitions {
		p.log.Info("bin crossed full threshold", "bin", tr.BinType, "level", tr.Level)
		if p.Metrics != nil {
			p.Metrics.BinAlert(tr.BinType)
		}
		p.Notify(ctx, model.Alert{Kind: model.AlertBinFull, BinType: tr.BinType, Level: tr.Level})
	}

	if p.StatsCache != nil {
		p.store(ctx, "redis", func(ctx context.Context) error { return p.StatsCache.SaveBinLevels(ctx, event) })
	}
	if p.BinArchive != nil {
		p.store(ctx, "clickhouse", func(ctx context.Context) error { return p.BinArchive.SaveBinStatus(ctx, event) })
	}
}

func (p *EventProcessor) HandleSystem(ctx context.Context, env model.Envelope) {
	if env.System == nil {
		return
	}
	p.Broadcaster.Broadcast(ws.KindSystemStatus, env.Payload)

	if env.System.Status != "" && env.System.Message != "" {
		p.Notify(ctx, model.Alert{Kind: model.AlertSystemStatus, Status: env.System.Status, Message: env.System.Message})
	}
}

func (p *EventProcessor) HandleAlert(ctx context.Context, env model.Envelope) {
	if env.Alert == nil {
		return
	}
	p.Broadcaster.Broadcast(ws.KindAlert, env.Payload)

	if env.Alert.Title != "" && env.Alert.Message != "" {
		p.Notify(ctx, model.Alert{Kind: model.AlertCustom, Title: env.Alert.Title, Message: env.Alert.Message, Emoji: env.Alert.Emoji})
	}
}

// Notify sends the alert in the background. Wait blocks until every pending send returns.
func (p *EventProcessor) Notify(ctx context.Context, alert model.Alert) {
	if p.Notifier == nil {
		return
	}
	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()
		p.Notifier.Send(context.WithoutCancel(ctx), alert)
	}()
}

// Wait blocks until background notifications have finished.
func (p *EventProcessor) Wait() {
	p.inflight.Wait()
}

// ClearHistory clears the in-memory history and counters, then the archive.
func (p *EventProcessor) ClearHistory(ctx context.Context) {
	p.Aggregator.ClearHistory()
	if p.Archive != nil {
		p.store(ctx, "clickhouse", p.Archive.ClearDetections)
	}
	p.cacheStats(ctx)
}

// ResetStats zeroes the counters and keeps the history.
func (p *EventProcessor) ResetStats(ctx context.Context) {
	p.Aggregator.ResetStats()
	p.cacheStats(ctx)
}

func (p *EventProcessor) cacheStats(ctx context.Context) {
	if p.StatsCache == nil {
		return
	}
	stats := p.Aggregator.GetStats()
	p.store(ctx, "redis", func(ctx context.Context) error { return p.StatsCache.SaveStats(ctx, stats) })
}

// store runs one backend write with its own deadline. Failures are logged and counted only.
func (p *EventProcessor) store(ctx context.Context, backend string, write func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()
	if err := write(ctx); err != nil {
		p.log.Warn("backend write failed", "backend", backend, "error", err)
		if p.Metrics != nil {
			p.Metrics.StorageError(backend)
		}
	}
}
