package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"smartBin/config"
	"smartBin/internal/domain/model"
	"smartBin/internal/domain/service"
	ws "smartBin/internal/handlers/websocket"
	redisrepo "smartBin/internal/infrastructure/cache"
	"smartBin/internal/infrastructure/metrics"
	"smartBin/internal/infrastructure/notify"
	"smartBin/internal/infrastructure/queue"
	chrepo "smartBin/internal/infrastructure/storage"
)

// connectTimeout bounds startup probes of optional backends.
const connectTimeout = 5 * time.Second

// AppContext holds all app dependencies
type AppContext struct {
	Config     *config.Config
	Metrics    *metrics.Metrics
	Aggregator *service.DetectionAggregator
	Monitor    *service.BinMonitor
	Hub        *ws.Hub
	Dispatcher *service.NotificationDispatcher
	Ledger     *service.RewardLedger
	Catalog    *service.Catalog
	Bus        *TelemetryBus
	Processor  *EventProcessor
	Publisher  *service.TelemetryPublisherUseCase

	// Optional backends, nil when not configured or unreachable.
	Cache    *redisrepo.RedisRepository
	Archive  *chrepo.ClickHouseRepository
	LedgerDB *chrepo.PostgresLedgerStore

	log *slog.Logger
}

// NewApp initializes the app context with all dependencies. Optional backends that cannot be
// reached are logged and skipped. The bus is not connected yet; call Start.
func NewApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*AppContext, error) {
	a := &AppContext{Config: cfg, log: log}
	a.Metrics = metrics.NewMetrics()

	a.Aggregator = service.NewDetectionAggregator(cfg.HistoryCapacity)
	a.Monitor = service.NewBinMonitor(cfg.BinFullThreshold, cfg.BinClearThreshold)
	a.Hub = ws.NewHub(a.Metrics, log)

	// A nil *TelegramChannel must not end up inside the Channel interface.
	var channel service.Channel
	telegram, err := notify.NewTelegramChannel(cfg.TelegramAPIURL, cfg.TelegramToken, cfg.TelegramChatID,
		&http.Client{Timeout: cfg.NotifyTimeout + time.Second})
	if err != nil {
		log.Warn("Telegram notifications disabled", "reason", err)
	} else {
		channel = telegram
		log.Info("Telegram notifications enabled")
	}
	a.Dispatcher = service.NewNotificationDispatcher(channel, cfg.NotifyTimeout, a.Metrics, log.With("component", "notifier"))

	catalog, err := a.loadCatalog()
	if err != nil {
		return nil, err
	}
	a.Catalog = catalog

	a.connectCache(ctx)
	a.connectArchive(ctx)
	if a.Cache != nil {
		restoreCachedStats(ctx, a.Cache, a.Aggregator, log)
	}
	if err := a.connectLedger(ctx); err != nil {
		return nil, err
	}

	transport, err := newTransport(cfg, log)
	if err != nil {
		return nil, err
	}
	a.Bus = NewTelemetryBus(transport, cfg.TopicBufferSize, a.Metrics, log)

	a.Processor = NewEventProcessor(a.Aggregator, a.Monitor, a.Hub, a.Dispatcher, log)
	a.Processor.NotifyDetections = cfg.NotifyDetections
	a.Processor.Metrics = a.Metrics
	if a.Cache != nil {
		a.Processor.StatsCache = a.Cache
	}
	if a.Archive != nil {
		a.Processor.Archive = a.Archive
		a.Processor.BinArchive = a.Archive
	}
	if err := a.Processor.Register(a.Bus, Topics{
		Detection: cfg.DetectionTopic,
		BinStatus: cfg.BinStatusTopic,
		System:    cfg.SystemTopic,
		Alerts:    cfg.AlertsTopic,
	}); err != nil {
		return nil, fmt.Errorf("register topics: %w", err)
	}

	a.Publisher = service.NewTelemetryPublisherUseCase(a.Bus, cfg.DetectionTopic, cfg.BinStatusTopic, log)
	return a, nil
}

func newTransport(cfg *config.Config, log *slog.Logger) (queue.Transport, error) {
	switch cfg.Transport {
	case config.TransportMQTT:
		return queue.NewMQTTTransport(queue.MQTTConfig{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
			QoS:      byte(cfg.MQTTQoS),
		}, log), nil
	case config.TransportKafka:
		return queue.NewKafkaTransport(queue.KafkaConfig{
			Brokers:       cfg.KafkaBrokers,
			ConsumerGroup: cfg.KafkaGroupID,
			MinBytes:      cfg.KafkaMinBytes,
			MaxBytes:      cfg.KafkaMaxBytes,
			MaxWait:       time.Duration(cfg.KafkaMaxWaitMS) * time.Millisecond,
			CommitEach:    cfg.KafkaCommitEach,
		}, log), nil
	}
	return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
}

func (a *AppContext) loadCatalog() (*service.Catalog, error) {
	catalog, err := service.LoadCatalog(a.Config.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	a.log.Info("Store catalog loaded", "path", a.Config.CatalogPath, "items", len(catalog.Items()))
	return catalog, nil
}

func (a *AppContext) connectCache(ctx context.Context) {
	if a.Config.RedisAddr == "" {
		return
	}
	repo := redisrepo.NewRedisRepository(a.Config.RedisAddr, a.Config.RedisPassword, a.Config.RedisDB)
	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := repo.Ping(pingCtx); err != nil {
		a.log.Warn("Redis unavailable, continuing without cache", "addr", a.Config.RedisAddr, "error", err)
		_ = repo.Close()
		return
	}
	a.Cache = repo
	a.log.Info("Redis cache initialized", "addr", a.Config.RedisAddr)
}

// connectArchive opens ClickHouse and warms the in-memory history from it.
func (a *AppContext) connectArchive(ctx context.Context) {
	if a.Config.ClickhouseAddr == "" {
		return
	}
	repo, err := chrepo.NewClickHouseRepository(ctx, chrepo.ClickHouseConfig{
		Addr:     a.Config.ClickhouseAddr,
		Database: a.Config.ClickhouseDatabase,
		Username: a.Config.ClickhouseUsername,
		Password: a.Config.ClickhousePassword,
		Timeout:  a.Config.ClickhouseTimeout,
	})
	if err != nil {
		a.log.Warn("Failed to connect to ClickHouse, continuing without archive", "error", err)
		return
	}
	a.Archive = repo
	a.log.Info("ClickHouse archive initialized", "addr", a.Config.ClickhouseAddr)

	recent, err := repo.GetRecentDetections(ctx, a.Aggregator.Capacity())
	if err != nil {
		a.log.Warn("Could not restore detection history", "error", err)
		return
	}
	a.Aggregator.Restore(recent)
	a.log.Info("Detection history restored", "events", len(recent))
}

type statsSnapshotSource interface {
	GetStats(ctx context.Context) (*model.Stats, error)
}

// restoreCachedStats carries lifetime counters over a restart. The archive only refills
// history, so without the cached snapshot totals would restart from the replayed window.
func restoreCachedStats(ctx context.Context, cache statsSnapshotSource, agg *service.DetectionAggregator, log *slog.Logger) {
	readCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	stats, err := cache.GetStats(readCtx)
	if err != nil {
		log.Warn("Could not read cached statistics", "error", err)
		return
	}
	if stats == nil {
		return
	}
	if !agg.RestoreStats(*stats) {
		log.Info("Cached statistics older than archive, ignored", "cached_total", stats.TotalDetections)
		return
	}
	log.Info("Statistics restored from cache", "total_detections", stats.TotalDetections)
}

// connectLedger builds the ledger. A configured but unreachable Postgres is fatal: running
// without it would hand out credits that vanish on restart.
func (a *AppContext) connectLedger(ctx context.Context) error {
	if a.Config.PostgresURL == "" {
		a.Ledger = service.NewRewardLedger(a.Config.CreditsPerBottle, nil, a.Metrics, a.log.With("component", "ledger"))
		a.log.Warn("POSTGRES_URL not set, reward ledger is in-memory only")
		return nil
	}
	store, err := chrepo.NewPostgresLedgerStore(ctx, a.Config.PostgresURL)
	if err != nil {
		return fmt.Errorf("open ledger store: %w", err)
	}
	a.LedgerDB = store
	a.Ledger = service.NewRewardLedger(a.Config.CreditsPerBottle, store, a.Metrics, a.log.With("component", "ledger"))
	n, err := a.Ledger.Load(ctx)
	if err != nil {
		store.Close()
		return err
	}
	a.log.Info("Reward ledger loaded", "accounts", n)
	return nil
}

// Start connects the bus and announces the service once the connection is up.
func (a *AppContext) Start(ctx context.Context) error {
	if err := a.Bus.Connect(ctx); err != nil {
		return fmt.Errorf("connect bus: %w", err)
	}
	a.log.Info("Telemetry bus connected", "transport", a.Config.Transport, "topics", a.Config.Topics())
	if a.Dispatcher.Enabled() {
		a.Processor.Notify(ctx, model.Alert{Kind: model.AlertStartup})
	}
	return nil
}

// Cleanup performs graceful shutdown of all components
func (a *AppContext) Cleanup(ctx context.Context) {
	if a.Dispatcher.Enabled() {
		a.Dispatcher.Send(ctx, model.Alert{Kind: model.AlertShutdown, Message: "Server is shutting down"})
	}

	a.log.Info("Closing telemetry bus...")
	a.Bus.Close()
	a.Processor.Wait()

	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			a.log.Warn("Error closing Redis", "error", err)
		}
	}
	if a.Archive != nil {
		if err := a.Archive.Close(); err != nil {
			a.log.Warn("Error closing ClickHouse", "error", err)
		}
	}
	if a.LedgerDB != nil {
		a.LedgerDB.Close()
	}
	a.log.Info("All resources cleaned up")
}
