package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"smartBin/config"
	"smartBin/internal/app"
	"smartBin/internal/domain/model"
	"smartBin/internal/handlers/http"
	"smartBin/pkg/utils"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

type options struct {
	envFile     string
	simulate    bool
	simInterval time.Duration
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := pflag.NewFlagSet("smartbin", pflag.ContinueOnError)
	fs.StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	fs.BoolVar(&opts.simulate, "simulate", false, "publish simulated device telemetry on the bus")
	fs.DurationVar(&opts.simInterval, "simulate-interval", time.Second, "interval between simulated detections")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if opts.simInterval <= 0 {
		return opts, fmt.Errorf("--simulate-interval must be positive, got %s", opts.simInterval)
	}
	return opts, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := config.LoadConfig(opts.envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := setupLogger(cfg.Env)

	// Create cancellable context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling for graceful shutdown
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		log.Info("Shutting down...")
		cancel()
	}()

	log.Info("Initializing app...", "env", cfg.Env, "transport", cfg.Transport)
	application, err := app.NewApp(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to initialize app", "error", err)
		os.Exit(1)
	}

	httpAddr := fmt.Sprintf(":%s", cfg.HTTPPort)
	httpServer := http.NewServer(httpAddr, http.Dependencies{
		Aggregator:  application.Aggregator,
		Events:      application.Processor,
		Monitor:     application.Monitor,
		Notifier:    application.Dispatcher,
		Ledger:      application.Ledger,
		Catalog:     application.Catalog,
		Bus:         application.Bus,
		Hub:         application.Hub,
		Metrics:     application.Metrics,
		BinCache:    binCache(application),
		CORSOrigins: cfg.CORSOrigins,
		Logger:      log,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("Connecting telemetry bus...")
		if err := application.Start(gctx); err != nil && gctx.Err() == nil {
			return err
		}
		return nil
	})

	g.Go(func() error {
		log.Info("HTTP server listening", "addr", httpAddr)
		if err := httpServer.Start(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if opts.simulate {
		g.Go(func() error {
			return runSimulator(gctx, application.Publisher, opts.simInterval, log)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		log.Info("Shutting down HTTP server...")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("HTTP server shutdown error", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("Service failed", "error", err)
	}

	cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cleanupCancel()
	log.Info("Cleaning up app resources...")
	application.Cleanup(cleanupCtx)

	log.Info("Service stopped.")
}

// binCache avoids handing a nil *RedisRepository to the server as a non-nil interface.
func binCache(a *app.AppContext) http.BinLevelCache {
	if a.Cache == nil {
		return nil
	}
	return a.Cache
}

type telemetryPublisher interface {
	PublishDetection(ctx context.Context, event model.DetectionEvent) error
	PublishBinStatus(ctx context.Context, event model.BinStatusEvent) error
}

// binStatusEvery is how many simulated detections go out per bin level report.
const binStatusEvery = 5

// runSimulator publishes demo telemetry on the bus until ctx is done.
// This is not for production use!
func runSimulator(ctx context.Context, publisher telemetryPublisher, interval time.Duration, log *slog.Logger) error {
	generator := utils.NewTelemetryGenerator(uint64(time.Now().UnixNano()))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info("Starting telemetry simulator...", "interval", interval)
	for tick := 0; ; tick++ {
		select {
		case <-ctx.Done():
			log.Info("Telemetry simulator stopped")
			return nil
		case <-ticker.C:
		}

		for _, d := range generator.GenerateDetections(1) {
			if err := publisher.PublishDetection(ctx, d); err != nil {
				log.Debug("simulated detection not published", "error", err)
			}
		}
		if tick%binStatusEvery == 0 {
			if err := publisher.PublishBinStatus(ctx, generator.NextBinStatus()); err != nil {
				log.Debug("simulated bin status not published", "error", err)
			}
		}
	}
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(tint.NewHandler(os.Stdout, &tint.Options{
			Level:      slog.LevelDebug,
			TimeFormat: time.Kitchen,
		}))
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	default:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}

	return log
}
