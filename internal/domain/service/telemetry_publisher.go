package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"smartBin/internal/domain/model"
)

// Publisher puts a raw payload on a bus topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// TelemetryPublisherUseCase publishes device-shaped telemetry, used by the simulator.
type TelemetryPublisherUseCase struct {
	Publisher      Publisher
	DetectionTopic string
	BinStatusTopic string
	log            *slog.Logger
}

// NewTelemetryPublisherUseCase creates a new use case for publishing simulated telemetry
func NewTelemetryPublisherUseCase(publisher Publisher, detectionTopic, binStatusTopic string, logger *slog.Logger) *TelemetryPublisherUseCase {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &TelemetryPublisherUseCase{
		Publisher:      publisher,
		DetectionTopic: detectionTopic,
		BinStatusTopic: binStatusTopic,
		log:            logger,
	}
}

// PublishDetection publishes a detection event in the device's wire shape.
func (uc *TelemetryPublisherUseCase) PublishDetection(ctx context.Context, event model.DetectionEvent) error {
	return uc.publish(ctx, uc.DetectionTopic, event)
}

// PublishBinStatus publishes a bin level snapshot in the device's wire shape.
func (uc *TelemetryPublisherUseCase) PublishBinStatus(ctx context.Context, event model.BinStatusEvent) error {
	return uc.publish(ctx, uc.BinStatusTopic, event)
}

func (uc *TelemetryPublisherUseCase) publish(ctx context.Context, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal telemetry for %s: %w", topic, err)
	}
	if err := uc.Publisher.Publish(ctx, topic, payload); err != nil {
		uc.log.Error("failed to publish telemetry", "topic", topic, "error", err)
		return err
	}
	return nil
}
