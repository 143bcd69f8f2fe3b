package useCases

import (
	"context"

	"smartBin/internal/domain/model"
)

// DetectionAggregator defines the interface for detection statistics and history.
type DetectionAggregator interface {
	Record(event model.DetectionEvent)
	GetStats() model.Stats
	GetHistory(limit int) []model.DetectionEvent
	ClearHistory()
	ResetStats()
}

// ThresholdMonitor decides which bins just crossed into the alerting state.
type ThresholdMonitor interface {
	Evaluate(event model.BinStatusEvent) []model.BinTransition
	Snapshot() []model.AlertState
}

// Broadcaster defines an interface for pushing updates to dashboard connections.
type Broadcaster interface {
	Broadcast(kind string, payload any) int
}

// Notifier sends alerts to the external messaging channel and reports the outcome.
type Notifier interface {
	Send(ctx context.Context, alert model.Alert) bool
}

// Ledger defines the reward ledger operations exposed to the HTTP layer.
type Ledger interface {
	OpenAccount(ctx context.Context, userID string) (model.Account, error)
	GetAccount(userID string) (model.Account, error)
	SubmitBottle(ctx context.Context, userID string) (model.SubmitResult, error)
	RedeemItem(ctx context.Context, userID, itemID string, cost int64) (model.RedeemResult, error)
	GetBottleHistory(userID string) ([]model.BottleSubmission, error)
	GetRedemptionHistory(userID string) ([]model.Redemption, error)
}
