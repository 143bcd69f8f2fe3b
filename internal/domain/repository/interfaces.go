// Package repository defines all the repository interfaces used by domain services
// Following the dependency inversion principle, domain logic depends on these interfaces,
// and infrastructure implementations provide concrete implementations
package repository

import (
	"context"

	"smartBin/internal/domain/model"
)

// StatsCache defines the interface for caching the latest dashboard snapshots
// This is used for fast reads by other processes (dashboards, reporting jobs)
// Implementations should prioritize speed over durability
type StatsCache interface {
	// SaveStats stores the latest detection statistics snapshot
	SaveStats(ctx context.Context, stats model.Stats) error

	// GetStats returns the latest snapshot, or nil when none was stored yet
	GetStats(ctx context.Context) (*model.Stats, error)

	// SaveBinLevels stores the most recent fill level per bin type
	SaveBinLevels(ctx context.Context, event model.BinStatusEvent) error
}

// DetectionPersistence defines the interface for durable detection storage
// Used to archive every detection and to warm-start the in-memory history
type DetectionPersistence interface {
	// SaveDetection persists a single detection event
	SaveDetection(ctx context.Context, event model.DetectionEvent) error

	// GetRecentDetections returns up to limit events, newest first
	GetRecentDetections(ctx context.Context, limit int) ([]model.DetectionEvent, error)

	// ClearDetections removes every archived detection
	ClearDetections(ctx context.Context) error
}

// LedgerStore defines the interface for the durable reward ledger
// The in-memory ledger is authoritative while the process runs; the store is written
// after each committed mutation and read once at startup
type LedgerStore interface {
	// LoadAccounts returns every account with its audit trails, oldest records first
	LoadAccounts(ctx context.Context) ([]model.AccountState, error)

	// SaveAccount upserts the account row unless a newer version is already stored
	SaveAccount(ctx context.Context, account model.Account) error

	// AppendSubmission inserts a submission record and the account snapshot it produced
	AppendSubmission(ctx context.Context, record model.BottleSubmission, account model.Account) error

	// AppendRedemption inserts a redemption record and the account snapshot it produced
	AppendRedemption(ctx context.Context, record model.Redemption, account model.Account) error
}

// BinLevelArchive defines the interface for the bin level time series
type BinLevelArchive interface {
	// SaveBinStatus appends one snapshot
	SaveBinStatus(ctx context.Context, event model.BinStatusEvent) error
}
