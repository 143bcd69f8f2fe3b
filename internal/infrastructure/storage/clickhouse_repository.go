package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"smartBin/internal/domain/model"
	"smartBin/internal/domain/repository"
)

// ClickHouseRepository archives detection events and bin level snapshots in ClickHouse.
// The detection archive is also read back at startup to warm the in-memory history.
type ClickHouseRepository struct {
	conn driver.Conn
}

type ClickHouseConfig struct {
	Addr     string
	Database string
	Username string
	Password string
	Timeout  int
}

func NewClickHouseRepository(ctx context.Context, cfg ClickHouseConfig) (*ClickHouseRepository, error) {
	if cfg.Database == "" {
		cfg.Database = "default"
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: time.Duration(cfg.Timeout) * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, err
	}

	// Check the connection
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	// Ensure tables exist
	if err := createTablesIfNotExist(ctx, conn); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return &ClickHouseRepository{conn: conn}, nil
}

// Ensure ClickHouseRepository implements both archive interfaces
var _ repository.DetectionPersistence = (*ClickHouseRepository)(nil)
var _ repository.BinLevelArchive = (*ClickHouseRepository)(nil)

func createTablesIfNotExist(ctx context.Context, conn driver.Conn) error {
	err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS detection_events (
			id String,
			object String,
			destination LowCardinality(String),
			confidence Float64,
			timestamp DateTime64(3, 'UTC'),
			received_at DateTime DEFAULT now()
		) ENGINE = MergeTree()
		ORDER BY (timestamp, id)
	`)
	if err != nil {
		return err
	}

	return conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS bin_levels (
			bin_type LowCardinality(String),
			level Float64,
			timestamp DateTime64(3, 'UTC')
		) ENGINE = MergeTree()
		ORDER BY (bin_type, timestamp)
	`)
}

// SaveDetection archives one detection event
func (r *ClickHouseRepository) SaveDetection(ctx context.Context, event model.DetectionEvent) error {
	query := `
		INSERT INTO detection_events (
			id, object, destination, confidence, timestamp
		) VALUES (
			?, ?, ?, ?, ?
		)
	`

	return r.conn.AsyncInsert(ctx, query, false,
		event.ID,
		event.ObjectLabel,
		string(event.Destination),
		event.Confidence,
		event.Timestamp,
	)
}

// GetRecentDetections returns up to limit archived events, newest first
func (r *ClickHouseRepository) GetRecentDetections(ctx context.Context, limit int) ([]model.DetectionEvent, error) {
	query := `
		SELECT id, object, destination, confidence, timestamp
		FROM detection_events
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`

	rows, err := r.conn.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []model.DetectionEvent
	for rows.Next() {
		var (
			event model.DetectionEvent
			dest  string
		)
		if err := rows.Scan(
			&event.ID,
			&event.ObjectLabel,
			&dest,
			&event.Confidence,
			&event.Timestamp,
		); err != nil {
			return nil, err
		}
		event.Destination = model.Destination(dest)
		if !event.Destination.Valid() {
			continue // skip rows written by something else
		}
		results = append(results, event)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return results, nil
}

// ClearDetections drops every archived detection
func (r *ClickHouseRepository) ClearDetections(ctx context.Context) error {
	return r.conn.Exec(ctx, `TRUNCATE TABLE IF EXISTS detection_events`)
}

// SaveBinStatus archives one row per bin of the snapshot
func (r *ClickHouseRepository) SaveBinStatus(ctx context.Context, event model.BinStatusEvent) error {
	if len(event.Levels) == 0 {
		return nil
	}
	batch, err := r.conn.PrepareBatch(ctx, `INSERT INTO bin_levels (bin_type, level, timestamp)`)
	if err != nil {
		return err
	}
	for bin, level := range event.Levels {
		if err := batch.Append(bin, level, event.Timestamp); err != nil {
			_ = batch.Abort()
			return err
		}
	}
	return batch.Send()
}

func (r *ClickHouseRepository) Close() error {
	return r.conn.Close()
}
