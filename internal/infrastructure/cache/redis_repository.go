package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"smartBin/internal/domain/model"
	"smartBin/internal/domain/repository"
)

const (
	statsKey      = "stats"
	binLevelsKey  = "bins:levels"
	binUpdatedKey = "bins:updated_at"
)

// RedisRepository implements the StatsCache interface using Redis as the backend
// Other processes (dashboards, reporting jobs) read the latest snapshots from it
type RedisRepository struct {
	client *redis.Client
	prefix string
}

func NewRedisRepository(addr, password string, db int) *RedisRepository {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisRepository{client: client, prefix: "smartbin:"}
}

// Ensure RedisRepository implements the StatsCache interface
var _ repository.StatsCache = (*RedisRepository)(nil)

func (r *RedisRepository) key(name string) string {
	return r.prefix + name
}

// Ping checks the connection
func (r *RedisRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisRepository) Close() error {
	return r.client.Close()
}

// SaveStats stores the latest statistics snapshot as JSON
func (r *RedisRepository) SaveStats(ctx context.Context, stats model.Stats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}
	return r.client.Set(ctx, r.key(statsKey), data, 0).Err()
}

func (r *RedisRepository) GetStats(ctx context.Context) (*model.Stats, error) {
	data, err := r.client.Get(ctx, r.key(statsKey)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // nothing cached yet
		}
		return nil, err
	}

	var stats model.Stats
	if err := json.Unmarshal([]byte(data), &stats); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stats: %w", err)
	}
	return &stats, nil
}

// SaveBinLevels merges the snapshot into the per-bin hash in one transaction
func (r *RedisRepository) SaveBinLevels(ctx context.Context, event model.BinStatusEvent) error {
	if len(event.Levels) == 0 {
		return nil
	}
	fields := make(map[string]any, len(event.Levels))
	for bin, level := range event.Levels {
		fields[bin] = level
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.key(binLevelsKey), fields)
		pipe.Set(ctx, r.key(binUpdatedKey), event.Timestamp.UTC().Format(time.RFC3339Nano), 0)
		return nil
	})
	return err
}

// GetBinLevels returns the last cached level per bin
func (r *RedisRepository) GetBinLevels(ctx context.Context) (map[string]float64, error) {
	raw, err := r.client.HGetAll(ctx, r.key(binLevelsKey)).Result()
	if err != nil {
		return nil, err
	}
	levels := make(map[string]float64, len(raw))
	for bin, v := range raw {
		level, err := strconv.ParseFloat(v, 64)
		if err != nil {
			continue // skip malformed data
		}
		levels[bin] = level
	}
	return levels, nil
}
