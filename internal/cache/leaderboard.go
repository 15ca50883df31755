// Package cache keeps short-lived copies of expensive read models in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"empires/internal/game"
)

const keyPrefix = "empires:leaderboard:"

// Leaderboard satisfies game.LeaderboardCache.
type Leaderboard struct {
	client *redis.Client
	ttl    time.Duration
	log    *slog.Logger
}

// Connect parses a redis:// URL, checks the server is reachable and returns
// the cache.
func Connect(ctx context.Context, redisURL string, ttl time.Duration, logger *slog.Logger) (*Leaderboard, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opt.PoolSize = 10
	opt.MinIdleConns = 1
	opt.ConnMaxIdleTime = 30 * time.Minute

	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewLeaderboard(client, ttl, logger), nil
}

func NewLeaderboard(client *redis.Client, ttl time.Duration, logger *slog.Logger) *Leaderboard {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Leaderboard{client: client, ttl: ttl, log: logger}
}

func key(limit int) string {
	return fmt.Sprintf("%s%d", keyPrefix, limit)
}

func (l *Leaderboard) GetLeaderboard(ctx context.Context, limit int) ([]game.LeaderboardRow, bool, error) {
	raw, err := l.client.Get(ctx, key(limit)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var rows []game.LeaderboardRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		l.log.Warn("dropping corrupt leaderboard entry", "limit", limit, "err", err)
		_ = l.client.Del(ctx, key(limit)).Err()
		return nil, false, nil
	}
	return rows, true, nil
}

func (l *Leaderboard) SetLeaderboard(ctx context.Context, limit int, rows []game.LeaderboardRow) error {
	raw, err := json.Marshal(rows)
	if err != nil {
		return err
	}
	return l.client.Set(ctx, key(limit), raw, l.ttl).Err()
}

func (l *Leaderboard) Health(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

func (l *Leaderboard) Close() error {
	return l.client.Close()
}
