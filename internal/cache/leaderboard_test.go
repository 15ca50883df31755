package cache

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"empires/internal/game"
)

func setupRedis(t *testing.T) *Leaderboard {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Redis integration test in -short mode")
	}
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set, skipping Redis integration tests")
	}
	lb, err := Connect(context.Background(), url, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = lb.Close() })
	require.NoError(t, lb.client.Del(context.Background(), key(3), key(5)).Err())
	return lb
}

func TestKeyIncludesLimit(t *testing.T) {
	assert.Equal(t, "empires:leaderboard:5", key(5))
}

func TestLeaderboardRoundTrip(t *testing.T) {
	lb := setupRedis(t)
	ctx := context.Background()

	_, ok, err := lb.GetLeaderboard(ctx, 5)
	require.NoError(t, err)
	assert.False(t, ok)

	rows := []game.LeaderboardRow{
		{Rank: 1, UserID: 7, Username: "kira", Balance: 9000},
		{Rank: 2, UserID: 3, Username: "lev", Balance: 500},
	}
	require.NoError(t, lb.SetLeaderboard(ctx, 5, rows))

	got, ok, err := lb.GetLeaderboard(ctx, 5)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rows, got)

	_, ok, err = lb.GetLeaderboard(ctx, 3)
	require.NoError(t, err)
	assert.False(t, ok, "limits are cached separately")
}

func TestCorruptEntryIsDropped(t *testing.T) {
	lb := setupRedis(t)
	ctx := context.Background()
	require.NoError(t, lb.client.Set(ctx, key(3), "{not json", time.Minute).Err())

	_, ok, err := lb.GetLeaderboard(ctx, 3)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(0), lb.client.Exists(ctx, key(3)).Val())
}
