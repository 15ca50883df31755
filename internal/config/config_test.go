package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAPIFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_URL", "postgres://localhost/empires")
	t.Setenv("EMPIRES_TOKEN_SECRET", "s3cret")
	t.Setenv("EMPIRES_ADMIN_IDS", "6901597812, 42")
	t.Setenv("EMPIRES_LEADERBOARD_TTL", "")

	cfg, err := LoadAPIFromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, []int64{6901597812, 42}, cfg.AdminIDs)
	assert.Equal(t, 30*time.Second, cfg.LeaderboardTTL)
}

func TestLoadAPIFromEnvRequiresSecrets(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/empires")
	t.Setenv("EMPIRES_TOKEN_SECRET", "")
	_, err := LoadAPIFromEnv()
	require.Error(t, err)

	t.Setenv("DATABASE_URL", "")
	t.Setenv("EMPIRES_TOKEN_SECRET", "x")
	_, err = LoadAPIFromEnv()
	require.Error(t, err)
}

func TestLoadAPIFromEnvRejectsBadAdminID(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/empires")
	t.Setenv("EMPIRES_TOKEN_SECRET", "x")
	t.Setenv("EMPIRES_ADMIN_IDS", "12,abc")
	_, err := LoadAPIFromEnv()
	require.Error(t, err)
}

func TestLoadWorkerFromEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/empires")
	t.Setenv("EMPIRES_INCOME_EVERY", "")
	t.Setenv("EMPIRES_AUCTION_EVERY", "30s")
	t.Setenv("EMPIRES_WORKER_RUN_ONCE", "true")
	t.Setenv("EMPIRES_IDEMPOTENCY_RETENTION", "")

	cfg, err := LoadWorkerFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.IncomeEvery)
	assert.Equal(t, 30*time.Second, cfg.AuctionEvery)
	assert.Equal(t, 72*time.Hour, cfg.KeyRetention)
	assert.True(t, cfg.RunOnce)

	t.Setenv("EMPIRES_IDEMPOTENCY_RETENTION", "24h")
	cfg, err = LoadWorkerFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, cfg.KeyRetention)
}

func TestEnvDurationFallsBackOnGarbage(t *testing.T) {
	t.Setenv("EMPIRES_TEST_DURATION", "soon")
	assert.Equal(t, time.Minute, envDurationDefault("EMPIRES_TEST_DURATION", time.Minute))
}

func TestLoadCLIFromEnv(t *testing.T) {
	t.Setenv("EMPCTL_API_BASE_URL", "https://empires.example/")
	t.Setenv("EMPCTL_TOKEN", " tok ")
	t.Setenv("EMPIRES_TOKEN_SECRET", "")

	cfg := LoadCLIFromEnv()
	assert.Equal(t, "https://empires.example", cfg.APIBaseURL)
	assert.Equal(t, "tok", cfg.Token)
	assert.Empty(t, cfg.TokenSecret)
}
