package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type APIConfig struct {
	Addr           string
	DatabaseURL    string
	TokenSecret    string
	AdminIDs       []int64
	RedisURL       string
	LeaderboardTTL time.Duration
}

type WorkerConfig struct {
	DatabaseURL   string
	IncomeEvery   time.Duration
	AuctionEvery  time.Duration
	KeyRetention  time.Duration
	RunOnce       bool
	MetricsAddr   string
	ShutdownGrace time.Duration
}

type CLIConfig struct {
	APIBaseURL  string
	Token       string
	DatabaseURL string
	TokenSecret string
}

// LoadDotEnv reads a .env file from the working directory when one exists.
// Variables already present in the environment win.
func LoadDotEnv() {
	_ = godotenv.Load()
}

func LoadAPIFromEnv() (APIConfig, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("EMPIRES_API_ADDR", ":8080")
	}

	admins, err := parseIDList(os.Getenv("EMPIRES_ADMIN_IDS"))
	if err != nil {
		return APIConfig{}, fmt.Errorf("EMPIRES_ADMIN_IDS: %w", err)
	}

	cfg := APIConfig{
		Addr:           addr,
		DatabaseURL:    strings.TrimSpace(os.Getenv("DATABASE_URL")),
		TokenSecret:    strings.TrimSpace(os.Getenv("EMPIRES_TOKEN_SECRET")),
		AdminIDs:       admins,
		RedisURL:       strings.TrimSpace(os.Getenv("REDIS_URL")),
		LeaderboardTTL: envDurationDefault("EMPIRES_LEADERBOARD_TTL", 30*time.Second),
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.TokenSecret == "" {
		return cfg, fmt.Errorf("EMPIRES_TOKEN_SECRET is required")
	}
	return cfg, nil
}

func LoadWorkerFromEnv() (WorkerConfig, error) {
	cfg := WorkerConfig{
		DatabaseURL:   strings.TrimSpace(os.Getenv("DATABASE_URL")),
		IncomeEvery:   envDurationDefault("EMPIRES_INCOME_EVERY", 5*time.Minute),
		AuctionEvery:  envDurationDefault("EMPIRES_AUCTION_EVERY", time.Minute),
		KeyRetention:  envDurationDefault("EMPIRES_IDEMPOTENCY_RETENTION", 72*time.Hour),
		RunOnce:       envBoolDefault("EMPIRES_WORKER_RUN_ONCE", false),
		MetricsAddr:   strings.TrimSpace(os.Getenv("EMPIRES_METRICS_ADDR")),
		ShutdownGrace: envDurationDefault("EMPIRES_SHUTDOWN_GRACE", 15*time.Second),
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.IncomeEvery <= 0 || cfg.AuctionEvery <= 0 {
		return cfg, fmt.Errorf("tick intervals must be positive")
	}
	return cfg, nil
}

func LoadCLIFromEnv() CLIConfig {
	return CLIConfig{
		APIBaseURL:  strings.TrimRight(envDefault("EMPCTL_API_BASE_URL", "http://localhost:8080"), "/"),
		Token:       strings.TrimSpace(os.Getenv("EMPCTL_TOKEN")),
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		TokenSecret: strings.TrimSpace(os.Getenv("EMPIRES_TOKEN_SECRET")),
	}
}

func parseIDList(raw string) ([]int64, error) {
	var out []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q", part)
		}
		out = append(out, id)
	}
	return out, nil
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
