package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// PersistenceMode selects the backend wiring at startup.
type PersistenceMode string

const (
	ModeMemory   PersistenceMode = "memory"
	ModeRedis    PersistenceMode = "redis"
	ModePostgres PersistenceMode = "postgres"
	ModeHybrid   PersistenceMode = "hybrid"
)

type AppConfig struct {
	ListenAddr string

	RedisURL    string
	DatabaseURL string

	Persistence    PersistenceMode
	PrimaryTimeout time.Duration

	MaxParticipants   int
	MaxActiveBattles  int
	MaxBattleDuration time.Duration
	MaxBattlesPerUser int

	CacheTTL        time.Duration
	CleanupInterval time.Duration
	SyncInterval    time.Duration
	Retention       time.Duration

	TierOverrideDir string

	WebhookURL     string
	WebhookToken   string
	WebhookTimeout time.Duration
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:        ":8710",
		Persistence:       ModeMemory,
		PrimaryTimeout:    2 * time.Second,
		MaxParticipants:   50,
		MaxActiveBattles:  200,
		MaxBattleDuration: 24 * time.Hour,
		MaxBattlesPerUser: 3,
		CacheTTL:          time.Hour,
		CleanupInterval:   5 * time.Minute,
		SyncInterval:      time.Minute,
		Retention:         7 * 24 * time.Hour,
		WebhookTimeout:    8 * time.Second,
	}

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.TierOverrideDir = strings.TrimSpace(os.Getenv("TIER_OVERRIDE_DIR"))
	cfg.WebhookURL = strings.TrimSpace(os.Getenv("WEBHOOK_URL"))
	cfg.WebhookToken = strings.TrimSpace(os.Getenv("WEBHOOK_TOKEN"))
	if d, ok := envDuration("WEBHOOK_TIMEOUT"); ok {
		cfg.WebhookTimeout = d
	}

	if v := strings.ToLower(strings.TrimSpace(os.Getenv("PERSISTENCE_MODE"))); v != "" {
		switch PersistenceMode(v) {
		case ModeMemory, ModeRedis, ModePostgres, ModeHybrid:
			cfg.Persistence = PersistenceMode(v)
		default:
			return nil, errors.New("PERSISTENCE_MODE must be one of memory|redis|postgres|hybrid")
		}
	}

	if v := strings.TrimSpace(os.Getenv("MAX_PARTICIPANTS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxParticipants = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("MAX_ACTIVE_BATTLES")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxActiveBattles = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("MAX_BATTLES_PER_USER")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxBattlesPerUser = n
		}
	}
	if d, ok := envDuration("MAX_BATTLE_DURATION"); ok {
		cfg.MaxBattleDuration = d
	}
	if d, ok := envDuration("PRIMARY_TIMEOUT"); ok {
		cfg.PrimaryTimeout = d
	}
	if d, ok := envDuration("CACHE_TTL"); ok {
		cfg.CacheTTL = d
	}
	if d, ok := envDuration("CLEANUP_INTERVAL"); ok {
		cfg.CleanupInterval = d
	}
	if d, ok := envDuration("SYNC_INTERVAL"); ok {
		cfg.SyncInterval = d
	}
	if d, ok := envDuration("BATTLE_RETENTION"); ok {
		cfg.Retention = d
	}

	switch cfg.Persistence {
	case ModeRedis:
		if cfg.RedisURL == "" {
			return nil, errors.New("REDIS_URL required for redis persistence")
		}
	case ModePostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL required for postgres persistence")
		}
	case ModeHybrid:
		if cfg.RedisURL == "" || cfg.DatabaseURL == "" {
			return nil, errors.New("hybrid persistence requires both DATABASE_URL and REDIS_URL")
		}
	}

	return cfg, nil
}

// envDuration parses values like "90s" or "15m"; bare integers are
// treated as seconds.
func envDuration(key string) (time.Duration, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d, true
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second, true
	}
	return 0, false
}
