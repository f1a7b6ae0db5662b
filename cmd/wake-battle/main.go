package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/hanwool-dev/wakebattle/internal/battle"
	"github.com/hanwool-dev/wakebattle/internal/cache"
	appcfg "github.com/hanwool-dev/wakebattle/internal/config"
	"github.com/hanwool-dev/wakebattle/internal/events"
	"github.com/hanwool-dev/wakebattle/internal/ingress"
	"github.com/hanwool-dev/wakebattle/internal/notify"
	"github.com/hanwool-dev/wakebattle/internal/obslog"
	"github.com/hanwool-dev/wakebattle/internal/reward"
	"github.com/hanwool-dev/wakebattle/internal/scheduler"
	"github.com/hanwool-dev/wakebattle/internal/scoring"
	"github.com/hanwool-dev/wakebattle/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}

	st, hybrid, err := buildStore(cfg)
	if err != nil {
		log.Fatalf("store init error: %v", err)
	}

	catalog, err := scoring.NewTierCatalog(cfg.TierOverrideDir)
	if err != nil {
		log.Fatalf("tier catalog error: %v", err)
	}

	battleCache := cache.New(st, cfg.CacheTTL)
	hub := events.NewHub()
	if cfg.WebhookURL != "" {
		wh := notify.NewWebhook(cfg.WebhookURL,
			notify.WithTimeout(cfg.WebhookTimeout),
			notify.WithBearerToken(cfg.WebhookToken),
		)
		wh.Attach(hub)
		obslog.L().Info("webhook_enabled", zap.String("endpoint", cfg.WebhookURL))
	}
	mgr := battle.NewManager(
		battle.Limits{
			MaxParticipants:   cfg.MaxParticipants,
			MaxActiveBattles:  cfg.MaxActiveBattles,
			MaxBattleDuration: cfg.MaxBattleDuration,
			MaxBattlesPerUser: cfg.MaxBattlesPerUser,
		},
		st, battleCache, scoring.NewEngine(catalog), hub,
		reward.LogApplier{}, reward.StaticTier(cfg.MaxBattlesPerUser),
	)

	keeper, err := scheduler.New(scheduler.Options{
		CleanupInterval: cfg.CleanupInterval,
		SyncInterval:    cfg.SyncInterval,
		Retention:       cfg.Retention,
	}, mgr, battleCache, hybrid)
	if err != nil {
		log.Fatalf("scheduler init error: %v", err)
	}
	if err := keeper.Start(); err != nil {
		log.Fatalf("scheduler start error: %v", err)
	}

	srv := ingress.NewServer(mgr, hybrid)
	go func() {
		if err := srv.ListenAndServe(cfg.ListenAddr); err != nil {
			obslog.L().Error("ingress_serve_error", zap.Error(err))
		}
	}()
	obslog.L().Info("engine_started",
		zap.String("persistence", string(cfg.Persistence)),
		zap.String("listen_addr", cfg.ListenAddr),
	)

	// Wait for termination signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	_ = srv.Shutdown()
	_ = keeper.Shutdown()
	hub.Close()
	_ = st.Close()
	obslog.L().Info("engine_stopped")
}

// buildStore wires the persistence strategy once, at startup. The
// returned hybrid pointer is nil for the single-backend modes.
func buildStore(cfg *appcfg.AppConfig) (store.Store, *store.Hybrid, error) {
	switch cfg.Persistence {
	case appcfg.ModeMemory:
		return store.NewMemory(), nil, nil
	case appcfg.ModeRedis:
		s, err := store.NewRedis(cfg.RedisURL)
		return s, nil, err
	case appcfg.ModePostgres:
		s, err := store.NewPostgres(cfg.DatabaseURL)
		return s, nil, err
	case appcfg.ModeHybrid:
		primary, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		fallback, err := store.NewRedis(cfg.RedisURL)
		if err != nil {
			_ = primary.Close()
			return nil, nil, err
		}
		h := store.NewHybrid(primary, fallback, cfg.PrimaryTimeout)
		return h, h, nil
	}
	return store.NewMemory(), nil, nil
}
