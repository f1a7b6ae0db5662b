package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/hanwool-dev/wakebattle/internal/battle"
	"github.com/hanwool-dev/wakebattle/internal/cache"
	"github.com/hanwool-dev/wakebattle/internal/domain"
	"github.com/hanwool-dev/wakebattle/internal/obslog"
	"github.com/hanwool-dev/wakebattle/internal/store"
)

// Options tune the two background jobs.
type Options struct {
	CleanupInterval time.Duration
	SyncInterval    time.Duration
	Retention       time.Duration // how long completed battles are kept past end time
}

// Housekeeper runs the periodic cleanup and hybrid-sync jobs. Failures
// are logged and retried on the next tick, never escalated to callers.
type Housekeeper struct {
	opts   Options
	mgr    *battle.Manager
	cache  *cache.Cache
	hybrid *store.Hybrid // nil unless the hybrid strategy is active
	sched  gocron.Scheduler
}

func New(opts Options, mgr *battle.Manager, c *cache.Cache, hybrid *store.Hybrid) (*Housekeeper, error) {
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = 5 * time.Minute
	}
	if opts.SyncInterval <= 0 {
		opts.SyncInterval = time.Minute
	}
	if opts.Retention <= 0 {
		opts.Retention = 7 * 24 * time.Hour
	}
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	return &Housekeeper{opts: opts, mgr: mgr, cache: c, hybrid: hybrid, sched: s}, nil
}

// Start registers the jobs and launches the scheduler.
func (h *Housekeeper) Start() error {
	if _, err := h.sched.NewJob(
		gocron.DurationJob(h.opts.CleanupInterval),
		gocron.NewTask(func() { h.CleanupTick(context.Background()) }),
	); err != nil {
		return err
	}
	if h.hybrid != nil {
		if _, err := h.sched.NewJob(
			gocron.DurationJob(h.opts.SyncInterval),
			gocron.NewTask(func() { h.SyncTick(context.Background()) }),
		); err != nil {
			return err
		}
	}
	h.sched.Start()
	return nil
}

// Shutdown waits for in-flight ticks to finish.
func (h *Housekeeper) Shutdown() error {
	return h.sched.Shutdown()
}

// CleanupTick drives the time-based lifecycle transitions and evicts
// battles past the retention window. Exported so tests can tick
// directly without timers.
func (h *Housekeeper) CleanupTick(ctx context.Context) {
	now := time.Now()

	// start or cancel due registration battles
	pending, err := h.mgr.ListBattles(ctx, store.Filter{Status: domain.StatusRegistration})
	if err != nil {
		obslog.L().Warn("cleanup_list_error", zap.String("status", "registration"), zap.Error(err))
	}
	for _, b := range pending {
		switch {
		case now.After(b.EndTime):
			// window fully missed without enough participants
			if _, cerr := h.mgr.CancelBattle(ctx, b.ID, ""); cerr != nil {
				obslog.L().Warn("cleanup_cancel_error", zap.String("battle_id", b.ID), zap.Error(cerr))
			}
		case !now.Before(b.StartTime) && len(b.Participants) >= b.MinParticipants:
			if _, serr := h.mgr.StartBattle(ctx, b.ID); serr != nil {
				obslog.L().Warn("cleanup_start_error", zap.String("battle_id", b.ID), zap.Error(serr))
			}
		}
	}

	// force-end overdue active battles
	active, err := h.mgr.ListBattles(ctx, store.Filter{Status: domain.StatusActive})
	if err != nil {
		obslog.L().Warn("cleanup_list_error", zap.String("status", "active"), zap.Error(err))
	}
	for _, b := range active {
		if now.After(b.EndTime) {
			if _, eerr := h.mgr.EndBattle(ctx, b.ID); eerr != nil {
				obslog.L().Warn("cleanup_end_error", zap.String("battle_id", b.ID), zap.Error(eerr))
			}
		}
	}

	// purge terminal battles past the retention window
	deleted := 0
	for _, status := range []domain.BattleStatus{domain.StatusCompleted, domain.StatusCancelled} {
		stale, lerr := h.mgr.ListBattles(ctx, store.Filter{Status: status})
		if lerr != nil {
			obslog.L().Warn("cleanup_list_error", zap.String("status", string(status)), zap.Error(lerr))
			continue
		}
		for _, b := range stale {
			if now.Sub(b.EndTime) <= h.opts.Retention {
				continue
			}
			if derr := h.mgr.DeleteBattle(ctx, b.ID); derr != nil {
				obslog.L().Warn("cleanup_delete_error", zap.String("battle_id", b.ID), zap.Error(derr))
				continue
			}
			deleted++
		}
	}

	swept := h.cache.Sweep()
	if deleted > 0 || swept > 0 {
		obslog.L().Info("cleanup_tick", zap.Int("deleted", deleted), zap.Int("cache_swept", swept))
	}
}

// SyncTick reconciles fallback-only writes back to the primary backend
// and re-writes the cache-resident set through the hybrid path, bounding
// the staleness window after a primary outage.
func (h *Housekeeper) SyncTick(ctx context.Context) {
	if h.hybrid == nil {
		return
	}
	ids := h.hybrid.DirtyIDs()
	synced := 0
	for _, id := range ids {
		if err := h.hybrid.Resync(ctx, id); err != nil {
			obslog.L().Warn("sync_error", zap.String("battle_id", id), zap.Error(err))
			continue
		}
		synced++
	}

	flushed := 0
	for _, b := range h.cache.Resident() {
		if b.Terminal() {
			continue
		}
		if err := h.hybrid.Save(ctx, b); err != nil {
			obslog.L().Warn("sync_flush_error", zap.String("battle_id", b.ID), zap.Error(err))
			continue
		}
		flushed++
	}
	if len(ids) > 0 || flushed > 0 {
		obslog.L().Info("sync_tick",
			zap.Int("dirty", len(ids)),
			zap.Int("synced", synced),
			zap.Int("flushed", flushed),
		)
	}
}
