package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hanwool-dev/wakebattle/internal/domain"
	"github.com/hanwool-dev/wakebattle/internal/obslog"
)

// Hybrid pairs a primary (remote-durable) store with a fallback
// (local-durable) store and degrades gracefully: every operation tries
// the primary first and transparently retries against the fallback.
// Availability is favored over strict consistency; battles written only
// to the fallback are tracked as dirty and reconciled by the sync job.
type Hybrid struct {
	primary  Store
	fallback Store

	// bounded patience for a slow-but-not-failed primary. The primary
	// attempt keeps running in the background past this and its result
	// is discarded once the fallback has answered.
	primaryTimeout time.Duration

	mu       sync.Mutex
	dirty    map[string]struct{}
	failures uint64
}

const defaultPrimaryTimeout = 2 * time.Second

func NewHybrid(primary, fallback Store, primaryTimeout time.Duration) *Hybrid {
	if primaryTimeout <= 0 {
		primaryTimeout = defaultPrimaryTimeout
	}
	return &Hybrid{
		primary:        primary,
		fallback:       fallback,
		primaryTimeout: primaryTimeout,
		dirty:          make(map[string]struct{}),
	}
}

// tryPrimary runs op against the primary under the bounded timeout.
// 늦게 도착한 primary 결과는 버린다 — 호출자는 이미 fallback으로 응답받음.
func (h *Hybrid) tryPrimary(ctx context.Context, op func(context.Context) error) error {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.primaryTimeout)
	done := make(chan error, 1)
	go func() {
		defer cancel()
		done <- op(pctx)
	}()
	select {
	case err := <-done:
		return err
	case <-pctx.Done():
		return pctx.Err()
	}
}

func (h *Hybrid) markDirty(id string) {
	h.mu.Lock()
	h.dirty[id] = struct{}{}
	h.failures++
	h.mu.Unlock()
}

// DirtyIDs returns battle ids written only to the fallback since the
// last reconciliation.
func (h *Hybrid) DirtyIDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.dirty))
	for id := range h.dirty {
		out = append(out, id)
	}
	return out
}

// Failures reports the cumulative primary failure count for health
// scoring.
func (h *Hybrid) Failures() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.failures
}

func (h *Hybrid) clearDirty(id string) {
	h.mu.Lock()
	delete(h.dirty, id)
	h.mu.Unlock()
}

func (h *Hybrid) isDirty(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.dirty[id]
	return ok
}

func (h *Hybrid) Save(ctx context.Context, b *domain.Battle) error {
	perr := h.tryPrimary(ctx, func(c context.Context) error { return h.primary.Save(c, b) })
	if perr == nil {
		// keep fallback warm so reads survive a later primary outage
		if ferr := h.fallback.Save(ctx, b); ferr != nil {
			obslog.L().Warn("hybrid_fallback_mirror_error", zap.String("battle_id", b.ID), zap.Error(ferr))
		}
		h.clearDirty(b.ID)
		return nil
	}
	obslog.L().Warn("hybrid_primary_save_error", zap.String("battle_id", b.ID), zap.Error(perr))
	if ferr := h.fallback.Save(ctx, b); ferr != nil {
		return backendErr("hybrid", "save", b.ID, ferr)
	}
	h.markDirty(b.ID)
	return nil
}

func (h *Hybrid) Load(ctx context.Context, id string) (*domain.Battle, error) {
	// dirty id의 최신본은 fallback에만 있다 — primary를 읽으면 다음 sync
	// tick까지 stale 레코드를 돌려주게 된다
	if h.isDirty(id) {
		fb, ferr := h.fallback.Load(ctx, id)
		if ferr != nil {
			return nil, backendErr("hybrid", "load", id, ferr)
		}
		return fb, nil
	}
	var b *domain.Battle
	perr := h.tryPrimary(ctx, func(c context.Context) error {
		got, err := h.primary.Load(c, id)
		if err == nil {
			b = got
		}
		return err
	})
	if perr == nil {
		if b != nil {
			return b, nil
		}
		// primary miss: a fallback-only write may hold the record
		return h.fallback.Load(ctx, id)
	}
	obslog.L().Warn("hybrid_primary_load_error", zap.String("battle_id", id), zap.Error(perr))
	fb, ferr := h.fallback.Load(ctx, id)
	if ferr != nil {
		return nil, backendErr("hybrid", "load", id, ferr)
	}
	return fb, nil
}

func (h *Hybrid) LoadMany(ctx context.Context, f Filter) ([]*domain.Battle, error) {
	var out []*domain.Battle
	perr := h.tryPrimary(ctx, func(c context.Context) error {
		got, err := h.primary.LoadMany(c, f)
		if err == nil {
			out = got
		}
		return err
	})
	if perr == nil {
		return out, nil
	}
	obslog.L().Warn("hybrid_primary_load_many_error", zap.Error(perr))
	fb, ferr := h.fallback.LoadMany(ctx, f)
	if ferr != nil {
		return nil, backendErr("hybrid", "load_many", "", ferr)
	}
	return fb, nil
}

func (h *Hybrid) Update(ctx context.Context, id string, p Patch) (*domain.Battle, error) {
	// load-modify-save through the hybrid read/write paths so a primary
	// outage mid-update still lands the full record in the fallback
	b, err := h.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, ErrNotFound
	}
	p.Apply(b)
	if err := h.Save(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Delete fires best-effort against both backends. The fallback delete
// is local and cheap; the primary delete runs under the bounded timeout
// so a hung primary cannot stall the caller (tryPrimary lets the delete
// finish in the background past the deadline). Failures are logged,
// never returned; ErrNotFound counts as success.
func (h *Hybrid) Delete(ctx context.Context, id string) error {
	if err := h.fallback.Delete(ctx, id); err != nil && err != ErrNotFound {
		obslog.L().Warn("hybrid_delete_error",
			zap.String("backend", "fallback"),
			zap.String("battle_id", id),
			zap.Error(err),
		)
	}
	perr := h.tryPrimary(ctx, func(c context.Context) error { return h.primary.Delete(c, id) })
	if perr != nil && perr != ErrNotFound {
		obslog.L().Warn("hybrid_delete_error",
			zap.String("backend", "primary"),
			zap.String("battle_id", id),
			zap.Error(perr),
		)
	}
	h.clearDirty(id)
	return nil
}

// Resync rewrites one dirty battle from the fallback to the primary and
// clears the dirty mark on success. Used by the background sync job.
func (h *Hybrid) Resync(ctx context.Context, id string) error {
	b, err := h.fallback.Load(ctx, id)
	if err != nil {
		return err
	}
	if b == nil {
		h.clearDirty(id)
		return nil
	}
	if err := h.primary.Save(ctx, b); err != nil {
		return err
	}
	h.clearDirty(id)
	return nil
}

func (h *Hybrid) Close() error {
	perr := h.primary.Close()
	ferr := h.fallback.Close()
	if perr != nil {
		return perr
	}
	return ferr
}
