package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hanwool-dev/wakebattle/internal/domain"
	"github.com/hanwool-dev/wakebattle/internal/store"
)

// countingStore wraps the memory store and counts Load hits.
type countingStore struct {
	store.Store
	loads int
}

func (c *countingStore) Load(ctx context.Context, id string) (*domain.Battle, error) {
	c.loads++
	return c.Store.Load(ctx, id)
}

func seed(t *testing.T, st store.Store, id string) *domain.Battle {
	t.Helper()
	b := &domain.Battle{
		ID:        id,
		Type:      domain.TypeDaily,
		Status:    domain.StatusRegistration,
		CreatorID: "creator",
		StartTime: time.Now(),
		EndTime:   time.Now().Add(time.Hour),
	}
	if err := st.Save(context.Background(), b); err != nil {
		t.Fatalf("seed save: %v", err)
	}
	return b
}

func TestReadThroughPopulatesOnce(t *testing.T) {
	cs := &countingStore{Store: store.NewMemory()}
	c := New(cs, time.Hour)
	ctx := context.Background()
	seed(t, cs.Store, "b1")

	for i := 0; i < 3; i++ {
		got, err := c.Get(ctx, "b1")
		if err != nil {
			t.Fatalf("Get #%d: %v", i, err)
		}
		if got == nil || got.ID != "b1" {
			t.Fatalf("Get #%d mismatch: %+v", i, got)
		}
	}
	if cs.loads != 1 {
		t.Fatalf("store consulted %d times, want 1 (read-through)", cs.loads)
	}
}

func TestMissingBattleIsNotCached(t *testing.T) {
	cs := &countingStore{Store: store.NewMemory()}
	c := New(cs, time.Hour)
	ctx := context.Background()

	if got, err := c.Get(ctx, "ghost"); err != nil || got != nil {
		t.Fatalf("Get(ghost)=%v,%v, want nil,nil", got, err)
	}
	// a later write must be visible on the next read
	seed(t, cs.Store, "ghost")
	got, err := c.Get(ctx, "ghost")
	if err != nil || got == nil {
		t.Fatalf("Get after save=%v,%v", got, err)
	}
}

func TestTTLExpiry(t *testing.T) {
	cs := &countingStore{Store: store.NewMemory()}
	c := New(cs, 30*time.Millisecond)
	ctx := context.Background()
	seed(t, cs.Store, "b1")

	if _, err := c.Get(ctx, "b1"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if _, err := c.Get(ctx, "b1"); err != nil {
		t.Fatalf("Get after expiry: %v", err)
	}
	if cs.loads != 2 {
		t.Fatalf("expired entry should re-consult the store: loads=%d", cs.loads)
	}
}

func TestPutReplacesBeforeReaders(t *testing.T) {
	st := store.NewMemory()
	c := New(st, time.Hour)
	ctx := context.Background()
	b := seed(t, st, "b1")

	if _, err := c.Get(ctx, "b1"); err != nil {
		t.Fatalf("warm: %v", err)
	}
	mutated := *b
	mutated.Status = domain.StatusActive
	c.Put(&mutated)

	got, err := c.Get(ctx, "b1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != domain.StatusActive {
		t.Fatalf("reader observed stale pre-mutation state: %s", got.Status)
	}
}

func TestInvalidateForcesReload(t *testing.T) {
	cs := &countingStore{Store: store.NewMemory()}
	c := New(cs, time.Hour)
	ctx := context.Background()
	seed(t, cs.Store, "b1")

	if _, err := c.Get(ctx, "b1"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	c.Invalidate("b1")
	if _, err := c.Get(ctx, "b1"); err != nil {
		t.Fatalf("Get after invalidate: %v", err)
	}
	if cs.loads != 2 {
		t.Fatalf("invalidate should force a store reload: loads=%d", cs.loads)
	}
}

func TestSweepDropsExpired(t *testing.T) {
	st := store.NewMemory()
	c := New(st, 20*time.Millisecond)
	ctx := context.Background()
	seed(t, st, "b1")
	seed(t, st, "b2")
	if _, err := c.Get(ctx, "b1"); err != nil {
		t.Fatalf("Get b1: %v", err)
	}
	if _, err := c.Get(ctx, "b2"); err != nil {
		t.Fatalf("Get b2: %v", err)
	}
	time.Sleep(40 * time.Millisecond)
	if n := c.Sweep(); n != 2 {
		t.Fatalf("Sweep removed %d, want 2", n)
	}
	if c.Len() != 0 {
		t.Fatalf("entries remain after sweep: %d", c.Len())
	}
}

// erroringStore proves store failures pass through untouched.
type erroringStore struct{ store.Store }

var errBoom = errors.New("boom")

func (erroringStore) Load(ctx context.Context, id string) (*domain.Battle, error) {
	return nil, errBoom
}

func TestStoreErrorPassthrough(t *testing.T) {
	c := New(erroringStore{Store: store.NewMemory()}, time.Hour)
	if _, err := c.Get(context.Background(), "b1"); !errors.Is(err, errBoom) {
		t.Fatalf("expected store error passthrough, got %v", err)
	}
}
