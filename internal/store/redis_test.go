package store

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/hanwool-dev/wakebattle/internal/domain"
)

func newTestRedis(t *testing.T) *Redis {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	return NewRedisWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
}

func TestRedisSaveLoadDelete(t *testing.T) {
	r := newTestRedis(t)
	ctx := context.Background()

	if got, err := r.Load(ctx, "missing"); err != nil || got != nil {
		t.Fatalf("Load(missing)=%v,%v, want nil,nil", got, err)
	}

	b := sampleBattle("b1", "creator", domain.StatusRegistration, "u1", "u2")
	if err := r.Save(ctx, b); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := r.Load(ctx, "b1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.ID != "b1" || len(got.Participants) != 2 {
		t.Fatalf("round-trip mismatch: %+v", got)
	}

	if err := r.Delete(ctx, "b1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got, _ := r.Load(ctx, "b1"); got != nil {
		t.Fatalf("battle survived delete")
	}
	if err := r.Delete(ctx, "b1"); err != ErrNotFound {
		t.Fatalf("second Delete=%v, want ErrNotFound", err)
	}
	// index must be empty after delete
	many, err := r.LoadMany(ctx, Filter{})
	if err != nil {
		t.Fatalf("LoadMany: %v", err)
	}
	if len(many) != 0 {
		t.Fatalf("id index still resolves %d battles after delete", len(many))
	}
}

func TestRedisLoadManyUsesUserIndex(t *testing.T) {
	r := newTestRedis(t)
	ctx := context.Background()

	b1 := sampleBattle("b1", "alice", domain.StatusActive, "u1", "u2")
	b2 := sampleBattle("b2", "bob", domain.StatusActive, "u2")
	b3 := sampleBattle("b3", "bob", domain.StatusRegistration, "u3")
	for _, b := range []*domain.Battle{b1, b2, b3} {
		if err := r.Save(ctx, b); err != nil {
			t.Fatalf("Save %s: %v", b.ID, err)
		}
	}

	got, err := r.LoadMany(ctx, Filter{UserID: "u2"})
	if err != nil {
		t.Fatalf("LoadMany: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 battles for u2, got %d", len(got))
	}

	got, err = r.LoadMany(ctx, Filter{UserID: "u2", Status: domain.StatusActive, CreatorID: "bob"})
	if err != nil {
		t.Fatalf("LoadMany combined: %v", err)
	}
	if len(got) != 1 || got[0].ID != "b2" {
		t.Fatalf("combined filter mismatch: %+v", got)
	}
}

func TestRedisUpdatePatch(t *testing.T) {
	r := newTestRedis(t)
	ctx := context.Background()

	b := sampleBattle("b1", "creator", domain.StatusRegistration, "u1")
	if err := r.Save(ctx, b); err != nil {
		t.Fatalf("Save: %v", err)
	}
	status := domain.StatusActive
	updated, err := r.Update(ctx, "b1", Patch{Status: &status})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Status != domain.StatusActive {
		t.Fatalf("patched status=%s", updated.Status)
	}
	reloaded, _ := r.Load(ctx, "b1")
	if reloaded.Status != domain.StatusActive {
		t.Fatalf("patch not persisted: %s", reloaded.Status)
	}
	if _, err := r.Update(ctx, "missing", Patch{Status: &status}); err != ErrNotFound {
		t.Fatalf("Update(missing)=%v, want ErrNotFound", err)
	}
}
