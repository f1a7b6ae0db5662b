package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hanwool-dev/wakebattle/internal/battle"
	"github.com/hanwool-dev/wakebattle/internal/cache"
	"github.com/hanwool-dev/wakebattle/internal/domain"
	"github.com/hanwool-dev/wakebattle/internal/events"
	"github.com/hanwool-dev/wakebattle/internal/scoring"
	"github.com/hanwool-dev/wakebattle/internal/store"
)

func newTestHousekeeper(t *testing.T, st store.Store, hybrid *store.Hybrid) (*Housekeeper, *battle.Manager, *cache.Cache) {
	t.Helper()
	catalog, err := scoring.NewTierCatalog("")
	if err != nil {
		t.Fatalf("tier catalog: %v", err)
	}
	c := cache.New(st, time.Hour)
	hub := events.NewHub()
	t.Cleanup(hub.Close)
	mgr := battle.NewManager(battle.Limits{
		MaxParticipants:   50,
		MaxActiveBattles:  200,
		MaxBattleDuration: 24 * time.Hour,
		MaxBattlesPerUser: 3,
	}, st, c, scoring.NewEngine(catalog), hub, nil, nil)
	h, err := New(Options{
		CleanupInterval: time.Minute,
		SyncInterval:    time.Minute,
		Retention:       7 * 24 * time.Hour,
	}, mgr, c, hybrid)
	if err != nil {
		t.Fatalf("housekeeper: %v", err)
	}
	return h, mgr, c
}

func seedBattle(t *testing.T, st store.Store, b *domain.Battle) {
	t.Helper()
	now := time.Now()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	if err := st.Save(context.Background(), b); err != nil {
		t.Fatalf("seed %s: %v", b.ID, err)
	}
}

func joined(userID string, score int) domain.Participant {
	return domain.Participant{
		UserID:   userID,
		JoinedAt: time.Now().Add(-time.Hour),
		Status:   domain.ParticipantJoined,
		Score:    score,
	}
}

func TestCleanupStartsDueRegistrationBattle(t *testing.T) {
	st := store.NewMemory()
	h, _, _ := newTestHousekeeper(t, st, nil)
	ctx := context.Background()

	seedBattle(t, st, &domain.Battle{
		ID:              "btl-due",
		Type:            domain.TypeDaily,
		Status:          domain.StatusRegistration,
		CreatorID:       "alice",
		StartTime:       time.Now().Add(-time.Minute),
		EndTime:         time.Now().Add(time.Hour),
		MaxParticipants: 10,
		MinParticipants: 2,
		Participants:    []domain.Participant{joined("alice", 0), joined("bob", 0)},
	})

	h.CleanupTick(ctx)

	got, err := st.Load(ctx, "btl-due")
	if err != nil || got == nil {
		t.Fatalf("load: %v %v", got, err)
	}
	if got.Status != domain.StatusActive {
		t.Fatalf("due battle not started: %s", got.Status)
	}
}

func TestCleanupCancelsMissedWindow(t *testing.T) {
	st := store.NewMemory()
	h, _, _ := newTestHousekeeper(t, st, nil)
	ctx := context.Background()

	// window fully elapsed, still short of min participants
	seedBattle(t, st, &domain.Battle{
		ID:              "btl-missed",
		Type:            domain.TypeDaily,
		Status:          domain.StatusRegistration,
		CreatorID:       "alice",
		StartTime:       time.Now().Add(-2 * time.Hour),
		EndTime:         time.Now().Add(-time.Hour),
		MaxParticipants: 10,
		MinParticipants: 3,
		Participants:    []domain.Participant{joined("alice", 0)},
	})

	h.CleanupTick(ctx)

	got, err := st.Load(ctx, "btl-missed")
	if err != nil || got == nil {
		t.Fatalf("load: %v %v", got, err)
	}
	if got.Status != domain.StatusCancelled {
		t.Fatalf("missed-window battle not cancelled: %s", got.Status)
	}
}

func TestCleanupForceEndsOverdueActive(t *testing.T) {
	st := store.NewMemory()
	h, _, _ := newTestHousekeeper(t, st, nil)
	ctx := context.Background()

	seedBattle(t, st, &domain.Battle{
		ID:              "btl-overdue",
		Type:            domain.TypeDaily,
		Status:          domain.StatusActive,
		CreatorID:       "alice",
		StartTime:       time.Now().Add(-3 * time.Hour),
		EndTime:         time.Now().Add(-time.Minute),
		MaxParticipants: 10,
		Participants:    []domain.Participant{joined("alice", 120), joined("bob", 90)},
	})

	h.CleanupTick(ctx)

	got, err := st.Load(ctx, "btl-overdue")
	if err != nil || got == nil {
		t.Fatalf("load: %v %v", got, err)
	}
	if got.Status != domain.StatusCompleted {
		t.Fatalf("overdue battle not ended: %s", got.Status)
	}
	if got.Result == nil || len(got.Result.Rankings) != 2 {
		t.Fatalf("force-end must still compute the result: %+v", got.Result)
	}
	if got.Result.Rankings[0].UserID != "alice" {
		t.Fatalf("ranking order wrong: %+v", got.Result.Rankings)
	}
}

func TestCleanupPurgesPastRetention(t *testing.T) {
	st := store.NewMemory()
	h, _, _ := newTestHousekeeper(t, st, nil)
	ctx := context.Background()

	old := time.Now().Add(-8 * 24 * time.Hour)
	done := old.Add(time.Hour)
	seedBattle(t, st, &domain.Battle{
		ID:          "btl-ancient",
		Type:        domain.TypeDaily,
		Status:      domain.StatusCompleted,
		CreatorID:   "alice",
		StartTime:   old,
		EndTime:     old.Add(time.Hour),
		CompletedAt: &done,
	})
	// recent terminal battle stays
	seedBattle(t, st, &domain.Battle{
		ID:        "btl-recent",
		Type:      domain.TypeDaily,
		Status:    domain.StatusCancelled,
		CreatorID: "alice",
		StartTime: time.Now().Add(-2 * time.Hour),
		EndTime:   time.Now().Add(-time.Hour),
	})

	h.CleanupTick(ctx)

	if got, err := st.Load(ctx, "btl-ancient"); err != nil || got != nil {
		t.Fatalf("ancient battle survived retention: %v %v", got, err)
	}
	if got, err := st.Load(ctx, "btl-recent"); err != nil || got == nil {
		t.Fatalf("recent terminal battle was purged: %v %v", got, err)
	}
}

func TestCleanupLeavesHealthyBattlesAlone(t *testing.T) {
	st := store.NewMemory()
	h, _, _ := newTestHousekeeper(t, st, nil)
	ctx := context.Background()

	seedBattle(t, st, &domain.Battle{
		ID:              "btl-future",
		Type:            domain.TypeDaily,
		Status:          domain.StatusRegistration,
		CreatorID:       "alice",
		StartTime:       time.Now().Add(time.Hour),
		EndTime:         time.Now().Add(2 * time.Hour),
		MaxParticipants: 10,
	})
	seedBattle(t, st, &domain.Battle{
		ID:           "btl-running",
		Type:         domain.TypeDaily,
		Status:       domain.StatusActive,
		CreatorID:    "alice",
		StartTime:    time.Now().Add(-time.Minute),
		EndTime:      time.Now().Add(time.Hour),
		Participants: []domain.Participant{joined("alice", 0)},
	})

	h.CleanupTick(ctx)

	future, _ := st.Load(ctx, "btl-future")
	running, _ := st.Load(ctx, "btl-running")
	if future == nil || future.Status != domain.StatusRegistration {
		t.Fatalf("future battle touched: %+v", future)
	}
	if running == nil || running.Status != domain.StatusActive {
		t.Fatalf("in-window battle touched: %+v", running)
	}
}

// flakyStore refuses writes while down, delegating otherwise.
type flakyStore struct {
	store.Store
	mu   sync.Mutex
	down bool
}

func (f *flakyStore) setDown(v bool) {
	f.mu.Lock()
	f.down = v
	f.mu.Unlock()
}

func (f *flakyStore) Save(ctx context.Context, b *domain.Battle) error {
	f.mu.Lock()
	down := f.down
	f.mu.Unlock()
	if down {
		return errors.New("primary unavailable")
	}
	return f.Store.Save(ctx, b)
}

func TestSyncTickResyncsDirtyWrites(t *testing.T) {
	primary := &flakyStore{Store: store.NewMemory()}
	fallback := store.NewMemory()
	hy := store.NewHybrid(primary, fallback, 0)
	h, _, _ := newTestHousekeeper(t, hy, hy)
	ctx := context.Background()

	b := &domain.Battle{
		ID:        "btl-dirty",
		Type:      domain.TypeDaily,
		Status:    domain.StatusActive,
		CreatorID: "alice",
		StartTime: time.Now(),
		EndTime:   time.Now().Add(time.Hour),
		UpdatedAt: time.Now(),
	}
	primary.setDown(true)
	if err := hy.Save(ctx, b); err != nil {
		t.Fatalf("save during outage: %v", err)
	}
	if len(hy.DirtyIDs()) != 1 {
		t.Fatalf("outage write not tracked dirty: %v", hy.DirtyIDs())
	}

	primary.setDown(false)
	h.SyncTick(ctx)

	if len(hy.DirtyIDs()) != 0 {
		t.Fatalf("dirty set not cleared: %v", hy.DirtyIDs())
	}
	got, err := primary.Load(ctx, b.ID)
	if err != nil || got == nil {
		t.Fatalf("primary missing resynced battle: %v %v", got, err)
	}
}
