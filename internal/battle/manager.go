package battle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hanwool-dev/wakebattle/internal/cache"
	"github.com/hanwool-dev/wakebattle/internal/domain"
	"github.com/hanwool-dev/wakebattle/internal/events"
	"github.com/hanwool-dev/wakebattle/internal/obslog"
	"github.com/hanwool-dev/wakebattle/internal/reward"
	"github.com/hanwool-dev/wakebattle/internal/scoring"
	"github.com/hanwool-dev/wakebattle/internal/store"
	"github.com/hanwool-dev/wakebattle/pkg/battledto"
)

// Limits bound what the manager admits.
type Limits struct {
	MaxParticipants   int           // per-battle ceiling
	MaxActiveBattles  int           // admission control
	MaxBattleDuration time.Duration // end - start ceiling
	MaxBattlesPerUser int           // default per-user concurrency cap
}

// CreateSpec is what a caller submits to open a battle.
type CreateSpec struct {
	Type            domain.BattleType
	CreatorID       string
	StartTime       time.Time
	EndTime         time.Time
	Settings        domain.Settings
	MaxParticipants int
	MinParticipants int
	EntryFee        int
	PrizePool       map[string]domain.RewardTier
}

// Manager drives the battle lifecycle: registration → active →
// completed, or registration → cancelled. All shared-state mutation
// funnels through here under a per-battle lock; the cache and store are
// never mutated by outside callers.
type Manager struct {
	limits  Limits
	store   store.Store
	cache   *cache.Cache
	scoring *scoring.Engine
	hub     *events.Hub
	rewards reward.Applier
	tiers   reward.TierLookup
	locks   *keyedLocks
}

func NewManager(limits Limits, st store.Store, c *cache.Cache, eng *scoring.Engine, hub *events.Hub, rw reward.Applier, tiers reward.TierLookup) *Manager {
	if rw == nil {
		rw = reward.LogApplier{}
	}
	if tiers == nil {
		tiers = reward.StaticTier(3)
	}
	return &Manager{
		limits:  limits,
		store:   st,
		cache:   c,
		scoring: eng,
		hub:     hub,
		rewards: rw,
		tiers:   tiers,
		locks:   newKeyedLocks(),
	}
}

func validType(t domain.BattleType) bool {
	switch t {
	case domain.TypeQuickMatch, domain.TypeDaily, domain.TypeWeekly, domain.TypeGroup:
		return true
	}
	return false
}

// CreateBattle validates the spec, applies admission control, and
// persists a new battle in registration state.
func (m *Manager) CreateBattle(ctx context.Context, spec CreateSpec) (*domain.Battle, error) {
	const op = "create_battle"
	if !validType(spec.Type) {
		return nil, validationErr(op, "", "unknown battle type %q", spec.Type)
	}
	if strings.TrimSpace(spec.CreatorID) == "" {
		return nil, validationErr(op, "", "creator_id required")
	}
	if spec.StartTime.IsZero() {
		return nil, validationErr(op, "", "start_time required")
	}
	if !spec.EndTime.After(spec.StartTime) {
		return nil, validationErr(op, "", "end_time must be after start_time")
	}
	if d := spec.EndTime.Sub(spec.StartTime); d > m.limits.MaxBattleDuration {
		return nil, validationErr(op, "", "duration %s exceeds maximum %s", d, m.limits.MaxBattleDuration)
	}
	if spec.MaxParticipants <= 0 || spec.MaxParticipants > m.limits.MaxParticipants {
		return nil, validationErr(op, "", "max_participants must be 1..%d", m.limits.MaxParticipants)
	}
	if spec.MinParticipants < 0 || spec.MinParticipants > spec.MaxParticipants {
		return nil, validationErr(op, "", "min_participants must be 0..max_participants")
	}
	if spec.EntryFee < 0 {
		return nil, validationErr(op, "", "entry_fee must be non-negative")
	}

	// admission control: bound system load by refusing new battles once
	// the live ceiling is reached
	live, err := m.store.LoadMany(ctx, store.Filter{Status: domain.StatusActive})
	if err != nil {
		return nil, fmt.Errorf("%s: count active: %w", op, err)
	}
	if len(live) >= m.limits.MaxActiveBattles {
		return nil, validationErr(op, "", "active battle ceiling reached (%d)", m.limits.MaxActiveBattles)
	}

	now := time.Now()
	b := &domain.Battle{
		ID:              "btl-" + uuid.NewString(),
		Type:            spec.Type,
		Status:          domain.StatusRegistration,
		CreatorID:       strings.TrimSpace(spec.CreatorID),
		StartTime:       spec.StartTime,
		EndTime:         spec.EndTime,
		Settings:        spec.Settings,
		Participants:    []domain.Participant{},
		MaxParticipants: spec.MaxParticipants,
		MinParticipants: spec.MinParticipants,
		EntryFee:        spec.EntryFee,
		PrizePool:       spec.PrizePool,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := m.store.Save(ctx, b); err != nil {
		return nil, err
	}
	m.cache.Put(b)
	m.hub.Publish(events.Event{Type: events.BattleCreated, Battle: b})
	obslog.L().Info("battle_create",
		zap.String("battle_id", b.ID),
		zap.String("type", string(b.Type)),
		zap.String("creator_id", b.CreatorID),
		zap.Time("start_time", b.StartTime),
		zap.Int("max_participants", b.MaxParticipants),
	)
	return b, nil
}

// GetBattle reads through the cache.
func (m *Manager) GetBattle(ctx context.Context, id string) (*domain.Battle, error) {
	b, err := m.cache.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, &NotFoundError{Kind: "battle", ID: id}
	}
	return b, nil
}

// ListBattles is a filtered passthrough to the persistence layer.
func (m *Manager) ListBattles(ctx context.Context, f store.Filter) ([]*domain.Battle, error) {
	return m.store.LoadMany(ctx, f)
}

// JoinBattle appends a participant. Rejected when the battle is not in
// registration, already full, or the user already joined (double-join
// idempotency guard).
func (m *Manager) JoinBattle(ctx context.Context, battleID, userID string) (*domain.Battle, error) {
	const op = "join_battle"
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, validationErr(op, battleID, "user_id required")
	}
	release := m.locks.acquire(battleID)
	defer release()

	b, err := m.cache.Get(ctx, battleID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, &NotFoundError{Kind: "battle", ID: battleID}
	}
	if b.Status != domain.StatusRegistration {
		return nil, validationErr(op, battleID, "cannot join in state %s", b.Status)
	}
	if len(b.Participants) >= b.MaxParticipants {
		return nil, validationErr(op, battleID, "battle is full (%d/%d)", len(b.Participants), b.MaxParticipants)
	}
	if b.Participant(userID) != nil {
		return nil, validationErr(op, battleID, "user %s already joined", userID)
	}
	if err := m.checkUserCap(ctx, op, userID); err != nil {
		return nil, err
	}

	parts := append(append([]domain.Participant{}, b.Participants...), domain.Participant{
		UserID:   userID,
		JoinedAt: time.Now(),
		Status:   domain.ParticipantJoined,
		Score:    0,
	})
	updated, err := m.store.Update(ctx, battleID, store.Patch{Participants: parts})
	if err != nil {
		return nil, err
	}
	m.cache.Put(updated)
	m.hub.Publish(events.Event{Type: events.ParticipantJoined, Battle: updated})
	obslog.L().Info("battle_join",
		zap.String("battle_id", battleID),
		zap.String("user_id", userID),
		zap.Int("participants", len(updated.Participants)),
	)
	return updated, nil
}

// checkUserCap enforces the subscription-tier concurrent battle cap.
func (m *Manager) checkUserCap(ctx context.Context, op, userID string) error {
	limit := m.tiers.MaxConcurrentBattles(ctx, userID)
	if limit <= 0 {
		return nil
	}
	joined, err := m.store.LoadMany(ctx, store.Filter{UserID: userID})
	if err != nil {
		return fmt.Errorf("%s: count user battles: %w", op, err)
	}
	n := 0
	for _, b := range joined {
		if !b.Terminal() {
			n++
		}
	}
	if n >= limit {
		return validationErr(op, "", "user %s already in %d concurrent battles (cap %d)", userID, n, limit)
	}
	return nil
}

// StartBattle moves registration → active once the scheduled start has
// arrived and the minimum participant count is met.
func (m *Manager) StartBattle(ctx context.Context, battleID string) (*domain.Battle, error) {
	release := m.locks.acquire(battleID)
	defer release()
	return m.startLocked(ctx, battleID)
}

func (m *Manager) startLocked(ctx context.Context, battleID string) (*domain.Battle, error) {
	const op = "start_battle"
	b, err := m.cache.Get(ctx, battleID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, &NotFoundError{Kind: "battle", ID: battleID}
	}
	if b.Status != domain.StatusRegistration {
		return nil, validationErr(op, battleID, "illegal transition %s -> active", b.Status)
	}
	if time.Now().Before(b.StartTime) {
		return nil, validationErr(op, battleID, "start_time not reached")
	}
	if len(b.Participants) < b.MinParticipants {
		return nil, validationErr(op, battleID, "%d participants below minimum %d", len(b.Participants), b.MinParticipants)
	}
	status := domain.StatusActive
	updated, err := m.store.Update(ctx, battleID, store.Patch{Status: &status})
	if err != nil {
		return nil, err
	}
	m.cache.Put(updated)
	m.hub.Publish(events.Event{Type: events.BattleUpdated, Battle: updated})
	obslog.L().Info("battle_start", zap.String("battle_id", battleID), zap.Int("participants", len(updated.Participants)))
	return updated, nil
}

// CancelBattle moves registration → cancelled. Only the creator (or the
// system, with by == "") may cancel.
func (m *Manager) CancelBattle(ctx context.Context, battleID, by string) (*domain.Battle, error) {
	const op = "cancel_battle"
	release := m.locks.acquire(battleID)
	defer release()

	b, err := m.cache.Get(ctx, battleID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, &NotFoundError{Kind: "battle", ID: battleID}
	}
	if b.Status != domain.StatusRegistration {
		return nil, validationErr(op, battleID, "illegal transition %s -> cancelled", b.Status)
	}
	if by != "" && by != b.CreatorID {
		return nil, validationErr(op, battleID, "only the creator may cancel")
	}
	status := domain.StatusCancelled
	updated, err := m.store.Update(ctx, battleID, store.Patch{Status: &status})
	if err != nil {
		return nil, err
	}
	m.cache.Put(updated)
	m.hub.Publish(events.Event{Type: events.BattleUpdated, Battle: updated})
	obslog.L().Info("battle_cancel", zap.String("battle_id", battleID), zap.String("by", by))
	return updated, nil
}

// UpdateProgress applies a participant's wake progress and evaluates
// the completion conditions. A battle still in registration whose start
// criteria are already met is started first, so a late scheduler tick
// never loses a wake report.
func (m *Manager) UpdateProgress(ctx context.Context, battleID, userID string, p domain.ProgressUpdate) (*domain.Battle, error) {
	const op = "update_progress"
	release := m.locks.acquire(battleID)
	defer release()

	b, err := m.cache.Get(ctx, battleID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, &NotFoundError{Kind: "battle", ID: battleID}
	}
	if b.Status == domain.StatusRegistration {
		started, serr := m.startLocked(ctx, battleID)
		if serr != nil {
			return nil, validationErr(op, battleID, "battle not active")
		}
		b = started
	}
	if b.Status != domain.StatusActive {
		return nil, validationErr(op, battleID, "cannot update progress in state %s", b.Status)
	}
	if b.Participant(userID) == nil {
		return nil, &NotFoundError{Kind: "participant", ID: userID}
	}

	parts := make([]domain.Participant, len(b.Participants))
	copy(parts, b.Participants)
	for i := range parts {
		if parts[i].UserID != userID {
			continue
		}
		if p.WakeTime != nil {
			wt := *p.WakeTime
			parts[i].WakeTime = &wt
			parts[i].Status = domain.ParticipantCompleted
			// bonuses apply once, at progress-update time
			if p.Score > 0 {
				parts[i].Score = p.Score
			} else {
				parts[i].Score = scoring.BonusScore(b.Settings)
			}
		} else if p.Score > 0 {
			parts[i].Score = p.Score
		}
		if p.CompletedTasks != nil {
			parts[i].CompletedTasks = append([]string(nil), p.CompletedTasks...)
		}
		if p.SnoozeCount > parts[i].SnoozeCount {
			parts[i].SnoozeCount = p.SnoozeCount
		}
		break
	}

	updated, err := m.store.Update(ctx, battleID, store.Patch{Participants: parts})
	if err != nil {
		return nil, err
	}
	m.cache.Put(updated)
	m.hub.Publish(events.Event{Type: events.BattleUpdated, Battle: updated})
	obslog.L().Info("battle_progress",
		zap.String("battle_id", battleID),
		zap.String("user_id", userID),
		zap.Bool("woke", p.WakeTime != nil),
	)

	if allCompleted(updated) || time.Now().After(updated.EndTime) {
		return m.endLocked(ctx, updated)
	}
	return updated, nil
}

func allCompleted(b *domain.Battle) bool {
	if len(b.Participants) == 0 {
		return false
	}
	for i := range b.Participants {
		if b.Participants[i].Status != domain.ParticipantCompleted {
			return false
		}
	}
	return true
}

// EndBattle finalizes an active battle: computes the result, freezes
// the record, and hands rewards to the collaborator. A second call on a
// completed battle is rejected without touching the persisted result.
func (m *Manager) EndBattle(ctx context.Context, battleID string) (*domain.Battle, error) {
	const op = "end_battle"
	release := m.locks.acquire(battleID)
	defer release()

	b, err := m.cache.Get(ctx, battleID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, &NotFoundError{Kind: "battle", ID: battleID}
	}
	if b.Status != domain.StatusActive {
		return nil, validationErr(op, battleID, "illegal transition %s -> completed", b.Status)
	}
	return m.endLocked(ctx, b)
}

func (m *Manager) endLocked(ctx context.Context, b *domain.Battle) (*domain.Battle, error) {
	result := m.scoring.ComputeResult(b)
	now := time.Now()
	status := domain.StatusCompleted
	updated, err := m.store.Update(ctx, b.ID, store.Patch{
		Status:      &status,
		CompletedAt: &now,
		Result:      result,
	})
	if err != nil {
		return nil, err
	}
	m.cache.Put(updated)
	m.hub.Publish(events.Event{Type: events.BattleEnded, Battle: updated, Result: result})
	obslog.L().Info("battle_end",
		zap.String("battle_id", b.ID),
		zap.Int("participants", len(updated.Participants)),
		zap.Float64("completion_rate", result.Stats.CompletionRate),
	)

	// 보상 지급은 fire-and-forget: 실패해도 완료 전이는 되돌리지 않는다
	go m.applyRewards(context.WithoutCancel(ctx), result)
	return updated, nil
}

func (m *Manager) applyRewards(ctx context.Context, result *domain.BattleResult) {
	for _, r := range result.Rankings {
		payload := battledto.RewardPayload{
			ExperiencePoints: r.Reward.ExperiencePoints,
			BonusUnits:       r.Reward.BonusUnits,
			Tier:             r.RewardTier,
			BattleID:         result.BattleID,
			Rank:             r.Rank,
		}
		if err := m.rewards.Apply(ctx, r.UserID, payload); err != nil {
			obslog.L().Error("reward_apply_error",
				zap.String("battle_id", result.BattleID),
				zap.String("user_id", r.UserID),
				zap.Error(err),
			)
		}
	}
}

// DeleteBattle removes a battle from every layer. Used by housekeeping
// once the retention window has passed.
func (m *Manager) DeleteBattle(ctx context.Context, battleID string) error {
	release := m.locks.acquire(battleID)
	defer release()

	b, err := m.cache.Get(ctx, battleID)
	if err != nil {
		return err
	}
	if b == nil {
		return &NotFoundError{Kind: "battle", ID: battleID}
	}
	if err := m.store.Delete(ctx, battleID); err != nil && err != store.ErrNotFound {
		return err
	}
	m.cache.Invalidate(battleID)
	m.hub.Publish(events.Event{Type: events.BattleDeleted, Battle: b})
	obslog.L().Info("battle_delete", zap.String("battle_id", battleID))
	return nil
}

// HandleAlarm fans an alarm-fired collaborator event out to every
// non-terminal battle the user participates in whose window has opened.
func (m *Manager) HandleAlarm(ctx context.Context, ev battledto.AlarmFired) (int, error) {
	userID := strings.TrimSpace(ev.UserID)
	if userID == "" || ev.WakeTime.IsZero() {
		return 0, validationErr("alarm_fired", "", "user_id and wake_time required")
	}
	battles, err := m.store.LoadMany(ctx, store.Filter{UserID: userID})
	if err != nil {
		return 0, err
	}
	applied := 0
	for _, b := range battles {
		if b.Terminal() || time.Now().Before(b.StartTime) {
			continue
		}
		wt := ev.WakeTime
		if _, uerr := m.UpdateProgress(ctx, b.ID, userID, domain.ProgressUpdate{WakeTime: &wt}); uerr != nil {
			obslog.L().Warn("alarm_progress_error",
				zap.String("battle_id", b.ID),
				zap.String("user_id", userID),
				zap.Error(uerr),
			)
			continue
		}
		applied++
	}
	obslog.L().Info("alarm_fired", zap.String("user_id", userID), zap.Int("applied", applied))
	return applied, nil
}
