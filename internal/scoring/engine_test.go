package scoring

import (
	"testing"
	"time"

	"github.com/hanwool-dev/wakebattle/internal/domain"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	catalog, err := NewTierCatalog("")
	if err != nil {
		t.Fatalf("NewTierCatalog: %v", err)
	}
	return NewEngine(catalog)
}

func battleWithScores(scores []int) *domain.Battle {
	now := time.Now()
	b := &domain.Battle{
		ID:        "btl-test",
		Type:      domain.TypeDaily,
		Status:    domain.StatusActive,
		StartTime: now.Add(-time.Hour),
		EndTime:   now.Add(time.Hour),
	}
	for i, s := range scores {
		b.Participants = append(b.Participants, domain.Participant{
			UserID:   string(rune('a' + i)),
			JoinedAt: now.Add(time.Duration(i) * time.Second),
			Status:   domain.ParticipantCompleted,
			Score:    s,
		})
	}
	return b
}

func TestBonusScore(t *testing.T) {
	cases := []struct {
		settings domain.Settings
		want     int
	}{
		{domain.Settings{}, 100},
		{domain.Settings{WeatherBonus: true}, 110},
		{domain.Settings{TaskChallenges: true}, 120},
		{domain.Settings{WeatherBonus: true, TaskChallenges: true}, 130},
	}
	for _, tc := range cases {
		if got := BonusScore(tc.settings); got != tc.want {
			t.Fatalf("BonusScore(%+v)=%d, want %d", tc.settings, got, tc.want)
		}
	}
}

func TestRankingDeterminismWithTies(t *testing.T) {
	e := testEngine(t)
	// joined in order a,b,c,d with scores 80,95,95,60
	b := battleWithScores([]int{80, 95, 95, 60})
	res := e.ComputeResult(b)

	// ties keep join order: b before c
	wantOrder := []string{"b", "c", "a", "d"}
	wantRankByUser := map[string]int{"a": 3, "b": 1, "c": 2, "d": 4}
	for i, r := range res.Rankings {
		if r.UserID != wantOrder[i] {
			t.Fatalf("position %d: got %s, want %s", i, r.UserID, wantOrder[i])
		}
		if r.Rank != wantRankByUser[r.UserID] {
			t.Fatalf("user %s: rank=%d, want %d", r.UserID, r.Rank, wantRankByUser[r.UserID])
		}
	}
}

func TestRewardTierFallThrough(t *testing.T) {
	e := testEngine(t)
	// quick_match table defines only winner and participation
	b := battleWithScores([]int{40, 30, 20, 10})
	b.Type = domain.TypeQuickMatch
	res := e.ComputeResult(b)

	wantTiers := []string{TierWinner, TierParticipation, TierParticipation, TierParticipation}
	for i, r := range res.Rankings {
		if r.RewardTier != wantTiers[i] {
			t.Fatalf("rank %d: tier=%s, want %s", r.Rank, r.RewardTier, wantTiers[i])
		}
	}
}

func TestBattlePrizePoolOverridesCatalog(t *testing.T) {
	e := testEngine(t)
	b := battleWithScores([]int{10, 5})
	b.PrizePool = map[string]domain.RewardTier{
		TierWinner:        {ExperiencePoints: 999, BonusUnits: 9},
		TierParticipation: {ExperiencePoints: 1, BonusUnits: 0},
	}
	res := e.ComputeResult(b)
	if res.Rankings[0].Reward.ExperiencePoints != 999 {
		t.Fatalf("winner reward=%+v, want battle prize pool entry", res.Rankings[0].Reward)
	}
	if res.Rankings[1].Reward.ExperiencePoints != 1 {
		t.Fatalf("rank 2 should fall through to participation: %+v", res.Rankings[1].Reward)
	}
}

func TestAchievements(t *testing.T) {
	e := testEngine(t)
	b := battleWithScores([]int{95, 50})
	early := b.StartTime.Add(-5 * time.Minute)
	late := b.StartTime.Add(5 * time.Minute)
	b.Participants[0].WakeTime = &early
	b.Participants[1].WakeTime = &late
	b.Participants[1].Status = domain.ParticipantAbandoned

	res := e.ComputeResult(b)
	first := res.Rankings[0]
	if !contains(first.Achievements, "completed_battle") ||
		!contains(first.Achievements, "high_scorer") ||
		!contains(first.Achievements, "early_bird") {
		t.Fatalf("expected all three achievements, got %v", first.Achievements)
	}
	second := res.Rankings[1]
	if len(second.Achievements) != 0 {
		t.Fatalf("expected no achievements for abandoned late riser, got %v", second.Achievements)
	}
}

func TestStats(t *testing.T) {
	e := testEngine(t)
	b := battleWithScores([]int{100, 90, 80})
	w1 := b.StartTime.Add(2 * time.Minute)
	w2 := b.StartTime.Add(4 * time.Minute)
	b.Participants[0].WakeTime = &w1
	b.Participants[1].WakeTime = &w2
	b.Participants[2].Status = domain.ParticipantAbandoned
	b.Participants[0].SnoozeCount = 2
	b.Participants[1].SnoozeCount = 1

	res := e.ComputeResult(b)
	s := res.Stats
	if s.FastestWakeTime == nil || !s.FastestWakeTime.Equal(w1) {
		t.Fatalf("fastest=%v, want %v", s.FastestWakeTime, w1)
	}
	if s.AverageWakeTime == nil {
		t.Fatalf("average wake time missing")
	}
	wantAvg := time.Unix((w1.Unix()+w2.Unix())/2, 0)
	if !s.AverageWakeTime.Equal(wantAvg) {
		t.Fatalf("average=%v, want %v", s.AverageWakeTime, wantAvg)
	}
	if s.TotalSnoozes != 3 {
		t.Fatalf("snoozes=%d, want 3", s.TotalSnoozes)
	}
	if s.CompletionRate < 0.66 || s.CompletionRate > 0.67 {
		t.Fatalf("completion rate=%f, want 2/3", s.CompletionRate)
	}
}

func TestStatsNoWakeTimesUsesSentinel(t *testing.T) {
	e := testEngine(t)
	b := battleWithScores([]int{10, 20})
	for i := range b.Participants {
		b.Participants[i].Status = domain.ParticipantJoined
	}
	res := e.ComputeResult(b)
	if res.Stats.AverageWakeTime != nil || res.Stats.FastestWakeTime != nil {
		t.Fatalf("wake stats should be absent when nobody woke: %+v", res.Stats)
	}
	if res.Stats.CompletionRate != 0 {
		t.Fatalf("completion rate=%f, want 0", res.Stats.CompletionRate)
	}
}

func contains(ss []string, want string) bool {
	for _, s := range ss {
		if s == want {
			return true
		}
	}
	return false
}
