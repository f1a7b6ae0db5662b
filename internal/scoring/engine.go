package scoring

import (
	"sort"
	"time"

	"github.com/hanwool-dev/wakebattle/internal/domain"
)

const (
	baseScore          = 100
	weatherBonus       = 10
	taskChallengeBonus = 20
	maxScore           = 150

	highScorerThreshold = 90
)

// Engine turns a finished battle into its immutable result.
type Engine struct {
	catalog *TierCatalog
}

func NewEngine(catalog *TierCatalog) *Engine {
	return &Engine{catalog: catalog}
}

// BonusScore is the score a participant earns at progress-update time:
// baseline plus the bonuses the battle settings enable, capped.
// Bonuses are never applied retroactively.
func BonusScore(s domain.Settings) int {
	score := baseScore
	if s.WeatherBonus {
		score += weatherBonus
	}
	if s.TaskChallenges {
		score += taskChallengeBonus
	}
	if score > maxScore {
		score = maxScore
	}
	return score
}

// ComputeResult ranks participants, assigns rewards and achievements,
// and derives aggregate statistics. Ties keep join order (stable sort)
// and receive sequential ranks.
func (e *Engine) ComputeResult(b *domain.Battle) *domain.BattleResult {
	parts := make([]domain.Participant, len(b.Participants))
	copy(parts, b.Participants)
	sort.SliceStable(parts, func(i, j int) bool { return parts[i].Score > parts[j].Score })

	table := e.rewardTable(b)
	rankings := make([]domain.RankedParticipant, 0, len(parts))
	for i, p := range parts {
		rank := i + 1
		tierName, tier := resolveTier(table, rank)
		rankings = append(rankings, domain.RankedParticipant{
			Rank:         rank,
			UserID:       p.UserID,
			Score:        p.Score,
			WakeTime:     p.WakeTime,
			Achievements: achievements(b, p),
			Reward:       tier,
			RewardTier:   tierName,
		})
	}

	return &domain.BattleResult{
		BattleID:   b.ID,
		Rankings:   rankings,
		Stats:      stats(b),
		ComputedAt: time.Now(),
	}
}

// rewardTable prefers the battle's own prize pool and falls back to the
// catalog table for its type.
func (e *Engine) rewardTable(b *domain.Battle) map[string]domain.RewardTier {
	if len(b.PrizePool) > 0 {
		return b.PrizePool
	}
	return e.catalog.Table(b.Type)
}

// resolveTier maps rank to a tier name. Ranks 2 and 3 use their
// configured tiers when present and fall through to participation
// otherwise.
func resolveTier(table map[string]domain.RewardTier, rank int) (string, domain.RewardTier) {
	pick := func(name string) (string, domain.RewardTier, bool) {
		t, ok := table[name]
		return name, t, ok
	}
	switch rank {
	case 1:
		if name, t, ok := pick(TierWinner); ok {
			return name, t
		}
	case 2:
		if name, t, ok := pick(TierRunnerUp); ok {
			return name, t
		}
	case 3:
		if name, t, ok := pick(TierThird); ok {
			return name, t
		}
	}
	name, t, _ := pick(TierParticipation)
	return name, t
}

func achievements(b *domain.Battle, p domain.Participant) []string {
	var out []string
	if p.Status == domain.ParticipantCompleted {
		out = append(out, "completed_battle")
	}
	if p.Score > highScorerThreshold {
		out = append(out, "high_scorer")
	}
	if p.WakeTime != nil && !p.WakeTime.After(b.StartTime) {
		out = append(out, "early_bird")
	}
	return out
}

func stats(b *domain.Battle) domain.BattleStats {
	var (
		s        domain.BattleStats
		woke     int
		sumUnix  int64
		fastest  time.Time
		complete int
	)
	for _, p := range b.Participants {
		s.TotalSnoozes += p.SnoozeCount
		if p.Status == domain.ParticipantCompleted {
			complete++
		}
		if p.WakeTime == nil {
			continue
		}
		woke++
		sumUnix += p.WakeTime.Unix()
		if fastest.IsZero() || p.WakeTime.Before(fastest) {
			fastest = *p.WakeTime
		}
	}
	if len(b.Participants) > 0 {
		s.CompletionRate = float64(complete) / float64(len(b.Participants))
	}
	if woke > 0 {
		avg := time.Unix(sumUnix/int64(woke), 0).UTC()
		s.AverageWakeTime = &avg
		f := fastest
		s.FastestWakeTime = &f
	}
	return s
}
