package reward

import (
	"context"

	"go.uber.org/zap"

	"github.com/hanwool-dev/wakebattle/internal/obslog"
	"github.com/hanwool-dev/wakebattle/pkg/battledto"
)

// Applier is the reward-application collaborator boundary. Crediting
// experience points and bonus units to the user's external profile is
// entirely the collaborator's concern; the engine only hands payloads
// over.
type Applier interface {
	Apply(ctx context.Context, userID string, p battledto.RewardPayload) error
}

// LogApplier is the default sink when no external collaborator is
// wired: it records the payload and succeeds.
type LogApplier struct{}

func (LogApplier) Apply(ctx context.Context, userID string, p battledto.RewardPayload) error {
	obslog.L().Info("reward_apply",
		zap.String("user_id", userID),
		zap.String("battle_id", p.BattleID),
		zap.String("tier", p.Tier),
		zap.Int("rank", p.Rank),
		zap.Int("xp", p.ExperiencePoints),
		zap.Int("bonus_units", p.BonusUnits),
	)
	return nil
}

// TierLookup is the identity/subscription collaborator boundary: it
// caps how many battles a user may be in concurrently. Never used to
// gate battle logic itself.
type TierLookup interface {
	MaxConcurrentBattles(ctx context.Context, userID string) int
}

// StaticTier applies the same cap to every user.
type StaticTier int

func (t StaticTier) MaxConcurrentBattles(ctx context.Context, userID string) int { return int(t) }
