package domain

import "time"

// BattleType is the competition mode of a battle.
type BattleType string

const (
	TypeQuickMatch BattleType = "quick_match"
	TypeDaily      BattleType = "daily"
	TypeWeekly     BattleType = "weekly"
	TypeGroup      BattleType = "group"
)

// BattleStatus represents the battle lifecycle state.
// Transitions are monotonic: no regression out of COMPLETED/CANCELLED.
type BattleStatus string

const (
	StatusRegistration BattleStatus = "registration"
	StatusActive       BattleStatus = "active"
	StatusCompleted    BattleStatus = "completed"
	StatusCancelled    BattleStatus = "cancelled"
)

// ParticipantStatus is the per-participant state inside one battle.
type ParticipantStatus string

const (
	ParticipantJoined    ParticipantStatus = "joined"
	ParticipantCompleted ParticipantStatus = "completed"
	ParticipantAbandoned ParticipantStatus = "abandoned"
)

// Settings are the wake rules agreed at creation time.
type Settings struct {
	WakeWindowMin  int    `json:"wake_window_min"`
	AllowSnooze    bool   `json:"allow_snooze"`
	MaxSnoozes     int    `json:"max_snoozes"`
	Difficulty     string `json:"difficulty"`
	WeatherBonus   bool   `json:"weather_bonus"`
	TaskChallenges bool   `json:"task_challenges"`
}

// Participant is a user's membership record within one battle.
// Owned exclusively by its parent Battle.
type Participant struct {
	UserID         string            `json:"user_id"`
	JoinedAt       time.Time         `json:"joined_at"`
	Status         ParticipantStatus `json:"status"`
	Score          int               `json:"score"`
	WakeTime       *time.Time        `json:"wake_time,omitempty"`
	CompletedTasks []string          `json:"completed_tasks,omitempty"`
	SnoozeCount    int               `json:"snooze_count"`
}

// RewardTier is the payout attached to a rank in the prize table.
type RewardTier struct {
	ExperiencePoints int `json:"experience_points" yaml:"experience_points"`
	BonusUnits       int `json:"bonus_units" yaml:"bonus_units"`
}

// Battle is the persisted state of a wake-up battle session.
type Battle struct {
	ID              string                `json:"id"`
	Type            BattleType            `json:"type"`
	Status          BattleStatus          `json:"status"`
	CreatorID       string                `json:"creator_id"`
	StartTime       time.Time             `json:"start_time"`
	EndTime         time.Time             `json:"end_time"`
	Settings        Settings              `json:"settings"`
	Participants    []Participant         `json:"participants"`
	MaxParticipants int                   `json:"max_participants"`
	MinParticipants int                   `json:"min_participants"`
	EntryFee        int                   `json:"entry_fee"`
	PrizePool       map[string]RewardTier `json:"prize_pool,omitempty"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
	CompletedAt     *time.Time            `json:"completed_at,omitempty"`
	Result          *BattleResult         `json:"result,omitempty"`
}

// Participant returns the participant record for userID, or nil.
func (b *Battle) Participant(userID string) *Participant {
	for i := range b.Participants {
		if b.Participants[i].UserID == userID {
			return &b.Participants[i]
		}
	}
	return nil
}

// Terminal reports whether the battle is frozen.
func (b *Battle) Terminal() bool {
	return b.Status == StatusCompleted || b.Status == StatusCancelled
}

// RankedParticipant is one row of a computed ranking.
type RankedParticipant struct {
	Rank         int        `json:"rank"`
	UserID       string     `json:"user_id"`
	Score        int        `json:"score"`
	WakeTime     *time.Time `json:"wake_time,omitempty"`
	Achievements []string   `json:"achievements,omitempty"`
	Reward       RewardTier `json:"reward"`
	RewardTier   string     `json:"reward_tier"`
}

// BattleStats are aggregate statistics over all participants.
// Wake-time fields stay nil when no participant recorded a wake time.
type BattleStats struct {
	AverageWakeTime *time.Time `json:"average_wake_time,omitempty"`
	FastestWakeTime *time.Time `json:"fastest_wake_time,omitempty"`
	CompletionRate  float64    `json:"completion_rate"`
	TotalSnoozes    int        `json:"total_snoozes"`
}

// BattleResult is the immutable outcome of a completed battle.
// Computed once at the COMPLETED transition.
type BattleResult struct {
	BattleID   string              `json:"battle_id"`
	Rankings   []RankedParticipant `json:"rankings"`
	Stats      BattleStats         `json:"stats"`
	ComputedAt time.Time           `json:"computed_at"`
}

// ProgressUpdate is the inbound payload applied to one participant.
type ProgressUpdate struct {
	WakeTime       *time.Time `json:"wake_time,omitempty"`
	Score          int        `json:"score"`
	CompletedTasks []string   `json:"completed_tasks,omitempty"`
	SnoozeCount    int        `json:"snooze_count"`
}
