package battledto

import "time"

// CreateBattleRequest is the inbound spec for a new battle.
type CreateBattleRequest struct {
	Type            string         `json:"type"`
	CreatorID       string         `json:"creator_id"`
	StartTime       time.Time      `json:"start_time"`
	EndTime         time.Time      `json:"end_time"`
	Settings        SettingsDTO    `json:"settings"`
	MaxParticipants int            `json:"max_participants"`
	MinParticipants int            `json:"min_participants"`
	EntryFee        int            `json:"entry_fee"`
	PrizePool       map[string]any `json:"prize_pool,omitempty"`
}

type SettingsDTO struct {
	WakeWindowMin  int    `json:"wake_window_min"`
	AllowSnooze    bool   `json:"allow_snooze"`
	MaxSnoozes     int    `json:"max_snoozes"`
	Difficulty     string `json:"difficulty"`
	WeatherBonus   bool   `json:"weather_bonus"`
	TaskChallenges bool   `json:"task_challenges"`
}

// AlarmFired is the inbound collaborator event that drives progress
// updates for every active battle containing the user.
type AlarmFired struct {
	UserID   string    `json:"user_id"`
	WakeTime time.Time `json:"wake_time"`
}

type JoinRequest struct {
	UserID string `json:"user_id"`
}

// ProgressRequest reports one participant's wake progress directly,
// bypassing the alarm fan-out.
type ProgressRequest struct {
	UserID         string     `json:"user_id"`
	WakeTime       *time.Time `json:"wake_time,omitempty"`
	Score          int        `json:"score"`
	CompletedTasks []string   `json:"completed_tasks,omitempty"`
	SnoozeCount    int        `json:"snooze_count"`
}
