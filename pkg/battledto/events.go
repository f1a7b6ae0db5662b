package battledto

// RewardPayload is handed to the reward-application collaborator per
// participant. Crediting the user's external profile is the
// collaborator's responsibility.
type RewardPayload struct {
	ExperiencePoints int    `json:"experience_points"`
	BonusUnits       int    `json:"bonus_units"`
	Tier             string `json:"tier"`
	BattleID         string `json:"battle_id"`
	Rank             int    `json:"rank"`
}

// ErrorResponse is the JSON error body on the HTTP surface.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// HealthResponse reports liveness plus hybrid degradation state.
type HealthResponse struct {
	Status          string `json:"status"`
	UptimeSec       int64  `json:"uptime_sec"`
	PrimaryFailures uint64 `json:"primary_failures"`
	Degraded        bool   `json:"degraded"`
}
