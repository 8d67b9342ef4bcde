package store

import (
	"time"

	"empirion/internal/simulation"
)

type Championship struct {
	ID                  string                     `json:"id"`
	Name                string                     `json:"name"`
	Branch              simulation.Branch          `json:"branch"`
	Status              string                     `json:"status"`
	IsPublic            bool                       `json:"is_public"`
	CurrentRound        int                        `json:"current_round"`
	TotalRounds         int                        `json:"total_rounds"`
	RegionsCount        int                        `json:"regions_count"`
	RoundFrequencyHours int                        `json:"round_frequency_hours"`
	RoundDeadline       *time.Time                 `json:"round_deadline,omitempty"`
	Ecosystem           simulation.EcosystemConfig `json:"ecosystem"`
	CreatedBy           string                     `json:"created_by"`
	CreatedAt           time.Time                  `json:"created_at"`
}

type Team struct {
	ID             string    `json:"id"`
	ChampionshipID string    `json:"championship_id"`
	Name           string    `json:"name"`
	CreatedBy      string    `json:"created_by"`
	CreatedAt      time.Time `json:"created_at"`
}

type DecisionRecord struct {
	ChampionshipID string                  `json:"championship_id"`
	TeamID         string                  `json:"team_id"`
	Round          int                     `json:"round"`
	Data           simulation.DecisionData `json:"data"`
	SubmittedBy    string                  `json:"submitted_by"`
	UpdatedAt      time.Time               `json:"updated_at"`
}

// DecisionEvent is the pg_notify payload sent on every decision write.
type DecisionEvent struct {
	ID             string `json:"id"`
	ChampionshipID string `json:"championship_id"`
	TeamID         string `json:"team_id"`
	Round          int    `json:"round"`
}

type SubmissionStatus struct {
	TeamID      string     `json:"team_id"`
	TeamName    string     `json:"team_name"`
	Submitted   bool       `json:"submitted"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
}

type CommunityRating struct {
	ChampionshipID string    `json:"championship_id"`
	UserID         string    `json:"user_id"`
	Score          int       `json:"score"`
	Comment        string    `json:"comment"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type RatingSummary struct {
	Average float64           `json:"average"`
	Count   int               `json:"count"`
	Ratings []CommunityRating `json:"ratings"`
}

type SiteContent struct {
	Slug      string         `json:"slug"`
	Locale    string         `json:"locale"`
	Body      map[string]any `json:"body"`
	UpdatedAt time.Time      `json:"updated_at"`
}

type UserProfile struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	RolePlayer = "player"
	RoleTutor  = "tutor"
	RoleAdmin  = "admin"
)

const (
	StatusDraft    = "draft"
	StatusActive   = "active"
	StatusFinished = "finished"
)

type CreateChampionshipInput struct {
	UserID              string
	Name                string
	Branch              string
	IsPublic            bool
	TotalRounds         int
	RegionsCount        int
	RoundFrequencyHours int
	Ecosystem           *simulation.EcosystemConfig
	IdempotencyKey      string
}

type CreateTeamInput struct {
	UserID         string
	ChampionshipID string
	Name           string
	IdempotencyKey string
}

type SaveDecisionsInput struct {
	UserID         string
	ChampionshipID string
	TeamID         string
	Round          int
	Data           simulation.DecisionData
}

type RatingInput struct {
	UserID         string
	ChampionshipID string
	Score          int
	Comment        string
}
