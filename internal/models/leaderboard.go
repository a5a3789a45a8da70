package models

import "time"

// LeaderboardEntry holds a user's stored total for one contest.
// Score always equals the sum of points over the user's terminal
// submissions in that contest.
type LeaderboardEntry struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	ContestID string    `gorm:"size:36;not null;uniqueIndex:idx_leaderboard_contest_user" json:"contest_id"`
	UserID    string    `gorm:"size:64;not null;uniqueIndex:idx_leaderboard_contest_user" json:"user_id"`
	Score     int       `gorm:"not null;default:0;index" json:"score"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LeaderboardRow represents a single ranked row returned to clients
type LeaderboardRow struct {
	Rank   int    `json:"rank"`
	UserID string `json:"user_id"`
	Score  int    `json:"score"`
}

// LeaderboardResponse represents the paginated leaderboard response
type LeaderboardResponse struct {
	ContestID string           `json:"contest_id"`
	Data      []LeaderboardRow `json:"data"`
	Offset    int              `json:"offset"`
	Limit     int              `json:"limit"`
	Total     int64            `json:"total"`
	Version   int64            `json:"version,omitempty"` // writes seen by the ranking mirror
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
