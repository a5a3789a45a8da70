package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Challenge is a scored task. MaxPoints is the upper bound for any judged
// submission against it.
type Challenge struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	Title       string    `gorm:"not null" json:"title"`
	Description string    `gorm:"type:text" json:"description"`
	MaxPoints   int       `gorm:"not null;check:max_points > 0" json:"max_points"`
	AIContext   string    `gorm:"type:text" json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (c *Challenge) BeforeCreate(*gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// Contest groups challenges and owns a leaderboard.
type Contest struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Title     string    `gorm:"not null" json:"title"`
	StartsAt  time.Time `json:"starts_at"`
	EndsAt    time.Time `json:"ends_at"`
	CreatedAt time.Time `json:"created_at"`
}

func (c *Contest) BeforeCreate(*gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// ContestChallenge places a challenge inside a contest at a display index.
type ContestChallenge struct {
	ID          string `gorm:"primaryKey;size:36" json:"id"`
	ContestID   string `gorm:"size:36;not null;uniqueIndex:idx_contest_challenge;uniqueIndex:idx_contest_index" json:"contest_id"`
	ChallengeID string `gorm:"size:36;not null;uniqueIndex:idx_contest_challenge;index" json:"challenge_id"`
	Index       int    `gorm:"not null;uniqueIndex:idx_contest_index" json:"index"`
}

func (m *ContestChallenge) BeforeCreate(*gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}
