package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type SubmissionStatus string

const (
	StatusPending  SubmissionStatus = "Pending"
	StatusJudging  SubmissionStatus = "Judging"
	StatusAccepted SubmissionStatus = "Accepted"
	StatusRejected SubmissionStatus = "Rejected"
)

// TerminalStatuses are the statuses counted towards a leaderboard score.
var TerminalStatuses = []SubmissionStatus{StatusAccepted, StatusRejected}

func (s SubmissionStatus) IsTerminal() bool {
	return s == StatusAccepted || s == StatusRejected
}

// CanTransitionTo reports whether next is a legal successor of s.
// Judging -> Judging is allowed so redelivered jobs can be judged again.
func (s SubmissionStatus) CanTransitionTo(next SubmissionStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusJudging
	case StatusJudging:
		return next == StatusJudging || next.IsTerminal()
	default:
		return false
	}
}

type Verdict string

const (
	VerdictCorrect          Verdict = "Correct"
	VerdictPartiallyCorrect Verdict = "PartiallyCorrect"
	VerdictWrong            Verdict = "Wrong"
)

// Submission is one answer to a challenge inside a contest. Only the judge
// path mutates it after creation; submissions are never deleted.
type Submission struct {
	ID             string           `gorm:"primaryKey;size:36" json:"id"`
	UserID         string           `gorm:"size:64;not null;index:idx_submission_contest_user" json:"user_id"`
	MappingID      string           `gorm:"size:36;not null" json:"mapping_id"`
	ContestID      string           `gorm:"size:36;not null;index:idx_submission_contest_user" json:"contest_id"`
	ChallengeID    string           `gorm:"size:36;not null" json:"challenge_id"`
	Content        string           `gorm:"type:text;not null" json:"-"`
	DeclaredPoints int              `gorm:"not null" json:"declared_points"`
	Status         SubmissionStatus `gorm:"size:16;not null;index" json:"status"`
	Points         *int             `json:"points"`
	Verdict        Verdict          `gorm:"size:32" json:"verdict,omitempty"`
	Reason         string           `gorm:"type:text" json:"reason,omitempty"`
	Attempts       int              `gorm:"not null;default:0" json:"-"`
	JudgedAt       *time.Time       `json:"judged_at,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `gorm:"index" json:"updated_at"`
}

func (s *Submission) BeforeCreate(*gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// JudgeOutcome is the terminal result written back to a submission.
type JudgeOutcome struct {
	Status  SubmissionStatus
	Points  int
	Verdict Verdict
	Reason  string
}

// SubmitRequest is the intake body for POST /challenge/:challengeId/submit.
type SubmitRequest struct {
	Submission string `json:"submission" validate:"required,max=20000"`
	Points     int    `json:"points" validate:"required,min=1"`
	ContestID  string `json:"contest_id,omitempty" validate:"omitempty,uuid"`
}
