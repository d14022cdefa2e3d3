package models

import "time"

// QuizResult records a completed quiz attempt and the rewards it produced.
// TokensEarned has a matching award Transaction; XPEarned does not, XP is
// tracked only on the user record.
type QuizResult struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	UserID       uint      `gorm:"index;not null" json:"user_id"`
	QuizID       string    `gorm:"size:64;index" json:"quiz_id"`
	Percentage   int       `gorm:"not null" json:"percentage"`
	TokensEarned int       `json:"tokens_earned"`
	XPEarned     int       `json:"xp_earned"`
	CreatedAt    time.Time `json:"created_at"`
}
