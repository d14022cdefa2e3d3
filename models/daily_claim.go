package models

import "time"

// DailyClaim stores one row per successful daily token claim. The unique
// (user_id, claim_date) index is the hard guard against double claims.
type DailyClaim struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	UserID         uint      `gorm:"index:idx_claim_user_date,unique;not null" json:"user_id"`
	ClaimDate      string    `gorm:"index:idx_claim_user_date,unique;size:10;not null" json:"claim_date"` // YYYY-MM-DD
	TokensAwarded  int       `json:"tokens_awarded"`
	StreakAchieved int       `json:"streak_achieved"`
	CreatedAt      time.Time `json:"created_at"`
}
