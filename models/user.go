package models

import (
	"time"

	"gorm.io/gorm"
)

// User represents a platform learner. Passwords are stored as bcrypt hashes only.
// Balance is the authoritative token count; every balance mutation writes a
// matching Transaction row in the same database transaction. XP and Level are
// plain progress fields and are not part of the audited ledger.
type User struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	Username      string         `gorm:"size:64;uniqueIndex;not null" json:"username"`
	Email         string         `gorm:"size:255" json:"email"`
	PasswordHash  string         `gorm:"size:255" json:"-"`
	AvatarURL     string         `gorm:"size:512" json:"avatar_url"`
	Balance       int            `gorm:"default:0" json:"balance"`
	XP            int            `gorm:"default:0" json:"xp"`
	Level         int            `gorm:"default:1" json:"level"`
	StreakCurrent int            `gorm:"default:0" json:"streak_current"`
	StreakLongest int            `gorm:"default:0" json:"streak_longest"`
	LastClaimDate string         `gorm:"size:10" json:"last_claim_date"` // YYYY-MM-DD, empty when never claimed
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`
}

// BeforeCreate hook ensures timestamps are set even when not provided.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	now := time.Now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	if u.Level == 0 {
		u.Level = 1
	}
	return nil
}

// BeforeUpdate ensures the UpdatedAt timestamp is refreshed.
func (u *User) BeforeUpdate(tx *gorm.DB) error {
	u.UpdatedAt = time.Now()
	return nil
}
