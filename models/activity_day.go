package models

import "time"

// ActivityDay stores aggregated ledger activity per calendar day. It backs the
// 7-day buckets on the admin stats endpoint and is upserted on every ledger
// write.
type ActivityDay struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Date        string    `gorm:"uniqueIndex;size:10;not null" json:"date"` // YYYY-MM-DD
	TxCount     int64     `gorm:"not null;default:0" json:"tx_count"`
	TokensMoved int64     `gorm:"not null;default:0" json:"tokens_moved"` // sum of absolute amounts
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
