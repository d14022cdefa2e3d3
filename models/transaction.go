package models

import "time"

// Transaction type tags.
const (
	TxTypeAward  = "award"
	TxTypeRedeem = "redeem"
)

// Well-known transaction reasons written by the service itself.
const (
	ReasonDailyClaim = "daily_claim"
	ReasonQuiz       = "quiz_completion"
	ReasonPurchase   = "shop_purchase"
	ReasonAdminGrant = "admin_grant"
)

// Transaction is an immutable, append-only ledger entry. Amount is signed:
// positive for awards, negative for redemptions. Rows are never updated or
// deleted; display order is by creation time descending.
type Transaction struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"index;not null" json:"user_id"`
	Amount    int       `gorm:"not null" json:"amount"`
	Type      string    `gorm:"size:16;not null" json:"type"`
	Reason    string    `gorm:"size:255" json:"reason"`
	Meta      string    `gorm:"type:text" json:"meta,omitempty"` // JSON object supplied by the caller
	Reference string    `gorm:"size:36" json:"reference"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	User      User      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
}
