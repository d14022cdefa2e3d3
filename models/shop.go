package models

import (
	"time"

	"gorm.io/gorm"
)

// Shop item types. Permanent items can be owned at most once per user;
// consumable items may be purchased repeatedly.
const (
	ItemTypeConsumable = "consumable"
	ItemTypePermanent  = "permanent"
)

// UnlimitedStock marks an item that never sells out.
const UnlimitedStock = -1

// ShopItem is a purchasable reward listed in the token shop.
type ShopItem struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	Name        string         `gorm:"size:128;not null" json:"name"`
	Description string         `gorm:"size:512" json:"description"`
	Price       int            `gorm:"not null" json:"price"`
	Stock       int            `gorm:"default:-1" json:"stock"` // -1 = unlimited
	ItemType    string         `gorm:"size:16;default:'consumable'" json:"item_type"`
	Active      bool           `gorm:"default:true" json:"active"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

// Purchase joins a user, a shop item, and the tokens spent. It is created in
// the same database transaction as the redeem ledger entry it references.
type Purchase struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	UserID        uint      `gorm:"index;not null" json:"user_id"`
	ItemID        uint      `gorm:"index;not null" json:"item_id"`
	TokensSpent   int       `gorm:"not null" json:"tokens_spent"`
	TransactionID uint      `json:"transaction_id"`
	CreatedAt     time.Time `json:"created_at"`
	Item          ShopItem  `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"item"`
}
