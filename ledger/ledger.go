// Package ledger implements the token bookkeeping core: balance mutations,
// the append-only transaction log, daily claims with streaks, and shop
// purchases. Every operation runs in a single database transaction so the
// stored balance can never drift from the sum of the log.
package ledger

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/learnkins/learnkins/models"
	"github.com/learnkins/learnkins/rewards"
	"github.com/learnkins/learnkins/utils"
)

// Sentinel errors mapped to HTTP statuses by the controllers.
var (
	ErrInvalidAmount       = errors.New("amount must be a positive integer")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAlreadyClaimed      = errors.New("already claimed today")
	ErrUserNotFound        = errors.New("user not found")
	ErrItemNotFound        = errors.New("item not found")
	ErrOutOfStock          = errors.New("item out of stock")
	ErrAlreadyOwned        = errors.New("item already owned")
)

// Meta is optional structured metadata attached to a transaction.
type Meta map[string]interface{}

// Service orchestrates reward rules, balance mutations, and log appends.
type Service struct {
	db          *gorm.DB
	dailyTokens int

	// now is swappable so day-boundary behavior is testable.
	now func() time.Time
}

// NewService creates a ledger service. dailyTokens is the fixed daily-claim
// reward; values below 1 fall back to 5.
func NewService(db *gorm.DB, dailyTokens int) *Service {
	if dailyTokens < 1 {
		dailyTokens = 5
	}
	return &Service{db: db, dailyTokens: dailyTokens, now: time.Now}
}

// ClaimResult is the outcome of a successful daily claim.
type ClaimResult struct {
	Balance      int `json:"balance"`
	TokensEarned int `json:"tokensEarned"`
	Streak       int `json:"streak"`
}

// PurchaseResult is the outcome of a successful shop purchase.
type PurchaseResult struct {
	Balance     int                 `json:"balance"`
	Transaction *models.Transaction `json:"transaction"`
	Purchase    *models.Purchase    `json:"purchase"`
}

// Award credits tokens to a user and appends a matching award transaction.
// Returns the new balance and the created transaction.
func (s *Service) Award(userID uint, amount int, reason string, meta Meta) (int, *models.Transaction, error) {
	if amount <= 0 {
		return 0, nil, ErrInvalidAmount
	}

	var (
		balance int
		record  *models.Transaction
	)
	err := s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.User{}).Where("id = ?", userID).
			Update("balance", gorm.Expr("balance + ?", amount))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrUserNotFound
		}

		var err error
		record, err = s.appendTransaction(tx, userID, amount, models.TxTypeAward, reason, meta)
		if err != nil {
			return err
		}
		return s.loadBalance(tx, userID, &balance)
	})
	if err != nil {
		return 0, nil, err
	}
	return balance, record, nil
}

// Redeem debits tokens from a user and appends a redeem transaction with a
// negated amount. The debit is a conditional UPDATE guarded on the current
// balance, so two concurrent redeems cannot overdraw the account.
func (s *Service) Redeem(userID uint, amount int, reason string, meta Meta) (int, *models.Transaction, error) {
	if amount <= 0 {
		return 0, nil, ErrInvalidAmount
	}

	var (
		balance int
		record  *models.Transaction
	)
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.debit(tx, userID, amount); err != nil {
			return err
		}

		var err error
		record, err = s.appendTransaction(tx, userID, -amount, models.TxTypeRedeem, reason, meta)
		if err != nil {
			return err
		}
		return s.loadBalance(tx, userID, &balance)
	})
	if err != nil {
		return 0, nil, err
	}
	return balance, record, nil
}

// ClaimDaily awards the fixed daily reward once per calendar day. Day equality
// is a date-only string comparison, not elapsed hours: a claim late in the
// evening unlocks again right after local midnight. Streaks increment only
// when the previous claim was exactly yesterday.
func (s *Service) ClaimDaily(userID uint) (*ClaimResult, error) {
	today := s.now().Format(rewards.DateLayout)

	var result ClaimResult
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.First(&user, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}

		if user.LastClaimDate == today {
			return ErrAlreadyClaimed
		}

		streak := rewards.NextStreak(user.LastClaimDate, today, user.StreakCurrent)
		longest := user.StreakLongest
		if streak > longest {
			longest = streak
		}

		claim := models.DailyClaim{
			UserID:         userID,
			ClaimDate:      today,
			TokensAwarded:  s.dailyTokens,
			StreakAchieved: streak,
		}
		if err := tx.Create(&claim).Error; err != nil {
			// The unique (user_id, claim_date) index backstops races the
			// LastClaimDate pre-check cannot see.
			if isDuplicateErr(err) {
				return ErrAlreadyClaimed
			}
			return err
		}

		if err := tx.Model(&models.User{}).Where("id = ?", userID).Updates(map[string]interface{}{
			"balance":         gorm.Expr("balance + ?", s.dailyTokens),
			"streak_current":  streak,
			"streak_longest":  longest,
			"last_claim_date": today,
		}).Error; err != nil {
			return err
		}

		if _, err := s.appendTransaction(tx, userID, s.dailyTokens, models.TxTypeAward,
			models.ReasonDailyClaim, Meta{"streak": streak}); err != nil {
			return err
		}

		var balance int
		if err := s.loadBalance(tx, userID, &balance); err != nil {
			return err
		}
		result = ClaimResult{Balance: balance, TokensEarned: s.dailyTokens, Streak: streak}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Purchase debits a shop item's price, records the purchase, and appends the
// redeem transaction, all inside one database transaction. Finite stock is
// decremented with a conditional UPDATE so the last unit cannot be sold twice.
func (s *Service) Purchase(userID, itemID uint) (*PurchaseResult, error) {
	var result PurchaseResult
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var item models.ShopItem
		if err := tx.First(&item, itemID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrItemNotFound
			}
			return err
		}
		if !item.Active {
			return ErrItemNotFound
		}
		if item.Stock == 0 {
			return ErrOutOfStock
		}

		if item.ItemType == models.ItemTypePermanent {
			var owned int64
			if err := tx.Model(&models.Purchase{}).
				Where("user_id = ? AND item_id = ?", userID, itemID).
				Count(&owned).Error; err != nil {
				return err
			}
			if owned > 0 {
				return ErrAlreadyOwned
			}
		}

		if item.Stock != models.UnlimitedStock {
			res := tx.Model(&models.ShopItem{}).
				Where("id = ? AND stock > 0", itemID).
				Update("stock", gorm.Expr("stock - 1"))
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return ErrOutOfStock
			}
		}

		if err := s.debit(tx, userID, item.Price); err != nil {
			return err
		}

		record, err := s.appendTransaction(tx, userID, -item.Price, models.TxTypeRedeem,
			models.ReasonPurchase, Meta{"item_id": item.ID, "item_name": item.Name})
		if err != nil {
			return err
		}

		purchase := models.Purchase{
			UserID:        userID,
			ItemID:        item.ID,
			TokensSpent:   item.Price,
			TransactionID: record.ID,
		}
		if err := tx.Create(&purchase).Error; err != nil {
			return err
		}

		var balance int
		if err := s.loadBalance(tx, userID, &balance); err != nil {
			return err
		}
		result = PurchaseResult{Balance: balance, Transaction: record, Purchase: &purchase}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Balance returns the stored token balance for a user.
func (s *Service) Balance(userID uint) (int, error) {
	var user models.User
	if err := s.db.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrUserNotFound
		}
		return 0, err
	}
	return user.Balance, nil
}

// Transactions returns a user's most recent ledger entries, newest first.
// limit defaults to 200 and is capped there.
func (s *Service) Transactions(userID uint, limit int) ([]models.Transaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	var txs []models.Transaction
	err := s.db.Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&txs).Error
	return txs, err
}

// Audit returns the stored balance alongside the balance derived from the
// transaction log. The stored field is authoritative for reads; the atomic
// write path keeps the two equal, and this is the check that proves it.
func (s *Service) Audit(userID uint) (stored, derived int, err error) {
	var user models.User
	if err = s.db.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			err = ErrUserNotFound
		}
		return 0, 0, err
	}
	var sum int64
	err = s.db.Model(&models.Transaction{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(amount),0)").
		Scan(&sum).Error
	return user.Balance, int(sum), err
}

// debit subtracts amount from a user's balance, failing without state change
// when the balance is too low.
func (s *Service) debit(tx *gorm.DB, userID uint, amount int) error {
	res := tx.Model(&models.User{}).
		Where("id = ? AND balance >= ?", userID, amount).
		Update("balance", gorm.Expr("balance - ?", amount))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := tx.Model(&models.User{}).Where("id = ?", userID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrUserNotFound
		}
		return ErrInsufficientBalance
	}
	return nil
}

func (s *Service) appendTransaction(tx *gorm.DB, userID uint, amount int, txType, reason string, meta Meta) (*models.Transaction, error) {
	record := models.Transaction{
		UserID:    userID,
		Amount:    amount,
		Type:      txType,
		Reason:    utils.SanitizeReason(reason),
		Reference: uuid.NewString(),
		CreatedAt: s.now(),
	}
	if len(meta) > 0 {
		b, err := json.Marshal(meta)
		if err == nil {
			record.Meta = string(b)
		}
	}
	if err := tx.Create(&record).Error; err != nil {
		return nil, err
	}
	if err := s.bumpActivity(tx, amount); err != nil {
		return nil, err
	}
	return &record, nil
}

// bumpActivity upserts the per-day aggregate row backing the admin 7-day
// buckets.
func (s *Service) bumpActivity(tx *gorm.DB, amount int) error {
	if amount < 0 {
		amount = -amount
	}
	day := s.now().Format(rewards.DateLayout)
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "date"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"tx_count":     gorm.Expr("tx_count + 1"),
			"tokens_moved": gorm.Expr("tokens_moved + ?", amount),
			"updated_at":   time.Now(),
		}),
	}).Create(&models.ActivityDay{Date: day, TxCount: 1, TokensMoved: int64(amount)}).Error
}

func (s *Service) loadBalance(tx *gorm.DB, userID uint, out *int) error {
	return tx.Model(&models.User{}).Where("id = ?", userID).Select("balance").Scan(out).Error
}

func isDuplicateErr(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") || strings.Contains(msg, "UNIQUE constraint")
}
