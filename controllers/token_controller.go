package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/learnkins/learnkins/ledger"
	"github.com/learnkins/learnkins/middleware"
	"github.com/learnkins/learnkins/models"
	"github.com/learnkins/learnkins/utils"
)

// TokenController exposes the ledger over HTTP: balance, transaction history,
// award/redeem, daily claims, and the admin surface.
type TokenController struct {
	db     *gorm.DB
	ledger *ledger.Service
}

// NewTokenController creates a TokenController.
func NewTokenController(db *gorm.DB, svc *ledger.Service) *TokenController {
	return &TokenController{db: db, ledger: svc}
}

type amountRequest struct {
	Amount int         `json:"amount"`
	Reason string      `json:"reason"`
	Meta   ledger.Meta `json:"meta"`
}

// GetBalance returns the authenticated user's token balance.
func (t *TokenController) GetBalance(ctx *gin.Context) {
	userID, ok := middleware.UserID(ctx)
	if !ok {
		utils.Fail(ctx, http.StatusUnauthorized, "unauthorized")
		return
	}

	balance, err := t.ledger.Balance(userID)
	if err != nil {
		t.respondLedgerError(ctx, err, "")
		return
	}
	utils.OK(ctx, gin.H{"balance": balance})
}

// GetTransactions returns the user's most recent 200 ledger entries.
func (t *TokenController) GetTransactions(ctx *gin.Context) {
	userID, ok := middleware.UserID(ctx)
	if !ok {
		utils.Fail(ctx, http.StatusUnauthorized, "unauthorized")
		return
	}

	txs, err := t.ledger.Transactions(userID, 200)
	if err != nil {
		t.respondLedgerError(ctx, err, "")
		return
	}
	utils.OK(ctx, gin.H{"transactions": txs})
}

// Award credits tokens to the authenticated user.
func (t *TokenController) Award(ctx *gin.Context) {
	userID, ok := middleware.UserID(ctx)
	if !ok {
		utils.Fail(ctx, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req amountRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Fail(ctx, http.StatusBadRequest, "invalid request payload")
		return
	}

	balance, record, err := t.ledger.Award(userID, req.Amount, req.Reason, req.Meta)
	if err != nil {
		t.respondLedgerError(ctx, err, "")
		return
	}

	utils.OK(ctx, gin.H{"balance": balance, "transaction": record})
}

// Redeem debits tokens from the authenticated user.
func (t *TokenController) Redeem(ctx *gin.Context) {
	userID, ok := middleware.UserID(ctx)
	if !ok {
		utils.Fail(ctx, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req amountRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Fail(ctx, http.StatusBadRequest, "invalid request payload")
		return
	}

	balance, record, err := t.ledger.Redeem(userID, req.Amount, req.Reason, req.Meta)
	if err != nil {
		t.respondLedgerError(ctx, err, "insufficient balance")
		return
	}

	utils.OK(ctx, gin.H{"balance": balance, "transaction": record})
}

// ClaimDaily claims the once-per-day token reward and advances the streak.
func (t *TokenController) ClaimDaily(ctx *gin.Context) {
	userID, ok := middleware.UserID(ctx)
	if !ok {
		utils.Fail(ctx, http.StatusUnauthorized, "unauthorized")
		return
	}

	res, err := t.ledger.ClaimDaily(userID)
	if err != nil {
		t.respondLedgerError(ctx, err, "")
		return
	}

	utils.OK(ctx, gin.H{
		"balance":      res.Balance,
		"tokensEarned": res.TokensEarned,
		"streak":       res.Streak,
	})
}

// AwardUser credits tokens to an arbitrary user. Admin only.
func (t *TokenController) AwardUser(ctx *gin.Context) {
	targetID, ok := parseIDParam(ctx)
	if !ok {
		return
	}

	var req amountRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Fail(ctx, http.StatusBadRequest, "invalid request payload")
		return
	}

	reason := req.Reason
	if reason == "" {
		reason = models.ReasonAdminGrant
	}
	meta := req.Meta
	if meta == nil {
		meta = ledger.Meta{}
	}
	if admin, exists := ctx.Get(middleware.ContextUsernameKey); exists {
		meta["granted_by"] = admin
	}

	balance, record, err := t.ledger.Award(targetID, req.Amount, reason, meta)
	if err != nil {
		t.respondLedgerError(ctx, err, "")
		return
	}

	utils.OK(ctx, gin.H{"balance": balance, "transaction": record})
}

// UserTransactions returns the ledger entries for a target user. Admin only.
func (t *TokenController) UserTransactions(ctx *gin.Context) {
	targetID, ok := parseIDParam(ctx)
	if !ok {
		return
	}

	if _, err := t.ledger.Balance(targetID); err != nil {
		t.respondLedgerError(ctx, err, "")
		return
	}

	txs, err := t.ledger.Transactions(targetID, 200)
	if err != nil {
		t.respondLedgerError(ctx, err, "")
		return
	}
	utils.OK(ctx, gin.H{"transactions": txs})
}

// AuditUser compares a user's stored balance against the derived log sum.
// Admin only.
func (t *TokenController) AuditUser(ctx *gin.Context) {
	targetID, ok := parseIDParam(ctx)
	if !ok {
		return
	}

	stored, derived, err := t.ledger.Audit(targetID)
	if err != nil {
		t.respondLedgerError(ctx, err, "")
		return
	}

	utils.OK(ctx, gin.H{
		"balance":    stored,
		"ledgerSum":  derived,
		"consistent": stored == derived,
	})
}

// AdminStats returns economy-wide aggregates: circulation, earned/spent
// totals, top earners, recent transactions, and 7-day activity buckets.
// Individual aggregation failures fall back to zero instead of failing the
// whole endpoint.
func (t *TokenController) AdminStats(ctx *gin.Context) {
	var circulation int64
	if err := t.db.Model(&models.User{}).
		Select("COALESCE(SUM(balance),0)").
		Scan(&circulation).Error; err != nil {
		circulation = 0
	}

	var totalEarned int64
	if err := t.db.Model(&models.Transaction{}).
		Where("amount > 0").
		Select("COALESCE(SUM(amount),0)").
		Scan(&totalEarned).Error; err != nil {
		totalEarned = 0
	}

	var totalSpent int64
	if err := t.db.Model(&models.Transaction{}).
		Where("amount < 0").
		Select("COALESCE(-SUM(amount),0)").
		Scan(&totalSpent).Error; err != nil {
		totalSpent = 0
	}

	type earnerRow struct {
		UserID   uint   `json:"user_id"`
		Username string `json:"username"`
		Earned   int64  `json:"earned"`
	}
	var topEarners []earnerRow
	if err := t.db.Model(&models.Transaction{}).
		Select("transactions.user_id, users.username, SUM(transactions.amount) AS earned").
		Joins("JOIN users ON users.id = transactions.user_id").
		Where("transactions.amount > 0").
		Group("transactions.user_id, users.username").
		Order("earned DESC").
		Limit(5).
		Scan(&topEarners).Error; err != nil {
		topEarners = nil
	}

	var recent []models.Transaction
	if err := t.db.Order("created_at DESC, id DESC").Limit(20).Find(&recent).Error; err != nil {
		recent = nil
	}

	var daily []models.ActivityDay
	if err := t.db.Order("date DESC").Limit(7).Find(&daily).Error; err != nil {
		daily = nil
	}

	utils.OK(ctx, gin.H{
		"circulation":        circulation,
		"totalEarned":        totalEarned,
		"totalSpent":         totalSpent,
		"topEarners":         topEarners,
		"recentTransactions": recent,
		"dailyActivity":      daily,
	})
}

// respondLedgerError maps ledger sentinel errors onto the HTTP taxonomy.
// insufficientMsg overrides the message for balance failures where the wire
// format expects specific wording.
func (t *TokenController) respondLedgerError(ctx *gin.Context, err error, insufficientMsg string) {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount):
		utils.Fail(ctx, http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrInsufficientBalance):
		if insufficientMsg == "" {
			insufficientMsg = err.Error()
		}
		utils.Fail(ctx, http.StatusBadRequest, insufficientMsg)
	case errors.Is(err, ledger.ErrAlreadyClaimed):
		utils.Fail(ctx, http.StatusBadRequest, "already claimed today")
	case errors.Is(err, ledger.ErrAlreadyOwned), errors.Is(err, ledger.ErrOutOfStock):
		utils.Fail(ctx, http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrUserNotFound), errors.Is(err, ledger.ErrItemNotFound):
		utils.Fail(ctx, http.StatusNotFound, err.Error())
	default:
		if utils.Sugar != nil {
			utils.Sugar.Errorf("ledger operation failed: %v", err)
		}
		utils.Fail(ctx, http.StatusInternalServerError, "internal server error")
	}
}

// parseIDParam reads the :id route parameter, responding 400 on bad input.
func parseIDParam(ctx *gin.Context) (uint, bool) {
	raw := ctx.Param("id")
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		utils.Fail(ctx, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return uint(id), true
}
