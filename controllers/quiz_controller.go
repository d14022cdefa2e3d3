package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/learnkins/learnkins/ledger"
	"github.com/learnkins/learnkins/middleware"
	"github.com/learnkins/learnkins/models"
	"github.com/learnkins/learnkins/rewards"
	"github.com/learnkins/learnkins/utils"
)

// QuizController turns quiz scores into ledger awards and XP.
type QuizController struct {
	db     *gorm.DB
	ledger *ledger.Service
}

// NewQuizController creates a QuizController.
func NewQuizController(db *gorm.DB, svc *ledger.Service) *QuizController {
	return &QuizController{db: db, ledger: svc}
}

// Submit records a quiz completion. Tokens go through the audited ledger; XP
// and level are updated directly on the user record and carry no transaction.
func (q *QuizController) Submit(ctx *gin.Context) {
	userID, ok := middleware.UserID(ctx)
	if !ok {
		utils.Fail(ctx, http.StatusUnauthorized, "unauthorized")
		return
	}

	type request struct {
		QuizID     string `json:"quiz_id"`
		Percentage *int   `json:"percentage" binding:"required"`
	}
	var req request
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Fail(ctx, http.StatusBadRequest, "invalid request payload")
		return
	}
	pct := *req.Percentage
	if pct < 0 || pct > 100 {
		utils.Fail(ctx, http.StatusBadRequest, "percentage must be between 0 and 100")
		return
	}

	tokens := rewards.TokensForQuiz(pct)
	xp := rewards.XPForQuiz(pct)

	balance, record, err := q.ledger.Award(userID, tokens, models.ReasonQuiz, ledger.Meta{
		"quiz_id":    req.QuizID,
		"percentage": pct,
	})
	if err != nil {
		if utils.Sugar != nil {
			utils.Sugar.Errorf("quiz award failed: %v", err)
		}
		utils.Fail(ctx, http.StatusInternalServerError, "failed to award quiz tokens")
		return
	}

	var user models.User
	if err := q.db.First(&user, userID).Error; err == nil {
		user.XP += xp
		user.Level = rewards.LevelForXP(user.XP)
		if err := q.db.Model(&models.User{}).Where("id = ?", userID).Updates(map[string]interface{}{
			"xp":    user.XP,
			"level": user.Level,
		}).Error; err != nil && utils.Sugar != nil {
			utils.Sugar.Warnf("quiz xp update failed for user %d: %v", userID, err)
		}
	}

	result := models.QuizResult{
		UserID:       userID,
		QuizID:       req.QuizID,
		Percentage:   pct,
		TokensEarned: tokens,
		XPEarned:     xp,
	}
	if err := q.db.Create(&result).Error; err != nil && utils.Sugar != nil {
		utils.Sugar.Warnf("quiz result insert failed for user %d: %v", userID, err)
	}

	utils.OK(ctx, gin.H{
		"balance":      balance,
		"tokensEarned": tokens,
		"xpEarned":     xp,
		"level":        user.Level,
		"transaction":  record,
	})
}

// History lists the authenticated user's quiz results, newest first.
func (q *QuizController) History(ctx *gin.Context) {
	userID, ok := middleware.UserID(ctx)
	if !ok {
		utils.Fail(ctx, http.StatusUnauthorized, "unauthorized")
		return
	}

	var results []models.QuizResult
	if err := q.db.Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(100).
		Find(&results).Error; err != nil {
		utils.Fail(ctx, http.StatusInternalServerError, "failed to load quiz history")
		return
	}

	utils.OK(ctx, gin.H{"results": results})
}
