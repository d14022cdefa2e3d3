package routes

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/learnkins/learnkins/config"
	"github.com/learnkins/learnkins/controllers"
	"github.com/learnkins/learnkins/ledger"
	"github.com/learnkins/learnkins/middleware"
	"github.com/learnkins/learnkins/utils"
)

// SetupRouter wires routes, middlewares, and controllers.
func SetupRouter(db *gorm.DB) *gin.Engine {
	cfg := config.Get()
	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	// Replace default console logger with file-based zap logger
	gl, err := utils.NewRollingFileLogger(cfg.GinPath, cfg.LogLevel, cfg.LogMaxSizeMB, cfg.LogMaxBackups, cfg.LogMaxAgeDays, cfg.LogCompress)
	if err == nil {
		r.Use(utils.Ginzap(gl, time.RFC3339, true))
		r.Use(utils.RecoveryWithZap(gl, false))
	} else {
		r.Use(gin.Recovery())
	}

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	r.GET("/health", func(ctx *gin.Context) {
		utils.OK(ctx, gin.H{"status": "ok"})
	})

	ledgerService := ledger.NewService(db, cfg.DailyClaimTokens)
	authController := controllers.NewAuthController(db)
	tokenController := controllers.NewTokenController(db, ledgerService)
	shopController := controllers.NewShopController(db, ledgerService)
	quizController := controllers.NewQuizController(db, ledgerService)

	api := r.Group("/api")

	authGroup := api.Group("/auth")
	authGroup.Use(middleware.RateLimitMiddleware())
	authGroup.POST("/register", authController.Register)
	authGroup.POST("/login", authController.Login)
	authGroup.POST("/logout", middleware.AuthRequired(), authController.Logout)
	authGroup.GET("/me", middleware.AuthRequired(), authController.Me)

	// Public shop listing; purchases require auth below.
	api.GET("/shop", shopController.ListItems)

	protected := api.Group("")
	protected.Use(middleware.AuthRequired(), middleware.RateLimitMiddleware())

	tokens := protected.Group("/tokens")
	tokens.GET("/balance", tokenController.GetBalance)
	tokens.GET("/transactions", tokenController.GetTransactions)
	tokens.POST("/award", tokenController.Award)
	tokens.POST("/redeem", tokenController.Redeem)
	tokens.POST("/daily", tokenController.ClaimDaily)

	tokensAdmin := tokens.Group("")
	tokensAdmin.Use(middleware.AdminRequired())
	tokensAdmin.POST("/award-user/:id", tokenController.AwardUser)
	tokensAdmin.GET("/user/:id", tokenController.UserTransactions)
	tokensAdmin.GET("/admin/stats", tokenController.AdminStats)
	tokensAdmin.GET("/admin/audit/:id", tokenController.AuditUser)

	shop := protected.Group("/shop")
	shop.POST("/:id/purchase", shopController.Purchase)
	shop.GET("/my-purchases", shopController.MyPurchases)

	shopAdmin := shop.Group("")
	shopAdmin.Use(middleware.AdminRequired())
	shopAdmin.POST("", shopController.CreateItem)
	shopAdmin.PUT("/:id", shopController.UpdateItem)
	shopAdmin.DELETE("/:id", shopController.DeleteItem)
	shopAdmin.GET("/admin/stats", shopController.AdminStats)

	quizzes := protected.Group("/quizzes")
	quizzes.POST("/submit", quizController.Submit)
	quizzes.GET("/history", quizController.History)

	r.NoRoute(func(ctx *gin.Context) {
		if strings.HasPrefix(ctx.Request.URL.Path, "/api/") {
			utils.Fail(ctx, http.StatusNotFound, "api route not found")
			return
		}
		ctx.JSON(http.StatusNotFound, gin.H{"success": false, "message": "not found"})
	})

	return r
}
