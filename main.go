package main

import (
	"github.com/learnkins/learnkins/config"
	"github.com/learnkins/learnkins/models"
	"github.com/learnkins/learnkins/routes"
	"github.com/learnkins/learnkins/utils"
)

func main() {
	cfg := config.Load()

	// Initialize logger early
	if err := utils.InitLogger(cfg); err != nil {
		panic(err)
	}

	db := config.InitDatabase(
		&models.User{},
		&models.Transaction{},
		&models.DailyClaim{},
		&models.ShopItem{},
		&models.Purchase{},
		&models.QuizResult{},
		&models.ActivityDay{},
	)

	r := routes.SetupRouter(db)

	utils.Sugar.Infof("Starting server on port %s (graceful)", cfg.AppPort)
	if err := utils.GraceServer(":"+cfg.AppPort, r); err != nil {
		utils.Sugar.Fatalf("server stopped with error: %v", err)
	}
}
