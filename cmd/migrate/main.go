package main

import (
	"log"

	"oauthfed/cfg"
	"oauthfed/pkg/db"
	"oauthfed/pkg/logger"
)

func main() {
	// ============
	// Load config
	// ============
	config, errCfg := cfg.Load()
	if errCfg != nil {
		log.Fatal(errCfg)
	}
	zlogger := logger.NewZeroLog(config.AppEnv)

	// =========
	// Migrate
	// =========
	if err := db.Migrate(config.Database.Path); err != nil {
		log.Fatal(err)
	}
	zlogger.Info("migrations applied", logger.Field{Key: "database", Value: config.Database.Path})
}
