package main

import (
	"fmt"
	"log"
	"os"

	"github.com/apk-analysis/apk-toolbench/internal/config"
	"github.com/apk-analysis/apk-toolbench/internal/repository"
)

func main() {
	// 加载配置
	configPath := "./configs/config.yaml"
	if len(os.Args) > 1 && os.Args[1] == "--config" && len(os.Args) > 2 {
		configPath = os.Args[2]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal(err)
	}
	if cfg.Database.Type == "none" {
		log.Fatal("database is disabled (database.type: none)")
	}

	logger := config.InitLogger(&cfg.Log)

	// InitDB 内部执行 AutoMigrate
	db, err := repository.InitDB(&cfg.Database, logger)
	if err != nil {
		log.Fatalf("Failed to migrate: %v", err)
	}

	sqlDB, err := db.DB()
	if err == nil {
		defer sqlDB.Close()
	}

	fmt.Printf("✓ Migration completed successfully (%s)\n", cfg.Database.Type)
}
