package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/kdimtricp/deepcheck/internal/config"
	"github.com/kdimtricp/deepcheck/internal/database"
	"github.com/kdimtricp/deepcheck/internal/logger"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load config:", err)
		os.Exit(1)
	}

	var (
		dbType         = flag.String("db", "postgres", "Database type (postgres or sqlite)")
		migrationsPath = flag.String("migrations", cfg.MigrationsPath, "Path to migrations directory")
		status         = flag.Bool("status", false, "Show migration status only")
	)
	flag.Parse()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to init logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	dbConfig := cfg.Database()
	dbConfig.Type = *dbType

	db, err := database.NewDB(context.Background(), dbConfig, log)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if *status {
		migrator := database.NewMigrator(db.Conn(), dbConfig.Type, log)
		statuses, err := migrator.Status(*migrationsPath)
		if err != nil {
			log.Fatal("failed to read migration status", zap.Error(err))
		}

		fmt.Println("Migration Status:")
		fmt.Println("=================")
		for _, s := range statuses {
			state := "pending"
			if s.Applied {
				state = "applied"
			}
			fmt.Printf("%s - %s [%s]\n", s.Version, s.Name, state)
		}
		return
	}

	log.Info("running migrations", zap.String("path", *migrationsPath))
	if err := db.RunMigrations(*migrationsPath); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}
	log.Info("migrations completed")
}
