package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/cryptoedge/marketdata/internal/config"
	"github.com/cryptoedge/marketdata/internal/infrastructure/db"
)

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	conn, err := db.Connect(db.DefaultConfig(cfg.DatabaseURL))
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := db.Migrate(ctx, conn); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	log.Info().Msg("schema applied")
	return nil
}
