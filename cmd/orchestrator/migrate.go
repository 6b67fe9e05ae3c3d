package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/orchcore/orchd/internal/config"
	"github.com/orchcore/orchd/internal/storage"
	"github.com/orchcore/orchd/pkg/logger"
)

func newMigrateCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or inspect schema migrations",
	}
	cmd.AddCommand(
		newMigrateUpCommand(configPath),
		newMigrateDownCommand(configPath),
		newMigrateStatusCommand(configPath),
	)
	return cmd
}

func openMigrator(configPath string) (*storage.Migrator, *config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	log := logger.NewLogger(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output})

	if cfg.IsCluster() {
		pgCfg := storage.PostgresConfig{
			Host: cfg.Database.Host, Port: cfg.Database.Port, Database: cfg.Database.Database,
			User: cfg.Database.Username, Password: cfg.Database.Password, SSLMode: cfg.Database.SSLMode,
			ConnectTimeout: cfg.Database.ConnectTimeout,
		}
		m, err := storage.NewMigrator("pgx", "postgres", pgCfg.DSN(), log)
		return m, cfg, err
	}
	m, err := storage.NewMigrator("sqlite", "sqlite3", cfg.Database.SqlitePath, log)
	return m, cfg, err
}

func newMigrateUpCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, _, err := openMigrator(*configPath)
			if err != nil {
				return err
			}
			defer m.Close()
			return m.Up(context.Background())
		},
	}
}

func newMigrateDownCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recently applied migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, _, err := openMigrator(*configPath)
			if err != nil {
				return err
			}
			defer m.Close()
			return m.Down(context.Background())
		},
	}
}

func newMigrateStatusCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the current schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, _, err := openMigrator(*configPath)
			if err != nil {
				return err
			}
			defer m.Close()
			v, err := m.Version(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("schema version: %d\n", v)
			return nil
		},
	}
}
