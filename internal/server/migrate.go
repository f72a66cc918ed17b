// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"
	"github.com/vinovest/sqlx"

	"codeberg.org/oliverandrich/socialnet-auth/internal/config"
	"codeberg.org/oliverandrich/socialnet-auth/internal/database"
)

// MigrateCommand manages the schema outside of a server start.
func MigrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Manage database migrations",
		Commands: []*cli.Command{
			{
				Name:  "up",
				Usage: "Apply all pending migrations",
				Action: withDatabase(func(ctx context.Context, db *sqlx.DB) error {
					// Open already applied them
					slog.Info("migrations_applied")
					return printStatus(ctx, db, os.Stdout)
				}),
			},
			{
				Name:  "down",
				Usage: "Roll back the most recent migration",
				Action: withDatabase(func(ctx context.Context, db *sqlx.DB) error {
					if err := database.MigrateDown(ctx, db.DB); err != nil {
						return fmt.Errorf("migrate down: %w", err)
					}
					return printStatus(ctx, db, os.Stdout)
				}),
			},
			{
				Name:  "status",
				Usage: "List migrations and whether they are applied",
				Action: withDatabase(func(ctx context.Context, db *sqlx.DB) error {
					return printStatus(ctx, db, os.Stdout)
				}),
			},
		},
	}
}

func withDatabase(fn func(ctx context.Context, db *sqlx.DB) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		cfg := config.NewFromCLI(cmd)
		setupLogger(cfg.Log)

		db, err := database.Open(cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer func() {
			if closeErr := database.Close(db); closeErr != nil {
				slog.Error("failed to close database", "error", closeErr)
			}
		}()

		return fn(ctx, db)
	}
}

func printStatus(ctx context.Context, db *sqlx.DB, w io.Writer) error {
	statuses, err := database.Status(ctx, db.DB)
	if err != nil {
		return fmt.Errorf("migration status: %w", err)
	}
	for _, s := range statuses {
		state := "pending"
		if s.Applied {
			state = "applied"
		}
		if _, err := fmt.Fprintf(w, "%05d  %-8s %s\n", s.Version, state, s.Path); err != nil {
			return err
		}
	}
	return nil
}
