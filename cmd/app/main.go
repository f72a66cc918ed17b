// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package main

import (
	"context"
	"errors"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"codeberg.org/oliverandrich/socialnet-auth/internal/config"
	"codeberg.org/oliverandrich/socialnet-auth/internal/server"
)

func main() {
	// a missing .env is fine, the environment and config.toml still apply
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("loading .env: %v", err)
	}

	cmd := &cli.Command{
		Name:   "app",
		Usage:  "Run the authentication service",
		Flags:  config.Flags(),
		Action: server.Run,
		Commands: []*cli.Command{
			server.MigrateCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
