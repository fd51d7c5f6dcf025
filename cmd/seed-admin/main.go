// Command seed-admin creates (or promotes) a staff account. Intended for
// bootstrapping a fresh deployment:
//
//	seed-admin admin@example.com s3cretpassword "Store Admin"
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/velouria-skin/api/internal/config"
	"github.com/velouria-skin/api/internal/database"
	"github.com/velouria-skin/api/internal/services/customer"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg := config.LoadDev()

	email := "admin@velouria.local"
	password := "admin123"
	name := "Admin"

	if len(os.Args) > 1 {
		email = os.Args[1]
	}
	if len(os.Args) > 2 {
		password = os.Args[2]
	}
	if len(os.Args) > 3 {
		name = os.Args[3]
	}

	pool, err := database.Connect(context.Background(), cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	svc := customer.NewService(pool, logger)

	c, err := svc.Register(context.Background(), email, password, name)
	switch {
	case err == nil:
		fmt.Printf("Account created: %s (%s)\n", c.Email, c.ID)
	case errors.Is(err, customer.ErrEmailTaken):
		fmt.Printf("Account %s already exists, promoting to admin\n", email)
	default:
		slog.Error("failed to create account", "error", err)
		os.Exit(1)
	}

	if err := svc.SetAdmin(context.Background(), email, true); err != nil {
		slog.Error("failed to grant admin access", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Admin access granted to %s\n", email)
}
