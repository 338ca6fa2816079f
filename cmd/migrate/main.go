// Command migrate manages the embedded Postgres schema.
//
//	migrate up               apply pending migrations
//	migrate up-to <version>  apply up to and including version
//	migrate down             roll back the newest migration
//	migrate down-to <version>
//	migrate status           list every migration and whether it is applied
//	migrate version          print the current schema version
//
// The server applies pending migrations on startup, so this is mostly for
// rollbacks and inspection.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/mbd888/securityguard/internal/logging"
	"github.com/mbd888/securityguard/migrations"
)

func main() {
	_ = godotenv.Load()
	logger := logging.New(os.Getenv("LOG_LEVEL"), "text")

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: migrate up|up-to N|down|down-to N|status|version")
		os.Exit(2)
	}

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logger.Error("open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := run(ctx, db, os.Args[1], os.Args[2:]); err != nil {
		logger.Error("migrate failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, db *sql.DB, command string, args []string) error {
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, migrations.FS)
	if err != nil {
		return err
	}

	switch command {
	case "up":
		return report(provider.Up(ctx))
	case "down":
		res, err := provider.Down(ctx)
		if err != nil {
			return err
		}
		return report([]*goose.MigrationResult{res}, nil)
	case "up-to", "down-to":
		target, err := versionArg(args)
		if err != nil {
			return err
		}
		if command == "up-to" {
			return report(provider.UpTo(ctx, target))
		}
		return report(provider.DownTo(ctx, target))
	case "status":
		statuses, err := provider.Status(ctx)
		if err != nil {
			return err
		}
		for _, st := range statuses {
			applied := "pending"
			if st.State == goose.StateApplied {
				applied = st.AppliedAt.Format("2006-01-02 15:04:05")
			}
			fmt.Printf("%-6d %-40s %s\n", st.Source.Version, st.Source.Path, applied)
		}
		return nil
	case "version":
		v, err := provider.GetDBVersion(ctx)
		if err != nil {
			return err
		}
		fmt.Println(v)
		return nil
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func versionArg(args []string) (int64, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("expected one version argument")
	}
	v, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid version %q", args[0])
	}
	return v, nil
}

func report(results []*goose.MigrationResult, err error) error {
	for _, r := range results {
		if r == nil {
			continue
		}
		fmt.Printf("%-4s %-6d %s (%s)\n", r.Direction, r.Source.Version, r.Source.Path, r.Duration)
	}
	return err
}
