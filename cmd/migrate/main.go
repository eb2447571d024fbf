package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"ngoportal.org/internal/migrate"
	"ngoportal.org/internal/obs"
)

func main() {
	_ = godotenv.Load()

	var (
		dsn     = pflag.String("dsn", firstEnv("NGO_DATABASE_DSN", "DB_DSN", "DATABASE_URL"), "PostgreSQL DSN")
		timeout = pflag.Duration("timeout", 30*time.Second, "overall timeout")
	)
	pflag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: migrate [flags] up|down|seed|status")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	log := obs.NewLogger("production").With().Str("component", "migrate").Logger()

	if *dsn == "" {
		log.Fatal().Msg("missing DSN: provide via --dsn or NGO_DATABASE_DSN")
	}
	if pflag.NArg() == 0 {
		pflag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer conn.Close()

	mgr := migrate.NewManager(conn, migrate.WithLogger(log))

	cmd := pflag.Arg(0)
	switch cmd {
	case "up":
		var applied []string
		applied, err = mgr.Up(ctx)
		if err == nil {
			log.Info().Int("applied", len(applied)).Msg("migrations up to date")
		}
	case "down":
		var name string
		name, err = mgr.Down(ctx)
		if err == nil {
			log.Info().Str("migration", name).Msg("rolled back")
		}
	case "seed":
		var applied []string
		applied, err = mgr.Seed(ctx)
		if err == nil {
			log.Info().Int("applied", len(applied)).Msg("seeds up to date")
		}
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		for _, item := range history {
			fmt.Println(item)
		}
	default:
		pflag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Error().Err(err).Str("command", cmd).Msg("migrate failed")
		conn.Close()
		os.Exit(1)
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}
