// Package main is the standalone seeding tool. It applies migrations and
// loads sport, category, and team fixtures, either the embedded defaults or
// a YAML file passed with -fixtures. Safe to run against a live database;
// every write is an upsert.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver

	"github.com/pitchside/hub/internal/config"
	"github.com/pitchside/hub/internal/repository"
	"github.com/pitchside/hub/internal/seed"
)

func main() {
	fixturesPath := flag.String("fixtures", "", "YAML fixture file (default: embedded fixtures)")
	migrationsDir := flag.String("migrations", "migrations", "directory of ordered *.sql files")
	flag.Parse()

	cfg := config.MustLoad()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	// ── Database ──────────────────────────────────────────────────────────────
	db, err := sqlx.Connect("postgres", cfg.DB.DSN)
	if err != nil {
		logger.Error("database connection failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	if err = runMigrations(db, *migrationsDir); err != nil {
		logger.Error("migrations failed", "err", err)
		os.Exit(1)
	}
	logger.Info("migrations applied")

	// ── Fixtures ──────────────────────────────────────────────────────────────
	seeder := seed.NewSeeder(repository.NewGameRepository(db))
	ctx := context.Background()

	if *fixturesPath != "" {
		err = seeder.ApplyFile(ctx, *fixturesPath)
	} else {
		err = seeder.EnsureDefaults(ctx)
	}
	if err != nil {
		logger.Error("seeding failed", "err", err)
		os.Exit(1)
	}
	logger.Info("seeding complete")
}

// runMigrations reads all *.sql files from dir, sorted by name, and executes
// them sequentially.  Idempotent: SQL files should use IF NOT EXISTS / ON CONFLICT.
func runMigrations(db *sqlx.DB, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("runMigrations: read dir %q: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("runMigrations: read %q: %w", f, err)
		}
		if _, err = db.Exec(string(data)); err != nil {
			return fmt.Errorf("runMigrations: exec %q: %w", f, err)
		}
		slog.Info("migration applied", "file", filepath.Base(f))
	}
	return nil
}
