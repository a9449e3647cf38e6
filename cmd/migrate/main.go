package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	"wabridge/internal/migrations"
	"wabridge/internal/security"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

func main() {
	dbPath := flag.String("db", "./wabridge.db", "Path to the database file")
	status := flag.Bool("status", false, "Print applied and pending migrations without applying them")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := run(*dbPath, *status, logger); err != nil {
		logger.Fatalf("Migration failed: %v", err)
	}
}

func run(dbPath string, statusOnly bool, logger *logrus.Logger) error {
	if err := security.ValidateFilePath(dbPath); err != nil {
		return fmt.Errorf("invalid database path: %w", err)
	}
	if statusOnly {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return fmt.Errorf("database file not found: %s", dbPath)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if statusOnly {
		return printStatus(ctx, db, logger)
	}

	ran, err := migrations.Apply(ctx, db)
	for _, name := range ran {
		logger.WithField("migration", name).Info("Migration applied")
	}
	if err != nil {
		return err
	}
	if len(ran) == 0 {
		logger.Info("Schema is up to date")
	}
	return nil
}

func printStatus(ctx context.Context, db *sql.DB, logger *logrus.Logger) error {
	all, err := migrations.All()
	if err != nil {
		return err
	}
	applied, err := migrations.Applied(ctx, db)
	if err != nil {
		return err
	}
	for _, m := range all {
		state := "pending"
		if applied[m.Version] {
			state = "applied"
		}
		logger.WithFields(logrus.Fields{"version": m.Version, "state": state}).Info(m.Name)
	}
	return nil
}
