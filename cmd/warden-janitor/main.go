// warden-janitor runs the expiry sweep as a standalone process on a
// cron schedule, for deployments that prefer an external reaper over
// the in-process one.
package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/warden/pkg/auth"
)

var (
	dbURL    = flag.String("db-url", getEnv("DATABASE_URL", ""), "PostgreSQL connection URL")
	schedule = flag.String("schedule", "@every 60s", "Cron schedule for the expiry sweep")
	runOnce  = flag.Bool("run-once", false, "Run one sweep and exit")
)

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func main() {
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	if *dbURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	db, err := sql.Open("postgres", *dbURL)
	if err != nil {
		log.WithError(err).Fatal("Failed to open database connection")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = db.PingContext(ctx)
	cancel()
	if err != nil {
		log.WithError(err).Fatal("Database not reachable")
	}

	manager := auth.NewManager(db, auth.Config{}, nil)

	sweep := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		tokens, cacheRows, err := manager.Reap(ctx, manager.Clock().Now())
		if err != nil {
			log.WithError(err).Error("Sweep failed")
			return
		}
		log.WithFields(logrus.Fields{
			"tokens_removed":     tokens,
			"cache_rows_removed": cacheRows,
		}).Info("Sweep complete")
	}

	if *runOnce {
		sweep()
		return
	}

	c := cron.New()
	if _, err := c.AddFunc(*schedule, sweep); err != nil {
		log.WithError(err).Fatal("Failed to schedule sweep")
	}
	c.Start()
	log.WithField("schedule", *schedule).Info("warden-janitor started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down")
	<-c.Stop().Done()
}
