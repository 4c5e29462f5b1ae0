// Command reconcile repairs ledger signs and rebuilds stock snapshots offline.
// With -dry-run it only prints the drift between snapshots and the ledger.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"ovotrack/server/internal/app"
	"ovotrack/server/internal/config"
	"ovotrack/server/internal/events"
	"ovotrack/server/internal/models"
	"ovotrack/server/internal/services"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

// Exit codes
const (
	exitOK     = 0
	exitDrift  = 1
	exitFailed = 2
)

// run returns the exit code instead of exiting so that deferred cleanup runs
func run(args []string, stdout io.Writer) int {
	flags := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	dryRun := flags.Bool("dry-run", false, "print drift without writing")
	actorName := flags.String("actor", "reconcile-cli", "name recorded as the admin running the reconciliation")
	if err := flags.Parse(args); err != nil {
		return exitFailed
	}

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Error("config.load_failed")
		return exitFailed
	}
	log := config.NewLogger(cfg.LogLevel, cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var publisher events.Publisher = events.Nop{}
	if len(cfg.KafkaBrokers) > 0 && !*dryRun {
		auth := events.KafkaAuth{Username: cfg.KafkaUsername, Password: cfg.KafkaPassword, CACert: cfg.KafkaCACert}
		kafkaPublisher := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, auth, log)
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher
	}

	application, err := app.New(cfg, log, publisher)
	if err != nil {
		log.WithError(err).Error("app.init_failed")
		return exitFailed
	}
	defer application.Close()

	out := json.NewEncoder(stdout)
	out.SetIndent("", "  ")

	if *dryRun {
		rows, err := application.Reconciliation.Drift(ctx)
		if err != nil {
			log.WithError(err).Error("drift.failed")
			return exitFailed
		}
		if rows == nil {
			rows = []services.DriftRow{}
		}
		_ = out.Encode(rows)
		if len(rows) > 0 {
			return exitDrift
		}
		return exitOK
	}

	actor := models.Actor{ID: *actorName, Name: *actorName, Role: models.RoleAdmin}
	report, err := application.Reconciliation.Run(ctx, actor)
	if err != nil {
		log.WithError(err).Error("reconciliation.failed")
		return exitFailed
	}
	_ = out.Encode(report)
	return exitOK
}
