// Command worker drains the processing queue and runs queue maintenance.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/AthleteDocs/internal/app"
	"github.com/dharsanguruparan/AthleteDocs/internal/config"
	"github.com/dharsanguruparan/AthleteDocs/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("init app")
	}
	defer a.Close()
	if a.EmbeddedWorkers() {
		logger.Fatal("the memory store is private to one process; run the server alone instead")
	}

	if err := a.RunWorkers(ctx, app.WorkerID()); err != nil {
		logger.WithError(err).Error("worker stopped")
		a.Close()
		os.Exit(1)
	}
	logger.Info("worker stopped")
}
