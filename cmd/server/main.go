// Command server runs the AthleteDocs HTTP API. With the memory store it
// also runs the workers, since no other process can reach its queue.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/dharsanguruparan/AthleteDocs/internal/api"
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

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return api.New(a).Run(ctx) })
	if a.EmbeddedWorkers() {
		g.Go(func() error { return a.RunWorkers(ctx, app.WorkerID()) })
	}
	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("server stopped")
		a.Close()
		os.Exit(1)
	}
}
