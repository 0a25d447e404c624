package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/hackgods/clinic-appointment-scheduling/internal/app"
	"github.com/hackgods/clinic-appointment-scheduling/internal/config"
	"github.com/hackgods/clinic-appointment-scheduling/internal/logging"
	"github.com/hackgods/clinic-appointment-scheduling/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("dev", "info")
		bootLog.Fatal().Err(err).Msg("config load error")
	}

	log := logging.FromConfig(cfg)
	log.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.WorkerInterval).
		Msg("expiry-worker starting up")

	if err := checkBackend(cfg); err != nil {
		log.Fatal().Err(err).Msg("unsupported configuration")
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(rootCtx, cfg, log, app.Options{})
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	defer a.Close()

	worker.NewExpiryWorker(a.Service, a.Locker, cfg.WorkerInterval, log, a.Metrics).Run(rootCtx)
}

var errNeedsPostgres = errors.New("expiry-worker needs STORE_BACKEND=postgres; the api-server sweeps the memory store itself")

func checkBackend(cfg config.Config) error {
	if cfg.StoreBackend != config.StoreBackendPostgres {
		return errNeedsPostgres
	}
	return nil
}
