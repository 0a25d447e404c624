package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-scheduling/internal/metrics"
	redisclient "github.com/hackgods/clinic-appointment-scheduling/internal/redis"
)

// Expirer is the slice of the appointment service the sweep needs.
type Expirer interface {
	ExpireOverdueAppointments(ctx context.Context) (int, error)
}

type ExpiryWorker struct {
	svc      Expirer
	locker   redisclient.Locker
	interval time.Duration
	timeout  time.Duration
	log      zerolog.Logger
	metrics  *metrics.Metrics
}

func NewExpiryWorker(svc Expirer, locker redisclient.Locker, interval time.Duration, log zerolog.Logger, m *metrics.Metrics) *ExpiryWorker {
	timeout := interval / 2
	if timeout <= 0 || timeout > 5*time.Minute {
		timeout = 5 * time.Minute
	}
	return &ExpiryWorker{
		svc:      svc,
		locker:   locker,
		interval: interval,
		timeout:  timeout,
		log:      log.With().Str("component", "expiry-worker").Logger(),
		metrics:  m,
	}
}

// Run sweeps once immediately and then every interval until ctx is done.
func (w *ExpiryWorker) Run(ctx context.Context) {
	w.RunOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("shutdown signal received, stopping expiry worker")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs one sweep if this process wins the sweep lock.
func (w *ExpiryWorker) RunOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	start := time.Now()
	var expired int
	err := w.locker.WithLock(runCtx, redisclient.SweepLockKey, func(ctx context.Context) error {
		var err error
		expired, err = w.svc.ExpireOverdueAppointments(ctx)
		return err
	})

	switch {
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		w.metrics.Sweep("skipped", time.Since(start).Seconds())
		w.log.Debug().Msg("another replica holds the sweep lock, skipping")
	case err != nil:
		w.metrics.Sweep("error", time.Since(start).Seconds())
		w.log.Error().Err(err).Msg("expiry run error")
	default:
		w.metrics.Sweep("ok", time.Since(start).Seconds())
		w.log.Info().Int("expired", expired).Dur("elapsed", time.Since(start)).Msg("expiry run complete")
	}
}
