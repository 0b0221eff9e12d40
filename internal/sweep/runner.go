// Package sweep holds the periodic maintenance passes that drive
// time-based transitions: order expiry, promo end, shop window end and
// missed-response escalation. Units are independent and idempotent; a unit
// that finds nothing eligible is a no-op.
package sweep

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "order_core",
		Subsystem: "sweep",
		Name:      "runs_total",
		Help:      "Total sweep unit runs by outcome.",
	}, []string{"unit", "outcome"})

	sweepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "order_core",
		Subsystem: "sweep",
		Name:      "run_duration_seconds",
		Help:      "Sweep unit run durations in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"unit"})
)

type Unit interface {
	Name() string
	Run(ctx context.Context) error
}

// Runner ticks all units on one interval. Ticks do not overlap: the next
// tick waits for the previous fan-out to finish. A failing unit is logged
// and never blocks the others.
type Runner struct {
	logger   *slog.Logger
	interval time.Duration
	units    []Unit
}

func NewRunner(logger *slog.Logger, interval time.Duration, units ...Unit) *Runner {
	return &Runner{
		logger:   logger.With(slog.String("component", "sweep")),
		interval: interval,
		units:    units,
	}
}

func (r *Runner) Start(ctx context.Context) error {
	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		r.RunOnce(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.RunOnce(ctx)
			}
		}
	}()
	return nil
}

func (r *Runner) RunOnce(ctx context.Context) {
	var g errgroup.Group
	for _, unit := range r.units {
		unit := unit
		g.Go(func() error {
			start := time.Now()
			err := unit.Run(ctx)
			sweepDuration.WithLabelValues(unit.Name()).Observe(time.Since(start).Seconds())

			if err != nil {
				sweepRuns.WithLabelValues(unit.Name(), "error").Inc()
				r.logger.Error("sweep unit failed",
					slog.String("unit", unit.Name()), slog.Any("error", err))
				return nil
			}
			sweepRuns.WithLabelValues(unit.Name(), "ok").Inc()
			return nil
		})
	}
	g.Wait()
}
