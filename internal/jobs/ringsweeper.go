// Package jobs runs periodic background maintenance, currently the
// sweep that expires calls nobody answered.
package jobs

import (
	"context"
	"log/slog"
	"time"
)

// RingSweeperInterval is how often unanswered calls are checked against the
// ring timeout.
const RingSweeperInterval = 10 * time.Second

// CallSweeper transitions initiated calls past the ring timeout to missed.
// Satisfied by the call service.
type CallSweeper interface {
	SweepRinging(ctx context.Context, ringTimeout time.Duration) (int, error)
}

// RingSweeper periodically expires calls nobody answered. A zero ring
// timeout disables the sweeper entirely; calls then ring until ended or
// rejected.
type RingSweeper struct {
	calls       CallSweeper
	ringTimeout time.Duration
	interval    time.Duration
	metrics     *Metrics // optional
}

// NewRingSweeper creates a ring sweeper. interval <= 0 uses
// RingSweeperInterval; metrics may be nil.
func NewRingSweeper(calls CallSweeper, ringTimeout, interval time.Duration, metrics *Metrics) *RingSweeper {
	if interval <= 0 {
		interval = RingSweeperInterval
	}
	return &RingSweeper{
		calls:       calls,
		ringTimeout: ringTimeout,
		interval:    interval,
		metrics:     metrics,
	}
}

// Run sweeps on a ticker until ctx is canceled. Blocks; run in a goroutine.
func (s *RingSweeper) Run(ctx context.Context) {
	if s.ringTimeout <= 0 {
		slog.Info("ring sweeper disabled, ring timeout is zero")
		return
	}

	slog.Info("ring sweeper started",
		"ring_timeout", s.ringTimeout, "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("ring sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *RingSweeper) sweep(ctx context.Context) {
	start := time.Now()
	swept, err := s.calls.SweepRinging(ctx, s.ringTimeout)
	elapsed := time.Since(start).Seconds()

	if err != nil {
		slog.ErrorContext(ctx, "ring sweep failed", "error", err)
		if s.metrics != nil {
			s.metrics.IncJobsTotal(JobTypeRingSweep, StatusFailure)
			s.metrics.IncJobErrors(JobTypeRingSweep, "sweep_error")
		}
		return
	}

	if swept > 0 {
		slog.InfoContext(ctx, "swept unanswered calls", "count", swept)
	}
	if s.metrics != nil {
		s.metrics.IncJobsTotal(JobTypeRingSweep, StatusSuccess)
		s.metrics.ObserveJobDuration(JobTypeRingSweep, elapsed)
	}
}
