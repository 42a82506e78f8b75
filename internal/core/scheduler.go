package core

// scheduler.go runs periodic re-triage.
//
// Lanes depend on time-to-TCA, so an event classified ANALYTIC_OK two days
// out can need ACTION_NOW today without any data changing. The scheduler
// re-classifies the whole store on a fixed interval. A failed pass is logged
// and the next tick tries again; it never stops the application.

import (
	"context"
	"log/slog"
	"time"
)

// DefaultRetriageInterval is used when the configured interval is not positive.
const DefaultRetriageInterval = 15 * time.Minute

// StartRetriageScheduler re-classifies every stored event immediately and then
// every interval, until ctx is cancelled. It blocks; run it in a goroutine.
func (s *Service) StartRetriageScheduler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultRetriageInterval
	}
	slog.Info("retriage scheduler started", "interval", interval.String())

	s.runRetriageJob(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("retriage scheduler stopped")
			return
		case <-ticker.C:
			s.runRetriageJob(ctx)
		}
	}
}

func (s *Service) runRetriageJob(ctx context.Context) {
	start := time.Now()
	n, err := s.Retriage(ctx)
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("retriage failed", "error", err)
		}
		return
	}
	slog.Info("retriage completed",
		"events", n,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
