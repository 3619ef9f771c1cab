package observability

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/vecto-labs/triad-cli/internal/config"
)

// Checker runs periodic drift and SLA checks in the background.
type Checker struct {
	monitor *Monitor
	cfg     config.ObservabilityConfig
}

// NewChecker creates a background checker.
func NewChecker(monitor *Monitor, cfg config.ObservabilityConfig) *Checker {
	return &Checker{monitor: monitor, cfg: cfg}
}

// Run starts the periodic check loop. It blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	log := zap.L().With(zap.String("component", "observability.checker"))
	log.Info("starting observability checker", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("observability checker stopped")
			return
		case <-ticker.C:
			c.check(ctx, log)
		}
	}
}

func (c *Checker) check(ctx context.Context, log *zap.Logger) {
	drift, err := c.monitor.DetectDrift(ctx, c.cfg.CurrentWindowMinutes, c.cfg.BaselineWindowMinutes)
	if err != nil {
		log.Error("observability: drift check failed", zap.Error(err))
	} else if drift.DriftDetected {
		log.Warn("observability: drift detected")
	}

	sla, err := c.monitor.CheckSLA(ctx, c.cfg.BaselineWindowMinutes)
	if err != nil {
		log.Error("observability: sla check failed", zap.Error(err))
	} else if !sla.OverallCompliant {
		log.Warn("observability: sla violated")
	}
}
