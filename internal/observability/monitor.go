package observability

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/vecto-labs/triad-cli/internal/config"
	"github.com/vecto-labs/triad-cli/internal/ledger"
	"github.com/vecto-labs/triad-cli/internal/model"
)

// HealthStatus is the three-level pipeline health signal.
type HealthStatus string

const (
	HealthCritical HealthStatus = "critical"
	HealthDegraded HealthStatus = "degraded"
	HealthHealthy  HealthStatus = "healthy"
)

// Summary aggregates pipeline performance over a trailing window.
type Summary struct {
	Timestamp     time.Time                        `json:"timestamp"`
	WindowMinutes int                              `json:"window_minutes"`
	Overall       *ledger.Stats                    `json:"overall"`
	ByStage       map[model.CallType]*ledger.Stats `json:"by_stage"`
	HealthStatus  HealthStatus                     `json:"health_status"`
}

// MetricComparison is one metric's current-vs-baseline drift entry.
type MetricComparison struct {
	Current       float64 `json:"current"`
	Baseline      float64 `json:"baseline"`
	PercentChange float64 `json:"percent_change"`
	Drift         bool    `json:"drift"`
}

// DriftReport compares a current window against a baseline window.
type DriftReport struct {
	Timestamp             time.Time                   `json:"timestamp"`
	CurrentWindowMinutes  int                         `json:"current_window_minutes"`
	BaselineWindowMinutes int                         `json:"baseline_window_minutes"`
	DriftDetected         bool                        `json:"drift_detected"`
	MetricsComparison     map[string]MetricComparison `json:"metrics_comparison"`
}

// SLACheck is one threshold check's outcome.
type SLACheck struct {
	Value     *float64 `json:"value"`
	Threshold float64  `json:"threshold"`
	Compliant bool     `json:"compliant"`
}

// SLAReport reports threshold compliance over a trailing window.
type SLAReport struct {
	Timestamp        time.Time           `json:"timestamp"`
	WindowMinutes    int                 `json:"window_minutes"`
	OverallCompliant bool                `json:"overall_compliant"`
	Checks           map[string]SLACheck `json:"checks"`
}

// Monitor reads the ledger and derives health, drift, and SLA signals.
type Monitor struct {
	ledger  ledger.Ledger
	cfg     config.ObservabilityConfig
	alerter *Alerter
}

// NewMonitor creates a Monitor.
func NewMonitor(led ledger.Ledger, cfg config.ObservabilityConfig, alerter *Alerter) *Monitor {
	return &Monitor{ledger: led, cfg: cfg, alerter: alerter}
}

var stageCallTypes = []model.CallType{
	model.CallTypeStrategist,
	model.CallTypePlanner,
	model.CallTypeValidator,
}

// Summary computes overall stats plus per-stage breakdown and a health
// status for the trailing window.
func (m *Monitor) Summary(ctx context.Context, windowMinutes int) (*Summary, error) {
	since := time.Now().UTC().Add(-time.Duration(windowMinutes) * time.Minute)

	overall, err := m.ledger.CallStats(ctx, ledger.StatsFilter{Since: since})
	if err != nil {
		return nil, eris.Wrap(err, "observability: overall stats")
	}

	byStage := make(map[model.CallType]*ledger.Stats, len(stageCallTypes))
	for _, ct := range stageCallTypes {
		st, err := m.ledger.CallStats(ctx, ledger.StatsFilter{CallType: ct, Since: since})
		if err != nil {
			return nil, eris.Wrapf(err, "observability: %s stats", ct)
		}
		byStage[ct] = st
	}

	return &Summary{
		Timestamp:     time.Now().UTC(),
		WindowMinutes: windowMinutes,
		Overall:       overall,
		ByStage:       byStage,
		HealthStatus:  m.healthStatus(overall),
	}, nil
}

// healthStatus derives critical/degraded/healthy from the overall stats.
// Latency is only consulted when not already critical, and an absent
// latency (no calls) cannot degrade.
func (m *Monitor) healthStatus(st *ledger.Stats) HealthStatus {
	if st.SuccessRate < m.cfg.MinSuccessRate {
		return HealthCritical
	}
	if st.AvgLatencyMS > 0 && st.AvgLatencyMS > m.cfg.MaxAvgLatencyMS {
		return HealthDegraded
	}
	return HealthHealthy
}

// DetectDrift compares the current window against the baseline window
// across a fixed metric set. Any metric moving more than the configured
// percent threshold sets drift_detected and fires an alert.
func (m *Monitor) DetectDrift(ctx context.Context, currentMinutes, baselineMinutes int) (*DriftReport, error) {
	now := time.Now().UTC()

	current, err := m.ledger.CallStats(ctx, ledger.StatsFilter{
		Since: now.Add(-time.Duration(currentMinutes) * time.Minute),
	})
	if err != nil {
		return nil, eris.Wrap(err, "observability: current window stats")
	}
	baseline, err := m.ledger.CallStats(ctx, ledger.StatsFilter{
		Since: now.Add(-time.Duration(baselineMinutes) * time.Minute),
	})
	if err != nil {
		return nil, eris.Wrap(err, "observability: baseline window stats")
	}

	report := &DriftReport{
		Timestamp:             now,
		CurrentWindowMinutes:  currentMinutes,
		BaselineWindowMinutes: baselineMinutes,
		MetricsComparison:     make(map[string]MetricComparison),
	}

	for name, pair := range map[string][2]float64{
		"success_rate":   {current.SuccessRate, baseline.SuccessRate},
		"avg_latency_ms": {current.AvgLatencyMS, baseline.AvgLatencyMS},
		"avg_tokens_in":  {current.AvgTokensIn, baseline.AvgTokensIn},
		"avg_tokens_out": {current.AvgTokensOut, baseline.AvgTokensOut},
	} {
		cur, base := pair[0], pair[1]
		if base <= 0 {
			continue
		}
		pctChange := (cur - base) / base * 100
		drifted := math.Abs(pctChange) > m.cfg.DriftThresholdPercent

		report.MetricsComparison[name] = MetricComparison{
			Current:       cur,
			Baseline:      base,
			PercentChange: pctChange,
			Drift:         drifted,
		}
		if drifted {
			report.DriftDetected = true
		}
	}

	if report.DriftDetected {
		m.alerter.Send(ctx, AlertDrift, report)
	}
	return report, nil
}

// CheckSLA evaluates the trailing window against the configured
// thresholds. A missing metric value is compliant; any violation fires an
// alert and flips overall compliance.
func (m *Monitor) CheckSLA(ctx context.Context, windowMinutes int) (*SLAReport, error) {
	since := time.Now().UTC().Add(-time.Duration(windowMinutes) * time.Minute)
	st, err := m.ledger.CallStats(ctx, ledger.StatsFilter{Since: since})
	if err != nil {
		return nil, eris.Wrap(err, "observability: sla stats")
	}

	report := &SLAReport{
		Timestamp:        time.Now().UTC(),
		WindowMinutes:    windowMinutes,
		OverallCompliant: true,
		Checks:           make(map[string]SLACheck),
	}

	checks := []struct {
		name      string
		value     *float64
		threshold float64
		atLeast   bool
	}{
		{name: "success_rate", value: presentIf(st.SuccessRate, st.TotalCalls > 0), threshold: m.cfg.MinSuccessRate, atLeast: true},
		{name: "avg_latency_ms", value: presentIf(st.AvgLatencyMS, st.AvgLatencyMS > 0), threshold: m.cfg.MaxAvgLatencyMS},
	}

	for _, c := range checks {
		compliant := true
		if c.value != nil {
			if c.atLeast {
				compliant = *c.value >= c.threshold
			} else {
				compliant = *c.value <= c.threshold
			}
		}
		report.Checks[c.name] = SLACheck{Value: c.value, Threshold: c.threshold, Compliant: compliant}
		if !compliant {
			report.OverallCompliant = false
		}
	}

	if !report.OverallCompliant {
		m.alerter.Send(ctx, AlertSLAViolation, report)
	}
	return report, nil
}

// PrometheusText renders the summary in Prometheus text exposition format.
func (m *Monitor) PrometheusText(ctx context.Context, windowMinutes int) (string, error) {
	summary, err := m.Summary(ctx, windowMinutes)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	o := summary.Overall
	fmt.Fprintf(&b, "vecto_total_calls %d\n", o.TotalCalls)
	fmt.Fprintf(&b, "vecto_success_rate %g\n", o.SuccessRate)
	fmt.Fprintf(&b, "vecto_avg_latency_ms %g\n", o.AvgLatencyMS)
	fmt.Fprintf(&b, "vecto_total_tokens_in %d\n", o.TotalTokensIn)
	fmt.Fprintf(&b, "vecto_total_tokens_out %d\n", o.TotalTokensOut)

	for _, ct := range stageCallTypes {
		st := summary.ByStage[ct]
		fmt.Fprintf(&b, "vecto_stage_calls{stage=%q} %d\n", ct, st.TotalCalls)
		fmt.Fprintf(&b, "vecto_stage_success_rate{stage=%q} %g\n", ct, st.SuccessRate)
		fmt.Fprintf(&b, "vecto_stage_avg_latency_ms{stage=%q} %g\n", ct, st.AvgLatencyMS)
	}
	return b.String(), nil
}

func presentIf(v float64, ok bool) *float64 {
	if !ok {
		return nil
	}
	return &v
}
