// Package observability derives health, drift, and SLA signals from the
// event ledger and raises best-effort alerts.
package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertDrift        AlertType = "drift"
	AlertSLAViolation AlertType = "sla_violation"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// Alerter delivers alerts to a webhook and the log. Delivery is best
// effort: failures are logged and never propagated to the caller.
type Alerter struct {
	webhookURL string
	client     *http.Client
}

// NewAlerter creates an Alerter. An empty webhook URL disables webhook
// delivery; alerts are still logged.
func NewAlerter(webhookURL string) *Alerter {
	return &Alerter{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Send logs the alert and posts it to the webhook if one is configured.
func (a *Alerter) Send(ctx context.Context, alertType AlertType, data any) {
	alert := Alert{
		Type:      alertType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	zap.L().Warn("observability: alert triggered", zap.String("type", string(alertType)))

	if a.webhookURL == "" {
		return
	}
	if err := a.sendWebhook(ctx, alert); err != nil {
		zap.L().Error("observability: failed to send alert",
			zap.String("type", string(alertType)),
			zap.Error(err),
		)
		return
	}
	zap.L().Info("observability: alert sent", zap.String("type", string(alertType)))
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "observability: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "observability: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "observability: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("observability: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
