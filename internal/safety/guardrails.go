package safety

import (
	"bufio"
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/vecto-labs/triad-cli/internal/config"
	"github.com/vecto-labs/triad-cli/internal/model"
)

const (
	actionPromotion   = "model_promotion"
	actionRollback    = "emergency_rollback"
	actionTokenSet    = "release_token_set"
	defaultHistoryCap = 100
)

// PromotionRequest asks to move a model between deployment stages.
type PromotionRequest struct {
	ModelID      string             `json:"model_id"`
	From         Stage              `json:"from_stage"`
	To           Stage              `json:"to_stage"`
	ReleaseToken string             `json:"release_token,omitempty"`
	EvalMetrics  *model.EvalMetrics `json:"evaluation_metrics,omitempty"`
}

// Promotion is a successful stage transition.
type Promotion struct {
	ModelID           string             `json:"model_id"`
	FromStage         Stage              `json:"from_stage"`
	ToStage           Stage              `json:"to_stage"`
	PromotedAt        time.Time          `json:"promoted_at"`
	EvalMetrics       *model.EvalMetrics `json:"evaluation_metrics,omitempty"`
	TrafficPercentage int                `json:"traffic_percentage"`
}

// RollbackAction is a completed emergency rollback.
type RollbackAction struct {
	ModelID           string    `json:"model_id"`
	Reason            string    `json:"reason"`
	RolledBackAt      time.Time `json:"rolled_back_at"`
	TrafficPercentage int       `json:"traffic_percentage"`
}

// AuditEntry is one line of the append-only audit log.
type AuditEntry struct {
	Timestamp time.Time       `json:"timestamp"`
	Action    string          `json:"action"`
	User      string          `json:"user"`
	Details   json.RawMessage `json:"details"`
}

// ReadinessCheck is one threshold check against evaluation metrics.
type ReadinessCheck struct {
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
	Passed    bool    `json:"passed"`
}

// Readiness is an advisory pre-promotion report. Only the hard checks
// flip Ready; latency issues surface as warnings.
type Readiness struct {
	Ready    bool                      `json:"ready"`
	Checks   map[string]ReadinessCheck `json:"checks"`
	Warnings []string                  `json:"warnings"`
}

// Guardrails enforces the promotion state machine and writes the audit
// trail.
type Guardrails struct {
	cfg config.SafetyConfig
	mu  sync.Mutex
}

// NewGuardrails creates a Guardrails instance.
func NewGuardrails(cfg config.SafetyConfig) *Guardrails {
	return &Guardrails{cfg: cfg}
}

// Promote moves a model one step along the promotion path. All
// requirement checks run before any side effect; success appends exactly
// one audit entry.
func (g *Guardrails) Promote(ctx context.Context, req PromotionRequest) (*Promotion, error) {
	if !transitionAllowed(req.From, req.To) {
		return nil, &InvalidTransitionError{From: req.From, To: req.To}
	}

	switch req.To {
	case StageCanary, StageStaged, StageProduction:
		if req.EvalMetrics == nil {
			return nil, &MissingEvaluationError{To: req.To}
		}
	}

	if req.To == StageProduction {
		if req.ReleaseToken == "" || !g.verifyReleaseToken(req.ReleaseToken) {
			return nil, &UnauthorizedPromotionError{}
		}
	}

	promotion := &Promotion{
		ModelID:           req.ModelID,
		FromStage:         req.From,
		ToStage:           req.To,
		PromotedAt:        time.Now().UTC(),
		EvalMetrics:       req.EvalMetrics,
		TrafficPercentage: TrafficPercentage(req.To),
	}

	if err := g.audit(actionPromotion, promotion); err != nil {
		return nil, err
	}

	zap.L().Info("model promoted",
		zap.String("model_id", req.ModelID),
		zap.String("from", string(req.From)),
		zap.String("to", string(req.To)),
		zap.Int("traffic_percentage", promotion.TrafficPercentage),
	)
	return promotion, nil
}

// Rollback is always permitted from any active stage. The reason is
// mandatory and recorded in the audit trail.
func (g *Guardrails) Rollback(ctx context.Context, modelID, reason string) (*RollbackAction, error) {
	if reason == "" {
		return nil, eris.New("safety: rollback reason required")
	}

	action := &RollbackAction{
		ModelID:           modelID,
		Reason:            reason,
		RolledBackAt:      time.Now().UTC(),
		TrafficPercentage: TrafficPercentage(StageRollback),
	}

	if err := g.audit(actionRollback, action); err != nil {
		return nil, err
	}

	zap.L().Warn("emergency rollback",
		zap.String("model_id", modelID),
		zap.String("reason", reason),
	)
	return action, nil
}

// History returns deployment audit entries newest-first, optionally
// filtered by model ID.
func (g *Guardrails) History(modelID string, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = defaultHistoryCap
	}

	f, err := os.Open(g.cfg.AuditLogPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "safety: open audit log")
	}
	defer f.Close() //nolint:errcheck

	var entries []AuditEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry AuditEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return nil, eris.Wrap(err, "safety: parse audit entry")
		}
		if entry.Action != actionPromotion && entry.Action != actionRollback {
			continue
		}
		if modelID != "" && auditModelID(entry) != modelID {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, eris.Wrap(err, "safety: read audit log")
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// CurrentStage derives a model's stage from its most recent audit entry.
// Models with no history are in development.
func (g *Guardrails) CurrentStage(modelID string) (Stage, error) {
	entries, err := g.History(modelID, 1)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return StageDevelopment, nil
	}
	if entries[0].Action == actionRollback {
		return StageRollback, nil
	}

	var p Promotion
	if err := json.Unmarshal(entries[0].Details, &p); err != nil {
		return "", eris.Wrap(err, "safety: parse promotion details")
	}
	return p.ToStage, nil
}

// CheckReadiness evaluates metrics against fixed deployment thresholds.
// Advisory only: Promote does not re-enforce these.
func (g *Guardrails) CheckReadiness(m model.EvalMetrics) *Readiness {
	r := &Readiness{
		Ready:  true,
		Checks: make(map[string]ReadinessCheck),
	}

	r.Checks["success_rate"] = ReadinessCheck{
		Value:     m.SuccessRate,
		Threshold: 0.95,
		Passed:    m.SuccessRate >= 0.95,
	}
	if m.SuccessRate < 0.95 {
		r.Ready = false
	}

	latency := 0.0
	if m.AvgLatencyMS != nil {
		latency = *m.AvgLatencyMS
	}
	r.Checks["latency"] = ReadinessCheck{
		Value:     latency,
		Threshold: 90000,
		Passed:    latency <= 90000,
	}
	if latency > 90000 {
		r.Warnings = append(r.Warnings, "High latency detected")
	}

	r.Checks["json_validity"] = ReadinessCheck{
		Value:     m.JSONValidityRate,
		Threshold: 0.98,
		Passed:    m.JSONValidityRate >= 0.98,
	}
	if m.JSONValidityRate < 0.98 {
		r.Ready = false
	}

	return r
}

// SetReleaseToken stores the SHA-256 digest of the token (never the token
// itself) and audits the change.
func (g *Guardrails) SetReleaseToken(token string) error {
	if g.cfg.ReleaseTokenDigestPath == "" {
		return eris.New("safety: release token digest path not configured")
	}
	if err := os.MkdirAll(filepath.Dir(g.cfg.ReleaseTokenDigestPath), 0o755); err != nil {
		return eris.Wrap(err, "safety: create digest dir")
	}
	digest := sha256Hex(token)
	if err := os.WriteFile(g.cfg.ReleaseTokenDigestPath, []byte(digest+"\n"), 0o600); err != nil {
		return eris.Wrap(err, "safety: write token digest")
	}
	return g.audit(actionTokenSet, map[string]any{"digest_path": g.cfg.ReleaseTokenDigestPath})
}

// verifyReleaseToken compares digests in constant time.
func (g *Guardrails) verifyReleaseToken(token string) bool {
	expected := g.configuredDigest()
	if expected == "" {
		zap.L().Warn("safety: no release token configured")
		return false
	}
	got := sha256Hex(token)
	return subtle.ConstantTimeCompare([]byte(got), []byte(strings.ToLower(expected))) == 1
}

func (g *Guardrails) configuredDigest() string {
	if g.cfg.ReleaseTokenDigest != "" {
		return g.cfg.ReleaseTokenDigest
	}
	if g.cfg.ReleaseTokenDigestPath == "" {
		return ""
	}
	b, err := os.ReadFile(g.cfg.ReleaseTokenDigestPath)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

// audit appends one JSONL entry. Appends are serialized so concurrent
// promotions cannot interleave lines.
func (g *Guardrails) audit(action string, details any) error {
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return eris.Wrap(err, "safety: marshal audit details")
	}
	entry := AuditEntry{
		Timestamp: time.Now().UTC(),
		Action:    action,
		User:      "system",
		Details:   detailsJSON,
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return eris.Wrap(err, "safety: marshal audit entry")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(g.cfg.AuditLogPath), 0o755); err != nil {
		return eris.Wrap(err, "safety: create audit dir")
	}
	f, err := os.OpenFile(g.cfg.AuditLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return eris.Wrap(err, "safety: open audit log")
	}
	defer f.Close() //nolint:errcheck

	if _, err := f.Write(append(line, '\n')); err != nil {
		return eris.Wrap(err, "safety: append audit entry")
	}
	return nil
}

func auditModelID(entry AuditEntry) string {
	var d struct {
		ModelID string `json:"model_id"`
	}
	if err := json.Unmarshal(entry.Details, &d); err != nil {
		return ""
	}
	return d.ModelID
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
