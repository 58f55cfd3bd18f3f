// Package waf composes the full request pipeline: extraction, signature
// engine, anomaly scoring, the learning phase gate, and the final verdict.
// Analysis errors fail open; only an explicit block verdict stops a request.
package waf

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/aegis-waf/aegis-go/internal/analysis"
	"github.com/aegis-waf/aegis-go/internal/anomaly"
	"github.com/aegis-waf/aegis-go/internal/engine"
	"github.com/aegis-waf/aegis-go/internal/events"
	"github.com/aegis-waf/aegis-go/internal/learning"
	"github.com/aegis-waf/aegis-go/internal/logstore"
	"github.com/aegis-waf/aegis-go/internal/metrics"
	"github.com/aegis-waf/aegis-go/internal/stats"
)

// Verdict actions.
const (
	ActionAllow    = "allow"
	ActionLearning = "learning"
	ActionDryRun   = "dry-run"
	ActionBlock    = "block"
)

// Verdict is the outcome of processing one request.
type Verdict struct {
	RequestID    string
	Action       string
	Score        float64
	AnomalyScore float64
	Threats      []analysis.Threat
	Reason       string
}

// Options toggle pipeline behavior.
type Options struct {
	Enabled   bool
	DryRun    bool
	Threshold float64
	SkipPaths []string
}

// Firewall is the pipeline orchestrator. One instance serves all requests.
type Firewall struct {
	opts    Options
	engine  *engine.Engine
	scorer  *anomaly.Scorer
	learner *learning.Learner
	stats   *stats.Collector
	metrics *metrics.WAF
	bus     *events.Bus
	logs    logstore.Store
	logger  *slog.Logger
}

// New assembles a firewall from its pipeline stages.
func New(opts Options, eng *engine.Engine, scorer *anomaly.Scorer, learner *learning.Learner,
	collector *stats.Collector, m *metrics.WAF, bus *events.Bus, logs logstore.Store, logger *slog.Logger) *Firewall {
	if opts.Threshold <= 0 {
		opts.Threshold = 10
	}
	return &Firewall{
		opts:    opts,
		engine:  eng,
		scorer:  scorer,
		learner: learner,
		stats:   collector,
		metrics: m,
		bus:     bus,
		logs:    logs,
		logger:  logger,
	}
}

// Process runs rec through the pipeline and returns the verdict. A panic in
// any stage is recovered into an allow verdict with an error event; the
// firewall never takes down the request path.
func (f *Firewall) Process(rec *analysis.Record) (v *Verdict) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("pipeline panicked",
				"panic", r,
				"path", rec.Path,
				"stack", string(debug.Stack()),
			)
			f.bus.Publish(events.Event{
				Type:    events.TypeError,
				IP:      rec.IP,
				Path:    rec.Path,
				Message: fmt.Sprintf("pipeline panic: %v", r),
			})
			v = &Verdict{Action: ActionAllow, Reason: "analysis failure"}
		}
	}()

	if !f.opts.Enabled {
		return &Verdict{Action: ActionAllow, Reason: "disabled"}
	}

	res := f.engine.Evaluate(rec)

	score := f.scorer.Evaluate(rec)
	if score.IsAnomaly {
		rec.AddThreat(analysis.Threat{
			Type:        "anomaly",
			Pattern:     "anomaly-score",
			Description: "request deviates from learned baseline",
			Score:       score.Total,
		})
		rec.Touch("anomaly")
	}

	v = &Verdict{
		RequestID:    res.RequestID,
		Score:        rec.Score,
		AnomalyScore: score.Total,
		Threats:      rec.Threats,
	}

	f.stats.RecordRequest(rec)
	for _, rm := range res.RuleMatches {
		f.metrics.RuleMatches.Inc(rm.RuleID, rm.Category)
	}
	for _, t := range rec.Threats {
		f.metrics.Threats.Inc(t.Type, metrics.Severity(t.Score))
	}

	// During learning every request is observed and allowed.
	if !f.learner.Enforcing() {
		f.learner.Observe(rec, rec.Score)
		f.scorer.Observe(rec)
		phase := f.learner.Phase().String()
		f.metrics.LearningRequests.Inc(phase)
		f.metrics.LearningProgress.Set(f.learner.Progress(), phase)
		if len(rec.Threats) > 0 {
			v.Action = ActionLearning
			v.Reason = "learning"
			f.record(rec, v)
			f.stats.RecordThreat(rec, stats.ActionLearning)
			f.publishThreat(rec, v)
			return v
		}
		v.Action = ActionAllow
		return v
	}

	if len(rec.Threats) == 0 {
		v.Action = ActionAllow
		return v
	}

	// Single decision point: block only when the combined score clears the
	// configured threshold.
	if rec.Score < f.opts.Threshold {
		v.Action = ActionAllow
		v.Reason = "below threshold"
		f.record(rec, v)
		f.publishThreat(rec, v)
		return v
	}

	if f.opts.DryRun {
		v.Action = ActionDryRun
		v.Reason = "dry run"
		f.record(rec, v)
		f.stats.RecordThreat(rec, stats.ActionDryRun)
		f.publishThreat(rec, v)
		return v
	}

	v.Action = ActionBlock
	v.Reason = blockReason(rec)
	f.record(rec, v)
	f.stats.RecordThreat(rec, stats.ActionBlocked)
	f.metrics.Blocks.Inc(v.Reason, primaryModule(rec))
	f.bus.Publish(events.Event{
		Type:      events.TypeRequestBlocked,
		RequestID: v.RequestID,
		IP:        rec.IP,
		Method:    rec.Method,
		Path:      rec.Path,
		Score:     rec.Score,
		Action:    v.Action,
		Message:   v.Reason,
		Threats:   rec.Threats,
	})
	return v
}

func (f *Firewall) publishThreat(rec *analysis.Record, v *Verdict) {
	f.bus.Publish(events.Event{
		Type:      events.TypeThreatDetected,
		RequestID: v.RequestID,
		IP:        rec.IP,
		Method:    rec.Method,
		Path:      rec.Path,
		Score:     rec.Score,
		Action:    v.Action,
		Threats:   rec.Threats,
	})
}

func (f *Firewall) record(rec *analysis.Record, v *Verdict) {
	if f.logs == nil {
		return
	}
	err := f.logs.Append(context.Background(), logstore.Entry{
		RequestID:    v.RequestID,
		Timestamp:    rec.Timestamp,
		IP:           rec.IP,
		Method:       rec.Method,
		Path:         rec.Path,
		UserAgent:    rec.UserAgent,
		Score:        rec.Score,
		AnomalyScore: v.AnomalyScore,
		Action:       v.Action,
		Threats:      rec.Threats,
	})
	if err != nil {
		f.logger.Warn("log append failed", "err", err)
	}
}

func blockReason(rec *analysis.Record) string {
	for _, t := range rec.Threats {
		if t.Type == "ip-blocked" {
			return "ip-blocked"
		}
	}
	for _, t := range rec.Threats {
		if t.Type == "rate-limit" {
			return "rate-limit"
		}
	}
	return "threat-score"
}

func primaryModule(rec *analysis.Record) string {
	if len(rec.Modules) > 0 {
		return rec.Modules[0]
	}
	return "rules"
}

func skipPath(paths []string, p string) bool {
	for _, s := range paths {
		if s == p {
			return true
		}
	}
	return false
}

// Middleware wraps next with the firewall. Skip-listed paths bypass the
// pipeline entirely; blocked requests get a 403 JSON body.
func (f *Firewall) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if skipPath(f.opts.SkipPaths, r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := analysis.FromRequest(r)
		v := f.Process(rec)
		status := "allowed"
		if v.Action == ActionBlock {
			status = "blocked"
		}
		f.metrics.Requests.Inc(r.Method, status)
		f.metrics.RequestDuration.Observe(time.Since(start).Seconds(), r.Method, status)

		if v.Action != ActionBlock {
			next.ServeHTTP(w, r)
			return
		}

		writeBlocked(w, rec, v)
	})
}

func writeBlocked(w http.ResponseWriter, rec *analysis.Record, v *Verdict) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":        "request blocked",
		"reason":       v.Reason,
		"requestId":    v.RequestID,
		"score":        v.Score,
		"anomalyScore": v.AnomalyScore,
		"threats":      v.Threats,
		"timestamp":    rec.Timestamp.Format(time.RFC3339),
	})
}
