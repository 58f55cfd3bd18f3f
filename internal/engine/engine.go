// Package engine aggregates the signature side of the pipeline: it runs the
// configured detection modules and the flat rule set over a request record
// and produces the cumulative signature score. The block decision itself is
// made once, downstream, after the anomaly score joins in.
package engine

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/aegis-waf/aegis-go/internal/analysis"
	"github.com/aegis-waf/aegis-go/internal/modules"
	"github.com/aegis-waf/aegis-go/internal/rules"
)

// Result is the signature verdict for one request.
type Result struct {
	RequestID    string
	Score        float64
	Threats      []analysis.Threat
	RuleMatches  []RuleMatch
	ModuleScores map[string]float64
}

// RuleMatch records which flat rule fired, for the rule-match metric.
type RuleMatch struct {
	RuleID   string
	Category string
	Score    float64
}

// Engine evaluates modules and flat rules. It holds no per-request state;
// one instance serves all requests concurrently.
type Engine struct {
	modules []modules.Module
	rules   *rules.Manager
	logger  *slog.Logger
}

// New creates an engine over the given module chain and rule manager.
func New(mods []modules.Module, rm *rules.Manager, logger *slog.Logger) *Engine {
	return &Engine{modules: mods, rules: rm, logger: logger}
}

// Evaluate runs every module and every enabled flat rule against rec,
// accumulating threats and score onto the record. Rule evaluation order is
// unspecified.
func (e *Engine) Evaluate(rec *analysis.Record) *Result {
	res := &Result{
		RequestID:    newRequestID(),
		ModuleScores: make(map[string]float64, len(e.modules)),
	}

	for _, mod := range e.modules {
		mr := mod.Analyze(rec)
		if mr == nil {
			continue
		}
		res.ModuleScores[mr.Module] = mr.Score
		for _, t := range mr.Threats {
			rec.AddThreat(t)
		}
	}

	if e.rules != nil {
		fields := modules.Surface(rec)
		for _, rule := range e.rules.Enabled() {
			for _, f := range fields {
				if !rule.Match(f.Text) {
					continue
				}
				rec.AddThreat(analysis.Threat{
					Type:        rule.Category,
					Pattern:     rule.ID,
					Description: rule.Name,
					Score:       rule.Score,
					Excerpt:     analysis.Excerpt(f.Text),
				})
				res.RuleMatches = append(res.RuleMatches, RuleMatch{
					RuleID:   rule.ID,
					Category: rule.Category,
					Score:    rule.Score,
				})
			}
		}
	}

	res.Score = rec.Score
	res.Threats = rec.Threats
	return res
}

// newRequestID returns a time-ordered unique id. UUIDv7 embeds a millisecond
// timestamp, so ids are monotonic in time across requests.
func newRequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
