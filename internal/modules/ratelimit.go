package modules

import (
	"github.com/aegis-waf/aegis-go/internal/analysis"
	"github.com/aegis-waf/aegis-go/internal/metrics"
	"github.com/aegis-waf/aegis-go/internal/ratelimit"
)

// RateLimit adapts the stateful limiter to the module contract so that
// rate-limit and IP-block verdicts flow through the same threat list as the
// signature scanners. It sees the limiter outcome for every request, so it
// also feeds the per-IP hit and block counters.
type RateLimit struct {
	limiter *ratelimit.Limiter
	metrics *metrics.WAF
}

func NewRateLimit(l *ratelimit.Limiter, m *metrics.WAF) *RateLimit {
	return &RateLimit{limiter: l, metrics: m}
}

func (m *RateLimit) Name() string { return "ratelimit" }

func (m *RateLimit) Analyze(rec *analysis.Record) *Result {
	rec.Touch("ratelimit")

	out := m.limiter.Check(rec.IP)
	if out.Exceeded {
		m.metrics.RateLimitHits.Inc(rec.IP)
	}
	if out.Exceeded && out.Blocked {
		// This breach crossed maxViolations and engaged a new block.
		m.metrics.IPBlocks.Inc("rate-limit")
		m.metrics.BlockedIPs.Set(float64(m.limiter.BlockedCount()))
	}

	switch {
	case out.Blocked:
		t := analysis.Threat{
			Type:        "ip-blocked",
			Pattern:     "ip-blocked",
			Description: "IP address is blocked",
			Score:       10,
			Excerpt:     rec.IP,
		}
		return &Result{Module: "ratelimit", Score: t.Score, Threats: []analysis.Threat{t}}
	case out.Exceeded:
		t := analysis.Threat{
			Type:        "rate-limit",
			Pattern:     "rate-limit-exceeded",
			Description: "Rate limit exceeded",
			Score:       5,
			Excerpt:     rec.IP,
		}
		return &Result{Module: "ratelimit", Score: t.Score, Threats: []analysis.Threat{t}}
	}
	return nil
}
