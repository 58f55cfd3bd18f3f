package metrics

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func render(t *testing.T, r *Registry) string {
	t.Helper()
	var b strings.Builder
	require.NoError(t, r.WriteText(&b))
	return b.String()
}

func TestCounterExposition(t *testing.T) {
	r := NewRegistry()
	c := r.Counter("waf_requests_total", "Requests processed.", "method", "status")
	c.Inc("GET", "allowed")
	c.Inc("GET", "allowed")
	c.Inc("POST", "blocked")

	out := render(t, r)
	assert.Contains(t, out, "# HELP waf_requests_total Requests processed.")
	assert.Contains(t, out, "# TYPE waf_requests_total counter")
	assert.Contains(t, out, `waf_requests_total{method="GET",status="allowed"} 2`)
	assert.Contains(t, out, `waf_requests_total{method="POST",status="blocked"} 1`)
}

func TestGaugeSet(t *testing.T) {
	r := NewRegistry()
	g := r.Gauge("waf_blocked_ips", "Blocked IPs.")
	g.Set(12)
	g.Set(7)

	out := render(t, r)
	assert.Contains(t, out, "# TYPE waf_blocked_ips gauge")
	assert.Contains(t, out, "waf_blocked_ips 7\n")
	assert.Equal(t, 7.0, g.Value())
}

func TestHistogramBuckets(t *testing.T) {
	r := NewRegistry()
	h := r.Histogram("waf_request_duration_seconds", "Duration.", []float64{0.1, 0.5, 1}, "method")
	h.Observe(0.25, "GET")
	h.Observe(0.5, "GET")
	h.Observe(2.25, "GET")

	out := render(t, r)
	assert.Contains(t, out, "# TYPE waf_request_duration_seconds histogram")
	assert.Contains(t, out, `waf_request_duration_seconds_bucket{method="GET",le="0.1"} 0`)
	assert.Contains(t, out, `waf_request_duration_seconds_bucket{method="GET",le="0.5"} 2`)
	assert.Contains(t, out, `waf_request_duration_seconds_bucket{method="GET",le="1"} 2`)
	assert.Contains(t, out, `waf_request_duration_seconds_bucket{method="GET",le="+Inf"} 3`)
	assert.Contains(t, out, `waf_request_duration_seconds_count{method="GET"} 3`)
	assert.Contains(t, out, `waf_request_duration_seconds_sum{method="GET"} 3`)
}

func TestHistogramBoundaryValueCounted(t *testing.T) {
	r := NewRegistry()
	h := r.Histogram("d", "d", []float64{1, 2})
	h.Observe(1) // exactly on a bound lands in that bucket

	out := render(t, r)
	assert.Contains(t, out, `d_bucket{le="1"} 1`)
}

func TestSummaryQuantiles(t *testing.T) {
	r := NewRegistry()
	s := r.Summary("waf_score", "Score summary.")
	for i := 1; i <= 100; i++ {
		s.Observe(float64(i))
	}

	out := render(t, r)
	assert.Contains(t, out, "# TYPE waf_score summary")
	assert.Contains(t, out, `waf_score{quantile="0.5"} 50`)
	assert.Contains(t, out, `waf_score{quantile="0.9"} 90`)
	assert.Contains(t, out, `waf_score{quantile="0.99"} 99`)
	assert.Contains(t, out, "waf_score_count 100")
}

func TestRegistrationOrderPreserved(t *testing.T) {
	r := NewRegistry()
	r.Counter("first_total", "First.")
	r.Gauge("second", "Second.")

	out := render(t, r)
	assert.Less(t, strings.Index(out, "first_total"), strings.Index(out, "second"))
}

func TestDuplicateRegistrationReturnsSame(t *testing.T) {
	r := NewRegistry()
	a := r.Counter("x_total", "X.")
	b := r.Counter("x_total", "X.")
	a.Inc()
	b.Inc()
	assert.Equal(t, 2.0, a.Value())
}

func TestLabelEscaping(t *testing.T) {
	r := NewRegistry()
	c := r.Counter("x_total", "X.", "path")
	c.Inc(`/a"b\c`)

	out := render(t, r)
	assert.Contains(t, out, `path="/a\"b\\c"`)
}

func TestWAFFamiliesRegistered(t *testing.T) {
	w := NewWAF()
	w.Requests.Inc("GET", "allowed")
	w.Threats.Inc("xss", "high")
	w.Blocks.Inc("threat-score", "xss")
	w.LearningRequests.Inc("collecting")
	w.RuleMatches.Inc("builtin-ssti", "ssti")
	w.IPBlocks.Inc("rate limit violations")
	w.RateLimitHits.Inc("203.0.113.1")
	w.BlockedIPs.Set(3)
	w.LearningProgress.Set(0.5, "collecting")
	w.RulesEnabled.Set(12, "xss")
	w.RequestDuration.Observe(0.2, "GET", "allowed")

	out := render(t, w.Registry)
	for _, name := range []string{
		"waf_requests_total",
		"waf_threats_total",
		"waf_blocks_total",
		"waf_learning_requests_total",
		"waf_rule_matches_total",
		"waf_ip_blocks_total",
		"waf_rate_limit_hits_total",
		"waf_blocked_ips",
		"waf_learning_progress",
		"waf_rules_enabled",
		"waf_request_duration_seconds",
	} {
		assert.Contains(t, out, "# TYPE "+name+" ", name)
	}
}

func TestSeverityMapping(t *testing.T) {
	assert.Equal(t, "low", Severity(1))
	assert.Equal(t, "medium", Severity(3))
	assert.Equal(t, "high", Severity(5))
	assert.Equal(t, "critical", Severity(10))
}
