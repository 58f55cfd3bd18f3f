package modules

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-waf/aegis-go/internal/analysis"
	"github.com/aegis-waf/aegis-go/internal/metrics"
	"github.com/aegis-waf/aegis-go/internal/ratelimit"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTraversalSensitiveFile(t *testing.T) {
	rec := &analysis.Record{
		Timestamp: time.Now(),
		IP:        "203.0.113.10",
		Method:    "GET",
		Path:      "/files",
		Query:     map[string][]string{"name": {"../../etc/passwd"}},
	}
	res := NewPathTraversal().Analyze(rec)
	require.NotNil(t, res)

	ids := patternIDs(res)
	assert.True(t, ids["dot-dot"])
	assert.True(t, ids["unix-sensitive-file"])
	assert.True(t, ids["traversal-file-read"])
	assert.Equal(t, 10.0, res.Score)
}

func TestTraversalEncoded(t *testing.T) {
	rec := queryRecord("name", "%2e%2e%2fconfig")
	res := NewPathTraversal().Analyze(rec)
	require.NotNil(t, res)
	assert.True(t, patternIDs(res)["encoded-dot-dot"])
}

func TestTraversalScansPath(t *testing.T) {
	rec := &analysis.Record{
		Timestamp: time.Now(),
		IP:        "203.0.113.10",
		Method:    "GET",
		Path:      "/static/../../../etc/shadow",
	}
	res := NewPathTraversal().Analyze(rec)
	require.NotNil(t, res)
	assert.True(t, patternIDs(res)["unix-sensitive-file"])
}

func TestCmdInjectionChain(t *testing.T) {
	rec := queryRecord("host", "example.com; cat /etc/hosts")
	res := NewCmdInjection().Analyze(rec)
	require.NotNil(t, res)
	assert.True(t, patternIDs(res)["chained-command"])
}

func TestCmdInjectionSubstitutedExec(t *testing.T) {
	rec := queryRecord("arg", "system($(whoami))")
	res := NewCmdInjection().Analyze(rec)
	require.NotNil(t, res)

	ids := patternIDs(res)
	assert.True(t, ids["command-substitution"])
	assert.True(t, ids["exec-function"])
	assert.True(t, ids["substituted-exec"])
	assert.Equal(t, 9.0, res.Score)
}

func TestNoSQLiOperator(t *testing.T) {
	rec := &analysis.Record{
		Timestamp:      time.Now(),
		IP:             "203.0.113.10",
		Method:         "POST",
		Path:           "/login",
		StructuredBody: map[string]any{"username": map[string]any{"$ne": nil}},
	}
	res := NewNoSQLi().Analyze(rec)
	require.NotNil(t, res)
	assert.True(t, patternIDs(res)["operator-injection"])
}

func TestNoSQLiWhereJavaScript(t *testing.T) {
	rec := queryRecord("filter", `{"$where": "this.password == 'x'"}`)
	res := NewNoSQLi().Analyze(rec)
	require.NotNil(t, res)

	ids := patternIDs(res)
	assert.True(t, ids["where-clause"])
	assert.True(t, ids["js-expression"])
	assert.True(t, ids["where-javascript"])
	assert.Equal(t, 9.0, res.Score)
}

func TestRateLimitModuleExceeded(t *testing.T) {
	limiter := ratelimit.New(ratelimit.Config{
		Window:          time.Minute,
		Max:             2,
		BlockDuration:   time.Hour,
		MaxViolations:   100,
		BlockingEnabled: false,
	}, testLogger())
	m := metrics.NewWAF()
	mod := NewRateLimit(limiter, m)

	rec := queryRecord("q", "hello")
	assert.Nil(t, mod.Analyze(rec))
	assert.Nil(t, mod.Analyze(rec))
	assert.Zero(t, m.RateLimitHits.Value("203.0.113.10"))

	res := mod.Analyze(rec)
	require.NotNil(t, res)
	require.Len(t, res.Threats, 1)
	assert.Equal(t, "rate-limit", res.Threats[0].Type)
	assert.Equal(t, "rate-limit-exceeded", res.Threats[0].Pattern)
	assert.Equal(t, 5.0, res.Score)
	assert.Equal(t, 1.0, m.RateLimitHits.Value("203.0.113.10"), "window breach feeds the per-IP counter")
}

func TestRateLimitModuleBlocked(t *testing.T) {
	limiter := ratelimit.New(ratelimit.Config{
		Window:          time.Minute,
		Max:             100,
		BlockDuration:   time.Hour,
		MaxViolations:   5,
		BlockingEnabled: true,
	}, testLogger())
	limiter.BlockIP("203.0.113.10", "manual", time.Hour)

	res := NewRateLimit(limiter, metrics.NewWAF()).Analyze(queryRecord("q", "hello"))
	require.NotNil(t, res)
	require.Len(t, res.Threats, 1)
	assert.Equal(t, "ip-blocked", res.Threats[0].Type)
	assert.Equal(t, 10.0, res.Score)
}

func TestRateLimitModulePromotionFeedsBlockMetrics(t *testing.T) {
	limiter := ratelimit.New(ratelimit.Config{
		Window:          time.Minute,
		Max:             1,
		BlockDuration:   time.Hour,
		MaxViolations:   2,
		BlockingEnabled: true,
	}, testLogger())
	m := metrics.NewWAF()
	mod := NewRateLimit(limiter, m)

	rec := queryRecord("q", "hello")
	assert.Nil(t, mod.Analyze(rec))

	// First breach: a hit, no block yet.
	res := mod.Analyze(rec)
	require.NotNil(t, res)
	assert.Equal(t, "rate-limit", res.Threats[0].Type)
	assert.Zero(t, m.IPBlocks.Value("rate-limit"))

	// Second breach crosses maxViolations and engages the block.
	res = mod.Analyze(rec)
	require.NotNil(t, res)
	assert.Equal(t, "ip-blocked", res.Threats[0].Type)
	assert.Equal(t, 2.0, m.RateLimitHits.Value("203.0.113.10"))
	assert.Equal(t, 1.0, m.IPBlocks.Value("rate-limit"))
	assert.Equal(t, 1.0, m.BlockedIPs.Value())

	// Requests from an already-blocked IP are not new blocks.
	res = mod.Analyze(rec)
	require.NotNil(t, res)
	assert.Equal(t, "ip-blocked", res.Threats[0].Type)
	assert.Equal(t, 1.0, m.IPBlocks.Value("rate-limit"))
	assert.Equal(t, 2.0, m.RateLimitHits.Value("203.0.113.10"))
}
