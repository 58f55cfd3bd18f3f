package learning

import (
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-waf/aegis-go/internal/analysis"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestLearner(period time.Duration) (*Learner, *time.Time) {
	l := New(period, testLogger())
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	l.SetNow(func() time.Time { return now })
	return l, &now
}

func sample(ip string, score float64) *analysis.Record {
	rec := &analysis.Record{
		Timestamp: time.Now(),
		IP:        ip,
		Method:    "GET",
		Path:      "/home",
		Body:      "payload",
	}
	if score > 0 {
		rec.AddThreat(analysis.Threat{Type: "xss", Pattern: "p", Score: score})
	}
	return rec
}

func TestPhaseProgression(t *testing.T) {
	l, now := newTestLearner(10 * time.Hour)
	assert.Equal(t, Collecting, l.Phase())
	assert.False(t, l.Enforcing())

	*now = now.Add(5 * time.Hour)
	l.Tick()
	assert.Equal(t, Collecting, l.Phase(), "below the 60% boundary")

	*now = now.Add(1 * time.Hour) // 60%
	l.Tick()
	assert.Equal(t, Analyzing, l.Phase())

	*now = now.Add(2 * time.Hour) // 80%
	l.Tick()
	assert.Equal(t, Adapting, l.Phase())

	*now = now.Add(2 * time.Hour) // 100%
	l.Tick()
	assert.Equal(t, Protecting, l.Phase())
	assert.True(t, l.Enforcing())
	assert.Equal(t, 1.0, l.Progress())
}

func TestSkippedTicksStillReachTerminal(t *testing.T) {
	// A single late tick walks through every transition.
	l, now := newTestLearner(10 * time.Hour)
	l.Observe(sample("203.0.113.1", 4), 4)

	*now = now.Add(11 * time.Hour)
	l.Tick()
	assert.Equal(t, Protecting, l.Phase())

	report := l.StatusReport()
	require.NotNil(t, report.Profile, "analysis ran despite the jump")
	require.NotNil(t, report.Thresholds)
}

func TestNewDisabledBootsProtecting(t *testing.T) {
	l := NewDisabled(testLogger())
	assert.Equal(t, Protecting, l.Phase())
	assert.True(t, l.Enforcing())
	assert.Equal(t, 1.0, l.Progress())
}

func TestObserveStopsAfterAnalyzing(t *testing.T) {
	l, now := newTestLearner(10 * time.Hour)
	l.Observe(sample("203.0.113.1", 0), 0)
	*now = now.Add(9 * time.Hour)
	l.Tick()
	require.Equal(t, Adapting, l.Phase())

	l.Observe(sample("203.0.113.2", 0), 0)
	assert.Equal(t, 1, l.requests.Len(), "adapting phase no longer buffers")
}

func TestBufferCapEnforced(t *testing.T) {
	l, _ := newTestLearner(10 * time.Hour)
	for i := 0; i < BufferCap+500; i++ {
		l.Observe(sample(fmt.Sprintf("10.0.%d.%d", i/256, i%256), 0), 0)
	}
	assert.Equal(t, BufferCap, l.requests.Len())
}

func TestThresholdFloors(t *testing.T) {
	// A single low score everywhere keeps every percentile at the floor.
	l, now := newTestLearner(10 * time.Hour)
	for i := 0; i < 20; i++ {
		l.Observe(sample("203.0.113.1", 0.5), 0.5)
	}
	*now = now.Add(11 * time.Hour)
	l.Tick()

	th := l.StatusReport().Thresholds
	require.NotNil(t, th)
	assert.Equal(t, 1.0, th.Low)
	assert.Equal(t, 3.0, th.Medium)
	assert.Equal(t, 5.0, th.High)
	assert.Equal(t, 10.0, th.Critical)
}

func TestThresholdPercentiles(t *testing.T) {
	l, now := newTestLearner(10 * time.Hour)
	// Scores 1..100: p50=50, p75=75, p90=90, p95=95.
	for i := 1; i <= 100; i++ {
		l.Observe(sample("203.0.113.1", float64(i)), float64(i))
	}
	*now = now.Add(11 * time.Hour)
	l.Tick()

	th := l.StatusReport().Thresholds
	require.NotNil(t, th)
	assert.Equal(t, 50.0, th.Low)
	assert.Equal(t, 75.0, th.Medium)
	assert.Equal(t, 90.0, th.High)
	assert.Equal(t, 95.0, th.Critical)
}

func TestAdaptations(t *testing.T) {
	l, now := newTestLearner(10 * time.Hour)
	for i := 0; i < 30; i++ {
		rec := sample("203.0.113.1", 0)
		rec.AddThreat(analysis.Threat{Type: "sqli", Pattern: "union-select", Score: 4})
		l.Observe(rec, 4)
	}
	*now = now.Add(11 * time.Hour)
	l.Tick()

	report := l.StatusReport()
	kinds := make(map[string]Adaptation)
	for _, a := range report.Adaptations {
		kinds[a.Kind] = a
	}
	require.Contains(t, kinds, "ip-frequency-threshold")
	assert.Equal(t, 90.0, kinds["ip-frequency-threshold"].Value, "three times the per-IP mean of 30")
	require.Contains(t, kinds, "body-size-threshold")
	require.Contains(t, kinds, "custom-rule-suggestion")
	assert.Equal(t, "sqli", kinds["custom-rule-suggestion"].ThreatType)
}

func TestStatusReportDuringCollecting(t *testing.T) {
	l, now := newTestLearner(10 * time.Hour)
	*now = now.Add(2 * time.Hour)
	r := l.StatusReport()
	assert.Equal(t, "collecting", r.Phase)
	assert.InDelta(t, 0.2, r.Progress, 1e-9)
	assert.Nil(t, r.Profile)
	assert.Nil(t, r.Thresholds)
}

func TestRingEviction(t *testing.T) {
	r := NewRing[int](3)
	for i := 1; i <= 5; i++ {
		r.Push(i)
	}
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []int{3, 4, 5}, r.Items())
}
