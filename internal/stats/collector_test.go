package stats

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-waf/aegis-go/internal/analysis"
)

func testRecord(ip string) *analysis.Record {
	rec := &analysis.Record{
		Timestamp: time.Now(),
		IP:        ip,
		Method:    "GET",
		Path:      "/search",
	}
	return rec
}

func threatRecord(ip string) *analysis.Record {
	rec := testRecord(ip)
	rec.Touch("xss")
	rec.AddThreat(analysis.Threat{Type: "xss", Pattern: "script-tag", Score: 3})
	return rec
}

func newTestCollector() (*Collector, *time.Time) {
	c := New(true, 7)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	c.SetNow(func() time.Time { return now })
	c.Reset() // rebase the since timestamp onto the fixed clock
	return c, &now
}

func TestRecordAndSnapshot(t *testing.T) {
	c, _ := newTestCollector()

	for i := 0; i < 10; i++ {
		c.RecordRequest(testRecord("203.0.113.1"))
	}
	c.RecordRequest(threatRecord("203.0.113.2"))
	c.RecordThreat(threatRecord("203.0.113.2"), ActionBlocked)
	c.RecordThreat(threatRecord("203.0.113.3"), ActionDryRun)

	snap := c.Snapshot()
	assert.EqualValues(t, 11, snap.TotalRequests)
	assert.EqualValues(t, 1, snap.BlockedRequests)
	assert.EqualValues(t, 2, snap.ThreatsDetected)
	assert.InDelta(t, 1.0/11.0, snap.BlockRate, 1e-9)
	assert.InDelta(t, 2.0/11.0, snap.ThreatRate, 1e-9)
	assert.EqualValues(t, 2, snap.ByModule["xss"])
	assert.EqualValues(t, 2, snap.ByThreatType["xss"])

	require.NotEmpty(t, snap.TopIPs)
	assert.Equal(t, "203.0.113.1", snap.TopIPs[0].Key)
	assert.EqualValues(t, 10, snap.TopIPs[0].Count)
}

func TestLearningAction(t *testing.T) {
	c, _ := newTestCollector()
	c.RecordThreat(threatRecord("203.0.113.1"), ActionLearning)
	snap := c.Snapshot()
	assert.EqualValues(t, 1, snap.LearningRequests)
	assert.EqualValues(t, 0, snap.BlockedRequests)
}

func TestTimeBuckets(t *testing.T) {
	c, now := newTestCollector()

	c.RecordRequest(testRecord("203.0.113.1"))
	c.RecordThreat(threatRecord("203.0.113.1"), ActionBlocked)

	*now = now.Add(time.Hour)
	c.RecordRequest(testRecord("203.0.113.1"))

	snap := c.Snapshot()
	assert.Len(t, snap.Hourly, 2)
	assert.Len(t, snap.Daily, 1)

	first := snap.Hourly["2026-03-10T12"]
	assert.EqualValues(t, 1, first.Requests)
	assert.EqualValues(t, 1, first.Threats)
	assert.EqualValues(t, 1, first.Blocked)

	day := snap.Daily["2026-03-10"]
	assert.EqualValues(t, 2, day.Requests)
}

func TestPruneDropsOldBuckets(t *testing.T) {
	c, now := newTestCollector()
	c.RecordRequest(testRecord("203.0.113.1"))

	*now = now.Add(10 * 24 * time.Hour)
	c.RecordRequest(testRecord("203.0.113.1"))

	removed := c.Prune()
	assert.Equal(t, 2, removed, "one hourly and one daily bucket expired")

	snap := c.Snapshot()
	assert.Len(t, snap.Hourly, 1)
	assert.Len(t, snap.Daily, 1)
}

func TestReset(t *testing.T) {
	c, _ := newTestCollector()
	c.RecordRequest(testRecord("203.0.113.1"))
	c.RecordThreat(threatRecord("203.0.113.1"), ActionBlocked)
	c.Reset()

	snap := c.Snapshot()
	assert.Zero(t, snap.TotalRequests)
	assert.Zero(t, snap.ThreatsDetected)
	assert.Empty(t, snap.ByModule)
	assert.Empty(t, snap.Hourly)
}

func TestDisabledCollectorIsNoop(t *testing.T) {
	c := New(false, 7)
	c.RecordRequest(testRecord("203.0.113.1"))
	c.RecordThreat(threatRecord("203.0.113.1"), ActionBlocked)
	snap := c.Snapshot()
	assert.Zero(t, snap.TotalRequests)
	assert.Zero(t, snap.ThreatsDetected)
}

func TestPerIPTableBounded(t *testing.T) {
	c, _ := newTestCollector()
	for i := 0; i < ipCap+100; i++ {
		c.RecordRequest(testRecord(fmt.Sprintf("10.%d.%d.%d", i/65536, (i/256)%256, i%256)))
	}
	snap := c.Snapshot()
	assert.EqualValues(t, ipCap+100, snap.TotalRequests, "requests count past the table cap")
	c.mu.Lock()
	assert.LessOrEqual(t, len(c.byIP), ipCap)
	c.mu.Unlock()
}
