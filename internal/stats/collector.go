// Package stats accumulates traffic and threat counters for the admin API:
// totals, per-module and per-type breakdowns, per-IP counts, and bounded
// hourly and daily time buckets.
package stats

import (
	"sort"
	"sync"
	"time"

	"github.com/aegis-waf/aegis-go/internal/analysis"
)

// Action is the disposition recorded alongside a threat.
type Action string

const (
	ActionLearning Action = "learning"
	ActionDryRun   Action = "dry-run"
	ActionBlocked  Action = "blocked"
)

// ipCap bounds the per-IP table so a scan across many source addresses
// cannot grow it without limit.
const ipCap = 10000

// Bucket is one hourly or daily aggregation window.
type Bucket struct {
	Requests int64 `json:"requests"`
	Threats  int64 `json:"threats"`
	Blocked  int64 `json:"blocked"`
}

// Entry is a labeled count used in top-N listings.
type Entry struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// Snapshot is the derived view returned by the admin API.
type Snapshot struct {
	Since            time.Time         `json:"since"`
	TotalRequests    int64             `json:"totalRequests"`
	BlockedRequests  int64             `json:"blockedRequests"`
	ThreatsDetected  int64             `json:"threatsDetected"`
	LearningRequests int64             `json:"learningRequests"`
	BlockRate        float64           `json:"blockRate"`
	ThreatRate       float64           `json:"threatRate"`
	ByModule         map[string]int64  `json:"byModule"`
	ByThreatType     map[string]int64  `json:"byThreatType"`
	TopIPs           []Entry           `json:"topIPs"`
	TopPaths         []Entry           `json:"topPaths"`
	Hourly           map[string]Bucket `json:"hourly"`
	Daily            map[string]Bucket `json:"daily"`
}

// Collector accumulates counters. Disabled collectors accept calls and do
// nothing, so call sites stay unconditional.
type Collector struct {
	mu sync.Mutex

	enabled       bool
	retentionDays int
	since         time.Time

	totalRequests    int64
	blockedRequests  int64
	threatsDetected  int64
	learningRequests int64

	byModule     map[string]int64
	byThreatType map[string]int64
	byIP         map[string]int64
	byPath       map[string]int64

	hourly map[string]*Bucket
	daily  map[string]*Bucket

	now func() time.Time
}

// New creates a collector. retentionDays bounds how far back the hourly and
// daily buckets reach; non-positive values default to 7.
func New(enabled bool, retentionDays int) *Collector {
	if retentionDays <= 0 {
		retentionDays = 7
	}
	c := &Collector{
		enabled:       enabled,
		retentionDays: retentionDays,
		now:           time.Now,
	}
	c.resetLocked()
	return c
}

// SetNow overrides the clock, for tests.
func (c *Collector) SetNow(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *Collector) resetLocked() {
	c.since = c.now()
	c.totalRequests = 0
	c.blockedRequests = 0
	c.threatsDetected = 0
	c.learningRequests = 0
	c.byModule = make(map[string]int64)
	c.byThreatType = make(map[string]int64)
	c.byIP = make(map[string]int64)
	c.byPath = make(map[string]int64)
	c.hourly = make(map[string]*Bucket)
	c.daily = make(map[string]*Bucket)
}

// Reset clears all counters and restarts the collection window.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

func (c *Collector) bucketsLocked(t time.Time) (*Bucket, *Bucket) {
	hk := t.Format("2006-01-02T15")
	dk := t.Format("2006-01-02")
	h, ok := c.hourly[hk]
	if !ok {
		h = &Bucket{}
		c.hourly[hk] = h
	}
	d, ok := c.daily[dk]
	if !ok {
		d = &Bucket{}
		c.daily[dk] = d
	}
	return h, d
}

// RecordRequest counts one processed request.
func (c *Collector) RecordRequest(rec *analysis.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}

	c.totalRequests++
	if len(c.byIP) < ipCap || c.byIP[rec.IP] > 0 {
		c.byIP[rec.IP]++
	}
	if len(c.byPath) < ipCap || c.byPath[rec.Path] > 0 {
		c.byPath[rec.Path]++
	}

	h, d := c.bucketsLocked(c.now())
	h.Requests++
	d.Requests++
}

// RecordThreat counts one threat-bearing request and its disposition.
func (c *Collector) RecordThreat(rec *analysis.Record, action Action) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}

	c.threatsDetected++
	switch action {
	case ActionBlocked:
		c.blockedRequests++
	case ActionLearning:
		c.learningRequests++
	}

	for _, m := range rec.Modules {
		c.byModule[m]++
	}
	for _, t := range rec.Threats {
		c.byThreatType[t.Type]++
	}

	h, d := c.bucketsLocked(c.now())
	h.Threats++
	d.Threats++
	if action == ActionBlocked {
		h.Blocked++
		d.Blocked++
	}
}

// Prune drops hourly and daily buckets older than the retention window and
// returns how many were removed.
func (c *Collector) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().AddDate(0, 0, -c.retentionDays)
	removed := 0
	for k := range c.hourly {
		if t, err := time.Parse("2006-01-02T15", k); err == nil && t.Before(cutoff) {
			delete(c.hourly, k)
			removed++
		}
	}
	for k := range c.daily {
		if t, err := time.Parse("2006-01-02", k); err == nil && t.Before(cutoff) {
			delete(c.daily, k)
			removed++
		}
	}
	return removed
}

// Snapshot returns a copy of all counters plus derived rates and top-N
// listings.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		Since:            c.since,
		TotalRequests:    c.totalRequests,
		BlockedRequests:  c.blockedRequests,
		ThreatsDetected:  c.threatsDetected,
		LearningRequests: c.learningRequests,
		ByModule:         copyCounts(c.byModule),
		ByThreatType:     copyCounts(c.byThreatType),
		TopIPs:           topEntries(c.byIP, 10),
		TopPaths:         topEntries(c.byPath, 10),
		Hourly:           copyBuckets(c.hourly),
		Daily:            copyBuckets(c.daily),
	}
	if c.totalRequests > 0 {
		snap.BlockRate = float64(c.blockedRequests) / float64(c.totalRequests)
		snap.ThreatRate = float64(c.threatsDetected) / float64(c.totalRequests)
	}
	return snap
}

func copyCounts(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyBuckets(m map[string]*Bucket) map[string]Bucket {
	out := make(map[string]Bucket, len(m))
	for k, v := range m {
		out[k] = *v
	}
	return out
}

func topEntries(m map[string]int64, n int) []Entry {
	out := make([]Entry, 0, len(m))
	for k, v := range m {
		out = append(out, Entry{Key: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
