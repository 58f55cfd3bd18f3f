// Package learning drives the phased adaptive-learning state machine. While
// learning, every request is observed but allowed; phase transitions happen
// on wall-clock fractions of the configured period, and the final transition
// into protection freezes the derived profile and enables enforcement.
package learning

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/aegis-waf/aegis-go/internal/analysis"
)

// Phase of the adaptive learner. Transitions are one-way; Protecting is
// terminal.
type Phase int32

const (
	Collecting Phase = iota
	Analyzing
	Adapting
	Protecting
)

func (p Phase) String() string {
	switch p {
	case Collecting:
		return "collecting"
	case Analyzing:
		return "analyzing"
	case Adapting:
		return "adapting"
	default:
		return "protecting"
	}
}

// BufferCap bounds the request and threat ring buffers.
const BufferCap = 10000

// Phase boundaries as fractions of the learning period.
const (
	analyzeAt = 0.6
	adaptAt   = 0.8
)

// Sample is the slice of a request the learner keeps.
type Sample struct {
	Time     time.Time
	IP       string
	Path     string
	Method   string
	BodySize int
	Score    float64
}

// Thresholds are the percentile-derived score levels.
type Thresholds struct {
	Low      float64 `json:"low"`
	Medium   float64 `json:"medium"`
	High     float64 `json:"high"`
	Critical float64 `json:"critical"`
}

// Adaptation is one recommendation derived during the adapting phase.
type Adaptation struct {
	Kind        string  `json:"kind"`
	Description string  `json:"description"`
	Value       float64 `json:"value,omitempty"`
	ThreatType  string  `json:"threatType,omitempty"`
}

// Profile is the computed normal-behavior summary.
type Profile struct {
	Requests       int            `json:"requests"`
	DistinctIPs    int            `json:"distinctIPs"`
	DistinctPaths  int            `json:"distinctPaths"`
	MeanPerIP      float64        `json:"meanRequestsPerIP"`
	MeanBodySize   float64        `json:"meanBodySize"`
	TopPaths       map[string]int `json:"topPaths"`
	ThreatsByType  map[string]int `json:"threatsByType"`
	PositiveScores int            `json:"scoredRequests"`
}

// Report is the terminal summary emitted when protection begins.
type Report struct {
	Phase       string       `json:"phase"`
	StartedAt   time.Time    `json:"startedAt"`
	CompletedAt time.Time    `json:"completedAt,omitempty"`
	Progress    float64      `json:"progress"`
	Profile     *Profile     `json:"profile,omitempty"`
	Thresholds  *Thresholds  `json:"thresholds,omitempty"`
	Adaptations []Adaptation `json:"adaptations,omitempty"`
}

// Learner is the phased state machine. The phase is read on every request
// and only ever advanced by the timer goroutine (or Tick in tests).
type Learner struct {
	mu sync.Mutex

	phase       Phase
	start       time.Time
	period      time.Duration
	completedAt time.Time

	requests *Ring[Sample]
	threats  *Ring[analysis.Threat]

	profile     *Profile
	thresholds  *Thresholds
	adaptations []Adaptation

	logger *slog.Logger
	now    func() time.Time
}

// New creates a learner that begins collecting immediately. period is the
// full learning window.
func New(period time.Duration, logger *slog.Logger) *Learner {
	l := &Learner{
		phase:    Collecting,
		period:   period,
		requests: NewRing[Sample](BufferCap),
		threats:  NewRing[analysis.Threat](BufferCap),
		logger:   logger,
		now:      time.Now,
	}
	l.start = l.now()
	return l
}

// NewDisabled creates a learner already in the terminal protection phase,
// for deployments that skip learning.
func NewDisabled(logger *slog.Logger) *Learner {
	l := New(0, logger)
	l.phase = Protecting
	l.completedAt = l.start
	return l
}

// SetNow overrides the clock, for tests. The start time is rebased so that
// progress math stays consistent.
func (l *Learner) SetNow(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
	l.start = now()
}

// Phase returns the current phase.
func (l *Learner) Phase() Phase {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.phase
}

// Enforcing reports whether verdicts are enforced (terminal phase reached).
func (l *Learner) Enforcing() bool { return l.Phase() == Protecting }

// Progress returns the completed fraction of the learning period in [0, 1].
func (l *Learner) Progress() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.progressLocked()
}

func (l *Learner) progressLocked() float64 {
	if l.phase == Protecting || l.period <= 0 {
		return 1
	}
	p := float64(l.now().Sub(l.start)) / float64(l.period)
	return math.Min(math.Max(p, 0), 1)
}

// Observe buffers a request sample and its threats while the learner is
// still collecting or analyzing. In later phases it is a no-op.
func (l *Learner) Observe(rec *analysis.Record, totalScore float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.phase != Collecting && l.phase != Analyzing {
		return
	}

	l.requests.Push(Sample{
		Time:     rec.Timestamp,
		IP:       rec.IP,
		Path:     rec.Path,
		Method:   rec.Method,
		BodySize: rec.BodySize(),
		Score:    totalScore,
	})
	for _, t := range rec.Threats {
		l.threats.Push(t)
	}
}

// Tick evaluates phase transitions against the clock. Safe to call from a
// timer or directly from tests.
func (l *Learner) Tick() {
	l.mu.Lock()
	defer l.mu.Unlock()

	p := l.progressLocked()
	for {
		switch {
		case l.phase == Collecting && p >= analyzeAt:
			l.phase = Analyzing
			l.analyzeLocked()
			l.logger.Info("learning phase changed", "phase", l.phase.String(), "progress", p)
		case l.phase == Analyzing && p >= adaptAt:
			l.phase = Adapting
			l.adaptLocked()
			l.logger.Info("learning phase changed", "phase", l.phase.String(), "progress", p)
		case l.phase == Adapting && p >= 1:
			l.phase = Protecting
			l.completedAt = l.now()
			l.logger.Info("learning complete, enforcement active",
				"requests", l.requests.Len(), "threats", l.threats.Len())
		default:
			return
		}
	}
}

// Run ticks the phase machine until ctx is cancelled or the terminal phase
// is reached.
func (l *Learner) Run(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Tick()
			if l.Phase() == Protecting {
				return
			}
		}
	}
}

// StatusReport returns the current state for the admin API.
func (l *Learner) StatusReport() Report {
	l.mu.Lock()
	defer l.mu.Unlock()

	return Report{
		Phase:       l.phase.String(),
		StartedAt:   l.start,
		CompletedAt: l.completedAt,
		Progress:    l.progressLocked(),
		Profile:     l.profile,
		Thresholds:  l.thresholds,
		Adaptations: append([]Adaptation(nil), l.adaptations...),
	}
}

// analyzeLocked computes the frequency distributions and normal-behavior
// profile from the buffered samples. Caller holds mu.
func (l *Learner) analyzeLocked() {
	samples := l.requests.Items()

	ips := make(map[string]int)
	paths := make(map[string]int)
	var bodyTotal, bodyCount int64
	positive := 0

	for _, s := range samples {
		ips[s.IP]++
		paths[s.Path]++
		if s.BodySize > 0 {
			bodyTotal += int64(s.BodySize)
			bodyCount++
		}
		if s.Score > 0 {
			positive++
		}
	}

	threatsByType := make(map[string]int)
	for _, t := range l.threats.Items() {
		threatsByType[t.Type]++
	}

	profile := &Profile{
		Requests:       len(samples),
		DistinctIPs:    len(ips),
		DistinctPaths:  len(paths),
		TopPaths:       topN(paths, 10),
		ThreatsByType:  threatsByType,
		PositiveScores: positive,
	}
	if len(ips) > 0 {
		profile.MeanPerIP = float64(len(samples)) / float64(len(ips))
	}
	if bodyCount > 0 {
		profile.MeanBodySize = float64(bodyTotal) / float64(bodyCount)
	}
	l.profile = profile
}

// adaptLocked derives thresholds and adaptation recommendations. Caller
// holds mu.
func (l *Learner) adaptLocked() {
	if l.profile == nil {
		l.analyzeLocked()
	}

	var scores []float64
	for _, s := range l.requests.Items() {
		if s.Score > 0 {
			scores = append(scores, s.Score)
		}
	}
	sort.Float64s(scores)

	l.thresholds = &Thresholds{
		Low:      math.Max(percentile(scores, 0.50), 1),
		Medium:   math.Max(percentile(scores, 0.75), 3),
		High:     math.Max(percentile(scores, 0.90), 5),
		Critical: math.Max(percentile(scores, 0.95), 10),
	}

	var adaptations []Adaptation
	if l.profile.MeanPerIP > 0 {
		adaptations = append(adaptations, Adaptation{
			Kind:        "ip-frequency-threshold",
			Description: "requests per IP beyond three times the observed mean",
			Value:       math.Ceil(3 * l.profile.MeanPerIP),
		})
	}
	if l.profile.MeanBodySize > 0 {
		adaptations = append(adaptations, Adaptation{
			Kind:        "body-size-threshold",
			Description: "body size beyond twice the observed mean",
			Value:       math.Ceil(2 * l.profile.MeanBodySize),
		})
	}
	for typ, n := range l.profile.ThreatsByType {
		if n > 5 {
			adaptations = append(adaptations, Adaptation{
				Kind:        "custom-rule-suggestion",
				Description: "recurring threat type observed during learning",
				ThreatType:  typ,
				Value:       float64(n),
			})
		}
	}
	l.adaptations = adaptations
}

// percentile returns the p-th percentile of sorted values, 0 when empty.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func topN(counts map[string]int, n int) map[string]int {
	type kv struct {
		k string
		v int
	}
	all := make([]kv, 0, len(counts))
	for k, v := range counts {
		all = append(all, kv{k, v})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].v > all[j].v })
	if len(all) > n {
		all = all[:n]
	}
	out := make(map[string]int, len(all))
	for _, e := range all {
		out[e.k] = e.v
	}
	return out
}
