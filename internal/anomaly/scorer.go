package anomaly

import (
	"encoding/base64"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/aegis-waf/aegis-go/internal/analysis"
)

// DefaultThreshold is the anomaly threshold applied when none is configured.
const DefaultThreshold = 5

// disableAbove: a configured threshold past this value turns the scorer off
// entirely. Operational disable switch; also used by tests.
const disableAbove = 100

// Factor is one contributing dimension of an anomaly score.
type Factor struct {
	Name   string  `json:"name"`
	Score  float64 `json:"score"`
	Detail string  `json:"detail,omitempty"`
}

// Score is the per-request anomaly result.
type Score struct {
	Total      float64  `json:"totalScore"`
	Factors    []Factor `json:"factors"`
	IsAnomaly  bool     `json:"isAnomaly"`
	Confidence float64  `json:"confidence"`
}

// Scorer computes anomaly scores against a baseline.
type Scorer struct {
	baseline  *Baseline
	threshold float64
	now       func() time.Time
}

// NewScorer creates a scorer. A non-positive threshold falls back to
// DefaultThreshold.
func NewScorer(baseline *Baseline, threshold float64) *Scorer {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Scorer{baseline: baseline, threshold: threshold, now: time.Now}
}

// SetNow overrides the clock, for tests.
func (s *Scorer) SetNow(now func() time.Time) { s.now = now }

// Baseline exposes the underlying baseline for the learner.
func (s *Scorer) Baseline() *Baseline { return s.baseline }

// minSamples gates the baseline-ratio factors: with too little observed
// traffic every value looks rare.
const minSamples = 100

var (
	crawlerRe = regexp.MustCompile(`(?i)\b(bot|crawl|spider|scrape|fetch)\b`)
	knownBots = []string{"googlebot", "bingbot", "duckduckbot", "slurp", "baiduspider", "yandexbot"}

	suspiciousPathRe = regexp.MustCompile(`(?i)\.\./|/admin\b|/wp-admin|\.env\b|\.git\b|/api(/[\w-]+){4,}|\b[0-9a-f]{32,}\b|[A-Za-z0-9+/]{40,}={0,2}`)

	suspiciousQueryKeys = map[string]bool{
		"cmd": true, "exec": true, "eval": true, "system": true, "shell": true,
		"file": true, "path": true, "dir": true, "root": true, "admin": true,
		"password": true, "passwd": true, "pwd": true, "secret": true,
		"token": true, "key": true, "auth": true, "login": true,
	}

	entityRe  = regexp.MustCompile(`&#x?[0-9a-fA-F]+;`)
	percentRe = regexp.MustCompile(`%[0-9a-fA-F]{2}`)
)

// Evaluate computes the anomaly score for rec. The per-IP frequency window
// advances on every call regardless of phase; the other baseline maps are
// only written via Observe.
func (s *Scorer) Evaluate(rec *analysis.Record) *Score {
	if s.threshold > disableAbove {
		return &Score{}
	}

	var factors []Factor
	add := func(name string, score float64, detail string) {
		if score > 0 {
			factors = append(factors, Factor{Name: name, Score: score, Detail: detail})
		}
	}

	// Frequency: in-window count beyond twice the mean per-IP rate.
	count, mean := s.baseline.Frequency(rec.IP, s.now())
	if mean > 0 && float64(count) > 2*mean {
		excess := float64(count) - 2*mean
		add("frequency", math.Min(excess*0.5, 10), "request rate above baseline")
	}

	factors = append(factors, s.userAgentFactors(rec.UserAgent)...)
	factors = append(factors, s.pathFactors(rec.Path)...)
	factors = append(factors, s.queryFactors(rec.Query)...)

	// Body size against the learned mean.
	if meanBody := s.baseline.MeanBodySize(); meanBody > 0 {
		size := float64(rec.BodySize())
		if size > 3*meanBody {
			add("body-size", math.Min((size-3*meanBody)/1000, 5), "body larger than baseline")
		}
	}

	factors = append(factors, headerFactors(rec.Headers)...)
	factors = append(factors, timeFactors(rec.Timestamp)...)

	var total float64
	for _, f := range factors {
		total += f.Score
	}
	total = math.Round(total*100) / 100

	confidence := 0.0
	if len(factors) > 0 {
		confidence = clamp(total/float64(len(factors))*0.1, 0, 1)
	}

	return &Score{
		Total:      total,
		Factors:    factors,
		IsAnomaly:  total > s.threshold,
		Confidence: confidence,
	}
}

// Observe feeds rec into the learned distributions. The caller skips this
// once the learning phase ends.
func (s *Scorer) Observe(rec *analysis.Record) {
	queryKeys := make([]string, 0, len(rec.Query))
	for k := range rec.Query {
		queryKeys = append(queryKeys, k)
	}
	headerKeys := make([]string, 0, len(rec.Headers))
	for k := range rec.Headers {
		headerKeys = append(headerKeys, strings.ToLower(k))
	}
	s.baseline.Observe(rec.UserAgent, rec.Path, queryKeys, headerKeys, rec.BodySize())
}

func (s *Scorer) userAgentFactors(ua string) []Factor {
	var out []Factor

	switch {
	case ua == "" || len(ua) < 10:
		out = append(out, Factor{Name: "user-agent", Score: 3, Detail: "missing or minimal user agent"})
	case len(ua) > 500:
		out = append(out, Factor{Name: "user-agent", Score: 4, Detail: "oversized user agent"})
	}

	if ua != "" && crawlerRe.MatchString(ua) && !isKnownBot(ua) {
		out = append(out, Factor{Name: "user-agent", Score: 2, Detail: "unrecognized crawler"})
	}

	if ua != "" && s.baseline.Requests() >= minSamples && s.baseline.UserAgentRatio(ua) < 0.01 {
		out = append(out, Factor{Name: "user-agent", Score: 1, Detail: "rare user agent"})
	}

	return out
}

func (s *Scorer) pathFactors(path string) []Factor {
	var out []Factor

	if suspiciousPathRe.MatchString(path) {
		out = append(out, Factor{Name: "path", Score: 2, Detail: "suspicious path pattern"})
	}
	if len(path) > 200 {
		out = append(out, Factor{Name: "path", Score: 1, Detail: "unusually long path"})
	}
	if s.baseline.Requests() >= minSamples && s.baseline.PathRatio(path) < 0.005 {
		out = append(out, Factor{Name: "path", Score: 1, Detail: "rare path"})
	}

	return out
}

func (s *Scorer) queryFactors(query map[string][]string) []Factor {
	var out []Factor

	keyScore := 0.0
	for k := range query {
		if suspiciousQueryKeys[strings.ToLower(k)] {
			keyScore += 2
		}
	}
	if keyScore > 5 {
		keyScore = 5
	}
	if keyScore > 0 {
		out = append(out, Factor{Name: "query", Score: keyScore, Detail: "suspicious parameter names"})
	}

	long, encoded := false, false
	for _, vals := range query {
		for _, v := range vals {
			if len(v) > 1000 {
				long = true
			}
			if looksEncoded(v) {
				encoded = true
			}
		}
	}
	if long {
		out = append(out, Factor{Name: "query", Score: 1, Detail: "oversized parameter value"})
	}
	if encoded {
		out = append(out, Factor{Name: "query", Score: 1, Detail: "encoded parameter value"})
	}

	return out
}

func headerFactors(headers map[string][]string) []Factor {
	var out []Factor

	present := make(map[string]bool, len(headers))
	for k := range headers {
		present[strings.ToLower(k)] = true
	}
	missing := 0
	for _, h := range []string{"user-agent", "accept", "accept-language"} {
		if !present[h] {
			missing++
		}
	}
	if missing > 1 {
		out = append(out, Factor{Name: "headers", Score: 2, Detail: "common headers missing"})
	}

	long, encoded := false, false
	for _, vals := range headers {
		for _, v := range vals {
			if len(v) > 500 {
				long = true
			}
			if len(v) > 100 && looksEncoded(v) {
				encoded = true
			}
		}
	}
	if long {
		out = append(out, Factor{Name: "headers", Score: 1, Detail: "oversized header value"})
	}
	if encoded {
		out = append(out, Factor{Name: "headers", Score: 1, Detail: "encoded header value"})
	}

	// Header factors cap at 3 combined.
	var total float64
	for i := range out {
		if total+out[i].Score > 3 {
			out[i].Score = 3 - total
		}
		total += out[i].Score
	}
	kept := out[:0]
	for _, f := range out {
		if f.Score > 0 {
			kept = append(kept, f)
		}
	}
	return kept
}

func timeFactors(ts time.Time) []Factor {
	var out []Factor

	hour := ts.Hour()
	if hour >= 2 && hour <= 6 {
		out = append(out, Factor{Name: "time", Score: 1, Detail: "off-hours request"})
	}
	if wd := ts.Weekday(); wd == time.Saturday || wd == time.Sunday {
		out = append(out, Factor{Name: "time", Score: 0.5, Detail: "weekend request"})
	}

	return out
}

func isKnownBot(ua string) bool {
	lower := strings.ToLower(ua)
	for _, b := range knownBots {
		if strings.Contains(lower, b) {
			return true
		}
	}
	return false
}

// looksEncoded guesses whether a value is base64, URL-encoded, or
// entity-encoded.
func looksEncoded(v string) bool {
	if percentRe.MatchString(v) || entityRe.MatchString(v) {
		return true
	}
	if len(v) >= 16 && len(v)%4 == 0 {
		if _, err := base64.StdEncoding.DecodeString(v); err == nil {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
