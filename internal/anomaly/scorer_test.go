package anomaly

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-waf/aegis-go/internal/analysis"
)

// weekday afternoon, far from the off-hours window
var calmTime = time.Date(2026, 3, 11, 14, 0, 0, 0, time.UTC)

const normalUA = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36"

func calmRecord() *analysis.Record {
	return &analysis.Record{
		Timestamp: calmTime,
		IP:        "203.0.113.30",
		UserAgent: normalUA,
		Method:    "GET",
		Path:      "/products",
		Headers: map[string][]string{
			"User-Agent":      {normalUA},
			"Accept":          {"text/html"},
			"Accept-Language": {"en-US"},
		},
	}
}

func newTestScorer(threshold float64) *Scorer {
	s := NewScorer(NewBaseline(), threshold)
	s.SetNow(func() time.Time { return calmTime })
	return s
}

func factorNames(score *Score) map[string]bool {
	names := make(map[string]bool)
	for _, f := range score.Factors {
		names[f.Name] = true
	}
	return names
}

func TestCalmRequestScoresZero(t *testing.T) {
	s := newTestScorer(5)
	score := s.Evaluate(calmRecord())
	assert.Zero(t, score.Total)
	assert.False(t, score.IsAnomaly)
	assert.Zero(t, score.Confidence)
}

func TestMissingUserAgent(t *testing.T) {
	s := newTestScorer(5)
	rec := calmRecord()
	rec.UserAgent = ""
	delete(rec.Headers, "User-Agent")

	score := s.Evaluate(rec)
	assert.True(t, factorNames(score)["user-agent"])
	assert.GreaterOrEqual(t, score.Total, 3.0)
}

func TestOversizedUserAgent(t *testing.T) {
	s := newTestScorer(5)
	rec := calmRecord()
	rec.UserAgent = strings.Repeat("a", 600)

	score := s.Evaluate(rec)
	names := factorNames(score)
	assert.True(t, names["user-agent"])
}

func TestUnknownCrawler(t *testing.T) {
	s := newTestScorer(5)

	rec := calmRecord()
	rec.UserAgent = "my-sneaky-crawl-bot/1.0"
	score := s.Evaluate(rec)
	assert.True(t, factorNames(score)["user-agent"])

	rec = calmRecord()
	rec.UserAgent = "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"
	score = s.Evaluate(rec)
	assert.False(t, factorNames(score)["user-agent"], "known crawlers are not penalized")
}

func TestSuspiciousPath(t *testing.T) {
	s := newTestScorer(5)
	rec := calmRecord()
	rec.Path = "/wp-admin/setup.php"
	score := s.Evaluate(rec)
	assert.True(t, factorNames(score)["path"])
}

func TestSuspiciousQueryKeysCapped(t *testing.T) {
	s := newTestScorer(5)
	rec := calmRecord()
	rec.Query = map[string][]string{
		"cmd": {"x"}, "exec": {"x"}, "shell": {"x"}, "passwd": {"x"},
	}
	score := s.Evaluate(rec)

	var querySum float64
	for _, f := range score.Factors {
		if f.Name == "query" {
			querySum += f.Score
		}
	}
	assert.Equal(t, 5.0, querySum, "key factor caps at 5 despite four hits")
}

func TestMissingCommonHeaders(t *testing.T) {
	s := newTestScorer(5)
	rec := calmRecord()
	rec.Headers = map[string][]string{"X-Thing": {"1"}}
	score := s.Evaluate(rec)
	assert.True(t, factorNames(score)["headers"])
}

func TestHeaderFactorsCapped(t *testing.T) {
	s := newTestScorer(5)
	rec := calmRecord()
	rec.Headers = map[string][]string{
		"X-Long":    {strings.Repeat("a", 600)},
		"X-Encoded": {strings.Repeat("%41", 60)},
	}
	var headerSum float64
	for _, f := range s.Evaluate(rec).Factors {
		if f.Name == "headers" {
			headerSum += f.Score
		}
	}
	assert.LessOrEqual(t, headerSum, 3.0)
}

func TestOffHoursAndWeekend(t *testing.T) {
	s := NewScorer(NewBaseline(), 5)
	// Saturday 03:00 hits both time factors.
	at := time.Date(2026, 3, 14, 3, 0, 0, 0, time.UTC)
	s.SetNow(func() time.Time { return at })

	rec := calmRecord()
	rec.Timestamp = at
	score := s.Evaluate(rec)
	assert.Equal(t, 1.5, score.Total)
	assert.False(t, score.IsAnomaly)
}

func TestFrequencyFactor(t *testing.T) {
	s := newTestScorer(5)

	// Build up a mean with two quiet IPs, then hammer a third.
	for i := 0; i < 2; i++ {
		s.baseline.Frequency("198.51.100.1", calmTime)
		s.baseline.Frequency("198.51.100.2", calmTime)
	}
	rec := calmRecord()
	var last *Score
	for i := 0; i < 40; i++ {
		last = s.Evaluate(rec)
	}
	require.NotNil(t, last)
	assert.True(t, factorNames(last)["frequency"])
}

func TestAnomalyFlagAgainstThreshold(t *testing.T) {
	s := newTestScorer(2)
	rec := calmRecord()
	rec.UserAgent = ""
	delete(rec.Headers, "User-Agent")
	score := s.Evaluate(rec)
	assert.True(t, score.IsAnomaly)
	assert.Greater(t, score.Confidence, 0.0)
	assert.LessOrEqual(t, score.Confidence, 1.0)
}

func TestScorerDisabledAboveCutoff(t *testing.T) {
	s := newTestScorer(101)
	rec := calmRecord()
	rec.UserAgent = ""
	rec.Path = "/wp-admin"
	rec.Headers = nil

	score := s.Evaluate(rec)
	assert.Zero(t, score.Total)
	assert.Empty(t, score.Factors)
	assert.False(t, score.IsAnomaly)
}

func TestRareFactorsNeedMinimumSamples(t *testing.T) {
	s := newTestScorer(5)

	// Below the sample floor nothing is "rare".
	for i := 0; i < 10; i++ {
		s.Observe(calmRecord())
	}
	rec := calmRecord()
	rec.UserAgent = "some-unusual-browser/9.9 never seen before"
	score := s.Evaluate(rec)
	assert.False(t, factorNames(score)["user-agent"])

	// Past the floor the never-seen agent and path become factors.
	for i := 0; i < 150; i++ {
		s.Observe(calmRecord())
	}
	score = s.Evaluate(rec)
	assert.True(t, factorNames(score)["user-agent"])
}

func TestBaselineRatios(t *testing.T) {
	b := NewBaseline()
	for i := 0; i < 99; i++ {
		b.Observe(normalUA, "/products", nil, nil, 100)
	}
	b.Observe("rare-agent", "/secret", nil, nil, 300)

	assert.EqualValues(t, 100, b.Requests())
	assert.InDelta(t, 0.99, b.UserAgentRatio(normalUA), 1e-9)
	assert.InDelta(t, 0.01, b.PathRatio("/secret"), 1e-9)
	assert.InDelta(t, 102.0, b.MeanBodySize(), 1e-9)
}
