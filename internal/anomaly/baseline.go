// Package anomaly maintains the learned traffic baseline and scores each
// request's deviation from it across frequency, user-agent, path, query,
// body-size, header, and time-of-day dimensions.
package anomaly

import (
	"sync"
	"time"
)

// FrequencyWindow is the rolling window for per-IP request counting. It is
// the one piece of baseline state that keeps updating after learning ends.
const FrequencyWindow = 5 * time.Minute

type ipWindow struct {
	count int
	start time.Time
}

// Baseline holds the learned distribution of normal traffic. Counts only
// grow while learning; once frozen, everything except the per-IP frequency
// window is read-only.
type Baseline struct {
	mu sync.RWMutex

	ips         map[string]*ipWindow
	userAgents  map[string]int64
	paths       map[string]int64
	queryParams map[string]int64
	headers     map[string]int64

	requests  int64
	bodyBytes int64
	bodyCount int64
}

// NewBaseline creates an empty baseline.
func NewBaseline() *Baseline {
	return &Baseline{
		ips:         make(map[string]*ipWindow),
		userAgents:  make(map[string]int64),
		paths:       make(map[string]int64),
		queryParams: make(map[string]int64),
		headers:     make(map[string]int64),
	}
}

// Observe folds one request into the learned distributions. Callers stop
// invoking this once the learner reaches the protection phase; the per-IP
// window is maintained separately by Frequency.
func (b *Baseline) Observe(ua, path string, queryKeys []string, headerKeys []string, bodySize int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.requests++
	if ua != "" {
		b.userAgents[ua]++
	}
	b.paths[path]++
	for _, k := range queryKeys {
		b.queryParams[k]++
	}
	for _, k := range headerKeys {
		b.headers[k]++
	}
	if bodySize > 0 {
		b.bodyBytes += int64(bodySize)
		b.bodyCount++
	}
}

// Frequency advances the rolling window counter for ip and returns the
// current in-window count plus the mean count across all active windows.
// This is always maintained, in every phase.
func (b *Baseline) Frequency(ip string, now time.Time) (count int, mean float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	w, ok := b.ips[ip]
	if !ok || now.Sub(w.start) > FrequencyWindow {
		w = &ipWindow{start: now}
		b.ips[ip] = w
	}
	w.count++

	var total, active int
	for k, win := range b.ips {
		if now.Sub(win.start) > FrequencyWindow {
			delete(b.ips, k)
			continue
		}
		total += win.count
		active++
	}
	if active == 0 {
		return w.count, 0
	}
	return w.count, float64(total) / float64(active)
}

// Requests returns the number of observed requests.
func (b *Baseline) Requests() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.requests
}

// UserAgentRatio returns how often ua has been seen, as a fraction of all
// observed requests.
func (b *Baseline) UserAgentRatio(ua string) float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.requests == 0 {
		return 0
	}
	return float64(b.userAgents[ua]) / float64(b.requests)
}

// PathRatio returns how often path has been seen, as a fraction of all
// observed requests.
func (b *Baseline) PathRatio(path string) float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.requests == 0 {
		return 0
	}
	return float64(b.paths[path]) / float64(b.requests)
}

// MeanBodySize returns the average observed body size in bytes.
func (b *Baseline) MeanBodySize() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.bodyCount == 0 {
		return 0
	}
	return float64(b.bodyBytes) / float64(b.bodyCount)
}

// MeanRequestsPerIP returns the all-time mean request count per distinct IP
// seen in the frequency table, used by the learner's adaptations.
func (b *Baseline) MeanRequestsPerIP() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.ips) == 0 {
		return 0
	}
	var total int
	for _, w := range b.ips {
		total += w.count
	}
	return float64(total) / float64(len(b.ips))
}
