// Package logstore retains per-request threat logs for the admin API. The
// default store is a bounded in-memory ring; a Postgres-backed store is
// available for durable retention.
package logstore

import (
	"context"
	"sync"
	"time"

	"github.com/aegis-waf/aegis-go/internal/analysis"
)

// DefaultMaxLogs bounds the in-memory store when no limit is configured.
const DefaultMaxLogs = 10000

// Entry is one retained request log.
type Entry struct {
	RequestID    string            `json:"requestId"`
	Timestamp    time.Time         `json:"timestamp"`
	IP           string            `json:"ip"`
	Method       string            `json:"method"`
	Path         string            `json:"path"`
	UserAgent    string            `json:"userAgent,omitempty"`
	Score        float64           `json:"score"`
	AnomalyScore float64           `json:"anomalyScore,omitempty"`
	Action       string            `json:"action"`
	Threats      []analysis.Threat `json:"threats,omitempty"`
}

// Store is the retention interface shared by the memory and Postgres
// implementations.
type Store interface {
	Append(ctx context.Context, e Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Count(ctx context.Context) (int, error)
}

// Memory is the bounded in-memory store. Oldest entries are evicted once
// the cap is reached.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
	head    int
	n       int
}

// NewMemory creates a memory store holding at most maxLogs entries.
func NewMemory(maxLogs int) *Memory {
	if maxLogs <= 0 {
		maxLogs = DefaultMaxLogs
	}
	return &Memory{entries: make([]Entry, maxLogs)}
}

// Append stores e, evicting the oldest entry when full.
func (m *Memory) Append(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.n < len(m.entries) {
		m.entries[(m.head+m.n)%len(m.entries)] = e
		m.n++
		return nil
	}
	m.entries[m.head] = e
	m.head = (m.head + 1) % len(m.entries)
	return nil
}

// Recent returns up to limit entries, newest first.
func (m *Memory) Recent(_ context.Context, limit int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > m.n {
		limit = m.n
	}
	out := make([]Entry, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (m.head + m.n - 1 - i) % len(m.entries)
		out = append(out, m.entries[idx])
	}
	return out, nil
}

// Count returns the number of retained entries.
func (m *Memory) Count(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.n, nil
}
