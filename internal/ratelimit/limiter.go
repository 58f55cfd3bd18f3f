// Package ratelimit tracks per-IP request rates inside a fixed window and
// promotes repeat offenders into a TTL block table. An IP lives in at most
// one of the two tables at any time.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Config holds the limiter parameters.
type Config struct {
	Window          time.Duration
	Max             int
	BlockDuration   time.Duration
	MaxViolations   int
	BlockingEnabled bool
}

// Block is an active IP block with its expiry.
type Block struct {
	IP        string    `json:"ip"`
	Reason    string    `json:"reason"`
	BlockedAt time.Time `json:"blockedAt"`
	Until     time.Time `json:"blockedUntil"`
}

// Outcome reports what happened to one request from an IP.
type Outcome struct {
	Blocked  bool // IP is in the block table
	Exceeded bool // this request pushed the window count past Max
	Count    int  // requests seen in the current window
}

type ipState struct {
	count      int
	first      time.Time
	violations int
}

// Limiter is the per-IP window counter plus the block table.
type Limiter struct {
	mu     sync.Mutex
	cfg    Config
	states map[string]*ipState
	blocks map[string]*Block
	logger *slog.Logger
	now    func() time.Time
}

// New creates a limiter with the given configuration.
func New(cfg Config, logger *slog.Logger) *Limiter {
	if cfg.Max <= 0 {
		cfg.Max = 100
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.MaxViolations <= 0 {
		cfg.MaxViolations = 5
	}
	if cfg.BlockDuration <= 0 {
		cfg.BlockDuration = time.Hour
	}
	return &Limiter{
		cfg:    cfg,
		states: make(map[string]*ipState),
		blocks: make(map[string]*Block),
		logger: logger,
		now:    time.Now,
	}
}

// SetNow overrides the clock, for tests.
func (l *Limiter) SetNow(now func() time.Time) { l.now = now }

// Check records one request from ip and reports the verdict. Blocked IPs
// short-circuit; otherwise the window counter advances and a breach past Max
// counts a violation. Enough violations move the IP into the block table and
// clear its counter.
func (l *Limiter) Check(ip string) Outcome {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	if b, ok := l.blocks[ip]; ok {
		if now.Before(b.Until) {
			return Outcome{Blocked: true}
		}
		delete(l.blocks, ip)
	}

	st, ok := l.states[ip]
	if !ok || now.Sub(st.first) > l.cfg.Window {
		violations := 0
		if ok {
			violations = st.violations
		}
		st = &ipState{first: now, violations: violations}
		l.states[ip] = st
	}

	st.count++
	out := Outcome{Count: st.count}

	if st.count > l.cfg.Max {
		st.violations++
		out.Exceeded = true

		if l.cfg.BlockingEnabled && st.violations >= l.cfg.MaxViolations {
			l.blocks[ip] = &Block{
				IP:        ip,
				Reason:    "rate limit violations",
				BlockedAt: now,
				Until:     now.Add(l.cfg.BlockDuration),
			}
			delete(l.states, ip)
			out.Blocked = true
			if l.logger != nil {
				l.logger.Warn("ip blocked", "ip", ip, "until", l.blocks[ip].Until)
			}
		}
	}

	return out
}

// IsBlocked reports whether ip currently has an active block. An expired
// entry is cleared on access.
func (l *Limiter) IsBlocked(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.blocks[ip]
	if !ok {
		return false
	}
	if l.now().Before(b.Until) {
		return true
	}
	delete(l.blocks, ip)
	return false
}

// BlockIP inserts a manual block, replacing any rate state for the IP.
func (l *Limiter) BlockIP(ip, reason string, duration time.Duration) {
	if duration <= 0 {
		duration = l.cfg.BlockDuration
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.blocks[ip] = &Block{IP: ip, Reason: reason, BlockedAt: now, Until: now.Add(duration)}
	delete(l.states, ip)
}

// UnblockIP removes a block. Returns false if none existed.
func (l *Limiter) UnblockIP(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, ok := l.blocks[ip]
	delete(l.blocks, ip)
	return ok
}

// Blocked returns the active (non-expired) blocks.
func (l *Limiter) Blocked() []Block {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	out := make([]Block, 0, len(l.blocks))
	for _, b := range l.blocks {
		if now.Before(b.Until) {
			out = append(out, *b)
		}
	}
	return out
}

// BlockedCount returns the number of active blocks.
func (l *Limiter) BlockedCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	n := 0
	for _, b := range l.blocks {
		if now.Before(b.Until) {
			n++
		}
	}
	return n
}

// Sweep evicts expired windows and expired blocks. Returns how many entries
// of each kind were removed.
func (l *Limiter) Sweep() (windows, blocks int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for ip, st := range l.states {
		if now.Sub(st.first) > l.cfg.Window {
			delete(l.states, ip)
			windows++
		}
	}
	for ip, b := range l.blocks {
		if !now.Before(b.Until) {
			delete(l.blocks, ip)
			blocks++
		}
	}
	return windows, blocks
}

// Run sweeps once a minute until ctx is cancelled.
func (l *Limiter) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w, b := l.Sweep()
			if (w > 0 || b > 0) && l.logger != nil {
				l.logger.Debug("ratelimit sweep", "windows", w, "blocks", b)
			}
		}
	}
}
