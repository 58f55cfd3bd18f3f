package rules

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultCommunityInterval is how often the community feed is polled when no
// interval is configured.
const DefaultCommunityInterval = 24 * time.Hour

var communityClient = &http.Client{Timeout: 30 * time.Second}

// RefreshCommunity fetches the community rule feed and merges it add-only:
// rules whose id is already present are left untouched. Returns how many new
// rules were added.
func (m *Manager) RefreshCommunity(ctx context.Context, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("community request: %w", err)
	}

	resp, err := communityClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch community rules: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("community feed returned %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return 0, fmt.Errorf("read community rules: %w", err)
	}

	batch, err := ParseCatalog(data)
	if err != nil {
		return 0, err
	}

	fresh := batch[:0]
	for _, r := range batch {
		if _, err := m.Get(r.ID); err == nil {
			continue
		}
		fresh = append(fresh, r)
	}

	added := m.Load(fresh, SourceCommunity)
	m.logger.Info("community rules refreshed", "fetched", len(batch), "added", added)
	return added, nil
}

// RunCommunityRefresh polls the feed at the given interval until ctx is
// cancelled. Fetch errors are logged and retried at the next tick.
func (m *Manager) RunCommunityRefresh(ctx context.Context, url string, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultCommunityInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if _, err := m.RefreshCommunity(ctx, url); err != nil {
		m.logger.Warn("community refresh failed", "err", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.RefreshCommunity(ctx, url); err != nil {
				m.logger.Warn("community refresh failed", "err", err)
			}
		}
	}
}
