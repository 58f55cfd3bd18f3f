package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned when a rule id does not exist.
var ErrNotFound = errors.New("rule not found")

// ErrProtected is returned when deleting a rule that is not custom/imported.
var ErrProtected = errors.New("only custom rules can be deleted")

// Update carries the mutable fields of a rule; nil pointers leave the
// current value alone. A pattern change recompiles before anything is
// swapped, so a bad edit never disturbs the running rule.
type Update struct {
	Name        *string
	Category    *string
	Pattern     *string
	Flags       *string
	Score       *float64
	Description *string
	Severity    *string
	Tags        *[]string
	Enabled     *bool
}

// Stats summarizes the rule set for the admin API.
type Stats struct {
	Total      int            `json:"total"`
	Enabled    int            `json:"enabled"`
	ByCategory map[string]int `json:"byCategory"`
	BySource   map[string]int `json:"bySource"`
}

// Manager owns the keyed rule collection. Reads on the hot path take a
// snapshot slice under a read lock; writes are rare (admin calls, community
// refresh).
type Manager struct {
	mu         sync.RWMutex
	rules      map[string]*Rule
	byCategory map[string][]string
	enabled    []*Rule // rebuilt on every write, read by the hot path
	logger     *slog.Logger
}

// NewManager creates an empty rule manager.
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		rules:      make(map[string]*Rule),
		byCategory: make(map[string][]string),
		logger:     logger,
	}
}

// Load adds a batch of rules from the given source. Entries that fail to
// compile or validate are logged and skipped; the batch never fails as a
// whole. Returns how many rules were added.
func (m *Manager) Load(batch []Rule, source string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	added := 0
	for i := range batch {
		r := batch[i]
		if r.Source == "" {
			r.Source = source
		}
		if r.Flags == "" {
			r.Flags = "gi"
		}
		if err := r.validate(); err != nil {
			m.logger.Warn("skipping invalid rule", "id", r.ID, "err", err)
			continue
		}
		if r.AddedAt.IsZero() {
			r.AddedAt = time.Now()
		}
		m.insertLocked(&r)
		added++
	}
	m.rebuildLocked()
	return added
}

// Add inserts a single rule. Unlike Load, an invalid rule is an error.
func (m *Manager) Add(r Rule) error {
	if r.Source == "" {
		r.Source = SourceCustom
	}
	if r.Flags == "" {
		r.Flags = "gi"
	}
	if err := r.validate(); err != nil {
		return err
	}
	r.AddedAt = time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.rules[r.ID]; exists {
		return fmt.Errorf("rule %s already exists", r.ID)
	}
	m.insertLocked(&r)
	m.rebuildLocked()
	return nil
}

// Get returns a copy of the rule, or ErrNotFound.
func (m *Manager) Get(id string) (*Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rules[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.clone(), nil
}

// UpdateRule applies a delta to an existing rule. The stored rule is
// replaced, never mutated in place.
func (m *Manager) UpdateRule(id string, u Update) (*Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.rules[id]
	if !ok {
		return nil, ErrNotFound
	}

	next := old.clone()
	if u.Name != nil {
		next.Name = *u.Name
	}
	if u.Category != nil {
		next.Category = *u.Category
	}
	if u.Pattern != nil {
		next.Pattern = *u.Pattern
	}
	if u.Flags != nil {
		next.Flags = *u.Flags
	}
	if u.Score != nil {
		next.Score = *u.Score
	}
	if u.Description != nil {
		next.Description = *u.Description
	}
	if u.Severity != nil {
		next.Severity = *u.Severity
	}
	if u.Tags != nil {
		next.Tags = append([]string(nil), (*u.Tags)...)
	}
	if u.Enabled != nil {
		next.Enabled = *u.Enabled
	}

	if err := next.validate(); err != nil {
		return nil, err
	}

	m.removeLocked(old)
	m.insertLocked(next)
	m.rebuildLocked()
	return next.clone(), nil
}

// Delete removes a custom or imported rule. Builtin and community rules can
// only be disabled.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rules[id]
	if !ok {
		return ErrNotFound
	}
	if r.Source != SourceCustom && r.Source != SourceImported {
		return ErrProtected
	}
	m.removeLocked(r)
	delete(m.rules, id)
	m.rebuildLocked()
	return nil
}

// Toggle enables or disables a rule.
func (m *Manager) Toggle(id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.rules[id]
	if !ok {
		return ErrNotFound
	}
	next := old.clone()
	next.Enabled = enabled
	m.rules[id] = next
	m.rebuildLocked()
	return nil
}

// Enabled returns the current enabled-rule snapshot. The slice is rebuilt on
// writes and must not be mutated by callers.
func (m *Manager) Enabled() []*Rule {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

// All returns copies of every rule, ordered by id.
func (m *Manager) All() []*Rule {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Rule, 0, len(m.rules))
	for _, r := range m.rules {
		out = append(out, r.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ByCategory returns copies of the rules in one category.
func (m *Manager) ByCategory(category string) []*Rule {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.byCategory[category]
	out := make([]*Rule, 0, len(ids))
	for _, id := range ids {
		if r, ok := m.rules[id]; ok {
			out = append(out, r.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RuleStats summarizes the collection.
func (m *Manager) RuleStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Stats{
		Total:      len(m.rules),
		ByCategory: make(map[string]int),
		BySource:   make(map[string]int),
	}
	for _, r := range m.rules {
		if r.Enabled {
			s.Enabled++
		}
		s.ByCategory[r.Category]++
		s.BySource[r.Source]++
	}
	return s
}

// EnabledByCategory returns enabled-rule counts keyed by category, for the
// rules-enabled gauge.
func (m *Manager) EnabledByCategory() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]int)
	for _, r := range m.rules {
		if r.Enabled {
			out[r.Category]++
		}
	}
	return out
}

// Import loads a rule file, tagging entries as imported. Invalid entries are
// skipped with a warning.
func (m *Manager) Import(path string) (int, error) {
	batch, err := ReadCatalogFile(path)
	if err != nil {
		return 0, err
	}
	return m.Load(batch, SourceImported), nil
}

// Export writes rules to a JSON file. An empty filter exports everything;
// otherwise only rules whose category is in the filter are written.
func (m *Manager) Export(path string, categories ...string) (int, error) {
	want := make(map[string]bool, len(categories))
	for _, c := range categories {
		want[c] = true
	}

	var out []*Rule
	for _, r := range m.All() {
		if len(want) == 0 || want[r.Category] {
			out = append(out, r)
		}
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return 0, err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return 0, fmt.Errorf("write %s: %w", path, err)
	}
	return len(out), nil
}

// insertLocked stores r and indexes its category. Caller holds mu.
func (m *Manager) insertLocked(r *Rule) {
	if old, ok := m.rules[r.ID]; ok {
		m.removeLocked(old)
	}
	m.rules[r.ID] = r
	m.byCategory[r.Category] = append(m.byCategory[r.Category], r.ID)
}

// removeLocked drops r from the category index. Caller holds mu.
func (m *Manager) removeLocked(r *Rule) {
	ids := m.byCategory[r.Category]
	for i, id := range ids {
		if id == r.ID {
			m.byCategory[r.Category] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(m.byCategory[r.Category]) == 0 {
		delete(m.byCategory, r.Category)
	}
}

// rebuildLocked refreshes the enabled snapshot. Caller holds mu.
func (m *Manager) rebuildLocked() {
	enabled := make([]*Rule, 0, len(m.rules))
	for _, r := range m.rules {
		if r.Enabled {
			enabled = append(enabled, r)
		}
	}
	m.enabled = enabled
}
