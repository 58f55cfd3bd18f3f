package rules

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
)

//go:embed builtin.json
var builtinCatalog []byte

// catalogEntry is the rule file wire format: `flags` defaults to "gi" and
// `enabled` to true when absent.
type catalogEntry struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Category    string   `json:"category"`
	Pattern     string   `json:"pattern"`
	Flags       string   `json:"flags"`
	Score       float64  `json:"score"`
	Description string   `json:"description"`
	Severity    string   `json:"severity"`
	Tags        []string `json:"tags"`
	Enabled     *bool    `json:"enabled"`
}

// ParseCatalog decodes a JSON rule array into Rules, applying wire defaults.
func ParseCatalog(data []byte) ([]Rule, error) {
	var entries []catalogEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse rule catalog: %w", err)
	}

	out := make([]Rule, 0, len(entries))
	for _, e := range entries {
		enabled := true
		if e.Enabled != nil {
			enabled = *e.Enabled
		}
		flags := e.Flags
		if flags == "" {
			flags = "gi"
		}
		out = append(out, Rule{
			ID:          e.ID,
			Name:        e.Name,
			Category:    e.Category,
			Pattern:     e.Pattern,
			Flags:       flags,
			Score:       e.Score,
			Description: e.Description,
			Severity:    e.Severity,
			Tags:        e.Tags,
			Enabled:     enabled,
		})
	}
	return out, nil
}

// ReadCatalogFile reads and parses a rule file from disk.
func ReadCatalogFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// Builtin returns the embedded rule catalog. It is always available, even
// when no rules file is configured.
func Builtin() []Rule {
	batch, err := ParseCatalog(builtinCatalog)
	if err != nil {
		// the embedded catalog is validated by tests; reaching this is a bug
		panic(fmt.Sprintf("builtin catalog: %v", err))
	}
	return batch
}
