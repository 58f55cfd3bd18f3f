// Package rules owns the flat rule set evaluated by the engine alongside the
// signature modules: loading, runtime CRUD, import/export, and the periodic
// community refresh.
package rules

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Rule sources.
const (
	SourceBuiltin   = "builtin"
	SourceCustom    = "custom"
	SourceCommunity = "community"
	SourceImported  = "imported"
)

// Rule is a (pattern, score, category) triple, the atomic unit of signature
// detection. The compiled pattern never changes after the rule is added;
// updates swap in a freshly compiled replacement.
type Rule struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Category    string   `json:"category"`
	Pattern     string   `json:"pattern"`
	Flags       string   `json:"flags,omitempty"`
	Score       float64  `json:"score"`
	Description string   `json:"description,omitempty"`
	Severity    string   `json:"severity,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Enabled     bool     `json:"enabled"`
	Source      string   `json:"source,omitempty"`
	AddedAt     time.Time `json:"addedAt,omitempty"`

	re *regexp.Regexp
}

// Match reports whether the rule's pattern matches text. Matching is
// stateless, so a single compiled rule serves concurrent requests.
func (r *Rule) Match(text string) bool {
	return r.re != nil && r.re.MatchString(text)
}

// compile builds the Go regexp from the pattern and its flag letters.
// Flags follow the usual extended-regex letters: i (case-insensitive),
// m (multi-line), s (dot matches newline). The g flag carries no meaning in
// Go, which keeps no match cursor, so it is accepted and ignored.
func (r *Rule) compile() error {
	flags := r.Flags
	if flags == "" {
		flags = "gi"
	}

	var goFlags strings.Builder
	for _, f := range flags {
		switch f {
		case 'i', 'm', 's':
			goFlags.WriteRune(rune(f))
		case 'g':
			// no-op
		default:
			return fmt.Errorf("unsupported flag %q", string(f))
		}
	}

	expr := r.Pattern
	if goFlags.Len() > 0 {
		expr = "(?" + goFlags.String() + ")" + expr
	}

	re, err := regexp.Compile(expr)
	if err != nil {
		return fmt.Errorf("compile pattern: %w", err)
	}
	r.re = re
	return nil
}

// validate checks the invariant every enabled rule must hold: a compiled
// pattern and a non-negative score.
func (r *Rule) validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule missing id")
	}
	if r.Pattern == "" {
		return fmt.Errorf("rule %s missing pattern", r.ID)
	}
	if r.Score < 0 {
		return fmt.Errorf("rule %s has negative score", r.ID)
	}
	return r.compile()
}

// clone returns a copy sharing the compiled pattern.
func (r *Rule) clone() *Rule {
	c := *r
	c.Tags = append([]string(nil), r.Tags...)
	return &c
}
