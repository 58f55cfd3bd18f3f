// Package modules contains the pluggable signature scanners. Every module
// implements the same contract: inspect a normalized request record and
// report a partial score plus the threats that produced it, or nil when
// nothing matched.
package modules

import (
	"regexp"

	"github.com/aegis-waf/aegis-go/internal/analysis"
)

// Result is one module's contribution to a request's signature score.
type Result struct {
	Module  string
	Score   float64
	Threats []analysis.Threat
}

// Module is a signature scanner selected by the `modules` config list.
type Module interface {
	Name() string
	Analyze(rec *analysis.Record) *Result
}

// pattern is a single compiled indicator within a module.
type pattern struct {
	id    string
	desc  string
	score float64
	re    *regexp.Regexp
}

// combo awards a bonus when all listed pattern ids matched in one request.
// Patterns named in absorb contribute through the combo instead of on their
// own, so a script tag wrapping an alert() counts once, not twice.
type combo struct {
	id     string
	desc   string
	score  float64
	all    []string
	anyOf  []string
	absorb []string
}

func mustPatterns(ps []pattern) []pattern {
	for i := range ps {
		// compiled eagerly; a bad builtin pattern is a programming error
		_ = ps[i].re
	}
	return ps
}

// scan runs every (pattern, text) pair for a module and applies combination
// bonuses. Go's regexp matching is stateless, so concurrent requests share
// the compiled patterns safely.
func scan(module, threatType string, patterns []pattern, combos []combo, rec *analysis.Record) *Result {
	matched := make(map[string]string) // pattern id -> first matched excerpt
	var threats []analysis.Threat

	for _, f := range Surface(rec) {
		for i := range patterns {
			p := &patterns[i]
			loc := p.re.FindStringIndex(f.Text)
			if loc == nil {
				continue
			}
			excerpt := analysis.Excerpt(f.Text[loc[0]:loc[1]])
			if _, seen := matched[p.id]; !seen {
				matched[p.id] = excerpt
			}
			threats = append(threats, analysis.Threat{
				Type:        threatType,
				Pattern:     p.id,
				Description: p.desc,
				Score:       p.score,
				Excerpt:     excerpt,
			})
		}
	}

	if len(threats) == 0 {
		return nil
	}

	absorbed := make(map[string]bool)
	var bonuses []analysis.Threat
	for _, c := range combos {
		if !comboFires(c, matched) {
			continue
		}
		for _, id := range c.absorb {
			absorbed[id] = true
		}
		bonuses = append(bonuses, analysis.Threat{
			Type:        threatType,
			Pattern:     c.id,
			Description: c.desc,
			Score:       c.score,
		})
	}

	var total float64
	kept := threats[:0]
	for _, t := range threats {
		if absorbed[t.Pattern] {
			continue
		}
		kept = append(kept, t)
		total += t.Score
	}
	for _, b := range bonuses {
		kept = append(kept, b)
		total += b.Score
	}

	return &Result{Module: module, Score: total, Threats: kept}
}

func comboFires(c combo, matched map[string]string) bool {
	for _, id := range c.all {
		if _, ok := matched[id]; !ok {
			return false
		}
	}
	if len(c.anyOf) == 0 {
		return true
	}
	for _, id := range c.anyOf {
		if _, ok := matched[id]; ok {
			return true
		}
	}
	return false
}
