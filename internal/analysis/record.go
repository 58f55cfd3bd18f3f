package analysis

import (
	"encoding/json"
	"time"
)

// Threat is a single matched indicator embedded in a Record and in event
// payloads.
type Threat struct {
	Type        string  `json:"type"`
	Pattern     string  `json:"pattern"`
	Description string  `json:"description"`
	Score       float64 `json:"score"`
	Excerpt     string  `json:"excerpt,omitempty"`
}

// Record is the normalized view of one request that flows through the
// pipeline. Modules and the rule engine append threats and raise the score;
// the record is discarded after the decision.
type Record struct {
	Timestamp time.Time
	IP        string
	UserAgent string
	Method    string
	Path      string
	Query     map[string][]string
	Body      string
	// StructuredBody carries an already-parsed body supplied by the caller.
	// It is serialized on demand when scanned; Body wins when both are set.
	StructuredBody any
	Headers        map[string][]string
	Cookies        map[string]string

	Score   float64
	Threats []Threat
	Modules []string
}

// BodyText returns the body as a string, serializing StructuredBody if no
// raw body was captured.
func (r *Record) BodyText() string {
	if r.Body != "" {
		return r.Body
	}
	if r.StructuredBody == nil {
		return ""
	}
	b, err := json.Marshal(r.StructuredBody)
	if err != nil {
		return ""
	}
	return string(b)
}

// BodySize reports the scanned body length in bytes.
func (r *Record) BodySize() int {
	return len(r.BodyText())
}

// AddThreat appends a threat and raises the running score. The score only
// ever goes up within a single analysis.
func (r *Record) AddThreat(t Threat) {
	r.Threats = append(r.Threats, t)
	if t.Score > 0 {
		r.Score += t.Score
	}
}

// Touch marks a module as having analyzed this record.
func (r *Record) Touch(module string) {
	for _, m := range r.Modules {
		if m == module {
			return
		}
	}
	r.Modules = append(r.Modules, module)
}

// Excerpt clips s to at most 100 characters for threat payloads.
func Excerpt(s string) string {
	const max = 100
	if len(s) <= max {
		return s
	}
	return s[:max]
}
