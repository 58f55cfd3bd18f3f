package modules

import (
	"regexp"

	"github.com/aegis-waf/aegis-go/internal/analysis"
)

// XSS detects cross-site scripting payloads: script tags, scheme URLs,
// event handlers, payload sinks, and common obfuscation markers.
type XSS struct{}

func NewXSS() *XSS { return &XSS{} }

func (x *XSS) Name() string { return "xss" }

func (x *XSS) Analyze(rec *analysis.Record) *Result {
	rec.Touch("xss")
	return scan("xss", "xss", xssPatterns, xssCombos, rec)
}

var xssPatterns = mustPatterns([]pattern{
	{id: "script-tag", desc: "Script tag injection", score: 3,
		re: regexp.MustCompile(`(?is)<\s*script\b[^>]*>.*?<\s*/\s*script\s*>|<\s*script\b[^>]*>`)},
	{id: "script-src", desc: "External script source", score: 3,
		re: regexp.MustCompile(`(?i)<\s*script[^>]+src\s*=`)},
	{id: "javascript-url", desc: "JavaScript scheme URL", score: 3,
		re: regexp.MustCompile(`(?i)javascript\s*:`)},
	{id: "vbscript-url", desc: "VBScript scheme URL", score: 3,
		re: regexp.MustCompile(`(?i)vbscript\s*:`)},
	{id: "data-url-script", desc: "Data URL with embedded script", score: 4,
		re: regexp.MustCompile(`(?i)data:text/html[^,]*javascript`)},
	{id: "css-expression", desc: "CSS expression()", score: 2,
		re: regexp.MustCompile(`(?i)expression\s*\(`)},
	{id: "remote-element", desc: "Element with remote source", score: 2,
		re: regexp.MustCompile(`(?i)<\s*(iframe|object|embed|base|link|form)\b`)},
	{id: "meta-refresh", desc: "Meta refresh redirect", score: 3,
		re: regexp.MustCompile(`(?i)<\s*meta[^>]+http-equiv\s*=\s*["']?refresh`)},
	{id: "svg-script", desc: "SVG with embedded script", score: 3,
		re: regexp.MustCompile(`(?is)<\s*svg\b[^>]*>.*<\s*script`)},
	{id: "event-handler", desc: "Inline event handler", score: 2,
		re: regexp.MustCompile(`(?i)\bon\w+\s*=`)},
	{id: "alert-function", desc: "Alert/confirm/prompt call", score: 2,
		re: regexp.MustCompile(`(?i)\b(alert|confirm|prompt)\s*\(`)},
	{id: "document-cookie", desc: "Cookie access", score: 3,
		re: regexp.MustCompile(`(?i)document\s*\.\s*cookie`)},
	{id: "document-write", desc: "Document write", score: 2,
		re: regexp.MustCompile(`(?i)document\s*\.\s*write`)},
	{id: "dom-sink", desc: "DOM innerHTML/outerHTML sink", score: 2,
		re: regexp.MustCompile(`(?i)\b(inner|outer)HTML\s*=`)},
	{id: "entity-encoded", desc: "HTML entity encoding", score: 1,
		re: regexp.MustCompile(`(?i)&#x?[0-9a-f]+;`)},
	{id: "url-encoded", desc: "URL-encoded bytes", score: 1,
		re: regexp.MustCompile(`%[0-9a-fA-F]{2}`)},
})

var xssCombos = []combo{
	{
		id:     "script-suspicious-content",
		desc:   "Script tag with suspicious content",
		score:  4,
		all:    []string{"script-tag"},
		anyOf:  []string{"alert-function", "document-cookie", "document-write"},
		absorb: []string{"alert-function", "document-cookie", "document-write"},
	},
	{
		id:     "handler-javascript-url",
		desc:   "Event handler with JavaScript URL",
		score:  3,
		all:    []string{"event-handler", "javascript-url"},
		absorb: []string{"javascript-url"},
	},
	{
		id:    "encoded-script",
		desc:  "Entity-encoded script content",
		score: 2,
		all:   []string{"entity-encoded"},
		anyOf: []string{"script-tag", "alert-function"},
	},
}
