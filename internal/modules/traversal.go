package modules

import (
	"regexp"

	"github.com/aegis-waf/aegis-go/internal/analysis"
)

// PathTraversal detects directory climbing and sensitive file probes.
type PathTraversal struct{}

func NewPathTraversal() *PathTraversal { return &PathTraversal{} }

func (p *PathTraversal) Name() string { return "path-traversal" }

func (p *PathTraversal) Analyze(rec *analysis.Record) *Result {
	rec.Touch("path-traversal")
	return scan("path-traversal", "path-traversal", traversalPatterns, traversalCombos, rec)
}

var traversalPatterns = mustPatterns([]pattern{
	{id: "dot-dot", desc: "Directory traversal sequence", score: 3,
		re: regexp.MustCompile(`\.\./|\.\.\\`)},
	{id: "encoded-dot-dot", desc: "Encoded traversal sequence", score: 4,
		re: regexp.MustCompile(`(?i)%2e%2e%2f|%2e%2e/|\.\.%2f|%2e%2e%5c|\.\.%5c`)},
	{id: "unix-sensitive-file", desc: "Sensitive Unix file probe", score: 4,
		re: regexp.MustCompile(`(?i)/etc/(passwd|shadow|hosts|issue)|/proc/(self|version|cmdline)`)},
	{id: "windows-sensitive-file", desc: "Sensitive Windows file probe", score: 4,
		re: regexp.MustCompile(`(?i)c:\\+windows|c:/windows|boot\.ini|win\.ini`)},
	{id: "null-byte", desc: "Null byte truncation", score: 3,
		re: regexp.MustCompile(`(?i)%00|\x00`)},
})

var traversalCombos = []combo{
	{
		id:    "traversal-file-read",
		desc:  "Traversal reaching a sensitive file",
		score: 3,
		all:   []string{"dot-dot"},
		anyOf: []string{"unix-sensitive-file", "windows-sensitive-file"},
	},
}
