package modules

import (
	"regexp"

	"github.com/aegis-waf/aegis-go/internal/analysis"
)

// NoSQLi detects MongoDB-style operator injection and $where JavaScript.
type NoSQLi struct{}

func NewNoSQLi() *NoSQLi { return &NoSQLi{} }

func (n *NoSQLi) Name() string { return "nosqli" }

func (n *NoSQLi) Analyze(rec *analysis.Record) *Result {
	rec.Touch("nosqli")
	return scan("nosqli", "nosqli", nosqliPatterns, nosqliCombos, rec)
}

var nosqliPatterns = mustPatterns([]pattern{
	{id: "operator-injection", desc: "Query operator injection", score: 3,
		re: regexp.MustCompile(`(?i)\$\s*(ne|gt|gte|lt|lte|in|nin|exists|regex|not)\b`)},
	{id: "where-clause", desc: "$where JavaScript clause", score: 4,
		re: regexp.MustCompile(`(?i)\$where\b`)},
	{id: "logical-operator", desc: "Logical operator injection", score: 2,
		re: regexp.MustCompile(`(?i)\$\s*(or|and|nor)\b`)},
	{id: "map-reduce", desc: "mapReduce execution", score: 3,
		re: regexp.MustCompile(`(?i)\bmapreduce\b|\$function\b|\$accumulator\b`)},
	{id: "js-expression", desc: "Embedded JavaScript expression", score: 2,
		re: regexp.MustCompile(`(?i)\bthis\.\w+\s*(==|!=|&&|\|\|)`)},
})

var nosqliCombos = []combo{
	{
		id:    "where-javascript",
		desc:  "$where with JavaScript payload",
		score: 3,
		all:   []string{"where-clause", "js-expression"},
	},
}
