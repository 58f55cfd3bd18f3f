package modules

import (
	"regexp"

	"github.com/aegis-waf/aegis-go/internal/analysis"
)

// SQLi detects SQL injection payloads: union selects, tautologies, timing
// probes, stacked queries, comments, schema discovery, file I/O, and DDL.
type SQLi struct{}

func NewSQLi() *SQLi { return &SQLi{} }

func (s *SQLi) Name() string { return "sqli" }

func (s *SQLi) Analyze(rec *analysis.Record) *Result {
	rec.Touch("sqli")
	return scan("sqli", "sqli", sqliPatterns, sqliCombos, rec)
}

var sqliPatterns = mustPatterns([]pattern{
	{id: "union-select", desc: "UNION SELECT injection", score: 4,
		re: regexp.MustCompile(`(?i)\bunion\s+(all\s+)?select\b`)},
	{id: "boolean-tautology", desc: "Boolean tautology", score: 3,
		re: regexp.MustCompile(`(?i)\b(or|and)\s+(1\s*=\s*[01]|true\b|false\b)`)},
	{id: "time-based", desc: "Time-based injection probe", score: 4,
		re: regexp.MustCompile(`(?i)\b(sleep|benchmark)\s*\(|waitfor\s+delay`)},
	{id: "error-based", desc: "Error-based extraction function", score: 3,
		re: regexp.MustCompile(`(?i)\b(extractvalue|updatexml|exp)\s*\(`)},
	{id: "stacked-query", desc: "Stacked query", score: 3,
		re: regexp.MustCompile(`(?i);\s*(select|insert|update|delete|drop|create|alter)\b`)},
	{id: "comment-dash", desc: "SQL comment terminator", score: 2,
		re: regexp.MustCompile(`(?m)--\s*$`)},
	{id: "comment-hash", desc: "SQL hash comment", score: 2,
		re: regexp.MustCompile(`(?m)#\s*$`)},
	{id: "comment-block", desc: "SQL block comment", score: 2,
		re: regexp.MustCompile(`/\*.*?\*/`)},
	{id: "information-schema", desc: "Schema discovery", score: 3,
		re: regexp.MustCompile(`(?i)\binformation_schema\b|\bmysql\s*\.\s*\w+`)},
	{id: "file-io", desc: "File read/write function", score: 4,
		re: regexp.MustCompile(`(?i)\bload_file\s*\(|into\s+(out|dump)file\b`)},
	{id: "drop-table", desc: "DROP TABLE statement", score: 5,
		re: regexp.MustCompile(`(?i)\bdrop\s+(table|database)\b`)},
	{id: "truncate-table", desc: "TRUNCATE statement", score: 4,
		re: regexp.MustCompile(`(?i)\btruncate\s+table\b`)},
	{id: "alter-table", desc: "ALTER statement", score: 3,
		re: regexp.MustCompile(`(?i)\balter\s+table\b`)},
	{id: "create-table", desc: "CREATE statement", score: 2,
		re: regexp.MustCompile(`(?i)\bcreate\s+(table|database)\b`)},
	{id: "insert-into", desc: "INSERT INTO statement", score: 3,
		re: regexp.MustCompile(`(?i)\binsert\s+into\b`)},
	{id: "update-set", desc: "UPDATE SET statement", score: 3,
		re: regexp.MustCompile(`(?i)\bupdate\s+\w+\s+set\b`)},
	{id: "delete-from", desc: "DELETE FROM statement", score: 3,
		re: regexp.MustCompile(`(?i)\bdelete\s+from\b`)},
	{id: "privilege", desc: "GRANT/REVOKE statement", score: 3,
		re: regexp.MustCompile(`(?i)\b(grant|revoke)\s+[\w,\s]+\s+on\b`)},
	{id: "conditional-func", desc: "Conditional function", score: 1,
		re: regexp.MustCompile(`(?i)\b(ifnull|nullif|coalesce)\s*\(|\bcase\s+when\b`)},
	{id: "string-func", desc: "String/math function", score: 1,
		re: regexp.MustCompile(`(?i)\b(concat|substring|substr|ascii|hex|unhex|floor|rand)\s*\(`)},
	{id: "clause", desc: "Suspicious SQL clause", score: 1,
		re: regexp.MustCompile(`(?i)\b(order|group)\s+by\b|\bhaving\b|\blimit\s+\d+\s+offset\b|like\s+'%`)},
	{id: "subquery", desc: "Subquery expression", score: 2,
		re: regexp.MustCompile(`(?i)\(\s*select\b|\bexists\s*\(`)},
	{id: "admin-comment", desc: "Quoted admin bypass", score: 3,
		re: regexp.MustCompile(`(?i)admin'\s*--`)},
})

var sqliCombos = []combo{
	{
		id:    "union-schema-discovery",
		desc:  "UNION with schema discovery",
		score: 3,
		all:   []string{"union-select", "information-schema"},
	},
	{
		id:    "blind-timing",
		desc:  "Timing probe with boolean or union",
		score: 2,
		all:   []string{"time-based"},
		anyOf: []string{"union-select", "boolean-tautology"},
	},
	{
		id:    "stacked-statement",
		desc:  "Stacked destructive statement",
		score: 2,
		all:   []string{"stacked-query"},
		anyOf: []string{"drop-table", "delete-from", "truncate-table"},
	},
	{
		id:    "commented-probe",
		desc:  "Comment hiding a probe",
		score: 2,
		all:   []string{"comment-dash"},
		anyOf: []string{"union-select", "boolean-tautology", "subquery"},
	},
}
