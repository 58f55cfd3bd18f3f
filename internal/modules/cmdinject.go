package modules

import (
	"regexp"

	"github.com/aegis-waf/aegis-go/internal/analysis"
)

// CmdInjection detects shell command injection via separators, substitution,
// and dangerous exec-style functions.
type CmdInjection struct{}

func NewCmdInjection() *CmdInjection { return &CmdInjection{} }

func (c *CmdInjection) Name() string { return "cmd-injection" }

func (c *CmdInjection) Analyze(rec *analysis.Record) *Result {
	rec.Touch("cmd-injection")
	return scan("cmd-injection", "cmd-injection", cmdPatterns, cmdCombos, rec)
}

var cmdPatterns = mustPatterns([]pattern{
	{id: "chained-command", desc: "Chained shell command", score: 4,
		re: regexp.MustCompile(`(?i)[;|]\s*(ls|cat|whoami|id|uname|pwd|curl|wget|nc|ncat|bash|sh|cmd)\b`)},
	{id: "command-substitution", desc: "Command substitution", score: 4,
		re: regexp.MustCompile("`[^`]+`|\\$\\([^)]+\\)")},
	{id: "exec-function", desc: "Exec-style function call", score: 3,
		re: regexp.MustCompile(`(?i)\b(eval|exec|system|passthru|popen|proc_open|shell_exec)\s*\(`)},
	{id: "and-chain", desc: "Conditional command chain", score: 3,
		re: regexp.MustCompile(`(?i)(%26%26|&&)\s*(whoami|id|cat|ls|curl|wget)\b`)},
	{id: "newline-command", desc: "Newline-injected command", score: 3,
		re: regexp.MustCompile(`(?i)(%0a|\n)\s*(ls|cat|whoami|id|curl|wget)\b`)},
})

var cmdCombos = []combo{
	{
		id:    "substituted-exec",
		desc:  "Substitution feeding an exec call",
		score: 2,
		all:   []string{"command-substitution", "exec-function"},
	},
}
