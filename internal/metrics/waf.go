package metrics

// DurationBuckets are the request-duration histogram bounds in seconds.
var DurationBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600}

// WAF bundles the pre-registered firewall metric families.
type WAF struct {
	Registry *Registry

	Requests         *Family // waf_requests_total{method,status}
	Threats          *Family // waf_threats_total{type,severity}
	Blocks           *Family // waf_blocks_total{reason,module}
	LearningRequests *Family // waf_learning_requests_total{phase}
	RuleMatches      *Family // waf_rule_matches_total{rule_id,category}
	IPBlocks         *Family // waf_ip_blocks_total{reason}
	RateLimitHits    *Family // waf_rate_limit_hits_total{ip}

	BlockedIPs       *Family // waf_blocked_ips
	LearningProgress *Family // waf_learning_progress{phase}
	RulesEnabled     *Family // waf_rules_enabled{category}

	RequestDuration *Family // waf_request_duration_seconds{method,status}
}

// NewWAF registers every firewall family on a fresh registry.
func NewWAF() *WAF {
	r := NewRegistry()
	return &WAF{
		Registry: r,

		Requests:         r.Counter("waf_requests_total", "Requests processed by the firewall.", "method", "status"),
		Threats:          r.Counter("waf_threats_total", "Threats detected, by type and severity.", "type", "severity"),
		Blocks:           r.Counter("waf_blocks_total", "Requests blocked, by reason and module.", "reason", "module"),
		LearningRequests: r.Counter("waf_learning_requests_total", "Requests observed while learning.", "phase"),
		RuleMatches:      r.Counter("waf_rule_matches_total", "Flat rule matches.", "rule_id", "category"),
		IPBlocks:         r.Counter("waf_ip_blocks_total", "IP addresses blocked.", "reason"),
		RateLimitHits:    r.Counter("waf_rate_limit_hits_total", "Rate limit violations.", "ip"),

		BlockedIPs:       r.Gauge("waf_blocked_ips", "Currently blocked IP addresses."),
		LearningProgress: r.Gauge("waf_learning_progress", "Learning period progress in [0,1].", "phase"),
		RulesEnabled:     r.Gauge("waf_rules_enabled", "Enabled rules by category.", "category"),

		RequestDuration: r.Histogram("waf_request_duration_seconds", "Firewall request processing duration.", DurationBuckets, "method", "status"),
	}
}

// Severity maps a threat score onto the exported severity label.
func Severity(score float64) string {
	switch {
	case score >= 10:
		return "critical"
	case score >= 5:
		return "high"
	case score >= 3:
		return "medium"
	default:
		return "low"
	}
}
