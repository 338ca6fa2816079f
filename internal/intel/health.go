package intel

// Severity of a health finding.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Finding is one issue, warning or improvement in a health report.
type Finding struct {
	Severity Severity `json:"severity"`
	Issue    string   `json:"issue"`
	Solution string   `json:"solution"`
	Impact   string   `json:"impact"`
}

// HealthFacts are the structural facts a health check grades. The caller
// gathers them from the registry, state machine and webhook config.
type HealthFacts struct {
	Paused            bool
	Operators         int
	WebhookConfigured bool
	WebhookEnabled    bool
	DefaultThresholds bool
	AutoPause         bool
	TrackedAddresses  int
	TotalScans        int64
}

// HealthReport grades the deployment's configuration.
type HealthReport struct {
	HealthScore  int       `json:"health_score"`
	HealthStatus string    `json:"health_status"`
	SystemReady  bool      `json:"system_ready"`
	Issues       []Finding `json:"issues"`
	Warnings     []Finding `json:"warnings"`
	Improvements []Finding `json:"improvements"`
}

var penalties = map[Severity]int{
	SeverityCritical: 40,
	SeverityHigh:     20,
	SeverityMedium:   10,
	SeverityLow:      5,
}

// Assess builds a structural health report. Issues block readiness,
// warnings and improvements only cost score.
func Assess(f HealthFacts) *HealthReport {
	r := &HealthReport{Issues: []Finding{}, Warnings: []Finding{}, Improvements: []Finding{}}

	if f.Paused {
		r.Issues = append(r.Issues, Finding{SeverityCritical, "system is paused",
			"investigate the pause reason and resume with a justification", "all scans are blocked"})
	}
	if f.Operators == 0 {
		r.Warnings = append(r.Warnings, Finding{SeverityHigh, "no operators besides the owner",
			"add at least one operator", "a single key can pause, resume and reconfigure"})
	}
	switch {
	case !f.WebhookConfigured:
		r.Warnings = append(r.Warnings, Finding{SeverityMedium, "no webhook configured",
			"configure a webhook for threat alerts", "threats are only visible by polling"})
	case !f.WebhookEnabled:
		r.Warnings = append(r.Warnings, Finding{SeverityLow, "webhook is disabled",
			"enable the webhook", "threat alerts are not delivered"})
	}
	if !f.AutoPause {
		r.Warnings = append(r.Warnings, Finding{SeverityMedium, "auto-pause is disabled",
			"enable AUTO_PAUSE", "critical threats are flagged but not contained"})
	}
	if f.DefaultThresholds {
		r.Improvements = append(r.Improvements, Finding{SeverityLow, "thresholds are at defaults",
			"tune thresholds to observed traffic", "classification may not fit this deployment"})
	}
	if f.TrackedAddresses == 0 {
		r.Improvements = append(r.Improvements, Finding{SeverityLow, "no tracked addresses",
			"track key counterparties", "escalation risk cannot be measured"})
	}
	if f.TotalScans == 0 {
		r.Improvements = append(r.Improvements, Finding{SeverityLow, "scan history is empty",
			"route transactions through scan_transaction", "intelligence has nothing to analyze"})
	}

	score := 100
	for _, group := range [][]Finding{r.Issues, r.Warnings, r.Improvements} {
		for _, f := range group {
			score -= penalties[f.Severity]
		}
	}
	r.HealthScore = max(0, score)
	r.SystemReady = len(r.Issues) == 0
	switch {
	case r.HealthScore >= 80:
		r.HealthStatus = "healthy"
	case r.HealthScore >= 50:
		r.HealthStatus = "degraded"
	default:
		r.HealthStatus = "unhealthy"
	}
	return r
}
