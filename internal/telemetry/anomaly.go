package telemetry

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Rank orders severities for comparison.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	}
	return 0
}

// Evidence is a raw reading that contributed to an anomaly.
type Evidence struct {
	TimeUS  uint64  `json:"time_us"`
	Message string  `json:"message"`
	Field   string  `json:"field"`
	Value   float64 `json:"value"`
	// Delta is the step or rate that tripped the rule, when the rule is derivative.
	Delta *float64 `json:"delta,omitempty"`
}

// Anomaly is a rule-flagged irregularity over a time range. It is evidence
// for a reviewer, not a diagnosis.
type Anomaly struct {
	Category    string     `json:"category"`
	StartUS     uint64     `json:"start_us"`
	EndUS       uint64     `json:"end_us"`
	Severity    Severity   `json:"severity"`
	Description string     `json:"description"`
	Samples     int        `json:"samples"`
	Evidence    []Evidence `json:"evidence"`
}
