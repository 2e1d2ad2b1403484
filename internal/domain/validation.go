package domain

// Severity grades a validation issue
type Severity string

// Severities, most to least severe
const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Penalty is the confidence deduction for one issue of this severity
func (s Severity) Penalty() float64 {
	switch s {
	case SeverityCritical:
		return 0.3
	case SeverityHigh:
		return 0.2
	case SeverityMedium:
		return 0.1
	case SeverityLow:
		return 0.05
	default:
		return 0
	}
}

// ValidationBundle is the data set checked by the validator
type ValidationBundle struct {
	Jurisdiction Jurisdiction `json:"jurisdiction"`
	Permits      []Permit     `json:"permits"`
	Fees         []Fee        `json:"fees"`
	Contact      ContactInfo  `json:"contact"`
}

// ValidationIssue is one problem found in a bundle
type ValidationIssue struct {
	Field    string   `json:"field"`
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
}

// CrossReference is a confidence reading from an independent source
type CrossReference struct {
	Source     string   `json:"source"`
	Confidence float64  `json:"confidence"`
	Matched    []string `json:"matched,omitempty"`
	Unmatched  []string `json:"unmatched,omitempty"`
}

// ValidationResult summarises the checks run on a bundle
type ValidationResult struct {
	Valid           bool              `json:"valid"`
	Confidence      float64           `json:"confidence"`
	Issues          []ValidationIssue `json:"issues"`
	Suggestions     []string          `json:"suggestions,omitempty"`
	CrossReferences []CrossReference  `json:"cross_references,omitempty"`
}
