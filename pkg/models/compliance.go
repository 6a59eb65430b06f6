package models

// ComplianceSeverity grades a compliance issue.
type ComplianceSeverity string

const (
	SeverityHigh   ComplianceSeverity = "high"
	SeverityMedium ComplianceSeverity = "medium"
	SeverityLow    ComplianceSeverity = "low"
)

// ComplianceIssueStatus tracks resolution of an issue.
type ComplianceIssueStatus string

const (
	IssueOpen     ComplianceIssueStatus = "open"
	IssueResolved ComplianceIssueStatus = "resolved"
	IssueWaived   ComplianceIssueStatus = "waived"
)

// Closed sets the compliance simulator draws from.
var (
	ComplianceCategories = []string{"ethics", "scientific", "regulatory", "procedural", "statistical", "operational"}
	ComplianceSeverities = []ComplianceSeverity{SeverityHigh, SeverityMedium, SeverityLow}
	ComplianceLocations  = []string{"Introduction", "Objectives", "Study Design", "Endpoints", "Statistical Analysis"}
)

// ComplianceIssue is a single finding against a protocol section.
type ComplianceIssue struct {
	Category    string                `json:"category"`
	Description string                `json:"description"`
	Severity    ComplianceSeverity    `json:"severity"`
	Location    string                `json:"location"`
	Status      ComplianceIssueStatus `json:"status"`
}

// ComplianceReport is the outcome of a compliance evaluation.
type ComplianceReport struct {
	Score  int               `json:"compliance_score"`
	Issues []ComplianceIssue `json:"compliance_issues"`
}
