package domain

import "strings"

// Severity is the CVSS v3.1 base severity attached to a vulnerability.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityUnknown  Severity = "UNKNOWN"
)

// severityRank orders severities from most to least urgent.
var severityRank = map[Severity]int{
	SeverityCritical: 0,
	SeverityHigh:     1,
	SeverityMedium:   2,
	SeverityLow:      3,
	SeverityUnknown:  4,
}

// ParseSeverity maps s case-insensitively onto a Severity.
// Unrecognised values become SeverityUnknown.
func ParseSeverity(s string) Severity {
	sev := Severity(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := severityRank[sev]; ok {
		return sev
	}
	return SeverityUnknown
}

// ValidSeverity reports whether s names one of the known severities.
func ValidSeverity(s string) bool {
	_, ok := severityRank[Severity(strings.ToUpper(strings.TrimSpace(s)))]
	return ok
}

// Rank returns the sort position of s; lower is more severe.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return severityRank[SeverityUnknown]
}

func (s Severity) String() string { return string(s) }
