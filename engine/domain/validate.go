package domain

import (
	"regexp"
	"strconv"
	"strings"
)

// Bounds for the number of raw hits a query may request.
const (
	MinTopK     = 1
	MaxTopK     = 10
	DefaultTopK = 5
)

var cveIDRegex = regexp.MustCompile(`^CVE-\d{4}-\d{4,}$`)

// Query is a retrieval request.
type Query struct {
	Text     string `json:"q"`
	TopK     int    `json:"top_k"`
	Severity string `json:"severity,omitempty"`
}

// ValidateQuery checks text, top_k bounds and the optional severity filter.
func ValidateQuery(q Query) error {
	if strings.TrimSpace(q.Text) == "" {
		return NewValidationError("q", q.Text, ErrQueryEmpty)
	}
	if q.TopK < MinTopK || q.TopK > MaxTopK {
		return NewValidationError("top_k", strconv.Itoa(q.TopK), ErrTopKOutOfRange)
	}
	if q.Severity != "" && !ValidSeverity(q.Severity) {
		return NewValidationError("severity", q.Severity, ErrUnknownSeverity)
	}
	return nil
}

// ValidateCVEID checks that id looks like CVE-YYYY-NNNN.
func ValidateCVEID(id string) error {
	if !cveIDRegex.MatchString(id) {
		return NewValidationError("id", id, ErrInvalidCVEID)
	}
	return nil
}
