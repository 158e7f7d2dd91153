package model

// FindingSeverity ranks how sensitive a detected pattern is. Higher values
// dominate when aggregating a document's overall risk.
type FindingSeverity int

const (
	SeverityLow FindingSeverity = iota + 1
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s FindingSeverity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	}
	return "unknown"
}

// DLPFinding is one sensitive-pattern match in document content. Excerpt is
// a short redacted sample of the match, never the full value.
type DLPFinding struct {
	Type     string          `json:"type"`
	Severity FindingSeverity `json:"severity"`
	Excerpt  string          `json:"excerpt"`
	Offset   int             `json:"offset"`
}

// DLPResult aggregates all findings for one document. Recommended is the
// classification the content warrants; the pipeline only ever raises a
// document to it, never lowers.
type DLPResult struct {
	Findings    []DLPFinding    `json:"findings,omitempty"`
	Risk        FindingSeverity `json:"risk,omitempty"`
	Recommended Classification  `json:"recommended"`
}

// HasFindings reports whether any sensitive pattern matched.
func (r DLPResult) HasFindings() bool {
	return len(r.Findings) > 0
}
