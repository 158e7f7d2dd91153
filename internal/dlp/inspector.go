// Package dlp scans document content for sensitive data patterns and
// recommends a classification. Content inspection is escalation-only: its
// recommendation can raise a document's classification but the caller must
// never use it to lower one.
package dlp

import (
	"regexp"
	"strings"

	"docvault/internal/model"
)

// pattern binds a detector to its finding type and severity tier.
type pattern struct {
	findingType string
	severity    model.FindingSeverity
	re          *regexp.Regexp

	// validate optionally filters raw regexp matches; nil accepts all.
	validate func(string) bool
}

var patterns = []pattern{
	{
		// Identifiers resembling government ID numbers: bare 9-digit runs
		// or the dashed 3-2-4 form.
		findingType: "government_id",
		severity:    model.SeverityCritical,
		re:          regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b|\b\d{9}\b`),
	},
	{
		findingType: "payment_card",
		severity:    model.SeverityHigh,
		re:          regexp.MustCompile(`\b(?:\d[ -]?){13,19}\b`),
		validate:    luhnValid,
	},
	{
		findingType: "ip_address",
		severity:    model.SeverityMedium,
		re:          regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`),
	},
	{
		findingType: "email",
		severity:    model.SeverityLow,
		re:          regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
	},
	{
		findingType: "phone",
		severity:    model.SeverityLow,
		re:          regexp.MustCompile(`\b\+?\d{1,3}[ .-]?\(?\d{3}\)?[ .-]?\d{3}[ .-]?\d{4}\b`),
	},
}

// severityRecommendation maps an overall risk tier to the classification the
// content warrants.
var severityRecommendation = map[model.FindingSeverity]model.Classification{
	model.SeverityCritical: model.Secret,
	model.SeverityHigh:     model.Confidential,
	model.SeverityMedium:   model.Confidential,
	model.SeverityLow:      model.Internal,
}

// Inspector scans text for sensitive patterns.
type Inspector struct{}

// NewInspector creates a content inspector with the built-in pattern set.
func NewInspector() *Inspector {
	return &Inspector{}
}

// Inspect scans text and returns all findings, the overall risk (maximum
// severity found), and the recommended classification. Content with no
// findings recommends Public, which never changes an existing classification
// under escalation-only semantics.
func (i *Inspector) Inspect(text string) model.DLPResult {
	var result model.DLPResult

	for _, p := range patterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			match := text[loc[0]:loc[1]]
			if p.validate != nil && !p.validate(match) {
				continue
			}
			result.Findings = append(result.Findings, model.DLPFinding{
				Type:     p.findingType,
				Severity: p.severity,
				Excerpt:  redact(match),
				Offset:   loc[0],
			})
			if p.severity > result.Risk {
				result.Risk = p.severity
			}
		}
	}

	if result.Risk > 0 {
		result.Recommended = severityRecommendation[result.Risk]
	}
	return result
}

// Recommend returns the classification a document should carry after
// inspection: the maximum of its current classification and the content's
// recommendation. Never lower than current.
func Recommend(current model.Classification, result model.DLPResult) model.Classification {
	if result.Recommended > current {
		return result.Recommended
	}
	return current
}

// redact keeps only the leading and trailing character of a match so audit
// metadata never carries the full sensitive value.
func redact(match string) string {
	trimmed := strings.TrimSpace(match)
	if len(trimmed) <= 2 {
		return "**"
	}
	return trimmed[:1] + strings.Repeat("*", len(trimmed)-2) + trimmed[len(trimmed)-1:]
}

// luhnValid checks a candidate card number's check digit after stripping
// separators. Filters out arbitrary long digit runs.
func luhnValid(candidate string) bool {
	digits := make([]int, 0, len(candidate))
	for _, r := range candidate {
		if r >= '0' && r <= '9' {
			digits = append(digits, int(r-'0'))
		}
	}
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}

	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := digits[i]
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
