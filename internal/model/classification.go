package model

import "fmt"

// Classification is the sensitivity tier of a document. The values form an
// ordered scale: Public < Internal < Confidential < Secret. Ordering is
// meaningful and relied on by access decisions, so the numeric values must
// never be reordered.
type Classification int

const (
	Public Classification = iota
	Internal
	Confidential
	Secret
)

// classificationNames is the total lookup table for the scale. Adding a new
// classification value requires updating this table, the policy defaults, and
// the approval-level mapping.
var classificationNames = map[Classification]string{
	Public:       "public",
	Internal:     "internal",
	Confidential: "confidential",
	Secret:       "secret",
}

func (c Classification) String() string {
	if name, ok := classificationNames[c]; ok {
		return name
	}
	return fmt.Sprintf("classification(%d)", int(c))
}

// Valid reports whether c is one of the defined classification values.
func (c Classification) Valid() bool {
	_, ok := classificationNames[c]
	return ok
}

// Covers reports whether a clearance at level c grants access to documents
// classified at level other.
func (c Classification) Covers(other Classification) bool {
	return c >= other
}

// ParseClassification converts a stored string form back to a Classification.
func ParseClassification(s string) (Classification, error) {
	for c, name := range classificationNames {
		if name == s {
			return c, nil
		}
	}
	return Public, fmt.Errorf("unknown classification: %q", s)
}

// Classifications returns all defined values in ascending order of
// sensitivity. Used by tests and by policy-table completeness checks.
func Classifications() []Classification {
	return []Classification{Public, Internal, Confidential, Secret}
}
