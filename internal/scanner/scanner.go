// Package scanner defines the malware-scanning boundary of the pipeline and
// its implementations.
package scanner

import (
	"context"
)

// Verdict is the result of scanning one file.
type Verdict struct {
	Infected      bool
	SignatureName string
}

// Scanner produces a verdict for a file on disk. Implementations must honor
// context cancellation; a hung external tool is treated as a stage failure
// by the caller's timeout, not tolerated here.
type Scanner interface {
	Scan(ctx context.Context, path string) (Verdict, error)
}
