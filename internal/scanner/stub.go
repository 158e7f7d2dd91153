package scanner

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
)

// eicarMarker is the detection token used by the stub scanner. Files whose
// content contains it are reported infected, mirroring how the industry test
// file works against real scanners.
const eicarMarker = "EICAR-STANDARD-ANTIVIRUS-TEST-FILE"

// StubScanner is an in-process scanner for tests and stub deployments. It
// flags files containing the EICAR marker plus any signature registered via
// AddSignature.
type StubScanner struct {
	mu         sync.Mutex
	signatures map[string]string // content substring -> signature name
	failWith   error
}

var _ Scanner = (*StubScanner)(nil)

// NewStubScanner creates a stub scanner that detects the EICAR test marker.
func NewStubScanner() *StubScanner {
	return &StubScanner{
		signatures: map[string]string{eicarMarker: "EICAR-Test"},
	}
}

// AddSignature registers an extra content substring to flag.
func (s *StubScanner) AddSignature(contains, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signatures[contains] = name
}

// FailWith makes every subsequent Scan return err, for exercising the
// pipeline's transient-failure path.
func (s *StubScanner) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}

func (s *StubScanner) Scan(ctx context.Context, path string) (Verdict, error) {
	if err := ctx.Err(); err != nil {
		return Verdict{}, err
	}

	s.mu.Lock()
	failWith := s.failWith
	sigs := make(map[string]string, len(s.signatures))
	for k, v := range s.signatures {
		sigs[k] = v
	}
	s.mu.Unlock()

	if failWith != nil {
		return Verdict{}, failWith
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Verdict{}, fmt.Errorf("reading file for scan: %w", err)
	}

	content := string(data)
	for marker, name := range sigs {
		if strings.Contains(content, marker) {
			return Verdict{Infected: true, SignatureName: name}, nil
		}
	}
	return Verdict{}, nil
}
