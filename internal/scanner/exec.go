package scanner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ExecScanner shells out to a clamdscan-style binary. The binary's exit code
// carries the verdict: 0 clean, 1 infected, anything else is a scan failure.
type ExecScanner struct {
	binary  string
	args    []string
	timeout time.Duration
}

var _ Scanner = (*ExecScanner)(nil)

// NewExecScanner creates a scanner invoking the given binary. A zero timeout
// defaults to 60 seconds.
func NewExecScanner(binary string, args []string, timeout time.Duration) *ExecScanner {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &ExecScanner{binary: binary, args: args, timeout: timeout}
}

// Scan runs the external scanner against path. The signature name is parsed
// from the scanner's "path: SIGNATURE FOUND" output line.
func (s *ExecScanner) Scan(ctx context.Context, path string) (Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	args := append(append([]string{}, s.args...), path)
	cmd := exec.CommandContext(ctx, s.binary, args...)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if err == nil {
		return Verdict{}, nil
	}

	if ctx.Err() != nil {
		return Verdict{}, fmt.Errorf("scanner timed out after %s: %w", s.timeout, ctx.Err())
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return Verdict{Infected: true, SignatureName: parseSignature(out.String())}, nil
	}

	return Verdict{}, fmt.Errorf("scanner failed: %w: %s", err, strings.TrimSpace(out.String()))
}

// parseSignature extracts the signature name from output of the form
// "/path/to/file: Eicar-Test-Signature FOUND".
func parseSignature(output string) string {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasSuffix(line, "FOUND") {
			continue
		}
		if idx := strings.LastIndex(line, ": "); idx >= 0 {
			sig := strings.TrimSuffix(line[idx+2:], "FOUND")
			return strings.TrimSpace(sig)
		}
	}
	return "unknown"
}
