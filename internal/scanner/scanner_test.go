package scanner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scan-target")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestStubScanner(t *testing.T) {
	ctx := context.Background()

	t.Run("clean file", func(t *testing.T) {
		s := NewStubScanner()
		v, err := s.Scan(ctx, writeTemp(t, "ordinary correspondence"))
		if err != nil {
			t.Fatalf("Scan() error: %v", err)
		}
		if v.Infected {
			t.Error("clean file reported infected")
		}
	})

	t.Run("eicar marker detected", func(t *testing.T) {
		s := NewStubScanner()
		v, err := s.Scan(ctx, writeTemp(t, "X5O!...EICAR-STANDARD-ANTIVIRUS-TEST-FILE!..."))
		if err != nil {
			t.Fatalf("Scan() error: %v", err)
		}
		if !v.Infected {
			t.Fatal("EICAR content not detected")
		}
		if v.SignatureName != "EICAR-Test" {
			t.Errorf("SignatureName = %q, want EICAR-Test", v.SignatureName)
		}
	})

	t.Run("registered signature detected", func(t *testing.T) {
		s := NewStubScanner()
		s.AddSignature("MALWARE-MARKER", "Test.Trojan")
		v, err := s.Scan(ctx, writeTemp(t, "payload MALWARE-MARKER payload"))
		if err != nil {
			t.Fatalf("Scan() error: %v", err)
		}
		if !v.Infected || v.SignatureName != "Test.Trojan" {
			t.Errorf("verdict = %+v, want infected Test.Trojan", v)
		}
	})

	t.Run("injected failure surfaces", func(t *testing.T) {
		s := NewStubScanner()
		want := errors.New("scanner daemon unavailable")
		s.FailWith(want)
		if _, err := s.Scan(ctx, writeTemp(t, "x")); !errors.Is(err, want) {
			t.Errorf("Scan() error = %v, want injected failure", err)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		s := NewStubScanner()
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		if _, err := s.Scan(cancelled, writeTemp(t, "x")); err == nil {
			t.Error("Scan() ignored cancelled context")
		}
	})
}

func TestParseSignature(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   string
	}{
		{
			name:   "clamdscan style",
			output: "/tmp/upload-1: Eicar-Test-Signature FOUND\n\n----------- SCAN SUMMARY -----------",
			want:   "Eicar-Test-Signature",
		},
		{
			name:   "no signature line",
			output: "something went sideways",
			want:   "unknown",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseSignature(tt.output); got != tt.want {
				t.Errorf("parseSignature() = %q, want %q", got, tt.want)
			}
		})
	}
}
