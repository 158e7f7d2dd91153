package preview

import (
	"context"
	"errors"
	"testing"
)

func TestSupports(t *testing.T) {
	tests := []struct {
		mediaType string
		want      bool
	}{
		{"image/png", true},
		{"image/jpeg", true},
		{"application/pdf", true},
		{"application/vnd.openxmlformats-officedocument.wordprocessingml.document", true},
		{"application/msword", true},
		{"text/plain", false},
		{"application/zip", false},
	}
	for _, tt := range tests {
		if got := Supports(tt.mediaType); got != tt.want {
			t.Errorf("Supports(%q) = %v, want %v", tt.mediaType, got, tt.want)
		}
	}
}

func TestStubRenderer(t *testing.T) {
	ctx := context.Background()

	t.Run("writes both artifacts", func(t *testing.T) {
		r := NewStubRenderer()
		got, err := r.Render(ctx, "/tmp/doc.png", "image/png", t.TempDir())
		if err != nil {
			t.Fatalf("Render() error: %v", err)
		}
		if got.PreviewPath == "" || got.ThumbnailPath == "" {
			t.Errorf("Render() = %+v, want both artifact paths", got)
		}
	})

	t.Run("unsupported type errors", func(t *testing.T) {
		r := NewStubRenderer()
		if _, err := r.Render(ctx, "/tmp/doc.zip", "application/zip", t.TempDir()); err == nil {
			t.Error("Render() accepted an unsupported media type")
		}
	})

	t.Run("injected failure surfaces", func(t *testing.T) {
		r := NewStubRenderer()
		want := errors.New("converter crashed")
		r.FailWith(want)
		if _, err := r.Render(ctx, "/tmp/doc.png", "image/png", t.TempDir()); !errors.Is(err, want) {
			t.Errorf("Render() error = %v, want injected failure", err)
		}
	})
}
