package preview

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// StubRenderer writes fixed placeholder artifacts. Tests and stub
// deployments only.
type StubRenderer struct {
	mu       sync.Mutex
	failWith error
	calls    int
}

var _ Renderer = (*StubRenderer)(nil)

func NewStubRenderer() *StubRenderer {
	return &StubRenderer{}
}

// FailWith makes every subsequent Render return err.
func (r *StubRenderer) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failWith = err
}

// Calls returns how many times Render ran.
func (r *StubRenderer) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func (r *StubRenderer) Render(ctx context.Context, path, mediaType, outDir string) (Artifacts, error) {
	r.mu.Lock()
	r.calls++
	failWith := r.failWith
	r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Artifacts{}, err
	}
	if failWith != nil {
		return Artifacts{}, failWith
	}
	if !Supports(mediaType) {
		return Artifacts{}, fmt.Errorf("no preview support for media type %s", mediaType)
	}

	previewPath := filepath.Join(outDir, "preview.png")
	thumbPath := filepath.Join(outDir, "thumbnail.png")
	if err := os.WriteFile(previewPath, []byte("stub-preview"), 0600); err != nil {
		return Artifacts{}, err
	}
	if err := os.WriteFile(thumbPath, []byte("stub-thumb"), 0600); err != nil {
		return Artifacts{}, err
	}
	return Artifacts{PreviewPath: previewPath, ThumbnailPath: thumbPath}, nil
}
