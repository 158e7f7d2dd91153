package preview

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// ExecRenderer renders previews with external tools: an imagemagick-style
// convert binary for raster output and a soffice-style binary for converting
// office documents to an intermediate PDF first.
type ExecRenderer struct {
	convertBinary string
	officeBinary  string
	timeout       time.Duration

	// maxOutputBytes bounds each rendered artifact; anything larger is a
	// render failure.
	maxOutputBytes int64
}

var _ Renderer = (*ExecRenderer)(nil)

const (
	defaultMaxOutput = 5 << 20 // 5 MiB per artifact
	previewGeometry  = "1200x1200>"
	thumbGeometry    = "200x200>"
)

// NewExecRenderer creates a renderer. Zero timeout defaults to 60 seconds;
// zero maxOutputBytes defaults to 5 MiB.
func NewExecRenderer(convertBinary, officeBinary string, timeout time.Duration, maxOutputBytes int64) *ExecRenderer {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if maxOutputBytes <= 0 {
		maxOutputBytes = defaultMaxOutput
	}
	return &ExecRenderer{
		convertBinary:  convertBinary,
		officeBinary:   officeBinary,
		timeout:        timeout,
		maxOutputBytes: maxOutputBytes,
	}
}

// Render implements Renderer.
func (r *ExecRenderer) Render(ctx context.Context, path, mediaType, outDir string) (Artifacts, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if !Supports(mediaType) {
		return Artifacts{}, fmt.Errorf("no preview support for media type %s", mediaType)
	}

	src := path
	if IsOffice(mediaType) {
		converted, err := r.toPDF(ctx, path, outDir)
		if err != nil {
			return Artifacts{}, fmt.Errorf("converting office document: %w", err)
		}
		src = converted
	}

	// For PDFs render the first page only.
	if strings.HasSuffix(src, ".pdf") || mediaType == "application/pdf" || IsOffice(mediaType) {
		src = src + "[0]"
	}

	previewPath := filepath.Join(outDir, "preview.png")
	if err := r.convert(ctx, src, previewGeometry, previewPath); err != nil {
		return Artifacts{}, fmt.Errorf("rendering preview: %w", err)
	}

	thumbPath := filepath.Join(outDir, "thumbnail.png")
	if err := r.convert(ctx, src, thumbGeometry, thumbPath); err != nil {
		return Artifacts{}, fmt.Errorf("rendering thumbnail: %w", err)
	}

	for _, p := range []string{previewPath, thumbPath} {
		info, err := os.Stat(p)
		if err != nil {
			return Artifacts{}, fmt.Errorf("checking rendered artifact: %w", err)
		}
		if info.Size() > r.maxOutputBytes {
			return Artifacts{}, fmt.Errorf("rendered artifact %s exceeds %d bytes", filepath.Base(p), r.maxOutputBytes)
		}
	}

	return Artifacts{PreviewPath: previewPath, ThumbnailPath: thumbPath}, nil
}

func (r *ExecRenderer) convert(ctx context.Context, src, geometry, dst string) error {
	cmd := exec.CommandContext(ctx, r.convertBinary, src, "-resize", geometry, dst)
	var errOut bytes.Buffer
	cmd.Stderr = &errOut

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("render timed out: %w", ctx.Err())
		}
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(errOut.String()))
	}
	return nil
}

// toPDF converts an office document to PDF in outDir and returns the PDF
// path.
func (r *ExecRenderer) toPDF(ctx context.Context, path, outDir string) (string, error) {
	if r.officeBinary == "" {
		return "", fmt.Errorf("no office converter configured")
	}

	cmd := exec.CommandContext(ctx, r.officeBinary, "--headless", "--convert-to", "pdf", "--outdir", outDir, path)
	var errOut bytes.Buffer
	cmd.Stderr = &errOut

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("office conversion timed out: %w", ctx.Err())
		}
		return "", fmt.Errorf("%w: %s", err, strings.TrimSpace(errOut.String()))
	}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	converted := filepath.Join(outDir, base+".pdf")
	if _, err := os.Stat(converted); err != nil {
		return "", fmt.Errorf("converted PDF not found: %w", err)
	}
	return converted, nil
}
