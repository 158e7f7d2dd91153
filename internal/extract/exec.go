package extract

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"docvault/internal/model"
)

// ExecPDFConverter shells out to a pdftotext-style binary.
type ExecPDFConverter struct {
	binary  string
	timeout time.Duration
}

var _ PDFConverter = (*ExecPDFConverter)(nil)

// NewExecPDFConverter creates a converter using the given binary. A zero
// timeout defaults to 30 seconds.
func NewExecPDFConverter(binary string, timeout time.Duration) *ExecPDFConverter {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ExecPDFConverter{binary: binary, timeout: timeout}
}

// ToText converts the PDF at path to plain text via "<binary> <path> -".
func (c *ExecPDFConverter) ToText(ctx context.Context, path string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.binary, path, "-")
	var out, errOut bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errOut

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("pdf conversion timed out after %s: %w", c.timeout, ctx.Err())
		}
		return "", fmt.Errorf("pdf conversion failed: %w: %s", err, strings.TrimSpace(errOut.String()))
	}
	return out.String(), nil
}

// ExecOCREngine shells out to a tesseract-style binary and parses its TSV
// output for words, confidences, and bounding boxes.
type ExecOCREngine struct {
	binary  string
	timeout time.Duration
}

var _ OCREngine = (*ExecOCREngine)(nil)

// NewExecOCREngine creates an OCR engine using the given binary. A zero
// timeout defaults to 120 seconds.
func NewExecOCREngine(binary string, timeout time.Duration) *ExecOCREngine {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &ExecOCREngine{binary: binary, timeout: timeout}
}

// Recognize runs "<binary> <path> <outbase> tsv" and parses the TSV output.
func (e *ExecOCREngine) Recognize(ctx context.Context, path string) (string, []model.OCRWord, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	outDir, err := os.MkdirTemp("", "ocr-")
	if err != nil {
		return "", nil, fmt.Errorf("creating OCR output directory: %w", err)
	}
	defer os.RemoveAll(outDir)
	outBase := filepath.Join(outDir, "out")

	cmd := exec.CommandContext(ctx, e.binary, path, outBase, "tsv")
	var errOut bytes.Buffer
	cmd.Stderr = &errOut

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", nil, fmt.Errorf("OCR timed out after %s: %w", e.timeout, ctx.Err())
		}
		return "", nil, fmt.Errorf("OCR failed: %w: %s", err, strings.TrimSpace(errOut.String()))
	}

	data, err := os.ReadFile(outBase + ".tsv")
	if err != nil {
		return "", nil, fmt.Errorf("reading OCR output: %w", err)
	}

	words := ParseTSV(string(data))
	texts := make([]string, 0, len(words))
	for _, w := range words {
		texts = append(texts, w.Text)
	}
	return strings.Join(texts, " "), words, nil
}

// ParseTSV parses tesseract TSV output. Columns:
// level page block par line word left top width height conf text.
// Rows with conf < 0 are layout markers, not words.
func ParseTSV(tsv string) []model.OCRWord {
	var words []model.OCRWord
	lines := strings.Split(tsv, "\n")
	for i, line := range lines {
		if i == 0 || strings.TrimSpace(line) == "" {
			continue // header
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 12 {
			continue
		}

		conf, err := strconv.ParseFloat(fields[10], 64)
		if err != nil || conf < 0 {
			continue
		}
		text := strings.TrimSpace(fields[11])
		if text == "" {
			continue
		}

		left, _ := strconv.Atoi(fields[6])
		top, _ := strconv.Atoi(fields[7])
		width, _ := strconv.Atoi(fields[8])
		height, _ := strconv.Atoi(fields[9])

		words = append(words, model.OCRWord{
			Text:       text,
			Confidence: conf,
			Left:       left,
			Top:        top,
			Width:      width,
			Height:     height,
		})
	}
	return words
}
