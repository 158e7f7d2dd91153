// Package extract produces text from uploaded documents: native reads for
// plain text, an external converter for PDF, and OCR for images. Extraction
// feeds content inspection and search indexing; it is not a security
// boundary.
package extract

import (
	"context"
	"fmt"
	"os"
	"strings"

	"docvault/internal/model"
)

// Extractor turns a document on disk into text for inspection and indexing.
type Extractor interface {
	// Extract returns the document's text. Unsupported media types return
	// ErrUnsupportedType.
	Extract(ctx context.Context, path, mediaType string) (string, error)
}

// OCREngine runs character recognition over an image, returning extracted
// text plus per-word confidence and bounding boxes.
type OCREngine interface {
	Recognize(ctx context.Context, path string) (string, []model.OCRWord, error)
}

// ErrUnsupportedType marks media types no extractor handles. The pipeline
// skips (not fails) extraction-dependent stages for these.
var ErrUnsupportedType = fmt.Errorf("unsupported media type for text extraction")

// Service routes extraction by media type: plain text natively, PDF through
// the converter, images through OCR.
type Service struct {
	pdf PDFConverter
	ocr OCREngine
}

// PDFConverter extracts text from a PDF file.
type PDFConverter interface {
	ToText(ctx context.Context, path string) (string, error)
}

// NewService builds an extraction service. pdf and ocr may be nil, in which
// case their media types are unsupported.
func NewService(pdf PDFConverter, ocr OCREngine) *Service {
	return &Service{pdf: pdf, ocr: ocr}
}

var _ Extractor = (*Service)(nil)

// Extract implements Extractor.
func (s *Service) Extract(ctx context.Context, path, mediaType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	switch {
	case strings.HasPrefix(mediaType, "text/"):
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("reading text file: %w", err)
		}
		return string(data), nil

	case mediaType == "application/pdf":
		if s.pdf == nil {
			return "", ErrUnsupportedType
		}
		text, err := s.pdf.ToText(ctx, path)
		if err != nil {
			return "", fmt.Errorf("extracting PDF text: %w", err)
		}
		return text, nil

	case strings.HasPrefix(mediaType, "image/"):
		if s.ocr == nil {
			return "", ErrUnsupportedType
		}
		text, _, err := s.ocr.Recognize(ctx, path)
		if err != nil {
			return "", fmt.Errorf("extracting image text: %w", err)
		}
		return text, nil
	}

	return "", ErrUnsupportedType
}

// SupportsOCR reports whether the OCR stage applies to a media type.
func SupportsOCR(mediaType string) bool {
	return strings.HasPrefix(mediaType, "image/") || mediaType == "application/pdf"
}
