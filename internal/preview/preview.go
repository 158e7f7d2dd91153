// Package preview generates bounded-size preview and thumbnail images for
// supported document formats. Preview generation is best-effort: failures
// degrade the job, they never fail it.
package preview

import (
	"context"
	"strings"
)

// Artifacts are the rendered outputs for one document: file paths to a
// preview image and a smaller thumbnail, both bounded in size.
type Artifacts struct {
	PreviewPath   string
	ThumbnailPath string
}

// Renderer produces preview artifacts for a file on disk.
type Renderer interface {
	// Render generates a preview and thumbnail into outDir.
	Render(ctx context.Context, path, mediaType, outDir string) (Artifacts, error)
}

// officeTypes are the formats converted to an intermediate PDF before
// rendering.
var officeTypes = map[string]bool{
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"application/vnd.ms-excel": true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       true,
	"application/vnd.ms-powerpoint":                                           true,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": true,
}

// Supports reports whether a media type has preview support: images, PDF,
// and office formats.
func Supports(mediaType string) bool {
	return strings.HasPrefix(mediaType, "image/") ||
		mediaType == "application/pdf" ||
		officeTypes[mediaType]
}

// IsOffice reports whether the media type needs intermediate PDF conversion.
func IsOffice(mediaType string) bool {
	return officeTypes[mediaType]
}
