package receipt

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// DefaultMaxUploadBytes is the largest receipt file accepted unless configured otherwise
const DefaultMaxUploadBytes = 10 << 20

var (
	// ErrUnsupportedFile is returned for uploads that are not a receipt image or PDF
	ErrUnsupportedFile = errors.New("unsupported file type")
	// ErrFileTooLarge is returned for uploads over the size limit
	ErrFileTooLarge = errors.New("file is too large")
)

var uploadContentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".pdf":  "application/pdf",
	".heic": "image/heic",
	".heif": "image/heif",
}

var (
	unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	repeatedSpaces      = regexp.MustCompile(`\s+`)
)

// uploadContentType validates an upload by extension and returns its MIME type.
// A declared type is kept unless it is missing or generic.
func uploadContentType(filename, declared string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	byExt, ok := uploadContentTypes[ext]
	if !ok {
		return "", fmt.Errorf("%w %q, use JPG, PNG, GIF, HEIC or PDF", ErrUnsupportedFile, ext)
	}

	declared = strings.ToLower(strings.TrimSpace(declared))
	if declared == "" || declared == "application/octet-stream" {
		return byExt, nil
	}
	return declared, nil
}

// sanitizeFilename cleans up phone-generated filenames for storage
func sanitizeFilename(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))

	base = unsafeFilenameChars.ReplaceAllString(base, "")
	base = strings.TrimSpace(repeatedSpaces.ReplaceAllString(base, " "))
	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "receipt"
	}
	return base + ext
}
