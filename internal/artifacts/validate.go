package artifacts

import (
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
)

// DefaultMaxUploadBytes caps uploads at 100 MiB.
const DefaultMaxUploadBytes int64 = 100 * 1024 * 1024

// ErrInvalidUpload is returned when an upload is not an accepted media file.
var ErrInvalidUpload = errors.New("invalid upload")

var allowedContentTypes = map[string]bool{
	"audio/mpeg":      true,
	"audio/wav":       true,
	"video/mp4":       true,
	"video/avi":       true,
	"video/quicktime": true,
}

var allowedExtensions = map[string]bool{
	".mp3": true,
	".wav": true,
	".mp4": true,
	".avi": true,
	".mov": true,
}

// ValidateUpload accepts a file when either its content type or its extension is
// a supported media type, and its size does not exceed maxBytes.
// A negative size means unknown and is not checked; maxBytes <= 0 disables the limit.
func ValidateUpload(filename, contentType string, size, maxBytes int64) error {
	if strings.TrimSpace(filepath.Base(filename)) == "" || filepath.Base(filename) == "." {
		return fmt.Errorf("%w: missing filename", ErrInvalidUpload)
	}
	if !allowedType(filename, contentType) {
		return fmt.Errorf("%w: unsupported file type %q (%s)", ErrInvalidUpload, filepath.Ext(filename), contentType)
	}
	if maxBytes > 0 && size > maxBytes {
		return fmt.Errorf("%w: file is %d bytes, limit is %d", ErrInvalidUpload, size, maxBytes)
	}
	return nil
}

func allowedType(filename, contentType string) bool {
	if contentType != "" {
		if mt, _, err := mime.ParseMediaType(contentType); err == nil && allowedContentTypes[mt] {
			return true
		}
	}
	return allowedExtensions[strings.ToLower(filepath.Ext(filename))]
}

// IsMediaFile reports whether name has one of the accepted media extensions.
func IsMediaFile(name string) bool {
	return allowedExtensions[strings.ToLower(filepath.Ext(name))]
}
