package common

import (
	"path/filepath"
	"strings"
)

// Format identifies an image encoding
type Format string

const (
	FormatUnknown Format = "unknown"
	FormatPNG     Format = "png"
	FormatJPEG    Format = "jpeg"
	FormatWebP    Format = "webp"
)

// Extension returns the canonical file extension for the format
func (f Format) Extension() string {
	switch f {
	case FormatPNG:
		return ".png"
	case FormatJPEG:
		return ".jpg"
	case FormatWebP:
		return ".webp"
	default:
		return ""
	}
}

// Classify inspects the leading magic bytes of data.
// Anything that is neither PNG nor JPEG is FormatUnknown, which is a
// valid result rather than an error.
func Classify(data []byte) Format {
	if len(data) < 2 {
		return FormatUnknown
	}
	switch {
	case data[0] == 0x89 && data[1] == 0x50:
		return FormatPNG
	case data[0] == 0xFF && data[1] == 0xD8:
		return FormatJPEG
	default:
		return FormatUnknown
	}
}

// FormatFromPath guesses the format from a file extension
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return FormatPNG
	case ".jpg", ".jpeg":
		return FormatJPEG
	case ".webp":
		return FormatWebP
	default:
		return FormatUnknown
	}
}

// ReplaceExtension swaps the extension of path for ext
func ReplaceExtension(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}
