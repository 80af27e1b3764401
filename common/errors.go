package common

import (
	"fmt"
)

// NetworkError is a transport failure or a non-2xx terminal response.
// It aborts the avatar pipeline and triggers the remote-URL fallback.
type NetworkError struct {
	URL        string
	StatusCode int
	Message    string
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d: %s", e.URL, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Message)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// FormatError reports bytes the classifier did not recognize
type FormatError struct {
	Path  string
	Magic []byte
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("unrecognized image format in %s (magic % x)", e.Path, e.Magic)
}

// EncodeError is a codec failure for a single candidate
type EncodeError struct {
	Format    Format
	Quality   int
	Dimension int
	Err       error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode %s (quality %d, dimension %d): %v", e.Format, e.Quality, e.Dimension, e.Err)
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}

// FileSystemError is a failed file operation
type FileSystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FileSystemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileSystemError) Unwrap() error {
	return e.Err
}
