package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Extension returns the lower-cased extension of filename without the dot,
// or "" when the name has none.
func Extension(filename string) string {
	ext := filepath.Ext(filename)
	if ext == "" || ext == "." {
		return ""
	}
	return strings.ToLower(ext[1:])
}

// ImageFormat maps an extension to the format name used in media types.
func ImageFormat(ext string) string {
	ext = strings.ToLower(ext)
	if ext == "jpg" {
		return "jpeg"
	}
	return ext
}

func MediaType(ext string) string {
	return "image/" + ImageFormat(ext)
}

// SanitizeFilename reduces a client supplied name to a safe base name made of
// letters, digits, dots, dashes and underscores.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}

	out := strings.TrimLeft(b.String(), "._")
	if out == "" {
		return "upload"
	}
	return out
}

// SaveFile writes r to dir/name and returns the full path and bytes written.
// A partially written file is removed on error.
func SaveFile(dir, name string, r io.Reader) (string, int64, error) {
	path := filepath.Join(dir, name)

	destFile, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return "", 0, err
	}

	n, err := io.Copy(destFile, r)
	if cerr := destFile.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return "", 0, fmt.Errorf("failed to write %s: %w", path, err)
	}

	return path, n, nil
}

// RemoveFile deletes path, treating an already missing file as success.
func RemoveFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
