package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// MakeDir creates a directory with all parent directories
func MakeDir(path string) error {
	return os.MkdirAll(path, 0o755)
}

// MoveFile moves or renames a file
func MoveFile(src, dst string) error {
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("failed to move file from %s to %s: %w", src, dst, err)
	}
	return nil
}

// SpoolToTemp copies r into a new file in dir whose name ends in ext and
// returns its path. The caller owns the file.
func SpoolToTemp(dir, ext string, r io.Reader) (string, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := MakeDir(dir); err != nil {
		return "", err
	}
	f, err := os.CreateTemp(dir, "recite-*"+ext)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("spooling to %s: %w", f.Name(), err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// Stem returns the base name of path without its extension.
func Stem(path string) string {
	base := filepath.Base(path)
	return base[:len(base)-len(filepath.Ext(base))]
}
