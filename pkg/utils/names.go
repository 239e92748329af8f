package utils

import (
	"strings"

	"github.com/google/uuid"
)

// NormalizeExt lower-cases ext and makes sure it starts with a dot.
// An empty ext stays empty.
func NormalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" || ext == "." {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// UniqueName returns a collision-resistant object name that keeps ext.
func UniqueName(ext string) string {
	return uuid.NewString() + NormalizeExt(ext)
}

// DerivedName names an object produced from another one:
// <stem>_<uuid><ext>.
func DerivedName(source, ext string) string {
	stem := Stem(source)
	if stem == "" {
		return UniqueName(ext)
	}
	return stem + "_" + uuid.NewString() + NormalizeExt(ext)
}
