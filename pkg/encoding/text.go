// Package encoding provides path canonicalisation and text decoding for
// asset files.
package encoding

import (
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

var folder = cases.Fold()

// DecodeText returns data as a UTF-8 string. Legacy asset files written as
// Latin-1 are transcoded; valid UTF-8 is returned unchanged.
func DecodeText(data []byte) string {
	data = trimBOM(data)
	if utf8.Valid(data) {
		return string(data)
	}
	result, _, err := transform.Bytes(charmap.ISO8859_1.NewDecoder(), data)
	if err != nil {
		return string(data)
	}
	return string(result)
}

func trimBOM(data []byte) []byte {
	if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		return data[3:]
	}
	return data
}

// CanonicalPath returns the cache key form of an asset path: absolute
// (relative paths are resolved against root), cleaned, forward-slashed and
// case-folded.
func CanonicalPath(root, path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	if !filepath.IsAbs(path) && !strings.HasPrefix(path, "/") {
		path = filepath.Join(root, path)
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}
	path = filepath.ToSlash(filepath.Clean(path))
	return folder.String(path)
}

// RelativePath returns path relative to root using forward slashes, or path
// unchanged when it is not below root.
func RelativePath(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}
