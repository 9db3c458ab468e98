package pathutil

import (
	"errors"
	"path/filepath"
	"strings"
	"unicode"
)

var ErrUnsafePath = errors.New("unsafe path")

// HasDotSegments reports whether any path segment is "." or "..".
func HasDotSegments(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}

// IsSegment reports whether s is usable as exactly one URL path segment that
// links, the sitemap and the file tree all spell the same way. Separators,
// query, fragment and escape characters, whitespace and control characters
// are rejected.
func IsSegment(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	if strings.ContainsAny(s, "/\\?#%") {
		return false
	}
	return !strings.ContainsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r)
	})
}

// JoinRoute joins a parent route path with a child path relative to it.
// JoinRoute("/", "/games") == "/games", JoinRoute("/games", "/x") == "/games/x".
func JoinRoute(parent, child string) string {
	parent = strings.TrimRight(parent, "/")
	child = "/" + strings.TrimLeft(child, "/")
	if parent == "" {
		return child
	}
	if child == "/" {
		return parent
	}
	return parent + child
}

// Under maps an absolute URL path onto a directory beneath root. Paths with
// dot segments or NUL bytes are rejected.
func Under(root, urlPath string) (string, error) {
	if !strings.HasPrefix(urlPath, "/") || HasDotSegments(urlPath) || strings.ContainsRune(urlPath, 0) {
		return "", ErrUnsafePath
	}
	rel := strings.Trim(urlPath, "/")
	if rel == "" {
		return filepath.Clean(root), nil
	}
	return filepath.Join(root, filepath.FromSlash(rel)), nil
}
