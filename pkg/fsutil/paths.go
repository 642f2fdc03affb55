package fsutil

import (
	"strings"
)

// forbidden characters for file and directory names on at least one of the
// supported platforms.
const forbiddenChars = `<>:"/\|?*`

// SanitizeName makes a remote display name safe to use as one path element.
// Control characters and separators are replaced, surrounding whitespace and
// dots are trimmed, and empty results fall back to "untitled".
func SanitizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if r < 0x20 || strings.ContainsRune(forbiddenChars, r) {
			b.WriteRune('_')
			continue
		}
		b.WriteRune(r)
	}
	out := strings.Trim(b.String(), " .")
	if out == "" {
		return "untitled"
	}
	return out
}

// JoinCoursePath builds a target-relative path from sanitized elements,
// dropping empties.
func JoinCoursePath(elems ...string) string {
	parts := make([]string, 0, len(elems))
	for _, e := range elems {
		if e == "" {
			continue
		}
		parts = append(parts, SanitizeName(e))
	}
	return strings.Join(parts, "/")
}
