package main

import (
	"path"
	"strings"
)

// ValidPath reports whether p is an acceptable project path: already in
// normalized form, absolute within the project tree, no trailing slash and
// no "." or ".." segments. The registry is keyed on exactly these strings,
// so anything else is rejected at the boundary before a task is enqueued.
func ValidPath(p string) bool {
	if p == "" || !strings.HasPrefix(p, "/") {
		return false
	}
	if p != "/" && strings.HasSuffix(p, "/") {
		return false
	}
	return p == path.Clean(p)
}

// NormalizePath converts a relative on-disk path (as produced by the boot
// scan or the watcher) into registry form: slash-separated, rooted at "/".
func NormalizePath(rel string) string {
	rel = strings.TrimPrefix(strings.ReplaceAll(rel, "\\", "/"), "/")
	return path.Clean("/" + rel)
}
