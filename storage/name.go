package storage

import "strings"

// ValidName reports whether name is safe to use as a single container or
// object path segment. A valid name is non-empty, contains no path separator
// or NUL byte, and is not a current- or parent-directory reference.
//
// Callers must run this check before any backend call that incorporates the
// name, including existence checks, so that traversal attempts cannot probe
// the layout outside the storage root through error messages.
func ValidName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, "/\\\x00") {
		return false
	}
	return true
}
