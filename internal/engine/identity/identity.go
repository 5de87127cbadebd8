// Package identity derives the registry join key from a raw actor name.
package identity

import "strings"

// Normalize lower-cases and trims a raw name. Names that differ only by case
// or surrounding whitespace map to the same key.
func Normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Same reports whether two raw names resolve to one identity.
func Same(a, b string) bool { return Normalize(a) == Normalize(b) }
