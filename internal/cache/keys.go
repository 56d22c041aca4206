package cache

import "strings"

const separator = ":"

// Key joins a namespace and its parts with ':' after sanitizing each
// part, so equal logical queries always produce byte-identical keys.
func Key(namespace string, parts ...string) string {
	elems := make([]string, 0, len(parts)+1)
	elems = append(elems, sanitize(namespace))
	for _, p := range parts {
		elems = append(elems, sanitize(p))
	}
	return strings.Join(elems, separator)
}

// Prefix builds the invalidation prefix covering every key variant
// under the given parts: the joined key plus a trailing separator, so
// "messages:c1:" never matches "messages:c10:...".
func Prefix(namespace string, parts ...string) string {
	return Key(namespace, parts...) + separator
}

// sanitize replaces every byte outside [A-Za-z0-9_.-] with '_',
// keeping the separator unambiguous inside joined keys.
func sanitize(s string) string {
	clean := true
	for i := 0; i < len(s); i++ {
		if !safeByte(s[i]) {
			clean = false
			break
		}
	}
	if clean {
		return s
	}
	b := []byte(s)
	for i, c := range b {
		if !safeByte(c) {
			b[i] = '_'
		}
	}
	return string(b)
}

func safeByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '_' || c == '.' || c == '-':
		return true
	}
	return false
}
