// Package pathutil normalizes and guards the virtual paths used by agentfs
// backends. It provides directory/file path validation (traversal and
// platform-absolute rejection, allowed-prefix policy) and glob pattern
// support shared by every backend implementation.
package pathutil

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPath is the sentinel wrapped by every validation failure.
// Validation failures indicate caller programming errors (traversal
// attempts, malformed paths), not runtime data conditions.
var ErrInvalidPath = errors.New("pathutil: invalid path")

// ---------------------------------------------------------------------------
// Directory Path Validation
// ---------------------------------------------------------------------------

// ValidateDir coerces a directory path into canonical virtual form:
// exactly one leading slash and exactly one trailing slash. The empty
// string is coerced to the virtual root "/". ".." segments are resolved
// lexically and clamp at the virtual root, so the result can never name
// anything above it.
func ValidateDir(path string) string {
	if path == "" {
		return "/"
	}
	p := strings.ReplaceAll(path, "\\", "/")
	segments := strings.Split(p, "/")
	normalized := make([]string, 0, len(segments))
	for _, seg := range segments {
		switch seg {
		case "", ".":
			// Collapse duplicate slashes and current-dir segments.
		case "..":
			if len(normalized) > 0 {
				normalized = normalized[:len(normalized)-1]
			}
		default:
			normalized = append(normalized, seg)
		}
	}
	if len(normalized) == 0 {
		return "/"
	}
	return "/" + strings.Join(normalized, "/") + "/"
}

// ---------------------------------------------------------------------------
// File Path Validation
// ---------------------------------------------------------------------------

// ValidateFilePath normalizes a virtual file path and rejects anything that
// could escape the virtual root. Backslashes are normalized to forward
// slashes, "." segments and duplicate slashes are collapsed, and the result
// always carries a single leading slash.
//
// The following are rejected outright (the error wraps ErrInvalidPath):
//   - ".." segments (path traversal)
//   - home-directory shorthand ("~", "~user")
//   - platform-absolute paths (drive letters, UNC prefixes)
//   - null bytes
//
// When allowedPrefixes is non-empty, the normalized path must start with one
// of the prefixes or validation fails with the prefix list in the message.
func ValidateFilePath(path string, allowedPrefixes []string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: path must not be empty", ErrInvalidPath)
	}
	if ContainsNullByte(path) {
		return "", fmt.Errorf("%w: path must not contain null bytes", ErrInvalidPath)
	}

	p := strings.ReplaceAll(path, "\\", "/")

	if strings.HasPrefix(p, "~") {
		return "", fmt.Errorf("%w: home directory shorthand not allowed: %q", ErrInvalidPath, path)
	}
	if isPlatformAbsolute(p) {
		return "", fmt.Errorf("%w: platform-absolute path not allowed: %q", ErrInvalidPath, path)
	}

	segments := strings.Split(p, "/")
	normalized := make([]string, 0, len(segments))
	for _, seg := range segments {
		switch seg {
		case "", ".":
			// Collapse duplicate slashes and current-dir segments.
		case "..":
			return "", fmt.Errorf("%w: path traversal not allowed: %q", ErrInvalidPath, path)
		default:
			normalized = append(normalized, seg)
		}
	}
	if len(normalized) == 0 {
		return "", fmt.Errorf("%w: path resolves to the virtual root: %q", ErrInvalidPath, path)
	}

	result := "/" + strings.Join(normalized, "/")

	if len(allowedPrefixes) > 0 {
		ok := false
		for _, prefix := range allowedPrefixes {
			if strings.HasPrefix(result, prefix) {
				ok = true
				break
			}
		}
		if !ok {
			return "", fmt.Errorf("%w: %q is outside the allowed prefixes %v", ErrInvalidPath, result, allowedPrefixes)
		}
	}

	return result, nil
}

// isPlatformAbsolute reports whether the (slash-normalized) path is absolute
// in a host-platform sense rather than the virtual-root sense. Virtual paths
// beginning with a single "/" are fine; Windows drive letters and UNC-style
// double-slash prefixes are not.
func isPlatformAbsolute(p string) bool {
	if strings.HasPrefix(p, "//") {
		return true
	}
	if len(p) >= 2 && p[1] == ':' {
		c := p[0]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Glob Pattern Support
// ---------------------------------------------------------------------------

// GlobToRegex converts a glob pattern to a regexp string.
// Supports: * (any non-separator), ** (any including separator),
// ? (single non-separator char), [...] (character class).
func GlobToRegex(pattern string) string {
	var b strings.Builder
	b.WriteString("^")
	i := 0
	for i < len(pattern) {
		ch := pattern[i]
		switch ch {
		case '*':
			if i+1 < len(pattern) && pattern[i+1] == '*' {
				// ** matches everything including separators.
				i += 2
				// Skip a trailing separator after **.
				if i < len(pattern) && pattern[i] == '/' {
					i++
				}
				// Match any prefix (including empty) that ends at a boundary.
				b.WriteString("(?:.*/)?")
				continue
			}
			// Single * matches anything except separator.
			b.WriteString("[^/]*")
		case '?':
			b.WriteString("[^/]")
		case '[':
			// Pass through character class [...] verbatim.
			j := i + 1
			if j < len(pattern) && pattern[j] == ']' {
				j++ // allow ] as first char in class
			}
			for j < len(pattern) && pattern[j] != ']' {
				j++
			}
			if j < len(pattern) {
				// Found closing ], pass through as regex character class.
				b.WriteString(pattern[i : j+1])
				i = j + 1
				continue
			}
			// No closing bracket — escape the [ literally.
			b.WriteString("\\[")
		case '.', '+', '^', '$', '|', '(', ')', '{', '}', ']', '\\':
			b.WriteByte('\\')
			b.WriteByte(ch)
		default:
			b.WriteByte(ch)
		}
		i++
	}
	b.WriteString("$")
	return b.String()
}

// IsGlobPattern returns true if the string contains glob metacharacters.
func IsGlobPattern(s string) bool {
	return strings.ContainsAny(s, "*?[")
}

// ---------------------------------------------------------------------------
// Path Helpers
// ---------------------------------------------------------------------------

// ContainsNullByte returns true if the string contains a null byte.
func ContainsNullByte(s string) bool {
	return strings.ContainsRune(s, '\x00')
}
