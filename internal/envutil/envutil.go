// Package envutil manipulates KEY=VALUE environment slices for sandboxed
// command execution.
package envutil

import "strings"

// Get returns the value for key from an env slice, and whether it was
// present.
func Get(env []string, key string) (string, bool) {
	prefix := key + "="
	for _, e := range env {
		if strings.HasPrefix(e, prefix) {
			return e[len(prefix):], true
		}
	}
	return "", false
}

// Merge layers overrides on top of base: an override replaces the base
// entry with the same key in place, and unmatched overrides are appended
// in their original order. Neither input is modified.
func Merge(base, overrides []string) []string {
	byKey := make(map[string]string, len(overrides))
	order := make([]string, 0, len(overrides))
	for _, e := range overrides {
		k := envKey(e)
		if _, seen := byKey[k]; !seen {
			order = append(order, k)
		}
		byKey[k] = e
	}

	used := make(map[string]bool, len(byKey))
	out := make([]string, 0, len(base)+len(overrides))
	for _, e := range base {
		if override, ok := byKey[envKey(e)]; ok {
			out = append(out, override)
			used[envKey(e)] = true
		} else {
			out = append(out, e)
		}
	}
	for _, k := range order {
		if !used[k] {
			out = append(out, byKey[k])
		}
	}
	return out
}

func envKey(e string) string {
	if i := strings.IndexByte(e, '='); i >= 0 {
		return e[:i]
	}
	return e
}
