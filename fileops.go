package agentfs

import (
	"fmt"
	"sort"
	"strings"
)

// sortFileInfos orders listing results lexicographically by path for
// deterministic output across substrates.
func sortFileInfos(infos []FileInfo) {
	sort.Slice(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })
}

// The helpers in this file implement the tool-facing text semantics shared
// by every backend: line-window reads and occurrence-counted edits. Keeping
// them in one place is what makes four substrates behave identically.

// notFoundText is the diagnostic embedded in Read results for a missing
// file. It is returned inside the result, not as an error, because callers
// are language-model tools that must see self-describing text.
func notFoundText(path string) string {
	return fmt.Sprintf("Error: File '%s' not found", path)
}

// isDirText is the diagnostic embedded in results when a file operation
// targets a directory.
func isDirText(path string) string {
	return fmt.Sprintf("Error: Path '%s' is a directory", path)
}

// readWindow returns the window of limit lines starting at offset, joined
// by newline. limit <= 0 means DefaultReadLimit.
func readWindow(path, content string, offset, limit int) string {
	if limit <= 0 {
		limit = DefaultReadLimit
	}
	if offset < 0 {
		offset = 0
	}
	if content == "" {
		return "System reminder: File exists but has empty contents"
	}
	lines := strings.Split(content, "\n")
	if offset >= len(lines) {
		return fmt.Sprintf("Error: Line offset %d exceeds file length (%d lines)", offset, len(lines))
	}
	end := offset + limit
	if end > len(lines) {
		end = len(lines)
	}
	return strings.Join(lines[offset:end], "\n")
}

// applyEdit performs the occurrence-counted replacement shared by every
// backend's Edit. It returns the new content, the number of occurrences
// replaced, and a self-describing error text ("" on success).
//
// The empty-file/empty-oldString combination is the bootstrap case: it sets
// the initial content and counts as one occurrence. An empty oldString on a
// non-empty file is rejected.
func applyEdit(path, content, oldString, newString string, replaceAll bool) (string, int, string) {
	if oldString == "" {
		if content == "" {
			return newString, 1, ""
		}
		return "", 0, fmt.Sprintf("Error: oldString must not be empty for non-empty file '%s'", path)
	}

	count := strings.Count(content, oldString)
	switch {
	case count == 0:
		return "", 0, fmt.Sprintf("Error: String not found in file '%s': %q", path, oldString)
	case count > 1 && !replaceAll:
		return "", 0, fmt.Sprintf(
			"Error: String %q appears %d times in file '%s'. Use replaceAll=true to replace all occurrences, or provide a larger string with more surrounding context",
			oldString, count, path)
	case replaceAll:
		return strings.ReplaceAll(content, oldString, newString), count, ""
	default:
		return strings.Replace(content, oldString, newString, 1), 1, ""
	}
}
