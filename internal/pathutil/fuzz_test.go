package pathutil

import (
	"strings"
	"testing"
)

// FuzzGlobToRegex exercises GlobToRegex with arbitrary glob patterns.
// The function performs character-by-character parsing with index arithmetic
// and bracket-class handling, making it a prime target for fuzz testing.
// It must never panic regardless of input.
func FuzzGlobToRegex(f *testing.F) {
	seeds := []string{
		"*.go",
		"**/*.txt",
		"[abc]",
		"[!a-z]",
		"",
		"{",
		"}",
		"[",
		"]",
		"\\*",
		"path/to/*.{go,js}",
	}
	for _, s := range seeds {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, pattern string) {
		// Must not panic; any output string is acceptable.
		_ = GlobToRegex(pattern)
	})
}

// FuzzValidateDir checks that canonicalization can never emit a path
// naming anything above the virtual root: the result is always rooted,
// always slash-terminated, and free of "." and ".." segments.
func FuzzValidateDir(f *testing.F) {
	seeds := []string{
		"",
		"/",
		"workspace",
		"../",
		"../../etc/",
		"/a/../b/",
		"a/./b",
		"\\a\\b",
		"//a//b//",
	}
	for _, s := range seeds {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, path string) {
		got := ValidateDir(path)
		if !strings.HasPrefix(got, "/") || !strings.HasSuffix(got, "/") {
			t.Errorf("ValidateDir(%q) = %q, not slash-delimited", path, got)
		}
		trimmed := strings.Trim(got, "/")
		if trimmed == "" && got != "/" {
			t.Errorf("ValidateDir(%q) = %q", path, got)
		}
		if trimmed != "" {
			for _, seg := range strings.Split(trimmed, "/") {
				if seg == ".." || seg == "." || seg == "" {
					t.Errorf("ValidateDir(%q) = %q contains segment %q", path, got, seg)
				}
			}
		}
	})
}

// FuzzValidateFilePath checks the traversal and platform-absolute guards
// against arbitrary input. A successful validation must never produce a
// path containing ".." or a backslash, and must always be rooted.
func FuzzValidateFilePath(f *testing.F) {
	seeds := []string{
		"/a/b/c.txt",
		"a.txt",
		"../escape",
		"a/../../b",
		"~/home",
		"C:\\Windows",
		"//server/share",
		"/a//b/./c",
		"\x00",
	}
	for _, s := range seeds {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, path string) {
		got, err := ValidateFilePath(path, nil)
		if err != nil {
			return
		}
		if !strings.HasPrefix(got, "/") {
			t.Errorf("validated path %q is not rooted", got)
		}
		for _, seg := range strings.Split(got, "/")[1:] {
			if seg == ".." || seg == "." || seg == "" {
				t.Errorf("validated path %q contains segment %q", got, seg)
			}
		}
		if strings.ContainsRune(got, '\\') {
			t.Errorf("validated path %q contains backslash", got)
		}
	})
}
