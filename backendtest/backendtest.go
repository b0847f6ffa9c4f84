// Package backendtest is the black-box conformance suite run against
// every Backend implementation. A backend passes by producing identical
// observable behavior for path validation, read windowing, create-only
// writes, occurrence-counted edits, directory synthesis, glob/grep
// ordering, and upload/download round-trips.
package backendtest

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/zhangyunhao116/agentfs"
)

// Factory creates a fresh, empty backend for one subtest. Each subtest
// gets its own instance; t.Cleanup is the place to release resources.
type Factory func(t *testing.T) agentfs.Backend

// SandboxFactory creates a fresh sandbox for one subtest.
type SandboxFactory func(t *testing.T) agentfs.Sandbox

// Run exercises the full file contract against backends produced by mk.
func Run(t *testing.T, mk Factory) {
	t.Run("ReadAfterWrite", func(t *testing.T) {
		b := mk(t)
		if res := b.Write("/notes/a.txt", "hello\nworld"); res.Error != "" {
			t.Fatalf("write failed: %s", res.Error)
		}
		if got := b.Read("/notes/a.txt", 0, 0); got != "hello\nworld" {
			t.Fatalf("read = %q, want %q", got, "hello\nworld")
		}
	})

	t.Run("WriteIsCreateOnly", func(t *testing.T) {
		b := mk(t)
		if res := b.Write("/a.txt", "one"); res.Error != "" {
			t.Fatalf("first write failed: %s", res.Error)
		}
		res := b.Write("/a.txt", "two")
		if !strings.Contains(res.Error, "already exists") {
			t.Fatalf("second write error = %q, want already-exists", res.Error)
		}
		if got := b.Read("/a.txt", 0, 0); got != "one" {
			t.Fatalf("content clobbered: %q", got)
		}
		edit := b.Edit("/a.txt", "one", "two", false)
		if edit.Error != "" || edit.Occurrences != 1 {
			t.Fatalf("edit = %+v", edit)
		}
		if got := b.Read("/a.txt", 0, 0); got != "two" {
			t.Fatalf("after edit = %q, want %q", got, "two")
		}
	})

	t.Run("EditBootstrapEmptyFile", func(t *testing.T) {
		b := mk(t)
		if res := b.Write("/seed.txt", ""); res.Error != "" {
			t.Fatalf("write failed: %s", res.Error)
		}
		if got := b.Read("/seed.txt", 0, 0); !strings.Contains(got, "empty contents") {
			t.Fatalf("empty read = %q", got)
		}
		edit := b.Edit("/seed.txt", "", "initial", false)
		if edit.Error != "" || edit.Occurrences != 1 {
			t.Fatalf("bootstrap edit = %+v", edit)
		}
		if got := b.Read("/seed.txt", 0, 0); got != "initial" {
			t.Fatalf("after bootstrap = %q", got)
		}
		// Once non-empty, an empty oldString is rejected.
		if edit := b.Edit("/seed.txt", "", "again", false); edit.Error == "" {
			t.Fatal("empty oldString on non-empty file accepted")
		}
	})

	t.Run("EditReplaceAll", func(t *testing.T) {
		b := mk(t)
		if res := b.Write("/r.txt", "a b a"); res.Error != "" {
			t.Fatalf("write failed: %s", res.Error)
		}
		edit := b.Edit("/r.txt", "a", "c", false)
		if !strings.Contains(edit.Error, "replaceAll") {
			t.Fatalf("ambiguous edit error = %q", edit.Error)
		}
		edit = b.Edit("/r.txt", "a", "c", true)
		if edit.Error != "" || edit.Occurrences != 2 {
			t.Fatalf("replaceAll edit = %+v", edit)
		}
		if got := b.Read("/r.txt", 0, 0); got != "c b c" {
			t.Fatalf("after replaceAll = %q", got)
		}
	})

	t.Run("EditMissingString", func(t *testing.T) {
		b := mk(t)
		if res := b.Write("/m.txt", "content"); res.Error != "" {
			t.Fatalf("write failed: %s", res.Error)
		}
		if edit := b.Edit("/m.txt", "absent", "x", false); !strings.Contains(edit.Error, "not found") {
			t.Fatalf("edit error = %q, want not-found", edit.Error)
		}
	})

	t.Run("ReadMissingFile", func(t *testing.T) {
		b := mk(t)
		got := b.Read("/nope.txt", 0, 0)
		if got != "Error: File '/nope.txt' not found" {
			t.Fatalf("read = %q", got)
		}
	})

	t.Run("ReadWindow", func(t *testing.T) {
		b := mk(t)
		var lines []string
		for i := 1; i <= 10; i++ {
			lines = append(lines, fmt.Sprintf("line-%d", i))
		}
		if res := b.Write("/w.txt", strings.Join(lines, "\n")); res.Error != "" {
			t.Fatalf("write failed: %s", res.Error)
		}
		if got := b.Read("/w.txt", 2, 3); got != "line-3\nline-4\nline-5" {
			t.Fatalf("window = %q", got)
		}
		if got := b.Read("/w.txt", 50, 0); !strings.Contains(got, "exceeds file length (10 lines)") {
			t.Fatalf("offset overrun = %q", got)
		}
	})

	t.Run("InvalidPathRejected", func(t *testing.T) {
		b := mk(t)
		if got := b.Read("../etc/passwd", 0, 0); !strings.HasPrefix(got, "Error:") {
			t.Fatalf("traversal read = %q", got)
		}
		if res := b.Write("~/x.txt", "data"); res.Error == "" {
			t.Fatal("home shorthand write accepted")
		}
		results := b.UploadFiles([]agentfs.FileUpload{{Path: "a/../../b", Content: []byte("x")}})
		if len(results) != 1 || results[0].Err == nil || results[0].Err.Kind != agentfs.InvalidPath {
			t.Fatalf("traversal upload = %+v", results)
		}
	})

	t.Run("ReadDirectory", func(t *testing.T) {
		b := mk(t)
		if res := b.Write("/d/x.txt", "data"); res.Error != "" {
			t.Fatalf("write failed: %s", res.Error)
		}
		if got := b.Read("/d", 0, 0); !strings.Contains(got, "is a directory") {
			t.Fatalf("dir read = %q", got)
		}
	})

	t.Run("DirectorySynthesisDepth", func(t *testing.T) {
		b := mk(t)
		if res := b.Write("/a/b/c.txt", "deep"); res.Error != "" {
			t.Fatalf("write failed: %s", res.Error)
		}
		infos, err := b.LsInfo("/a/")
		if err != nil {
			t.Fatalf("ls: %v", err)
		}
		if len(infos) != 1 || infos[0].Path != "/a/b/" || !infos[0].IsDir {
			t.Fatalf("ls(/a/) = %+v, want single /a/b/ dir entry", infos)
		}
		root, err := b.LsInfo("/")
		if err != nil {
			t.Fatalf("ls: %v", err)
		}
		if len(root) != 1 || root[0].Path != "/a/" || !root[0].IsDir {
			t.Fatalf("ls(/) = %+v", root)
		}
	})

	t.Run("GlobPatterns", func(t *testing.T) {
		b := mk(t)
		for _, f := range []string{"/src/x.go", "/src/sub/y.go", "/top.txt"} {
			if res := b.Write(f, "package x"); res.Error != "" {
				t.Fatalf("write %s failed: %s", f, res.Error)
			}
		}
		got, err := b.Glob("**/*.go", "/")
		if err != nil {
			t.Fatalf("glob: %v", err)
		}
		paths := filePaths(got)
		want := []string{"/src/sub/y.go", "/src/x.go"}
		if !equalStrings(paths, want) {
			t.Fatalf("glob(**/*.go) = %v, want %v", paths, want)
		}
		got, err = b.Glob("*.go", "/src/")
		if err != nil {
			t.Fatalf("glob: %v", err)
		}
		if paths := filePaths(got); !equalStrings(paths, []string{"/src/x.go"}) {
			t.Fatalf("glob(*.go, /src/) = %v", paths)
		}
	})

	t.Run("GrepOrdering", func(t *testing.T) {
		b := mk(t)
		if res := b.Write("/g/a.txt", "needle\nplain\nneedle again"); res.Error != "" {
			t.Fatalf("write failed: %s", res.Error)
		}
		if res := b.Write("/g/b.md", "also a needle"); res.Error != "" {
			t.Fatalf("write failed: %s", res.Error)
		}
		matches, err := b.Grep("needle", "/g/", "")
		if err != nil {
			t.Fatalf("grep: %v", err)
		}
		if len(matches) != 3 {
			t.Fatalf("matches = %+v, want 3", matches)
		}
		if matches[0].Path != "/g/a.txt" || matches[0].Line != 1 {
			t.Fatalf("first match = %+v", matches[0])
		}
		if matches[1].Path != "/g/a.txt" || matches[1].Line != 3 {
			t.Fatalf("second match = %+v", matches[1])
		}
		if matches[2].Path != "/g/b.md" || matches[2].Line != 1 {
			t.Fatalf("third match = %+v", matches[2])
		}

		filtered, err := b.Grep("needle", "/g/", "*.md")
		if err != nil {
			t.Fatalf("grep: %v", err)
		}
		if len(filtered) != 1 || filtered[0].Path != "/g/b.md" {
			t.Fatalf("filtered = %+v", filtered)
		}
	})

	t.Run("GrepGlobWithSeparator", func(t *testing.T) {
		b := mk(t)
		if res := b.Write("/gs/sub/x.go", "needle"); res.Error != "" {
			t.Fatalf("write failed: %s", res.Error)
		}
		if res := b.Write("/gs/x.go", "needle"); res.Error != "" {
			t.Fatalf("write failed: %s", res.Error)
		}
		// Slash-carrying globs select on the dir-relative path, not the
		// basename.
		matches, err := b.Grep("needle", "/gs/", "sub/*.go")
		if err != nil {
			t.Fatalf("grep: %v", err)
		}
		if len(matches) != 1 || matches[0].Path != "/gs/sub/x.go" {
			t.Fatalf("matches = %+v, want only /gs/sub/x.go", matches)
		}
	})

	t.Run("DirArgumentsClampToRoot", func(t *testing.T) {
		b := mk(t)
		if res := b.Write("/clamp.txt", "clamp-needle"); res.Error != "" {
			t.Fatalf("write failed: %s", res.Error)
		}
		// ".." in a dir argument resolves no higher than the root, so
		// these behave exactly like their "/" equivalents.
		matches, err := b.Grep("clamp-needle", "../", "")
		if err != nil {
			t.Fatalf("grep: %v", err)
		}
		if len(matches) != 1 || matches[0].Path != "/clamp.txt" {
			t.Fatalf("matches = %+v, want only /clamp.txt", matches)
		}
		infos, err := b.LsInfo("../../")
		if err != nil {
			t.Fatalf("ls: %v", err)
		}
		if len(infos) != 1 || infos[0].Path != "/clamp.txt" {
			t.Fatalf("infos = %+v, want only /clamp.txt", infos)
		}
	})

	t.Run("UploadDownloadRoundTrip", func(t *testing.T) {
		b := mk(t)
		payload := []byte{0x00, 0xff, 0x10, 'a', '\n', 0x7f, 0x80}
		up := b.UploadFiles([]agentfs.FileUpload{{Path: "/bin/blob", Content: payload}})
		if len(up) != 1 || up[0].Err != nil {
			t.Fatalf("upload = %+v", up)
		}
		down := b.DownloadFiles([]string{"/bin/blob"})
		if len(down) != 1 || down[0].Err != nil {
			t.Fatalf("download = %+v", down)
		}
		if !bytes.Equal(down[0].Content, payload) {
			t.Fatalf("round-trip = %v, want %v", down[0].Content, payload)
		}
	})

	t.Run("UploadOverwrites", func(t *testing.T) {
		b := mk(t)
		for _, content := range []string{"first", "second"} {
			up := b.UploadFiles([]agentfs.FileUpload{{Path: "/o.txt", Content: []byte(content)}})
			if up[0].Err != nil {
				t.Fatalf("upload %q = %+v", content, up[0].Err)
			}
		}
		down := b.DownloadFiles([]string{"/o.txt"})
		if down[0].Err != nil || string(down[0].Content) != "second" {
			t.Fatalf("download = %+v", down[0])
		}
	})

	t.Run("DownloadMissing", func(t *testing.T) {
		b := mk(t)
		down := b.DownloadFiles([]string{"/absent.bin"})
		if len(down) != 1 || down[0].Err == nil || down[0].Err.Kind != agentfs.FileNotFound {
			t.Fatalf("download = %+v", down)
		}
	})

	t.Run("DownloadEmptyFileIsNotMissing", func(t *testing.T) {
		b := mk(t)
		up := b.UploadFiles([]agentfs.FileUpload{{Path: "/empty.bin", Content: nil}})
		if up[0].Err != nil {
			t.Fatalf("upload = %+v", up[0].Err)
		}
		down := b.DownloadFiles([]string{"/empty.bin"})
		if down[0].Err != nil {
			t.Fatalf("empty file reported as error: %+v", down[0].Err)
		}
		if len(down[0].Content) != 0 {
			t.Fatalf("content = %v", down[0].Content)
		}
	})
}

// RunSandbox exercises the execution surface shared by every sandbox:
// empty-command rejection, basic output capture, and disposal semantics.
func RunSandbox(t *testing.T, mk SandboxFactory) {
	ctx := context.Background()

	t.Run("EmptyCommandRejected", func(t *testing.T) {
		s := mk(t)
		res := s.Execute(ctx, "   ")
		if res.ExitCode == nil || *res.ExitCode != agentfs.ExitCodeInvalidCommand {
			t.Fatalf("exit = %v", res.ExitCode)
		}
		if !strings.Contains(res.Output, "Error") {
			t.Fatalf("output = %q", res.Output)
		}
	})

	t.Run("EchoCapture", func(t *testing.T) {
		s := mk(t)
		res := s.Execute(ctx, "echo conformance-marker")
		if res.ExitCode == nil || *res.ExitCode != 0 {
			t.Fatalf("exit = %v, output = %q", res.ExitCode, res.Output)
		}
		if !strings.Contains(res.Output, "conformance-marker") {
			t.Fatalf("output = %q", res.Output)
		}
	})

	t.Run("ExecuteAfterCleanup", func(t *testing.T) {
		s := mk(t)
		if err := s.Cleanup(ctx); err != nil {
			t.Fatalf("cleanup: %v", err)
		}
		res := s.Execute(ctx, "echo late")
		if !strings.Contains(res.Output, "disposed") {
			t.Fatalf("output = %q", res.Output)
		}
	})

	t.Run("HasIdentity", func(t *testing.T) {
		s := mk(t)
		if s.ID() == "" {
			t.Fatal("empty sandbox id")
		}
	})
}

func filePaths(infos []agentfs.FileInfo) []string {
	paths := make([]string, 0, len(infos))
	for _, fi := range infos {
		if !fi.IsDir {
			paths = append(paths, fi.Path)
		}
	}
	return paths
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
