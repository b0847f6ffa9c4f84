package agentfs

import (
	"context"
	"time"
)

// DefaultReadLimit is the number of lines Read returns when the caller
// passes limit <= 0.
const DefaultReadLimit = 500

// Reserved exit codes shared by every sandbox implementation.
const (
	// ExitCodeTimeout is reported when a command is killed because its
	// wall-clock timeout elapsed. Timeouts are recoverable: they are
	// reported as a normal result, and callers decide whether to retry.
	ExitCodeTimeout = 124

	// ExitCodeInvalidCommand is reported for empty or otherwise malformed
	// command input, without spawning anything.
	ExitCodeInvalidCommand = 1
)

// Backend is the uniform file-manipulation contract implemented identically
// over every substrate: an in-memory virtual filesystem, a real directory
// tree, an out-of-process worker reached over a text channel, or a
// WASM-hosted virtual filesystem.
//
// Read, Write, and Edit report expected runtime failures (missing file,
// multiple matches) as self-describing text inside their results rather
// than as Go errors, because callers are language-model tools that consume
// results directly as plain text. Malformed paths, by contrast, yield
// errors wrapping ErrInvalidPath.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type Backend interface {
	// LsInfo lists the immediate children of dir. Files nested deeper than
	// one level are synthesized as a single directory entry rather than
	// recursed into.
	LsInfo(dir string) ([]FileInfo, error)

	// Read returns the window of limit lines starting at line offset,
	// joined by newline. limit <= 0 means DefaultReadLimit. A missing file
	// yields a diagnostic message in the returned text.
	Read(path string, offset, limit int) string

	// Write creates a new file. Writing to an existing path fails with an
	// "already exists" message; mutation must go through Edit.
	Write(path, content string) WriteResult

	// Edit replaces occurrences of oldString with newString. With
	// replaceAll false the occurrence must be unique. An empty oldString
	// on an empty file sets the initial content.
	Edit(path, oldString, newString string, replaceAll bool) EditResult

	// Grep finds literal substring matches per line across files under dir,
	// optionally filtered by glob, ordered by file then line.
	Grep(pattern, dir, glob string) ([]GrepMatch, error)

	// Glob matches files and synthesized directories under dir.
	// "*" matches one path segment, "**" zero or more. Results are sorted
	// lexicographically for determinism.
	Glob(pattern, dir string) ([]FileInfo, error)

	// UploadFiles stores raw bytes at the given paths, one result per
	// input, in order.
	UploadFiles(files []FileUpload) []UploadResult

	// DownloadFiles retrieves raw bytes for the given paths, one result
	// per input, in order. Content is byte-exact with what was uploaded.
	DownloadFiles(paths []string) []DownloadResult
}

// Sandbox is a Backend over a substrate that can also run commands.
// The capability is attached statically at construction by implementing
// this interface; use AsSandbox to query it, never per-call shape
// inspection.
type Sandbox interface {
	Backend

	// ID identifies this sandbox instance.
	ID() string

	// Execute runs a command and returns its combined output. Command
	// failure is normal data: non-zero exits, timeouts, and spawn-level
	// failures are all reported inside the result, never as a panic or a
	// Go error.
	Execute(ctx context.Context, command string) ExecuteResult

	// Cleanup releases all resources held by the sandbox. No background
	// timer, process group, or listener survives its return.
	Cleanup(ctx context.Context) error
}

// AsSandbox reports whether b additionally exposes command execution.
func AsSandbox(b Backend) (Sandbox, bool) {
	s, ok := b.(Sandbox)
	return s, ok
}

// FileInfo is a listing projection, recomputed per call and never persisted.
type FileInfo struct {
	Path       string
	IsDir      bool
	Size       int64
	ModifiedAt time.Time
}

// GrepMatch is a single line-level match. Line is 1-based.
type GrepMatch struct {
	Path string
	Line int
	Text string
}

// ExecuteResult holds the outcome of a sandboxed command execution.
type ExecuteResult struct {
	// Output is the combined stdout/stderr text, with every stderr line
	// tagged by a marker prefix. Non-zero exits append an explicit
	// "Exit code: N" trailer so plain-text consumers can detect failure
	// without the structured field.
	Output string

	// ExitCode is the process exit code, or nil when no exit status was
	// ever produced (e.g. the request was lost to disposal).
	// ExitCodeTimeout (124) is the reserved timeout sentinel.
	ExitCode *int

	// Truncated indicates the output exceeded the configured byte budget
	// and was cut, with a trailing note appended.
	Truncated bool
}

// FileUpload is one (path, bytes) pair passed to UploadFiles.
type FileUpload struct {
	Path    string
	Content []byte
}

// UploadResult reports the outcome of uploading one file.
type UploadResult struct {
	Path string
	Err  *FileOperationError
}

// DownloadResult reports the outcome of downloading one file.
// Content is nil exactly when Err is non-nil.
type DownloadResult struct {
	Path    string
	Content []byte
	Err     *FileOperationError
}

// WriteResult reports the outcome of a create-only Write. Error carries
// self-describing text for tool consumers; it is empty on success.
type WriteResult struct {
	Path  string
	Error string
}

// EditResult reports the outcome of an Edit. Occurrences is the number of
// replacements performed. Error carries self-describing text for tool
// consumers; it is empty on success.
type EditResult struct {
	Path        string
	Occurrences int
	Error       string
}

// intPtr returns a pointer to n, for populating ExecuteResult.ExitCode.
func intPtr(n int) *int { return &n }
