package agentfs

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zhangyunhao116/agentfs/internal/pathutil"
)

// Sentinel errors returned by the agentfs package.
var (
	// ErrInvalidPath indicates a virtual path failed validation (traversal,
	// platform-absolute path, disallowed prefix). Path validation failures
	// are caller programming errors, not runtime data conditions, and are
	// never embedded into tool-facing result text.
	ErrInvalidPath = pathutil.ErrInvalidPath

	// ErrConfigInvalid indicates the provided configuration failed validation.
	ErrConfigInvalid = errors.New("agentfs: invalid configuration")

	// ErrSandboxDisposed indicates the sandbox has been disposed via Cleanup.
	// Every request still pending at disposal time is rejected with an error
	// wrapping this sentinel, distinguishing "lost to shutdown" from
	// "failed remotely".
	ErrSandboxDisposed = errors.New("agentfs: sandbox disposed")
)

// FileErrorKind identifies one of the closed set of structured file
// operation failures shared by every backend.
type FileErrorKind string

const (
	FileNotFound     FileErrorKind = "file_not_found"
	PermissionDenied FileErrorKind = "permission_denied"
	IsADirectory     FileErrorKind = "is_directory"
	InvalidPath      FileErrorKind = "invalid_path"
)

// FileOperationError is the structured error tier used by UploadFiles,
// DownloadFiles, and sandbox-level file transfer. Tool-facing operations
// (Read/Write/Edit/Grep) instead embed human-readable text directly in
// their results, because those are consumed as language-model tool output
// and must be self-explanatory without a side channel.
type FileOperationError struct {
	// Kind is the closed-set classification of the failure.
	Kind FileErrorKind

	// Path is the virtual path the operation targeted.
	Path string

	// Message is an optional human-readable elaboration, e.g. the raw
	// textual failure signature reported by a remote executor.
	Message string
}

func (e *FileOperationError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("agentfs: %s: %s: %s", e.Kind, e.Path, e.Message)
	}
	return fmt.Sprintf("agentfs: %s: %s", e.Kind, e.Path)
}

// classifyFailureText maps a textual failure signature onto the shared
// FileErrorKind set using case-insensitive substring checks. Remote
// executors report failures only as text, so this is the only
// classification available across an RPC boundary.
func classifyFailureText(text string) FileErrorKind {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "permission denied"):
		return PermissionDenied
	case strings.Contains(lower, "is a directory"):
		return IsADirectory
	case strings.Contains(lower, "not found") || strings.Contains(lower, "no such file"):
		return FileNotFound
	default:
		return InvalidPath
	}
}
