package agentfs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/zhangyunhao116/agentfs/internal/pathutil"
)

func TestClassifyFailureText(t *testing.T) {
	tests := []struct {
		text string
		want FileErrorKind
	}{
		{"cat: /x: Permission denied", PermissionDenied},
		{"PERMISSION DENIED", PermissionDenied},
		{"cat: /d: Is a directory", IsADirectory},
		{"sh: /x: No such file or directory", FileNotFound},
		{"Error: File '/x' not found", FileNotFound},
		{"something else entirely", InvalidPath},
		{"", InvalidPath},
	}
	for _, tt := range tests {
		if got := classifyFailureText(tt.text); got != tt.want {
			t.Errorf("classifyFailureText(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestFileOperationErrorFormat(t *testing.T) {
	e := &FileOperationError{Kind: FileNotFound, Path: "/x.txt"}
	if got := e.Error(); got != "agentfs: file_not_found: /x.txt" {
		t.Fatalf("error = %q", got)
	}
	e = &FileOperationError{Kind: PermissionDenied, Path: "/y", Message: "raw text"}
	if got := e.Error(); got != "agentfs: permission_denied: /y: raw text" {
		t.Fatalf("error = %q", got)
	}
}

func TestErrInvalidPathIdentity(t *testing.T) {
	// The package-level sentinel and the pathutil sentinel are one value,
	// so errors.Is works across both layers.
	_, err := pathutil.ValidateFilePath("../escape", nil)
	if !errors.Is(err, ErrInvalidPath) {
		t.Fatalf("err = %v", err)
	}
	wrapped := fmt.Errorf("outer: %w", err)
	if !errors.Is(wrapped, pathutil.ErrInvalidPath) {
		t.Fatalf("wrapped = %v", wrapped)
	}
}
