package agentfs

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"syscall"

	"github.com/natefinch/atomic"
	"github.com/zhangyunhao116/agentfs/internal/pathutil"
)

// LocalBackend implements the Backend contract over a real directory tree.
// Virtual paths are interpreted relative to the configured root; traversal
// outside the root is impossible by construction because every path is
// validated before it is joined.
type LocalBackend struct {
	root            string
	allowedPrefixes []string

	// mu serializes mutating operations so each read-modify-write (Edit)
	// is a single step, matching the in-memory backends.
	mu sync.Mutex
}

var _ Backend = (*LocalBackend)(nil)

// NewLocalBackend creates a backend rooted at the given real directory.
// The directory is created if it does not exist.
func NewLocalBackend(root string, allowedPrefixes ...string) (*LocalBackend, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("agentfs: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("agentfs: create root: %w", err)
	}
	return &LocalBackend{
		root:            abs,
		allowedPrefixes: append([]string(nil), allowedPrefixes...),
	}, nil
}

// Root returns the real directory backing this instance.
func (l *LocalBackend) Root() string { return l.root }

// realPath maps a validated virtual path onto the root directory.
func (l *LocalBackend) realPath(virtual string) string {
	return filepath.Join(l.root, filepath.FromSlash(strings.TrimPrefix(virtual, "/")))
}

func (l *LocalBackend) LsInfo(dir string) ([]FileInfo, error) {
	d := pathutil.ValidateDir(dir)
	entries, err := os.ReadDir(l.realPath(d))
	if err != nil {
		// An unknown directory lists as empty, matching the virtual backends.
		return nil, nil
	}
	infos := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			infos = append(infos, FileInfo{Path: d + e.Name() + "/", IsDir: true})
			continue
		}
		fi := FileInfo{Path: d + e.Name()}
		if info, err := e.Info(); err == nil {
			fi.Size = info.Size()
			fi.ModifiedAt = info.ModTime()
		}
		infos = append(infos, fi)
	}
	sortFileInfos(infos)
	return infos, nil
}

func (l *LocalBackend) Read(path string, offset, limit int) string {
	p, err := pathutil.ValidateFilePath(path, l.allowedPrefixes)
	if err != nil {
		return "Error: " + err.Error()
	}
	real := l.realPath(p)
	if info, err := os.Stat(real); err == nil && info.IsDir() {
		return isDirText(p)
	}
	data, err := os.ReadFile(real)
	if err != nil {
		return notFoundText(p)
	}
	return readWindow(p, string(data), offset, limit)
}

func (l *LocalBackend) Write(path, content string) WriteResult {
	p, err := pathutil.ValidateFilePath(path, l.allowedPrefixes)
	if err != nil {
		return WriteResult{Path: path, Error: "Error: " + err.Error()}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	real := l.realPath(p)
	if info, err := os.Stat(real); err == nil {
		if info.IsDir() {
			return WriteResult{Path: p, Error: isDirText(p)}
		}
		return WriteResult{Path: p, Error: fmt.Sprintf("Error: File '%s' already exists. Use edit to modify existing files", p)}
	}
	if err := l.writeFile(real, []byte(content)); err != nil {
		return WriteResult{Path: p, Error: "Error: " + err.Error()}
	}
	return WriteResult{Path: p}
}

func (l *LocalBackend) Edit(path, oldString, newString string, replaceAll bool) EditResult {
	p, err := pathutil.ValidateFilePath(path, l.allowedPrefixes)
	if err != nil {
		return EditResult{Path: path, Error: "Error: " + err.Error()}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	real := l.realPath(p)
	if info, err := os.Stat(real); err == nil && info.IsDir() {
		return EditResult{Path: p, Error: isDirText(p)}
	}
	data, err := os.ReadFile(real)
	if err != nil {
		return EditResult{Path: p, Error: notFoundText(p)}
	}
	updated, occurrences, errText := applyEdit(p, string(data), oldString, newString, replaceAll)
	if errText != "" {
		return EditResult{Path: p, Error: errText}
	}
	if err := l.writeFile(real, []byte(updated)); err != nil {
		return EditResult{Path: p, Error: "Error: " + err.Error()}
	}
	return EditResult{Path: p, Occurrences: occurrences}
}

func (l *LocalBackend) Grep(pattern, dir, glob string) ([]GrepMatch, error) {
	d := pathutil.ValidateDir(dir)
	var globRe *regexp.Regexp
	if glob != "" {
		re, err := regexp.Compile(pathutil.GlobToRegex(glob))
		if err != nil {
			return nil, fmt.Errorf("%w: bad glob %q: %v", ErrInvalidPath, glob, err)
		}
		globRe = re
	}

	var matches []GrepMatch
	for _, virt := range l.walkFiles(d) {
		if globRe != nil && !globRe.MatchString(virt[len(d):]) {
			continue
		}
		data, err := os.ReadFile(l.realPath(virt))
		if err != nil {
			continue
		}
		for i, line := range strings.Split(string(data), "\n") {
			if strings.Contains(line, pattern) {
				matches = append(matches, GrepMatch{Path: virt, Line: i + 1, Text: line})
			}
		}
	}
	return matches, nil
}

func (l *LocalBackend) Glob(pattern, dir string) ([]FileInfo, error) {
	d := pathutil.ValidateDir(dir)
	re, err := regexp.Compile(pathutil.GlobToRegex(pattern))
	if err != nil {
		return nil, fmt.Errorf("%w: bad glob %q: %v", ErrInvalidPath, pattern, err)
	}

	var infos []FileInfo
	rootReal := l.realPath(d)
	_ = filepath.WalkDir(rootReal, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil || path == rootReal {
			return nil //nolint:nilerr // skip inaccessible entries
		}
		rel := filepath.ToSlash(strings.TrimPrefix(path, rootReal))
		rel = strings.TrimPrefix(rel, "/")
		if !re.MatchString(rel) {
			return nil
		}
		if entry.IsDir() {
			infos = append(infos, FileInfo{Path: d + rel + "/", IsDir: true})
			return nil
		}
		fi := FileInfo{Path: d + rel}
		if info, err := entry.Info(); err == nil {
			fi.Size = info.Size()
			fi.ModifiedAt = info.ModTime()
		}
		infos = append(infos, fi)
		return nil
	})
	sortFileInfos(infos)
	return infos, nil
}

func (l *LocalBackend) UploadFiles(files []FileUpload) []UploadResult {
	results := make([]UploadResult, 0, len(files))
	for _, f := range files {
		p, err := pathutil.ValidateFilePath(f.Path, l.allowedPrefixes)
		if err != nil {
			results = append(results, UploadResult{Path: f.Path, Err: &FileOperationError{
				Kind: InvalidPath, Path: f.Path, Message: err.Error(),
			}})
			continue
		}
		l.mu.Lock()
		err = l.writeFile(l.realPath(p), f.Content)
		l.mu.Unlock()
		if err != nil {
			results = append(results, UploadResult{Path: p, Err: classifyOSError(p, err)})
			continue
		}
		results = append(results, UploadResult{Path: p})
	}
	return results
}

func (l *LocalBackend) DownloadFiles(paths []string) []DownloadResult {
	results := make([]DownloadResult, 0, len(paths))
	for _, path := range paths {
		p, err := pathutil.ValidateFilePath(path, l.allowedPrefixes)
		if err != nil {
			results = append(results, DownloadResult{Path: path, Err: &FileOperationError{
				Kind: InvalidPath, Path: path, Message: err.Error(),
			}})
			continue
		}
		data, err := os.ReadFile(l.realPath(p))
		if err != nil {
			results = append(results, DownloadResult{Path: p, Err: classifyOSError(p, err)})
			continue
		}
		results = append(results, DownloadResult{Path: p, Content: data})
	}
	return results
}

// writeFile creates parent directories and atomically replaces the file,
// so a concurrent reader never observes a half-written file.
func (l *LocalBackend) writeFile(real string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(real), 0o755); err != nil {
		return err
	}
	return atomic.WriteFile(real, bytes.NewReader(content))
}

// walkFiles returns the virtual paths of every regular file under the
// virtual directory d, sorted by the walk order (lexicographic).
func (l *LocalBackend) walkFiles(d string) []string {
	var virts []string
	rootReal := l.realPath(d)
	_ = filepath.WalkDir(rootReal, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil //nolint:nilerr // skip inaccessible entries
		}
		if entry.IsDir() {
			return nil
		}
		rel := filepath.ToSlash(strings.TrimPrefix(path, rootReal))
		virts = append(virts, d+strings.TrimPrefix(rel, "/"))
		return nil
	})
	return virts
}

// classifyOSError maps a real-filesystem error onto the shared
// FileOperationError set.
func classifyOSError(path string, err error) *FileOperationError {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return &FileOperationError{Kind: FileNotFound, Path: path}
	case errors.Is(err, fs.ErrPermission):
		return &FileOperationError{Kind: PermissionDenied, Path: path, Message: err.Error()}
	case errors.Is(err, syscall.EISDIR):
		return &FileOperationError{Kind: IsADirectory, Path: path}
	default:
		return &FileOperationError{Kind: InvalidPath, Path: path, Message: err.Error()}
	}
}
