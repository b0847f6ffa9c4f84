package agentfs

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/zhangyunhao116/agentfs/internal/pathutil"
)

// MemoryBackend implements the Backend contract over a flat path→record
// map held by an injected Store. It is the reference implementation the
// conformance harness measures the other substrates against.
type MemoryBackend struct {
	store           *Store
	allowedPrefixes []string
}

var _ Backend = (*MemoryBackend)(nil)

// NewMemoryBackend creates a backend over store. When allowedPrefixes is
// non-empty, every file path must fall under one of the prefixes.
func NewMemoryBackend(store *Store, allowedPrefixes ...string) *MemoryBackend {
	return &MemoryBackend{
		store:           store,
		allowedPrefixes: append([]string(nil), allowedPrefixes...),
	}
}

// Store returns the backing arena, for deliberate composition with other
// backends (e.g. a WASMBridge over the same state).
func (m *MemoryBackend) Store() *Store { return m.store }

func (m *MemoryBackend) LsInfo(dir string) ([]FileInfo, error) {
	d := pathutil.ValidateDir(dir)
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	return m.store.childrenLocked(d), nil
}

func (m *MemoryBackend) Read(path string, offset, limit int) string {
	p, err := pathutil.ValidateFilePath(path, m.allowedPrefixes)
	if err != nil {
		return "Error: " + err.Error()
	}
	m.store.mu.Lock()
	rec, ok := m.store.files[p]
	isDir := m.store.isDirLocked(p)
	var content string
	if ok {
		content = string(rec.content)
	}
	m.store.mu.Unlock()
	if !ok {
		if isDir {
			return isDirText(p)
		}
		return notFoundText(p)
	}
	return readWindow(p, content, offset, limit)
}

func (m *MemoryBackend) Write(path, content string) WriteResult {
	p, err := pathutil.ValidateFilePath(path, m.allowedPrefixes)
	if err != nil {
		return WriteResult{Path: path, Error: "Error: " + err.Error()}
	}
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	if m.store.isDirLocked(p) {
		return WriteResult{Path: p, Error: isDirText(p)}
	}
	if _, ok := m.store.files[p]; ok {
		return WriteResult{Path: p, Error: fmt.Sprintf("Error: File '%s' already exists. Use edit to modify existing files", p)}
	}
	m.store.writeLocked(p, []byte(content))
	return WriteResult{Path: p}
}

func (m *MemoryBackend) Edit(path, oldString, newString string, replaceAll bool) EditResult {
	p, err := pathutil.ValidateFilePath(path, m.allowedPrefixes)
	if err != nil {
		return EditResult{Path: path, Error: "Error: " + err.Error()}
	}
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	rec, ok := m.store.files[p]
	if !ok {
		if m.store.isDirLocked(p) {
			return EditResult{Path: p, Error: isDirText(p)}
		}
		return EditResult{Path: p, Error: notFoundText(p)}
	}
	updated, occurrences, errText := applyEdit(p, string(rec.content), oldString, newString, replaceAll)
	if errText != "" {
		return EditResult{Path: p, Error: errText}
	}
	m.store.writeLocked(p, []byte(updated))
	return EditResult{Path: p, Occurrences: occurrences}
}

func (m *MemoryBackend) Grep(pattern, dir, glob string) ([]GrepMatch, error) {
	d := pathutil.ValidateDir(dir)
	var globRe *regexp.Regexp
	if glob != "" {
		re, err := regexp.Compile(pathutil.GlobToRegex(glob))
		if err != nil {
			return nil, fmt.Errorf("%w: bad glob %q: %v", ErrInvalidPath, glob, err)
		}
		globRe = re
	}

	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	var matches []GrepMatch
	for _, path := range m.store.filePathsLocked() {
		if !strings.HasPrefix(path, d) {
			continue
		}
		if globRe != nil && !globRe.MatchString(path[len(d):]) {
			continue
		}
		for i, line := range m.store.files[path].Lines() {
			if strings.Contains(line, pattern) {
				matches = append(matches, GrepMatch{Path: path, Line: i + 1, Text: line})
			}
		}
	}
	return matches, nil
}

func (m *MemoryBackend) Glob(pattern, dir string) ([]FileInfo, error) {
	d := pathutil.ValidateDir(dir)
	re, err := regexp.Compile(pathutil.GlobToRegex(pattern))
	if err != nil {
		return nil, fmt.Errorf("%w: bad glob %q: %v", ErrInvalidPath, pattern, err)
	}

	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	var infos []FileInfo
	for _, path := range m.store.filePathsLocked() {
		if !strings.HasPrefix(path, d) {
			continue
		}
		if re.MatchString(path[len(d):]) {
			rec := m.store.files[path]
			infos = append(infos, FileInfo{
				Path:       path,
				Size:       int64(len(rec.content)),
				ModifiedAt: rec.modifiedAt,
			})
		}
	}
	for dirPath := range m.store.dirs {
		full := dirPath + "/"
		if !strings.HasPrefix(full, d) || full == d {
			continue
		}
		if re.MatchString(strings.TrimSuffix(full[len(d):], "/")) {
			infos = append(infos, FileInfo{Path: full, IsDir: true})
		}
	}
	sortFileInfos(infos)
	return infos, nil
}

func (m *MemoryBackend) UploadFiles(files []FileUpload) []UploadResult {
	results := make([]UploadResult, 0, len(files))
	for _, f := range files {
		p, err := pathutil.ValidateFilePath(f.Path, m.allowedPrefixes)
		if err != nil {
			results = append(results, UploadResult{Path: f.Path, Err: &FileOperationError{
				Kind: InvalidPath, Path: f.Path, Message: err.Error(),
			}})
			continue
		}
		m.store.mu.Lock()
		if m.store.isDirLocked(p) {
			m.store.mu.Unlock()
			results = append(results, UploadResult{Path: p, Err: &FileOperationError{
				Kind: IsADirectory, Path: p,
			}})
			continue
		}
		m.store.writeLocked(p, f.Content)
		m.store.mu.Unlock()
		results = append(results, UploadResult{Path: p})
	}
	return results
}

func (m *MemoryBackend) DownloadFiles(paths []string) []DownloadResult {
	results := make([]DownloadResult, 0, len(paths))
	for _, path := range paths {
		p, err := pathutil.ValidateFilePath(path, m.allowedPrefixes)
		if err != nil {
			results = append(results, DownloadResult{Path: path, Err: &FileOperationError{
				Kind: InvalidPath, Path: path, Message: err.Error(),
			}})
			continue
		}
		m.store.mu.Lock()
		rec, ok := m.store.files[p]
		var content []byte
		isDir := m.store.isDirLocked(p)
		if ok {
			content = rec.Content()
		}
		m.store.mu.Unlock()
		switch {
		case ok:
			results = append(results, DownloadResult{Path: p, Content: content})
		case isDir:
			results = append(results, DownloadResult{Path: p, Err: &FileOperationError{
				Kind: IsADirectory, Path: p,
			}})
		default:
			results = append(results, DownloadResult{Path: p, Err: &FileOperationError{
				Kind: FileNotFound, Path: p,
			}})
		}
	}
	return results
}
