package agentfs

import (
	"strings"
	"sync"

	"github.com/zhangyunhao116/agentfs/internal/pathutil"
)

// FsMetadata is the metadata projection returned by the bridge's Metadata
// callback.
type FsMetadata struct {
	IsFile bool  `json:"is_file"`
	IsDir  bool  `json:"is_dir"`
	Len    int64 `json:"len"`
}

// DirEntry is one readdir result.
type DirEntry struct {
	Name     string     `json:"name"`
	Metadata FsMetadata `json:"metadata"`
}

// OpenFlags selects the access mode for an opened handle.
type OpenFlags struct {
	Read     bool `json:"read"`
	Write    bool `json:"write"`
	Create   bool `json:"create"`
	Truncate bool `json:"truncate"`
	Append   bool `json:"append"`
}

// fileHandle tracks the byte cursor of one open bridge handle.
type fileHandle struct {
	path     string
	position int64
	flags    OpenFlags
}

// Seek whence values, matching the WASI convention.
const (
	SeekStart   = 0
	SeekCurrent = 1
	SeekEnd     = 2
)

// HandleInvalid is the sentinel returned by Open and the handle operations
// on failure. The bridge boundary cannot propagate errors, so every
// operation reports failure through its return value: Metadata and
// HandleRead return nil, the boolean operations return false, and the
// numeric operations return this sentinel.
const HandleInvalid = -1

// WASMBridge is the synchronous callback surface a WASM-hosted executable
// mounts as its filesystem, backed by the same Store a MemoryBackend uses.
// Callbacks are expected to run on the engine's single execution thread;
// the handle table is still locked so a host embedding the bridge off that
// thread does not corrupt it.
//
// Handle ids increase monotonically starting at 1 and are never reused
// while the bridge lives. Handles leak until HandleClose or the engine
// instance is torn down.
type WASMBridge struct {
	store *Store

	mu         sync.Mutex
	handles    map[int64]*fileHandle
	nextHandle int64
}

// NewWASMBridge mounts a bridge over the given store. Passing the store a
// MemoryBackend already uses gives the WASM guest and the tool layer one
// shared filesystem view.
func NewWASMBridge(store *Store) *WASMBridge {
	if store == nil {
		store = NewStore()
	}
	return &WASMBridge{
		store:   store,
		handles: make(map[int64]*fileHandle),
	}
}

// Store returns the backing store.
func (b *WASMBridge) Store() *Store { return b.store }

// bridgePath normalizes a guest-supplied path. The guest side has already
// resolved relative paths, so anything that fails validation here is
// malformed and reported as a sentinel failure by the caller.
func bridgePath(path string) (string, bool) {
	if strings.Trim(path, "/") == "" && path != "" {
		return "/", true
	}
	p, err := pathutil.ValidateFilePath(path, nil)
	if err != nil {
		return "", false
	}
	return p, true
}

// ---------------------------------------------------------------------------
// Filesystem-level callbacks
// ---------------------------------------------------------------------------

// Metadata reports what a path is, or nil if it names nothing. The
// directory set wins over the file map so a path that is both (never true
// under normal operation) reads as a directory.
func (b *WASMBridge) Metadata(path string) *FsMetadata {
	p, ok := bridgePath(path)
	if !ok {
		return nil
	}
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	if b.store.isDirLocked(p) {
		return &FsMetadata{IsDir: true}
	}
	if rec, ok := b.store.files[p]; ok {
		return &FsMetadata{IsFile: true, Len: int64(len(rec.content))}
	}
	return nil
}

// ReadDir synthesizes the immediate children of path, or returns nil if
// path is not a known directory.
func (b *WASMBridge) ReadDir(path string) []DirEntry {
	p, ok := bridgePath(path)
	if !ok {
		return nil
	}
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	if !b.store.isDirLocked(p) {
		return nil
	}
	dir := p
	if dir != "/" {
		dir += "/"
	}
	entries := make([]DirEntry, 0)
	for _, fi := range b.store.childrenLocked(dir) {
		name := strings.TrimSuffix(strings.TrimPrefix(fi.Path, dir), "/")
		if fi.IsDir {
			entries = append(entries, DirEntry{Name: name, Metadata: FsMetadata{IsDir: true}})
		} else {
			entries = append(entries, DirEntry{Name: name, Metadata: FsMetadata{IsFile: true, Len: fi.Size}})
		}
	}
	return entries
}

// ReadFile returns the whole file, or nil if absent or a directory. An
// existing empty file reads as a non-nil empty slice so absence stays
// distinguishable at this callback.
func (b *WASMBridge) ReadFile(path string) []byte {
	p, ok := bridgePath(path)
	if !ok {
		return nil
	}
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	rec, found := b.store.files[p]
	if !found {
		return nil
	}
	out := make([]byte, len(rec.content))
	copy(out, rec.content)
	return out
}

// WriteFile creates or replaces the file, materializing every intermediate
// parent directory so the write is never readdir-invisible.
func (b *WASMBridge) WriteFile(path string, contents []byte) bool {
	p, ok := bridgePath(path)
	if !ok || p == "/" {
		return false
	}
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	if b.store.isDirLocked(p) {
		return false
	}
	b.store.writeLocked(p, contents)
	return true
}

// CreateDir records the directory and all its ancestors.
func (b *WASMBridge) CreateDir(path string) bool {
	p, ok := bridgePath(path)
	if !ok {
		return false
	}
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	if _, exists := b.store.files[p]; exists {
		return false
	}
	b.store.mkdirLocked(p)
	return true
}

// RemoveFile deletes a file entry. Fails if the path is absent or a
// directory.
func (b *WASMBridge) RemoveFile(path string) bool {
	p, ok := bridgePath(path)
	if !ok {
		return false
	}
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	if _, found := b.store.files[p]; !found {
		return false
	}
	delete(b.store.files, p)
	return true
}

// RemoveDir deletes an empty directory. A directory with remaining files
// or sub-directories is not removable.
func (b *WASMBridge) RemoveDir(path string) bool {
	p, ok := bridgePath(path)
	if !ok || p == "/" {
		return false
	}
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	if _, found := b.store.dirs[p]; !found {
		return false
	}
	prefix := p + "/"
	for f := range b.store.files {
		if strings.HasPrefix(f, prefix) {
			return false
		}
	}
	for d := range b.store.dirs {
		if strings.HasPrefix(d, prefix) {
			return false
		}
	}
	delete(b.store.dirs, p)
	return true
}

// Rename moves a file, or bulk-renames every file and sub-directory key
// under a directory prefix.
func (b *WASMBridge) Rename(from, to string) bool {
	f, ok := bridgePath(from)
	if !ok || f == "/" {
		return false
	}
	t, ok := bridgePath(to)
	if !ok || t == "/" {
		return false
	}
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	if !b.store.renameLocked(f, t) {
		return false
	}
	// Open handles follow the content they were opened on.
	b.mu.Lock()
	for _, h := range b.handles {
		if h.path == f {
			h.path = t
		} else if strings.HasPrefix(h.path, f+"/") {
			h.path = t + h.path[len(f):]
		}
	}
	b.mu.Unlock()
	return true
}

// ---------------------------------------------------------------------------
// File handle callbacks
// ---------------------------------------------------------------------------

// Open creates a handle over path and returns its id, or HandleInvalid if
// the path names a directory, or is absent with no create flag set.
func (b *WASMBridge) Open(path string, flags OpenFlags) int64 {
	p, ok := bridgePath(path)
	if !ok || p == "/" {
		return HandleInvalid
	}

	b.store.mu.Lock()
	if b.store.isDirLocked(p) {
		b.store.mu.Unlock()
		return HandleInvalid
	}
	rec, exists := b.store.files[p]
	switch {
	case !exists && !flags.Create:
		b.store.mu.Unlock()
		return HandleInvalid
	case !exists:
		b.store.writeLocked(p, nil)
	case flags.Truncate:
		b.store.writeLocked(p, nil)
	}
	pos := int64(0)
	if flags.Append && exists && !flags.Truncate {
		pos = int64(len(rec.content))
	}
	b.store.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextHandle++
	id := b.nextHandle
	b.handles[id] = &fileHandle{path: p, position: pos, flags: flags}
	return id
}

// HandleRead reads up to n bytes at the handle's cursor and advances it.
// Returns nil for an unknown or non-readable handle; an empty (non-nil)
// slice signals end of file.
func (b *WASMBridge) HandleRead(handle int64, n int) []byte {
	b.mu.Lock()
	h, ok := b.handles[handle]
	b.mu.Unlock()
	if !ok || !h.flags.Read {
		return nil
	}

	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	rec, found := b.store.files[h.path]
	if !found {
		return nil
	}
	start := h.position
	if start > int64(len(rec.content)) {
		start = int64(len(rec.content))
	}
	end := min(start+int64(n), int64(len(rec.content)))
	out := make([]byte, end-start)
	copy(out, rec.content[start:end])
	h.position = end
	return out
}

// HandleWrite writes data at the handle's cursor, growing the file by full
// reallocation when the write extends past the current length, and mutates
// the backing store immediately. Returns the byte count written, or
// HandleInvalid for an unknown or non-writable handle.
func (b *WASMBridge) HandleWrite(handle int64, data []byte) int64 {
	b.mu.Lock()
	h, ok := b.handles[handle]
	b.mu.Unlock()
	if !ok || !(h.flags.Write || h.flags.Append) {
		return HandleInvalid
	}

	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	rec, found := b.store.files[h.path]
	if !found {
		return HandleInvalid
	}
	content := rec.content
	start := h.position
	needed := start + int64(len(data))
	if needed > int64(len(content)) {
		grown := make([]byte, needed)
		copy(grown, content)
		content = grown
	}
	copy(content[start:], data)
	h.position = needed
	b.store.writeLocked(h.path, content)
	return int64(len(data))
}

// HandleSeek moves the handle's cursor. Whence 0/1/2 = absolute, relative
// to the cursor, relative to end of file. Returns the new position, or
// HandleInvalid for an unknown handle or a resulting negative position.
func (b *WASMBridge) HandleSeek(handle int64, offset int64, whence int) int64 {
	b.mu.Lock()
	h, ok := b.handles[handle]
	b.mu.Unlock()
	if !ok {
		return HandleInvalid
	}

	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	var base int64
	switch whence {
	case SeekStart:
		base = 0
	case SeekCurrent:
		base = h.position
	case SeekEnd:
		if rec, found := b.store.files[h.path]; found {
			base = int64(len(rec.content))
		}
	default:
		return HandleInvalid
	}
	pos := base + offset
	if pos < 0 {
		return HandleInvalid
	}
	h.position = pos
	return pos
}

// HandleClose discards the handle. Closing an unknown handle is a no-op;
// there is no flush step since writes hit the store immediately.
func (b *WASMBridge) HandleClose(handle int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handles, handle)
}

// OpenHandleCount reports how many handles are currently open, for
// leak-checking in embedders that tear engines down.
func (b *WASMBridge) OpenHandleCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handles)
}

// Backend adapts the bridge back into the richer contract: a MemoryBackend
// over the same store, so a caller reaching the bridge's files indirectly
// gets structured errors instead of sentinel values.
func (b *WASMBridge) Backend(allowedPrefixes ...string) *MemoryBackend {
	return NewMemoryBackend(b.store, allowedPrefixes...)
}
