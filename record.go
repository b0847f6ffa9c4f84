package agentfs

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// FileRecord is the content+timestamp entity shared by every
// in-memory-backed implementation. Content is stored losslessly as raw
// bytes; the line view used by Read and Edit is derived by splitting on
// newline, so joining the lines with newline always reconstructs the file.
//
// A record is created on first write, mutated by write/edit (content
// replaced, modifiedAt refreshed, createdAt preserved), and never
// implicitly deleted.
type FileRecord struct {
	content    []byte
	createdAt  time.Time
	modifiedAt time.Time
}

// Content returns a copy of the raw file bytes.
func (r *FileRecord) Content() []byte {
	return append([]byte(nil), r.content...)
}

// Lines returns the file content split on newline.
func (r *FileRecord) Lines() []string {
	return strings.Split(string(r.content), "\n")
}

// CreatedAt returns the creation timestamp.
func (r *FileRecord) CreatedAt() time.Time { return r.createdAt }

// ModifiedAt returns the last-modification timestamp.
// ModifiedAt is never earlier than CreatedAt.
func (r *FileRecord) ModifiedAt() time.Time { return r.modifiedAt }

// Store is the explicitly owned backing arena for in-memory backends:
// a flat path→record map plus the set of known directory paths. It is
// injected at backend construction, never a package-level singleton, so
// multiple sandbox instances share state only when deliberately composed
// (e.g. a MemoryBackend and a WASMBridge over the same Store).
//
// Every operation's critical section over the maps is a single
// synchronous step under one mutex, so there are no partial-update races.
//
// Directory paths are stored without a trailing slash ("/a/b"); the
// virtual root "/" always exists implicitly.
type Store struct {
	mu    sync.Mutex
	files map[string]*FileRecord
	dirs  map[string]struct{}
	now   func() time.Time
}

// NewStore creates an empty Store using the wall clock.
func NewStore() *Store {
	return NewStoreWithClock(time.Now)
}

// NewStoreWithClock creates an empty Store with an injectable clock,
// for deterministic timestamp tests.
func NewStoreWithClock(now func() time.Time) *Store {
	return &Store{
		files: make(map[string]*FileRecord),
		dirs:  make(map[string]struct{}),
		now:   now,
	}
}

// ---------------------------------------------------------------------------
// Locked helpers. Callers hold s.mu.
// ---------------------------------------------------------------------------

// writeLocked creates or replaces the record at path, preserving createdAt
// on replacement, and materializes every intermediate parent directory so
// the write is never ls-invisible.
func (s *Store) writeLocked(path string, content []byte) {
	ts := s.now()
	if rec, ok := s.files[path]; ok {
		rec.content = append([]byte(nil), content...)
		rec.modifiedAt = ts
	} else {
		s.files[path] = &FileRecord{
			content:    append([]byte(nil), content...),
			createdAt:  ts,
			modifiedAt: ts,
		}
	}
	s.mkdirLocked(parentDir(path))
}

// mkdirLocked records path and all its ancestors as known directories.
func (s *Store) mkdirLocked(path string) {
	for p := path; p != "/" && p != ""; p = parentDir(p) {
		s.dirs[p] = struct{}{}
	}
}

// isDirLocked reports whether path is a known directory (or the root).
func (s *Store) isDirLocked(path string) bool {
	if path == "/" {
		return true
	}
	_, ok := s.dirs[strings.TrimSuffix(path, "/")]
	return ok
}

// renameLocked moves a file, or bulk-renames every file and sub-directory
// key sharing a directory prefix. This is a linear rewrite over the flat
// map, not a tree-pointer swap. Returns false if from names neither a file
// nor a known directory.
func (s *Store) renameLocked(from, to string) bool {
	if rec, ok := s.files[from]; ok {
		delete(s.files, from)
		s.files[to] = rec
		s.mkdirLocked(parentDir(to))
		return true
	}
	if _, ok := s.dirs[from]; !ok {
		return false
	}
	prefix := from + "/"
	for path, rec := range s.files {
		if strings.HasPrefix(path, prefix) {
			delete(s.files, path)
			s.files[to+"/"+path[len(prefix):]] = rec
		}
	}
	for dir := range s.dirs {
		if dir == from {
			delete(s.dirs, dir)
			s.dirs[to] = struct{}{}
		} else if strings.HasPrefix(dir, prefix) {
			delete(s.dirs, dir)
			s.dirs[to+"/"+dir[len(prefix):]] = struct{}{}
		}
	}
	s.mkdirLocked(parentDir(to))
	return true
}

// filePathsLocked returns all file paths in lexicographic order.
func (s *Store) filePathsLocked() []string {
	paths := make([]string, 0, len(s.files))
	for p := range s.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// childrenLocked synthesizes the immediate children of dir (canonical
// "/a/" form) by scanning both the file map and the directory set,
// deduplicated by child segment. A child with deeper descendants appears
// as a single directory entry with a trailing slash, never recursed.
func (s *Store) childrenLocked(dir string) []FileInfo {
	seen := make(map[string]FileInfo)
	for path, rec := range s.files {
		if !strings.HasPrefix(path, dir) {
			continue
		}
		rest := path[len(dir):]
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			name := rest[:i]
			seen[name+"/"] = FileInfo{Path: dir + name + "/", IsDir: true}
		} else {
			seen[rest] = FileInfo{
				Path:       path,
				Size:       int64(len(rec.content)),
				ModifiedAt: rec.modifiedAt,
			}
		}
	}
	for d := range s.dirs {
		if !strings.HasPrefix(d+"/", dir) || d+"/" == dir {
			continue
		}
		rest := d[len(dir):]
		name, _, _ := strings.Cut(rest, "/")
		if _, ok := seen[name+"/"]; !ok {
			seen[name+"/"] = FileInfo{Path: dir + name + "/", IsDir: true}
		}
	}
	infos := make([]FileInfo, 0, len(seen))
	for _, fi := range seen {
		infos = append(infos, fi)
	}
	sortFileInfos(infos)
	return infos
}

// parentDir returns the parent of a canonical virtual path ("/a/b/c" →
// "/a/b", "/a" → "/").
func parentDir(path string) string {
	path = strings.TrimSuffix(path, "/")
	i := strings.LastIndexByte(path, '/')
	if i <= 0 {
		return "/"
	}
	return path[:i]
}
