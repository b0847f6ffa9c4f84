package agentfs

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestStoreWritePreservesCreatedAt(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewStoreWithClock(func() time.Time { return now })

	s.mu.Lock()
	s.writeLocked("/f.txt", []byte("one"))
	s.mu.Unlock()

	created := now
	now = now.Add(time.Hour)

	s.mu.Lock()
	s.writeLocked("/f.txt", []byte("two"))
	rec := s.files["/f.txt"]
	s.mu.Unlock()

	if string(rec.Content()) != "two" {
		t.Fatalf("content = %q", rec.Content())
	}
	if !rec.CreatedAt().Equal(created) {
		t.Fatalf("createdAt = %v, want %v", rec.CreatedAt(), created)
	}
	if !rec.ModifiedAt().Equal(now) {
		t.Fatalf("modifiedAt = %v, want %v", rec.ModifiedAt(), now)
	}
}

func TestStoreWriteMaterializesParents(t *testing.T) {
	s := NewStore()
	s.mu.Lock()
	s.writeLocked("/a/b/c/deep.txt", []byte("x"))
	isB := s.isDirLocked("/a/b")
	isA := s.isDirLocked("/a")
	isRoot := s.isDirLocked("/")
	s.mu.Unlock()

	if !isA || !isB || !isRoot {
		t.Fatalf("parents not materialized: a=%v b=%v root=%v", isA, isB, isRoot)
	}
}

func TestStoreChildrenSynthesis(t *testing.T) {
	s := NewStore()
	s.mu.Lock()
	s.writeLocked("/p/a.txt", []byte("aa"))
	s.writeLocked("/p/q/b.txt", []byte("b"))
	s.writeLocked("/p/q/deeper/c.txt", []byte("c"))
	s.mkdirLocked("/p/empty")
	infos := s.childrenLocked("/p/")
	s.mu.Unlock()

	var got []string
	for _, fi := range infos {
		got = append(got, fi.Path)
	}
	want := []string{"/p/a.txt", "/p/empty/", "/p/q/"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("children mismatch (-want +got):\n%s", diff)
	}
	for _, fi := range infos {
		if fi.Path == "/p/a.txt" && fi.Size != 2 {
			t.Fatalf("size = %d", fi.Size)
		}
	}
}

func TestStoreRenameFile(t *testing.T) {
	s := NewStore()
	s.mu.Lock()
	s.writeLocked("/old.txt", []byte("keep"))
	ok := s.renameLocked("/old.txt", "/new/place.txt")
	_, oldExists := s.files["/old.txt"]
	rec := s.files["/new/place.txt"]
	parentOK := s.isDirLocked("/new")
	s.mu.Unlock()

	if !ok || oldExists || rec == nil || string(rec.Content()) != "keep" || !parentOK {
		t.Fatalf("rename: ok=%v oldExists=%v rec=%v parentOK=%v", ok, oldExists, rec, parentOK)
	}
}

func TestStoreRenameDirectoryPrefix(t *testing.T) {
	s := NewStore()
	s.mu.Lock()
	s.writeLocked("/a/x.txt", []byte("1"))
	s.writeLocked("/a/sub/y.txt", []byte("2"))
	ok := s.renameLocked("/a", "/b")
	paths := s.filePathsLocked()
	subMoved := s.isDirLocked("/b/sub")
	aGone := s.isDirLocked("/a")
	s.mu.Unlock()

	if !ok {
		t.Fatal("rename failed")
	}
	want := []string{"/b/sub/y.txt", "/b/x.txt"}
	if diff := cmp.Diff(want, paths); diff != "" {
		t.Fatalf("paths mismatch (-want +got):\n%s", diff)
	}
	if !subMoved || aGone {
		t.Fatalf("dirs: subMoved=%v aGone=%v", subMoved, aGone)
	}
}

func TestStoreRenameMissing(t *testing.T) {
	s := NewStore()
	s.mu.Lock()
	ok := s.renameLocked("/ghost", "/anywhere")
	s.mu.Unlock()
	if ok {
		t.Fatal("renamed a missing path")
	}
}

func TestFileRecordLineJoinInvariant(t *testing.T) {
	for _, content := range []string{"", "one", "one\ntwo", "trailing\n", "\n\n"} {
		rec := &FileRecord{content: []byte(content)}
		joined := ""
		for i, line := range rec.Lines() {
			if i > 0 {
				joined += "\n"
			}
			joined += line
		}
		if joined != content {
			t.Fatalf("join(lines(%q)) = %q", content, joined)
		}
	}
}

func TestParentDir(t *testing.T) {
	tests := []struct{ in, want string }{
		{"/a/b/c", "/a/b"},
		{"/a", "/"},
		{"/", "/"},
		{"/a/b/", "/a"},
	}
	for _, tt := range tests {
		if got := parentDir(tt.in); got != tt.want {
			t.Errorf("parentDir(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
