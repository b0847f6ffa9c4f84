package agentfs

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestMemoryBackendTimestamps(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := NewStoreWithClock(clock)
	b := NewMemoryBackend(store)

	if res := b.Write("/t.txt", "v1"); res.Error != "" {
		t.Fatalf("write: %s", res.Error)
	}
	store.mu.Lock()
	rec := store.files["/t.txt"]
	store.mu.Unlock()
	if !rec.CreatedAt().Equal(now) || !rec.ModifiedAt().Equal(now) {
		t.Fatalf("timestamps = %v / %v", rec.CreatedAt(), rec.ModifiedAt())
	}

	created := now
	now = now.Add(time.Minute)
	if res := b.Edit("/t.txt", "v1", "v2", false); res.Error != "" {
		t.Fatalf("edit: %s", res.Error)
	}
	if !rec.CreatedAt().Equal(created) {
		t.Fatalf("createdAt moved: %v", rec.CreatedAt())
	}
	if !rec.ModifiedAt().Equal(now) {
		t.Fatalf("modifiedAt = %v, want %v", rec.ModifiedAt(), now)
	}
	if rec.ModifiedAt().Before(rec.CreatedAt()) {
		t.Fatal("modifiedAt before createdAt")
	}
}

func TestMemoryBackendAllowedPrefixes(t *testing.T) {
	b := NewMemoryBackend(NewStore(), "/workspace/")

	if res := b.Write("/workspace/ok.txt", "fine"); res.Error != "" {
		t.Fatalf("write inside prefix: %s", res.Error)
	}
	res := b.Write("/etc/passwd", "nope")
	if !strings.Contains(res.Error, "allowed prefixes") {
		t.Fatalf("write outside prefix = %q", res.Error)
	}
	if got := b.Read("/outside.txt", 0, 0); !strings.Contains(got, "allowed prefixes") {
		t.Fatalf("read outside prefix = %q", got)
	}

	up := b.UploadFiles([]FileUpload{{Path: "/elsewhere/x", Content: []byte("x")}})
	if up[0].Err == nil || up[0].Err.Kind != InvalidPath {
		t.Fatalf("upload outside prefix = %+v", up[0])
	}
}

func TestMemoryBackendSharedStore(t *testing.T) {
	store := NewStore()
	a := NewMemoryBackend(store)
	b := NewMemoryBackend(store)

	if res := a.Write("/shared.txt", "from a"); res.Error != "" {
		t.Fatalf("write: %s", res.Error)
	}
	if got := b.Read("/shared.txt", 0, 0); got != "from a" {
		t.Fatalf("read via second backend = %q", got)
	}

	// Separate stores never share state.
	c := NewMemoryBackend(NewStore())
	if got := c.Read("/shared.txt", 0, 0); !strings.Contains(got, "not found") {
		t.Fatalf("read via separate store = %q", got)
	}
}

func TestMemoryBackendGlobIncludesDirectories(t *testing.T) {
	b := NewMemoryBackend(NewStore())
	for _, f := range []string{"/pkg/a/one.go", "/pkg/b/two.go", "/pkg/readme.md"} {
		if res := b.Write(f, "x"); res.Error != "" {
			t.Fatalf("write %s: %s", f, res.Error)
		}
	}

	infos, err := b.Glob("*", "/pkg/")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	var got []string
	for _, fi := range infos {
		got = append(got, fi.Path)
	}
	want := []string{"/pkg/a/", "/pkg/b/", "/pkg/readme.md"}
	if len(got) != len(want) {
		t.Fatalf("glob = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("glob = %v, want %v", got, want)
		}
	}
}

func TestMemoryBackendGrepGlobFilter(t *testing.T) {
	b := NewMemoryBackend(NewStore())
	b.Write("/s/a.go", "target here")
	b.Write("/s/a.txt", "target here too")

	matches, err := b.Grep("target", "/s/", "*.go")
	if err != nil {
		t.Fatalf("grep: %v", err)
	}
	if len(matches) != 1 || matches[0].Path != "/s/a.go" {
		t.Fatalf("matches = %+v", matches)
	}
}

func TestMemoryBackendDownloadDirectory(t *testing.T) {
	b := NewMemoryBackend(NewStore())
	b.Write("/dir/file.txt", "content")

	down := b.DownloadFiles([]string{"/dir"})
	if down[0].Err == nil || down[0].Err.Kind != IsADirectory {
		t.Fatalf("download dir = %+v", down[0])
	}
}

func TestAsSandbox(t *testing.T) {
	b := NewMemoryBackend(NewStore())
	if _, ok := AsSandbox(b); ok {
		t.Fatal("memory backend claims execution capability")
	}

	cfg := DefaultConfig()
	cfg.Root = t.TempDir()
	sb, err := NewShellSandbox(cfg)
	if err != nil {
		t.Fatalf("new shell sandbox: %v", err)
	}
	defer sb.Cleanup(context.Background())
	var backend Backend = sb
	if s, ok := AsSandbox(backend); !ok || s.ID() == "" {
		t.Fatal("shell sandbox lost execution capability")
	}
}
