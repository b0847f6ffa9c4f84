package envutil

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestGet(t *testing.T) {
	env := []string{"PATH=/usr/bin", "HOME=/home/u", "EMPTY="}

	if v, ok := Get(env, "HOME"); !ok || v != "/home/u" {
		t.Fatalf("Get(HOME) = %q, %v", v, ok)
	}
	if v, ok := Get(env, "EMPTY"); !ok || v != "" {
		t.Fatalf("Get(EMPTY) = %q, %v", v, ok)
	}
	if _, ok := Get(env, "MISSING"); ok {
		t.Fatal("Get(MISSING) found")
	}
	// Key prefixes must not match: HOME is not HOMEBREW.
	if _, ok := Get(env, "HO"); ok {
		t.Fatal("Get(HO) matched a longer key")
	}
}

func TestMerge(t *testing.T) {
	tests := []struct {
		name             string
		base, overrides  []string
		want             []string
	}{
		{
			name: "override replaces in place",
			base: []string{"A=1", "B=2", "C=3"}, overrides: []string{"B=20"},
			want: []string{"A=1", "B=20", "C=3"},
		},
		{
			name: "new keys appended in order",
			base: []string{"A=1"}, overrides: []string{"C=3", "B=2"},
			want: []string{"A=1", "C=3", "B=2"},
		},
		{
			name: "empty base",
			base: nil, overrides: []string{"A=1"},
			want: []string{"A=1"},
		},
		{
			name: "empty overrides",
			base: []string{"A=1"}, overrides: nil,
			want: []string{"A=1"},
		},
		{
			name: "last override wins for duplicate keys",
			base: []string{"A=1"}, overrides: []string{"A=2", "A=3"},
			want: []string{"A=3"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Merge(tt.base, tt.overrides)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("Merge mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMergeDoesNotModifyInputs(t *testing.T) {
	base := []string{"A=1", "B=2"}
	overrides := []string{"A=10"}
	_ = Merge(base, overrides)
	if base[0] != "A=1" || overrides[0] != "A=10" {
		t.Fatalf("inputs modified: base=%v overrides=%v", base, overrides)
	}
}
