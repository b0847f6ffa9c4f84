package agentfs

import (
	"context"
	"strings"
	"testing"
	"time"
)

func newTestShellSandbox(t *testing.T, mutate func(*Config)) *ShellSandbox {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Root = t.TempDir()
	cfg.Timeout = 30 * time.Second
	if mutate != nil {
		mutate(cfg)
	}
	sb, err := NewShellSandbox(cfg)
	if err != nil {
		t.Fatalf("new shell sandbox: %v", err)
	}
	t.Cleanup(func() { sb.Cleanup(context.Background()) })
	return sb
}

func TestShellSandboxExecute(t *testing.T) {
	sb := newTestShellSandbox(t, nil)
	res := sb.Execute(context.Background(), "echo hello")
	if res.ExitCode == nil || *res.ExitCode != 0 {
		t.Fatalf("exit = %v, output = %q", res.ExitCode, res.Output)
	}
	if res.Output != "hello\n" {
		t.Fatalf("output = %q", res.Output)
	}
	if res.Truncated {
		t.Fatal("truncated")
	}
}

func TestShellSandboxExitCodeTrailer(t *testing.T) {
	sb := newTestShellSandbox(t, nil)
	res := sb.Execute(context.Background(), "exit 3")
	if res.ExitCode == nil || *res.ExitCode != 3 {
		t.Fatalf("exit = %v", res.ExitCode)
	}
	if !strings.Contains(res.Output, "Exit code: 3") {
		t.Fatalf("output = %q", res.Output)
	}
}

func TestShellSandboxStderrTagging(t *testing.T) {
	sb := newTestShellSandbox(t, nil)
	res := sb.Execute(context.Background(), "echo out; echo err 1>&2")
	if res.ExitCode == nil || *res.ExitCode != 0 {
		t.Fatalf("exit = %v", res.ExitCode)
	}
	if !strings.Contains(res.Output, "out\n") {
		t.Fatalf("stdout missing: %q", res.Output)
	}
	if !strings.Contains(res.Output, stderrPrefix+"err") {
		t.Fatalf("stderr untagged: %q", res.Output)
	}
}

func TestShellSandboxTimeout(t *testing.T) {
	sb := newTestShellSandbox(t, func(cfg *Config) {
		cfg.Timeout = 200 * time.Millisecond
	})

	start := time.Now()
	res := sb.Execute(context.Background(), "sleep 5")
	elapsed := time.Since(start)

	if res.ExitCode == nil || *res.ExitCode != ExitCodeTimeout {
		t.Fatalf("exit = %v, output = %q", res.ExitCode, res.Output)
	}
	if !strings.Contains(res.Output, "timed out") {
		t.Fatalf("output = %q", res.Output)
	}
	// Bounded margin: well under the sleep duration.
	if elapsed > 3*time.Second {
		t.Fatalf("timeout took %v", elapsed)
	}
}

func TestShellSandboxTruncation(t *testing.T) {
	sb := newTestShellSandbox(t, func(cfg *Config) {
		cfg.MaxOutputBytes = 50
	})
	res := sb.Execute(context.Background(), "i=0; while [ $i -lt 40 ]; do echo aaaaaaaaaa; i=$((i+1)); done")
	if res.ExitCode == nil || *res.ExitCode != 0 {
		t.Fatalf("exit = %v", res.ExitCode)
	}
	if !res.Truncated {
		t.Fatal("not marked truncated")
	}
	if !strings.HasSuffix(res.Output, truncationNote) {
		t.Fatalf("output = %q", res.Output)
	}
	if len(res.Output) > 50+len(truncationNote) {
		t.Fatalf("output length = %d", len(res.Output))
	}
}

func TestShellSandboxOutputAtLimitIsNotTruncated(t *testing.T) {
	sb := newTestShellSandbox(t, func(cfg *Config) {
		cfg.MaxOutputBytes = 6
	})
	res := sb.Execute(context.Background(), "printf abcdef")
	if res.ExitCode == nil || *res.ExitCode != 0 {
		t.Fatalf("exit = %v, output = %q", res.ExitCode, res.Output)
	}
	if res.Truncated {
		t.Fatal("marked truncated with nothing dropped")
	}
	if res.Output != "abcdef" {
		t.Fatalf("output = %q", res.Output)
	}

	// One byte over the budget is dropped and flagged.
	res = sb.Execute(context.Background(), "printf abcdefg")
	if !res.Truncated {
		t.Fatal("not marked truncated")
	}
	if res.Output != "abcdef"+truncationNote {
		t.Fatalf("output = %q", res.Output)
	}
}

func TestShellSandboxEnvironment(t *testing.T) {
	t.Run("EmptyByDefault", func(t *testing.T) {
		t.Setenv("AGENTFS_LEAK_CHECK", "leaked")
		sb := newTestShellSandbox(t, func(cfg *Config) {
			cfg.Env = []string{"FOO=bar"}
		})
		res := sb.Execute(context.Background(), `echo "FOO=$FOO LEAK=$AGENTFS_LEAK_CHECK"`)
		if !strings.Contains(res.Output, "FOO=bar LEAK=\n") {
			t.Fatalf("output = %q", res.Output)
		}
	})

	t.Run("Inherited", func(t *testing.T) {
		t.Setenv("AGENTFS_INHERIT_CHECK", "visible")
		sb := newTestShellSandbox(t, func(cfg *Config) {
			cfg.InheritEnv = true
		})
		res := sb.Execute(context.Background(), `echo "$AGENTFS_INHERIT_CHECK"`)
		if !strings.Contains(res.Output, "visible") {
			t.Fatalf("output = %q", res.Output)
		}
	})
}

func TestShellSandboxSpawnFailure(t *testing.T) {
	sb := newTestShellSandbox(t, func(cfg *Config) {
		cfg.Shell = "/definitely/not/a/shell"
	})
	res := sb.Execute(context.Background(), "echo hi")
	if res.ExitCode != nil {
		t.Fatalf("exit = %d, want nil", *res.ExitCode)
	}
	if !strings.Contains(res.Output, "failed to spawn") {
		t.Fatalf("output = %q", res.Output)
	}
}

func TestShellSandboxWorkingDirectory(t *testing.T) {
	sb := newTestShellSandbox(t, nil)
	if res := sb.Write("/marker.txt", "present"); res.Error != "" {
		t.Fatalf("write: %s", res.Error)
	}
	res := sb.Execute(context.Background(), "cat marker.txt")
	if res.Output != "present" {
		t.Fatalf("output = %q", res.Output)
	}
}

func TestShellSandboxCleanup(t *testing.T) {
	sb := newTestShellSandbox(t, nil)
	if err := sb.Cleanup(context.Background()); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	res := sb.Execute(context.Background(), "echo late")
	if !strings.Contains(res.Output, "disposed") {
		t.Fatalf("output = %q", res.Output)
	}
	// Idempotent.
	if err := sb.Cleanup(context.Background()); err != nil {
		t.Fatalf("second cleanup: %v", err)
	}
}

func TestCombineOutput(t *testing.T) {
	tests := []struct {
		name           string
		stdout, stderr string
		want           string
	}{
		{"stdout only", "out\n", "", "out\n"},
		{"stderr only", "", "err\n", "[stderr] err"},
		{"both", "out\n", "err\n", "out\n[stderr] err"},
		{"multiline stderr", "", "a\nb\n", "[stderr] a\n[stderr] b"},
		{"stdout without newline", "out", "err\n", "out\n[stderr] err"},
		{"empty", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := combineOutput(tt.stdout, tt.stderr); got != tt.want {
				t.Fatalf("combineOutput(%q, %q) = %q, want %q", tt.stdout, tt.stderr, got, tt.want)
			}
		})
	}
}

func TestLimitedWriter(t *testing.T) {
	sb := newTestShellSandbox(t, func(cfg *Config) {
		cfg.MaxOutputBytes = 10
	})
	res := sb.Execute(context.Background(), "echo 0123456789abcdef")
	if !res.Truncated {
		t.Fatal("not truncated")
	}
	if !strings.HasPrefix(res.Output, "0123456789") {
		t.Fatalf("output = %q", res.Output)
	}
}
