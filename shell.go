package agentfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/zhangyunhao116/agentfs/internal/envutil"
)

// stderrPrefix tags every stderr line in the combined output stream.
const stderrPrefix = "[stderr] "

// truncationNote is appended when output exceeds the configured byte budget.
const truncationNote = "\n... [output truncated]"

// ShellSandbox runs commands through the host command interpreter in a
// real working directory, with the file contract served by an embedded
// LocalBackend over the same directory.
//
// No OS-level sandboxing is performed: commands run with the privileges of
// the current process. This implementation is unsafe for untrusted input
// by design; isolation, when needed, belongs to an outer layer.
type ShellSandbox struct {
	*LocalBackend

	id     string
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

var _ Sandbox = (*ShellSandbox)(nil)

// NewShellSandbox creates a sandbox from cfg. If cfg is nil, DefaultConfig
// is used; if cfg.Root is empty, a fresh temporary directory is created.
func NewShellSandbox(cfg *Config) (*ShellSandbox, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfgCopy := *cfg
	if cfgCopy.Root == "" {
		dir, err := os.MkdirTemp("", "agentfs-shell-")
		if err != nil {
			return nil, fmt.Errorf("agentfs: create sandbox root: %w", err)
		}
		cfgCopy.Root = dir
	}
	local, err := NewLocalBackend(cfgCopy.Root, cfgCopy.AllowedPrefixes...)
	if err != nil {
		return nil, err
	}
	id := cfgCopy.ID
	if id == "" {
		id = "sandbox"
	}
	return &ShellSandbox{
		LocalBackend: local,
		id:           id,
		cfg:          cfgCopy,
		logger:       cfgCopy.logger(),
	}, nil
}

// ID identifies this sandbox instance.
func (s *ShellSandbox) ID() string { return s.id }

// Execute spawns the command through the configured shell in the sandbox
// root. Non-zero exits, timeouts, and spawn failures are all reported
// inside the result; Execute never returns a Go error to its caller.
//
// Concurrent calls are fully independent: each spawns its own process with
// its own wall-clock timer, bounded only by the host OS.
func (s *ShellSandbox) Execute(ctx context.Context, command string) ExecuteResult {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ExecuteResult{
			Output:   "Error: " + ErrSandboxDisposed.Error(),
			ExitCode: intPtr(ExitCodeInvalidCommand),
		}
	}
	if strings.TrimSpace(command) == "" {
		return ExecuteResult{
			Output:   "Error: command must be a non-empty string",
			ExitCode: intPtr(ExitCodeInvalidCommand),
		}
	}

	timeout := s.cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	shell := s.cfg.Shell
	if shell == "" {
		shell = defaultShell
	}
	cmd := exec.CommandContext(ctx, shell, "-c", command)
	cmd.Dir = s.root
	cmd.Env = s.environ()

	maxOutput := s.cfg.MaxOutputBytes
	if maxOutput == 0 {
		maxOutput = defaultMaxOutputBytes
	}

	var stdout, stderr bytes.Buffer
	var stdoutWriter, stderrWriter io.Writer
	stdoutWriter = &stdout
	stderrWriter = &stderr
	var stdoutLW, stderrLW *limitedWriter
	if maxOutput > 0 {
		stdoutLW = &limitedWriter{buf: &stdout, limit: maxOutput}
		stderrLW = &limitedWriter{buf: &stderr, limit: maxOutput}
		stdoutWriter, stderrWriter = stdoutLW, stderrLW
	}
	cmd.Stdout = stdoutWriter
	cmd.Stderr = stderrWriter

	setupProcessGroup(cmd)

	runErr := cmd.Run()
	timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded)

	exitCode := 0
	if runErr != nil && !timedOut {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			// Spawn-level failure, e.g. a missing interpreter. Reported as
			// error text with no exit status, never as a Go error.
			return ExecuteResult{Output: fmt.Sprintf("Error: failed to spawn command: %v", runErr)}
		}
	}

	output := combineOutput(stdout.String(), stderr.String())
	truncated := false
	if maxOutput > 0 {
		// Truncated only when bytes were actually dropped, either by a
		// stream writer or by clipping the combined text. Output exactly
		// at the limit passes through untouched.
		dropped := stdoutLW.truncated || stderrLW.truncated
		if len(output) > maxOutput {
			output = output[:maxOutput]
			dropped = true
		}
		if dropped {
			output += truncationNote
			truncated = true
		}
	}

	if timedOut {
		exitCode = ExitCodeTimeout
		output += fmt.Sprintf("\nCommand timed out after %s", timeout)
	}
	if exitCode != 0 {
		output += fmt.Sprintf("\nExit code: %d", exitCode)
	}

	return ExecuteResult{
		Output:    strings.TrimPrefix(output, "\n"),
		ExitCode:  intPtr(exitCode),
		Truncated: truncated,
	}
}

// Cleanup marks the sandbox closed. Running commands are not waited on;
// each carries its own context-scoped timer and process group, so nothing
// outlives its Execute call.
func (s *ShellSandbox) Cleanup(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// environ builds the child environment: empty unless InheritEnv is set,
// with Env overrides merged on top either way.
func (s *ShellSandbox) environ() []string {
	env := []string{}
	if s.cfg.InheritEnv {
		env = os.Environ()
	}
	return envutil.Merge(env, s.cfg.Env)
}

// combineOutput merges captured stdout and stderr into one text stream,
// tagging every stderr line with the marker prefix so plain-text consumers
// can tell the streams apart.
func combineOutput(stdout, stderr string) string {
	if stderr == "" {
		return stdout
	}
	lines := strings.Split(strings.TrimSuffix(stderr, "\n"), "\n")
	for i, line := range lines {
		lines[i] = stderrPrefix + line
	}
	tagged := strings.Join(lines, "\n")
	if stdout == "" {
		return tagged
	}
	if !strings.HasSuffix(stdout, "\n") {
		stdout += "\n"
	}
	return stdout + tagged
}

// limitedWriter wraps a bytes.Buffer, stops writing after limit bytes, and
// remembers whether it ever discarded anything.
type limitedWriter struct {
	buf       *bytes.Buffer
	limit     int
	truncated bool
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	remaining := w.limit - w.buf.Len()
	if remaining <= 0 {
		if len(p) > 0 {
			w.truncated = true
		}
		return len(p), nil // discard but report success
	}
	if len(p) <= remaining {
		return w.buf.Write(p)
	}
	// Write only what fits, but report full length to avoid io.ErrShortWrite.
	_, err := w.buf.Write(p[:remaining])
	if err != nil {
		return 0, err
	}
	w.truncated = true
	return len(p), nil
}
