//go:build darwin || linux

package agentfs

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func TestSetupProcessGroup(t *testing.T) {
	cmd := exec.Command("/bin/sh", "-c", "true")
	setupProcessGroup(cmd)

	if cmd.SysProcAttr == nil || !cmd.SysProcAttr.Setsid {
		t.Fatal("Setsid not set")
	}
	if cmd.SysProcAttr.Setpgid {
		t.Fatal("Setpgid set alongside Setsid")
	}
	if cmd.WaitDelay != processGroupWaitDelay {
		t.Fatalf("WaitDelay = %v", cmd.WaitDelay)
	}
	if cmd.Cancel == nil {
		t.Fatal("Cancel not set")
	}
	// Cancel before start must not attempt a kill.
	if err := cmd.Cancel(); !errors.Is(err, os.ErrProcessDone) {
		t.Fatalf("Cancel before start = %v", err)
	}
}

// A timed-out command must not leave grandchildren holding the output
// pipes open: the whole session is killed, so Execute returns promptly.
func TestTimeoutKillsProcessGroup(t *testing.T) {
	sb := newTestShellSandbox(t, func(cfg *Config) {
		cfg.Timeout = 200 * time.Millisecond
	})

	start := time.Now()
	res := sb.Execute(context.Background(), "sleep 30 & sleep 30")
	elapsed := time.Since(start)

	if res.ExitCode == nil || *res.ExitCode != ExitCodeTimeout {
		t.Fatalf("exit = %v, output = %q", res.ExitCode, res.Output)
	}
	if !strings.Contains(res.Output, "timed out") {
		t.Fatalf("output = %q", res.Output)
	}
	if elapsed > processGroupWaitDelay+2*time.Second {
		t.Fatalf("execute blocked for %v", elapsed)
	}
}
