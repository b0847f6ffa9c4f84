//go:build !darwin && !linux

package agentfs

import "os/exec"

// setupProcessGroup is a no-op on platforms without process-group kill
// semantics; context cancellation falls back to killing the direct child
// only.
func setupProcessGroup(cmd *exec.Cmd) {}
