// Package agentfs provides a uniform file and execution contract for AI
// Agent sandboxes.
//
// It exposes one Backend interface over four substrates: an in-memory
// virtual filesystem, a local directory tree, a real command interpreter,
// and an RPC channel to a remote executor, plus a handle-based bridge for
// WASM-hosted guests. Every substrate yields identical observable
// behavior for path validation, error taxonomy, read windowing, and edit
// semantics, verified by the backendtest conformance suite.
//
// Key features:
//   - Virtual path validation (traversal and platform-absolute rejection)
//   - Create-only write with occurrence-counted edit
//   - Shell execution with timeout, truncation, and stderr tagging
//   - Request multiplexing over newline-delimited JSON channels
//   - Minimal external dependencies, no CGo
//
// Basic usage:
//
//	sb, err := agentfs.NewShellSandbox(agentfs.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer sb.Cleanup(context.Background())
//
//	result := sb.Execute(ctx, "ls -la /tmp")
package agentfs
