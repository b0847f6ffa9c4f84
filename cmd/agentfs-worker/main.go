// Command agentfs-worker is the remote executor half of an RPC sandbox.
//
// It speaks newline-delimited JSON on stdin/stdout: after an initial
// {"type":"hello"} handshake it accepts exec_request messages, runs each
// command through a shell sandbox rooted at --root, and replies with
// exec_response messages. Diagnostics go to stderr so they never corrupt
// the message stream.
//
// Usage:
//
//	agentfs-worker --root /tmp/work --timeout 2m
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/zhangyunhao116/agentfs"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "agentfs-worker:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		id             = pflag.String("id", "worker", "sandbox identity reported in the handshake")
		root           = pflag.String("root", "", "working directory for commands (default: a fresh temp dir)")
		shell          = pflag.String("shell", "/bin/sh", "command interpreter")
		timeout        = pflag.Duration("timeout", 2*time.Minute, "per-command wall-clock timeout")
		maxOutputBytes = pflag.Int("max-output-bytes", 100*1024, "combined output budget per command")
		inheritEnv     = pflag.Bool("inherit-env", false, "pass the worker's own environment to commands")
		configPath     = pflag.String("config", "", "optional HuJSON config file; flags override it")
		verbose        = pflag.BoolP("verbose", "v", false, "debug logging on stderr")
	)
	pflag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg := agentfs.DefaultConfig()
	if *configPath != "" {
		loaded, err := agentfs.LoadConfig(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	cfg.ID = *id
	cfg.Logger = logger
	if flagChanged("root") || cfg.Root == "" {
		cfg.Root = *root
	}
	if flagChanged("shell") || cfg.Shell == "" {
		cfg.Shell = *shell
	}
	if flagChanged("timeout") || cfg.Timeout == 0 {
		cfg.Timeout = *timeout
	}
	if flagChanged("max-output-bytes") || cfg.MaxOutputBytes == 0 {
		cfg.MaxOutputBytes = *maxOutputBytes
	}
	if flagChanged("inherit-env") {
		cfg.InheritEnv = *inheritEnv
	}

	sb, err := agentfs.NewShellSandbox(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer func() {
		if cerr := sb.Cleanup(context.Background()); cerr != nil {
			logger.Warn("cleanup failed", "err", cerr)
		}
	}()

	logger.Info("worker ready", "id", cfg.ID, "root", cfg.Root, "shell", cfg.Shell)
	return agentfs.ServeWorker(ctx, sb, os.Stdin, os.Stdout)
}

func flagChanged(name string) bool {
	f := pflag.Lookup(name)
	return f != nil && f.Changed
}
