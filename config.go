package agentfs

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tailscale/hujson"
	"github.com/zhangyunhao116/agentfs/internal/pathutil"
)

// defaultMaxOutputBytes caps captured command output at 100 KB. Command
// output is consumed verbatim by a language model, so the budget is far
// smaller than a terminal user would tolerate.
const defaultMaxOutputBytes = 100 * 1024

// defaultTimeout is the wall-clock budget per Execute call.
const defaultTimeout = 2 * time.Minute

// defaultShell is the command interpreter used when Config.Shell is empty.
const defaultShell = "/bin/sh"

// Config holds the configuration shared by the sandbox implementations.
type Config struct {
	// ID identifies the sandbox instance. If empty, "sandbox" is used.
	ID string `json:"id,omitempty"`

	// Root is the real directory that backs LocalBackend and ShellSandbox
	// and serves as the working directory for executed commands.
	Root string `json:"root,omitempty"`

	// Shell is the path to the command interpreter. If empty, /bin/sh.
	Shell string `json:"shell,omitempty"`

	// InheritEnv controls whether executed commands see the host
	// environment. When false (the default) commands start from an empty
	// environment; Env entries are merged on top either way.
	InheritEnv bool `json:"inherit_env,omitempty"`

	// Env lists KEY=VALUE overrides applied to executed commands.
	Env []string `json:"env,omitempty"`

	// Timeout is the wall-clock budget per Execute call. The process group
	// is killed on overrun and the result reports ExitCodeTimeout.
	// Zero means defaultTimeout; negative is invalid.
	Timeout time.Duration `json:"-"`

	// MaxOutputBytes limits the size of captured combined output.
	// 0 means defaultMaxOutputBytes.
	MaxOutputBytes int `json:"max_output_bytes,omitempty"`

	// AllowedPrefixes restricts file operations to paths under one of the
	// listed virtual prefixes. Empty means no restriction.
	AllowedPrefixes []string `json:"allowed_prefixes,omitempty"`

	// Logger is the structured logger for operational diagnostics such as
	// unmatched RPC responses and cleanup errors. If nil, slog.Default().
	Logger *slog.Logger `json:"-"`
}

// DefaultConfig returns a Config with conservative defaults: empty
// environment, 100 KB output budget, two-minute timeout.
func DefaultConfig() *Config {
	return &Config{
		Shell:          defaultShell,
		Timeout:        defaultTimeout,
		MaxOutputBytes: defaultMaxOutputBytes,
	}
}

// Validate checks the configuration and returns a descriptive error if any
// field is invalid. The returned error wraps ErrConfigInvalid.
func (c *Config) Validate() error {
	var errs []string

	if c.Shell != "" && !filepath.IsAbs(c.Shell) {
		errs = append(errs, fmt.Sprintf("Shell: %q must be an absolute path", c.Shell))
	}
	if c.Root != "" && pathutil.ContainsNullByte(c.Root) {
		errs = append(errs, "Root: must not contain null bytes")
	}
	if c.MaxOutputBytes < 0 {
		errs = append(errs, "MaxOutputBytes: must be >= 0")
	}
	if c.Timeout < 0 {
		errs = append(errs, "Timeout: must be >= 0")
	}
	for i, kv := range c.Env {
		if !strings.Contains(kv, "=") {
			errs = append(errs, fmt.Sprintf("Env[%d]: %q must be in KEY=VALUE form", i, kv))
		}
	}
	for i, p := range c.AllowedPrefixes {
		if _, err := pathutil.ValidateFilePath(strings.TrimSuffix(p, "/"), nil); err != nil {
			errs = append(errs, fmt.Sprintf("AllowedPrefixes[%d]: %v", i, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrConfigInvalid, strings.Join(errs, "; "))
	}
	return nil
}

// logger returns the configured logger or slog.Default().
func (c *Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// configFile is the on-disk (HuJSON) shape of Config. Timeout is a
// duration string ("90s", "2m") rather than nanoseconds.
type configFile struct {
	Config
	Timeout string `json:"timeout,omitempty"`
}

// LoadConfig reads a HuJSON (JSON with comments and trailing commas)
// configuration file. Fields not present keep their DefaultConfig values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("agentfs: read config: %w", err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid HuJSON: %v", ErrConfigInvalid, err)
	}

	file := configFile{Config: *DefaultConfig()}
	if err := json.Unmarshal(standardized, &file); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", ErrConfigInvalid, err)
	}

	cfg := file.Config
	if file.Timeout != "" {
		d, err := time.ParseDuration(file.Timeout)
		if err != nil {
			return nil, fmt.Errorf("%w: timeout: %v", ErrConfigInvalid, err)
		}
		cfg.Timeout = d
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
