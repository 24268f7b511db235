package control

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// SyncConfig tunes the background sync queue.
type SyncConfig struct {
	MaxConcurrency      int
	EnableDeduplication bool
}

// WorkspaceConfig tunes push scheduling and hook templating.
type WorkspaceConfig struct {
	MaxConcurrentGitOperations int

	// PushWaitDependencyTimeoutMinutesPerDependency scales the per-level
	// registry wait budget.
	PushWaitDependencyTimeoutMinutesPerDependency float64

	PostCommitHookBaseURL string
	PostCommitHookPort    int
}

// Config is the control service runtime configuration.
type Config struct {
	// ListenAddr is the single control listener (API, RPC hub, metrics).
	ListenAddr string

	// StorePath is the bbolt database file. Empty runs on an in-memory
	// store, which does not survive restarts.
	StorePath string

	// SecretFile holds the shared secret agents sign channel tokens with.
	// Empty disables channel auth.
	SecretFile string

	Sync      SyncConfig
	Workspace WorkspaceConfig
}

// LoadConfig parses flags and environment variables; flags win.
func LoadConfig(args []string) (*Config, error) {
	cfg := &Config{}

	fs := pflag.NewFlagSet("graymoon-control", pflag.ContinueOnError)
	fs.StringVar(&cfg.ListenAddr, "listen", envString("LISTEN_ADDR", ":8080"), "control listen address")
	fs.StringVar(&cfg.StorePath, "store", envString("STORE_PATH", ""), "bbolt database path (empty for in-memory)")
	fs.StringVar(&cfg.SecretFile, "secret-file", envString("SECRET_FILE", ""), "shared agent channel secret file")
	fs.IntVar(&cfg.Sync.MaxConcurrency, "sync-max-concurrency",
		envInt("SYNC_MAX_CONCURRENCY", 8), "sync queue worker count")
	fs.BoolVar(&cfg.Sync.EnableDeduplication, "sync-deduplication",
		envBool("SYNC_ENABLE_DEDUPLICATION", true), "drop duplicate sync requests")
	fs.IntVar(&cfg.Workspace.MaxConcurrentGitOperations, "max-concurrent-git-operations",
		envInt("WORKSPACE_MAX_CONCURRENT_GIT_OPERATIONS", 8), "push batch parallelism")
	fs.Float64Var(&cfg.Workspace.PushWaitDependencyTimeoutMinutesPerDependency, "push-wait-timeout-minutes-per-dependency",
		envFloat("WORKSPACE_PUSH_WAIT_TIMEOUT_MINUTES_PER_DEPENDENCY", 1.0), "registry wait budget per required package")
	fs.StringVar(&cfg.Workspace.PostCommitHookBaseURL, "hook-base-url",
		envString("WORKSPACE_POST_COMMIT_HOOK_BASE_URL", "http://127.0.0.1"), "base URL templated into hook scripts")
	fs.IntVar(&cfg.Workspace.PostCommitHookPort, "hook-port",
		envInt("WORKSPACE_POST_COMMIT_HOOK_PORT", 9191), "agent hook listener port templated into hook scripts")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.Sync.MaxConcurrency < 1 {
		return nil, fmt.Errorf("sync-max-concurrency must be positive")
	}
	if cfg.Workspace.MaxConcurrentGitOperations < 1 {
		return nil, fmt.Errorf("max-concurrent-git-operations must be positive")
	}
	if cfg.Workspace.PushWaitDependencyTimeoutMinutesPerDependency <= 0 {
		return nil, fmt.Errorf("push-wait-timeout-minutes-per-dependency must be positive")
	}
	return cfg, nil
}

// TimeoutPerDependency converts the configured minutes to a duration.
func (c *Config) TimeoutPerDependency() time.Duration {
	return time.Duration(c.Workspace.PushWaitDependencyTimeoutMinutesPerDependency * float64(time.Minute))
}

// Secret reads the shared channel secret from the configured file.
func (c *Config) Secret() string {
	if c.SecretFile == "" {
		return ""
	}
	data, err := os.ReadFile(c.SecretFile)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func envString(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func envInt(name string, fallback int) int {
	if s := os.Getenv(name); s != "" {
		if v, err := strconv.Atoi(s); err == nil {
			return v
		}
	}
	return fallback
}

func envFloat(name string, fallback float64) float64 {
	if s := os.Getenv(name); s != "" {
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return v
		}
	}
	return fallback
}

func envBool(name string, fallback bool) bool {
	if s := os.Getenv(name); s != "" {
		if v, err := strconv.ParseBool(s); err == nil {
			return v
		}
	}
	return fallback
}
