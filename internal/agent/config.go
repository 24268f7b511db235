package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// Config holds the agent runtime configuration loaded from env vars and
// mounted files.
type Config struct {
	// AppHubURL is the control service RPC endpoint (ws:// or wss://).
	AppHubURL string

	// ListenPort is the loopback hook listener port.
	ListenPort int

	// MetricsPort serves /metrics; 0 disables.
	MetricsPort int

	// MaxConcurrentCommands sizes the worker pool.
	MaxConcurrentCommands int

	// WorkspacesRoot is the directory workspaces live under when the
	// control service does not supply an explicit root.
	WorkspacesRoot string

	// SecretFile holds the shared secret for signing channel tokens.
	SecretFile string

	// Git credential files; the per-request connector token wins over these.
	GitTokenFile      string
	GitSSHKeyFile     string
	GitKnownHostsFile string
}

// LoadConfig reads agent configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppHubURL:         os.Getenv("APP_HUB_URL"),
		WorkspacesRoot:    os.Getenv("WORKSPACES_ROOT"),
		SecretFile:        os.Getenv("AGENT_SECRET_FILE"),
		GitTokenFile:      os.Getenv("GIT_TOKEN_FILE"),
		GitSSHKeyFile:     os.Getenv("GIT_SSH_KEY_FILE"),
		GitKnownHostsFile: os.Getenv("GIT_KNOWN_HOSTS_FILE"),
	}

	// Defaults
	if cfg.AppHubURL == "" {
		cfg.AppHubURL = "ws://127.0.0.1:8080/rpc/agent"
	}
	if cfg.WorkspacesRoot == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving home dir for workspaces root: %w", err)
		}
		cfg.WorkspacesRoot = filepath.Join(home, "graymoon")
	}

	cfg.ListenPort = intEnv("LISTEN_PORT", 9191)
	cfg.MetricsPort = intEnv("METRICS_PORT", 9192)
	cfg.MaxConcurrentCommands = intEnv("MAX_CONCURRENT_COMMANDS", defaultWorkers())

	if cfg.MaxConcurrentCommands < 1 {
		return nil, fmt.Errorf("MAX_CONCURRENT_COMMANDS must be positive")
	}
	if cfg.ListenPort < 1 || cfg.ListenPort > 65535 {
		return nil, fmt.Errorf("LISTEN_PORT out of range: %d", cfg.ListenPort)
	}

	return cfg, nil
}

// defaultWorkers is twice the CPU count, floored at 8.
func defaultWorkers() int {
	n := 2 * runtime.NumCPU()
	if n < 8 {
		n = 8
	}
	return n
}

func intEnv(name string, fallback int) int {
	if s := os.Getenv(name); s != "" {
		if v, err := strconv.Atoi(s); err == nil {
			return v
		}
	}
	return fallback
}

// Secret reads the shared channel secret from the mounted file.
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
