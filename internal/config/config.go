// ABOUTME: Configuration loading and parsing for familiar-agent
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Bounds on the engine's timing and concurrency settings.
const (
	MinPollInterval = 10 * time.Second
	MaxPollInterval = 300 * time.Second

	MinConcurrentTasks = 1
	MaxConcurrentTasks = 10
)

// Config represents the complete familiar-agent configuration
type Config struct {
	Agent     AgentConfig     `yaml:"agent"`
	Queue     QueueConfig     `yaml:"queue"`
	Provider  ProviderConfig  `yaml:"provider"`
	Device    DeviceConfig    `yaml:"device"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Database  DatabaseConfig  `yaml:"database"`
	Status    StatusConfig    `yaml:"status"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// AgentConfig holds the engine's identity and scheduling settings
type AgentConfig struct {
	Name               string `yaml:"name"`
	MaxConcurrentTasks int    `yaml:"max_concurrent_tasks"`

	PollInterval time.Duration `yaml:"-"`
	TaskTimeout  time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	PollIntervalRaw string `yaml:"poll_interval"`
	TaskTimeoutRaw  string `yaml:"task_timeout"`
}

// QueueConfig holds the remote task queue connection settings
type QueueConfig struct {
	BaseURL string `yaml:"base_url"`
	// TokenPath points at the bearer credential file written by the
	// login flow. The agent never writes it.
	TokenPath string `yaml:"token_path"`
}

// ProviderConfig holds the capability provider (LLM API) settings
type ProviderConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`

	// Cost accounting rates in USD per million tokens. Zero disables
	// cost estimation; token counts are tracked either way.
	InputCostPerMTok  float64 `yaml:"input_cost_per_mtok"`
	OutputCostPerMTok float64 `yaml:"output_cost_per_mtok"`

	RequestTimeout time.Duration `yaml:"-"`

	RequestTimeoutRaw string `yaml:"request_timeout"`
}

// DeviceConfig holds this machine's identity and capacity limits
type DeviceConfig struct {
	Name                    string `yaml:"name"`
	RootPath                string `yaml:"root_path"`
	KeyPath                 string `yaml:"key_path"`
	MaxConcurrentWorkspaces int    `yaml:"max_concurrent_workspaces"`
	MaxDiskUsageBytes       int64  `yaml:"max_disk_usage_bytes"`

	HeartbeatInterval time.Duration `yaml:"-"`

	HeartbeatIntervalRaw string `yaml:"heartbeat_interval"`
}

// WorkspaceConfig holds workspace setup and teardown settings
type WorkspaceConfig struct {
	ArchiveDir string `yaml:"archive_dir"`

	CloneTimeout time.Duration `yaml:"-"`

	CloneTimeoutRaw string `yaml:"clone_timeout"`

	Mirror MirrorConfig `yaml:"mirror"`
}

// MirrorConfig holds optional S3-compatible archive mirroring settings
type MirrorConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// DatabaseConfig holds the local state database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// StatusConfig holds the local status server configuration
type StatusConfig struct {
	Addr      string          `yaml:"addr"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
}

// TailscaleConfig holds Tailscale tsnet configuration for the status server
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in settings the file left unset.
func (c *Config) applyDefaults() {
	if c.Agent.PollInterval == 0 {
		c.Agent.PollInterval = 60 * time.Second
	}
	if c.Agent.MaxConcurrentTasks == 0 {
		c.Agent.MaxConcurrentTasks = 2
	}
	if c.Agent.TaskTimeout == 0 {
		c.Agent.TaskTimeout = 10 * time.Minute
	}
	if c.Provider.RequestTimeout == 0 {
		c.Provider.RequestTimeout = 5 * time.Minute
	}
	if c.Provider.Model == "" {
		c.Provider.Model = "gpt-4o-mini"
	}
	if c.Device.MaxConcurrentWorkspaces == 0 {
		c.Device.MaxConcurrentWorkspaces = 3
	}
	if c.Device.MaxDiskUsageBytes == 0 {
		c.Device.MaxDiskUsageBytes = 10 << 30 // 10 GiB
	}
	if c.Device.HeartbeatInterval == 0 {
		c.Device.HeartbeatInterval = 30 * time.Second
	}
	if c.Workspace.CloneTimeout == 0 {
		c.Workspace.CloneTimeout = 5 * time.Minute
	}
	if c.Status.Addr == "" {
		c.Status.Addr = "127.0.0.1:7313"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Agent.Name == "" {
		return fmt.Errorf("agent.name is required")
	}
	if c.Agent.PollInterval < MinPollInterval || c.Agent.PollInterval > MaxPollInterval {
		return fmt.Errorf("agent.poll_interval must be between %s and %s, got %s",
			MinPollInterval, MaxPollInterval, c.Agent.PollInterval)
	}
	if c.Agent.MaxConcurrentTasks < MinConcurrentTasks || c.Agent.MaxConcurrentTasks > MaxConcurrentTasks {
		return fmt.Errorf("agent.max_concurrent_tasks must be between %d and %d, got %d",
			MinConcurrentTasks, MaxConcurrentTasks, c.Agent.MaxConcurrentTasks)
	}

	if c.Queue.BaseURL == "" {
		return fmt.Errorf("queue.base_url is required")
	}
	if c.Queue.TokenPath == "" {
		return fmt.Errorf("queue.token_path is required")
	}

	if c.Provider.BaseURL == "" {
		return fmt.Errorf("provider.base_url is required")
	}

	if c.Device.RootPath == "" {
		return fmt.Errorf("device.root_path is required")
	}
	if c.Device.MaxConcurrentWorkspaces < 1 {
		return fmt.Errorf("device.max_concurrent_workspaces must be at least 1, got %d",
			c.Device.MaxConcurrentWorkspaces)
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Status.Tailscale.Enabled && c.Status.Tailscale.Hostname == "" {
		return fmt.Errorf("status.tailscale.hostname is required when tailscale is enabled")
	}

	if c.Workspace.Mirror.Enabled {
		if c.Workspace.Mirror.Endpoint == "" {
			return fmt.Errorf("workspace.mirror.endpoint is required when mirroring is enabled")
		}
		if c.Workspace.Mirror.Bucket == "" {
			return fmt.Errorf("workspace.mirror.bucket is required when mirroring is enabled")
		}
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Agent.PollIntervalRaw != "" {
		cfg.Agent.PollInterval, err = time.ParseDuration(cfg.Agent.PollIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing poll_interval %q: %w", cfg.Agent.PollIntervalRaw, err)
		}
	}

	if cfg.Agent.TaskTimeoutRaw != "" {
		cfg.Agent.TaskTimeout, err = time.ParseDuration(cfg.Agent.TaskTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing task_timeout %q: %w", cfg.Agent.TaskTimeoutRaw, err)
		}
	}

	if cfg.Provider.RequestTimeoutRaw != "" {
		cfg.Provider.RequestTimeout, err = time.ParseDuration(cfg.Provider.RequestTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing request_timeout %q: %w", cfg.Provider.RequestTimeoutRaw, err)
		}
	}

	if cfg.Device.HeartbeatIntervalRaw != "" {
		cfg.Device.HeartbeatInterval, err = time.ParseDuration(cfg.Device.HeartbeatIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing heartbeat_interval %q: %w", cfg.Device.HeartbeatIntervalRaw, err)
		}
	}

	if cfg.Workspace.CloneTimeoutRaw != "" {
		cfg.Workspace.CloneTimeout, err = time.ParseDuration(cfg.Workspace.CloneTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing clone_timeout %q: %w", cfg.Workspace.CloneTimeoutRaw, err)
		}
	}

	return nil
}
