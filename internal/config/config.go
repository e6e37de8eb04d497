// ABOUTME: Configuration loading and parsing for helpdesk-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend modes, in selection priority order.
const (
	ModeOrchestrator = "orchestrator" // synchronous HTTP
	ModeMCP          = "mcp"          // synchronous MCP tool call
	ModeWebhook      = "webhook"      // asynchronous fire-and-callback
)

// Config represents the complete helpdesk-gateway configuration
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Matrix    MatrixConfig    `yaml:"matrix"`
	Backend   BackendConfig   `yaml:"backend"`
	Retention RetentionConfig `yaml:"retention"`
	Messages  MessagesConfig  `yaml:"messages"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// DatabaseConfig holds database paths
type DatabaseConfig struct {
	Path string `yaml:"path"`
	// RequestsPath is the ticket database; defaults to requests.db next to Path.
	RequestsPath string `yaml:"requests_path"`
}

// MatrixConfig holds the Matrix connection and channel topology
type MatrixConfig struct {
	Homeserver  string `yaml:"homeserver"`
	UserID      string `yaml:"user_id"`
	AccessToken string `yaml:"access_token"`
	// AllowedChannels restricts the support flow; empty allows every channel.
	AllowedChannels []string `yaml:"allowed_channels"`
	// ReplyChannel receives asynchronous backend replies.
	ReplyChannel string `yaml:"reply_channel"`
	// SupportChannel receives escalation notices.
	SupportChannel string `yaml:"support_channel"`
	// BotUsers are peer accounts (e.g. the workflow relay) whose messages
	// count as bot-authored.
	BotUsers []string `yaml:"bot_users"`
}

// BackendConfig selects and tunes the answer backend
type BackendConfig struct {
	OrchestratorURL string `yaml:"orchestrator_url"`
	MCPURL          string `yaml:"mcp_url"`
	WebhookURL      string `yaml:"webhook_url"`
	ModerationURL   string `yaml:"moderation_url"`

	SyncTimeout    time.Duration `yaml:"-"`
	WebhookTimeout time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	SyncTimeoutRaw    string `yaml:"sync_timeout"`
	WebhookTimeoutRaw string `yaml:"webhook_timeout"`

	// HistoryExchanges caps the conversation pairs sent with a query.
	HistoryExchanges int `yaml:"history_exchanges"`
}

// Mode returns the active backend strategy. Synchronous strategies win when
// several endpoints are configured.
func (b *BackendConfig) Mode() string {
	switch {
	case b.OrchestratorURL != "":
		return ModeOrchestrator
	case b.MCPURL != "":
		return ModeMCP
	case b.WebhookURL != "":
		return ModeWebhook
	}
	return ""
}

// Deferred reports whether the active strategy answers out of band.
func (b *BackendConfig) Deferred() bool {
	return b.Mode() == ModeWebhook
}

// RetentionConfig holds the record retention sweep configuration
type RetentionConfig struct {
	SweepInterval time.Duration `yaml:"-"`

	SweepIntervalRaw string `yaml:"sweep_interval"`

	Days int `yaml:"days"`
	// Statuses the sweep considers; "ALL" matches everything.
	Statuses []string `yaml:"statuses"`
}

// MessagesConfig points at an optional message-catalog override file
type MessagesConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
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

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Database.RequestsPath == "" && c.Database.Path != "" {
		c.Database.RequestsPath = filepath.Join(filepath.Dir(c.Database.Path), "requests.db")
	}
	if c.Retention.Days == 0 {
		c.Retention.Days = 30
	}
	if len(c.Retention.Statuses) == 0 {
		c.Retention.Statuses = []string{"closed"}
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Matrix.Homeserver == "" {
		return fmt.Errorf("matrix.homeserver is required")
	}
	if c.Matrix.UserID == "" {
		return fmt.Errorf("matrix.user_id is required")
	}
	if c.Matrix.AccessToken == "" {
		return fmt.Errorf("matrix.access_token is required")
	}

	if c.Backend.Mode() == "" {
		return fmt.Errorf("backend requires one of orchestrator_url, mcp_url or webhook_url")
	}
	if c.Backend.Mode() == ModeWebhook && c.Matrix.ReplyChannel == "" {
		return fmt.Errorf("matrix.reply_channel is required with the webhook backend")
	}

	if c.Retention.Days < 0 {
		return fmt.Errorf("retention.days must not be negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Backend.SyncTimeoutRaw != "" {
		cfg.Backend.SyncTimeout, err = time.ParseDuration(cfg.Backend.SyncTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing sync_timeout %q: %w", cfg.Backend.SyncTimeoutRaw, err)
		}
	}

	if cfg.Backend.WebhookTimeoutRaw != "" {
		cfg.Backend.WebhookTimeout, err = time.ParseDuration(cfg.Backend.WebhookTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing webhook_timeout %q: %w", cfg.Backend.WebhookTimeoutRaw, err)
		}
	}

	if cfg.Retention.SweepIntervalRaw != "" {
		cfg.Retention.SweepInterval, err = time.ParseDuration(cfg.Retention.SweepIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing sweep_interval %q: %w", cfg.Retention.SweepIntervalRaw, err)
		}
	}

	return nil
}
