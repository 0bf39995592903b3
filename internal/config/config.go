package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config root configuration
type Config struct {
	Log          LogConfig          `mapstructure:"log" json:"log"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator" json:"orchestrator"`
	Selection    SelectionConfig    `mapstructure:"selection" json:"selection"`
	State        StateConfig        `mapstructure:"state" json:"state"`
}

// LogConfig application logging settings
type LogConfig struct {
	Level string `mapstructure:"level" json:"level"`
	File  string `mapstructure:"file" json:"file"`
}

// ServerConfig one tool server
type ServerConfig struct {
	URL     string            `mapstructure:"url" json:"url"`
	Name    string            `mapstructure:"name" json:"name,omitempty"`
	Enabled *bool             `mapstructure:"enabled" json:"enabled,omitempty"`
	Headers map[string]string `mapstructure:"headers" json:"headers,omitempty"`
}

// OrchestratorConfig discovery, health and execution settings.
type OrchestratorConfig struct {
	Servers    []ServerConfig `mapstructure:"servers" json:"servers"`
	ServerURLs []string       `mapstructure:"server_urls" json:"server_urls,omitempty"`

	DiscoveryTimeout      int `mapstructure:"discovery_timeout" json:"discovery_timeout"`         // seconds
	ExecutionTimeout      int `mapstructure:"execution_timeout" json:"execution_timeout"`         // seconds
	HealthCheckInterval   int `mapstructure:"health_check_interval" json:"health_check_interval"` // seconds
	ProbeTimeout          int `mapstructure:"probe_timeout" json:"probe_timeout"`                 // seconds
	CacheTTL              int `mapstructure:"cache_ttl" json:"cache_ttl"`                         // seconds
	RetryBackoffMs        int `mapstructure:"retry_backoff_ms" json:"retry_backoff_ms"`           // milliseconds
	FailureThreshold      int `mapstructure:"failure_threshold" json:"failure_threshold"`
	DiscoveryFailureLimit int `mapstructure:"discovery_failure_limit" json:"discovery_failure_limit"`
	MaxRetries            int `mapstructure:"max_retries" json:"max_retries"`
	ParallelLimit         int `mapstructure:"parallel_limit" json:"parallel_limit"`
}

// SelectionConfig tool selection settings
type SelectionConfig struct {
	Intelligent   bool    `mapstructure:"intelligent" json:"intelligent"`
	MaxTools      int     `mapstructure:"max_tools" json:"max_tools"`
	MinConfidence float64 `mapstructure:"min_confidence" json:"min_confidence"`
}

// StateConfig local state (usage db, stats snapshot, audit log)
type StateConfig struct {
	Dir string `mapstructure:"dir" json:"dir"`
}

// DefaultConfig returns config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level: "info",
			File:  "",
		},
		Orchestrator: OrchestratorConfig{
			Servers: []ServerConfig{
				{URL: "http://localhost:8001", Name: "server_0"},
				{URL: "http://localhost:8002", Name: "server_1"},
			},
			DiscoveryTimeout:      5,
			ExecutionTimeout:      15,
			HealthCheckInterval:   30,
			ProbeTimeout:          3,
			CacheTTL:              300,
			RetryBackoffMs:        500,
			FailureThreshold:      1,
			DiscoveryFailureLimit: 3,
			MaxRetries:            3,
			ParallelLimit:         10,
		},
		Selection: SelectionConfig{
			Intelligent:   true,
			MaxTools:      3,
			MinConfidence: 0.1,
		},
		State: StateConfig{
			Dir: filepath.Join(ConfigDir(), "state"),
		},
	}
}

// ConfigDir returns the orchestra config directory
func ConfigDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		slog.Warn("failed to resolve home directory, using current directory as fallback", "error", err)
		homeDir = "."
	}
	return filepath.Join(homeDir, ".orchestra")
}

// ConfigPath returns the config file path
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

// Load loads config from file or returns defaults
func Load() (*Config, error) {
	return LoadFrom(ConfigPath())
}

// LoadFrom loads config from the given path. A missing file is created with defaults.
func LoadFrom(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := SaveTo(configPath, cfg); err != nil {
			return cfg, fmt.Errorf("failed to create default config: %w", err)
		}
		return cfg, cfg.Validate()
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")
	v.SetEnvPrefix("ORCHESTRA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvKeys(v)

	if err := v.ReadInConfig(); err != nil {
		return cfg, err
	}

	// Configured servers replace the defaults instead of merging into them.
	if v.IsSet("orchestrator.servers") {
		cfg.Orchestrator.Servers = nil
	}

	if err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.MatchName = func(mapKey, fieldName string) bool {
			return normalizeKey(mapKey) == normalizeKey(fieldName)
		}
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToTimeDurationHookFunc(),
		)
	}); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// AutomaticEnv only applies to keys viper already knows about.
func bindEnvKeys(v *viper.Viper) {
	keys := []string{
		"log.level",
		"log.file",
		"orchestrator.server_urls",
		"orchestrator.discovery_timeout",
		"orchestrator.execution_timeout",
		"orchestrator.health_check_interval",
		"orchestrator.probe_timeout",
		"orchestrator.cache_ttl",
		"orchestrator.retry_backoff_ms",
		"orchestrator.failure_threshold",
		"orchestrator.discovery_failure_limit",
		"orchestrator.max_retries",
		"orchestrator.parallel_limit",
		"selection.intelligent",
		"selection.max_tools",
		"selection.min_confidence",
		"state.dir",
	}
	for _, key := range keys {
		_ = v.BindEnv(key)
	}
}

func normalizeKey(input string) string {
	input = strings.ReplaceAll(input, "_", "")
	input = strings.ReplaceAll(input, "-", "")
	return strings.ToLower(input)
}

// Save saves config to file
func Save(cfg *Config) error {
	return SaveTo(ConfigPath(), cfg)
}

// SaveTo saves config to the given path
func SaveTo(configPath string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0600)
}

// Validate checks that the configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	o := &c.Orchestrator

	if len(c.EnabledServers()) == 0 {
		return fmt.Errorf("orchestrator.servers: no tool servers configured")
	}
	for i, server := range o.Servers {
		if strings.TrimSpace(server.URL) == "" {
			return fmt.Errorf("orchestrator.servers[%d].url must be non-empty", i)
		}
	}

	if err := defaultPositive(&o.DiscoveryTimeout, 5, "orchestrator.discovery_timeout"); err != nil {
		return err
	}
	if err := defaultPositive(&o.ExecutionTimeout, 15, "orchestrator.execution_timeout"); err != nil {
		return err
	}
	if err := defaultPositive(&o.HealthCheckInterval, 30, "orchestrator.health_check_interval"); err != nil {
		return err
	}
	if o.HealthCheckInterval < 5 {
		o.HealthCheckInterval = 5
	}
	if err := defaultPositive(&o.ProbeTimeout, 3, "orchestrator.probe_timeout"); err != nil {
		return err
	}
	if err := defaultPositive(&o.RetryBackoffMs, 500, "orchestrator.retry_backoff_ms"); err != nil {
		return err
	}
	if err := defaultPositive(&o.FailureThreshold, 1, "orchestrator.failure_threshold"); err != nil {
		return err
	}
	if err := defaultPositive(&o.DiscoveryFailureLimit, 3, "orchestrator.discovery_failure_limit"); err != nil {
		return err
	}
	if err := defaultPositive(&o.ParallelLimit, 10, "orchestrator.parallel_limit"); err != nil {
		return err
	}

	if o.CacheTTL < 0 {
		return fmt.Errorf("orchestrator.cache_ttl must not be negative, got %d", o.CacheTTL)
	}
	if o.MaxRetries < 0 {
		return fmt.Errorf("orchestrator.max_retries must not be negative, got %d", o.MaxRetries)
	}

	s := &c.Selection
	if err := defaultPositive(&s.MaxTools, 3, "selection.max_tools"); err != nil {
		return err
	}
	if s.MinConfidence < 0 || s.MinConfidence > 1 {
		return fmt.Errorf("selection.min_confidence must be between 0 and 1, got %f", s.MinConfidence)
	}

	level := strings.ToLower(strings.TrimSpace(c.Log.Level))
	if level == "" {
		c.Log.Level = "info"
	} else {
		validLevels := map[string]bool{
			"debug": true,
			"info":  true,
			"warn":  true,
			"error": true,
		}
		if !validLevels[level] {
			return fmt.Errorf("log.level must be one of debug, info, warn, error; got %q", c.Log.Level)
		}
		c.Log.Level = level
	}

	if strings.TrimSpace(c.State.Dir) == "" {
		c.State.Dir = filepath.Join(ConfigDir(), "state")
	}

	return nil
}

func defaultPositive(value *int, fallback int, key string) error {
	if *value < 0 {
		return fmt.Errorf("%s must not be negative, got %d", key, *value)
	}
	if *value == 0 {
		*value = fallback
	}
	return nil
}

// IsServerEnabled treats a missing enabled flag as enabled.
func IsServerEnabled(server ServerConfig) bool {
	return server.Enabled == nil || *server.Enabled
}

// EnabledServers merges servers and server_urls, drops disabled entries and
// de-duplicates by normalized URL keeping the first occurrence.
func (c *Config) EnabledServers() []ServerConfig {
	all := make([]ServerConfig, 0, len(c.Orchestrator.Servers)+len(c.Orchestrator.ServerURLs))
	all = append(all, c.Orchestrator.Servers...)
	for _, raw := range c.Orchestrator.ServerURLs {
		all = append(all, ServerConfig{URL: raw})
	}

	seen := make(map[string]struct{}, len(all))
	out := make([]ServerConfig, 0, len(all))
	for _, server := range all {
		if !IsServerEnabled(server) {
			continue
		}
		url := NormalizeURL(server.URL)
		if url == "" {
			continue
		}
		if _, ok := seen[url]; ok {
			continue
		}
		seen[url] = struct{}{}
		server.URL = url
		if strings.TrimSpace(server.Name) == "" {
			server.Name = fmt.Sprintf("server_%d", len(out))
		}
		out = append(out, server)
	}
	return out
}

// ServerURLList returns the enabled server URLs sorted for stable display.
func (c *Config) ServerURLList() []string {
	servers := c.EnabledServers()
	urls := make([]string, 0, len(servers))
	for _, server := range servers {
		urls = append(urls, server.URL)
	}
	sort.Strings(urls)
	return urls
}

// NormalizeURL trims whitespace and trailing slashes.
func NormalizeURL(raw string) string {
	return strings.TrimRight(strings.TrimSpace(raw), "/")
}

// DiscoveryTimeoutDuration returns the per-server discovery timeout.
func (o OrchestratorConfig) DiscoveryTimeoutDuration() time.Duration {
	return time.Duration(o.DiscoveryTimeout) * time.Second
}

// ExecutionTimeoutDuration returns the per-attempt execution timeout.
func (o OrchestratorConfig) ExecutionTimeoutDuration() time.Duration {
	return time.Duration(o.ExecutionTimeout) * time.Second
}

// HealthCheckIntervalDuration returns the health probe cycle length.
func (o OrchestratorConfig) HealthCheckIntervalDuration() time.Duration {
	return time.Duration(o.HealthCheckInterval) * time.Second
}

// ProbeTimeoutDuration returns the per-probe timeout.
func (o OrchestratorConfig) ProbeTimeoutDuration() time.Duration {
	return time.Duration(o.ProbeTimeout) * time.Second
}

// CacheTTLDuration returns the discovery cache TTL.
func (o OrchestratorConfig) CacheTTLDuration() time.Duration {
	return time.Duration(o.CacheTTL) * time.Second
}

// RetryBackoffDuration returns the base retry backoff.
func (o OrchestratorConfig) RetryBackoffDuration() time.Duration {
	return time.Duration(o.RetryBackoffMs) * time.Millisecond
}

// UsageDBPath returns the sqlite usage store path.
func (c *Config) UsageDBPath() string {
	return filepath.Join(c.State.Dir, "usage.db")
}
