package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig        `mapstructure:"server"`
	Sandbox   SandboxConfig       `mapstructure:"sandbox"`
	Python    PythonConfig        `mapstructure:"python"`
	Store     StoreConfig         `mapstructure:"store"`
	Catalog   CatalogConfig       `mapstructure:"catalog"`
	Metrics   MetricsConfig       `mapstructure:"metrics"`
	Logging   LoggingConfig       `mapstructure:"logging"`
	Languages map[string]Language `mapstructure:"languages"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Transport string `mapstructure:"transport"`
	HTTPPort  int    `mapstructure:"http_port"`
}

// SandboxConfig holds sandbox configuration
type SandboxConfig struct {
	Isolation       string `mapstructure:"isolation"`
	TimeoutSec      int    `mapstructure:"timeout_sec"`
	LoadTimeoutSec  int    `mapstructure:"load_timeout_sec"`
	TeardownGraceMS int    `mapstructure:"teardown_grace_ms"`
	MaxCallStack    int    `mapstructure:"max_call_stack"`
	MemoryMB        int    `mapstructure:"memory_mb"`
	NetworkEnabled  bool   `mapstructure:"network_enabled"`

	// MaxTranscriptBytes caps the output text kept for a single run.
	MaxTranscriptBytes int `mapstructure:"max_transcript_bytes"`

	// EnableLocalIsolation allows isolation "local", which runs node on the
	// host without any isolation. Development only.
	EnableLocalIsolation bool `mapstructure:"enable_local_isolation"`
}

// PythonConfig holds settings of the WebAssembly Python interpreter
type PythonConfig struct {
	BundleURL    string `mapstructure:"bundle_url"`
	BundleSHA256 string `mapstructure:"bundle_sha256"`
	CacheDir     string `mapstructure:"cache_dir"`
	StdlibDir    string `mapstructure:"stdlib_dir"`
	StdlibMount  string `mapstructure:"stdlib_mount"`
}

// StoreConfig holds code store configuration
type StoreConfig struct {
	Path       string `mapstructure:"path"`
	InMemory   bool   `mapstructure:"in_memory"`
	SyncWrites bool   `mapstructure:"sync_writes"`
}

// CatalogConfig points at the problem catalog file
type CatalogConfig struct {
	Path string `mapstructure:"path"`
}

// MetricsConfig holds Prometheus endpoint configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// Language holds container settings of a language
type Language struct {
	Image       string            `mapstructure:"image"`
	Environment map[string]string `mapstructure:"environment"`
}

// Isolation modes of the JavaScript sandbox
const (
	IsolationInProcess = "inprocess"
	IsolationDocker    = "docker"
	IsolationPodman    = "podman"
	IsolationLocal     = "local"
)

// New loads and validates the application configuration
func New() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("playground")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	return fromViper(v)
}

// Load reads configuration from an explicit file path
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	return fromViper(v)
}

// SetDefaults registers the default value of every key
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.transport", "stdio")
	v.SetDefault("server.http_port", 8080)

	v.SetDefault("sandbox.isolation", IsolationInProcess)
	v.SetDefault("sandbox.timeout_sec", 10)
	v.SetDefault("sandbox.load_timeout_sec", 120)
	v.SetDefault("sandbox.teardown_grace_ms", 2000)
	v.SetDefault("sandbox.max_call_stack", 10000)
	v.SetDefault("sandbox.max_transcript_bytes", 1<<20)
	v.SetDefault("sandbox.memory_mb", 256)
	v.SetDefault("sandbox.network_enabled", false)
	v.SetDefault("sandbox.enable_local_isolation", false)

	v.SetDefault("python.bundle_url", "https://github.com/vmware-labs/webassembly-language-runtimes/releases/download/python%2F3.12.0%2B20231211-040d5a6/python-3.12.0.wasm")
	v.SetDefault("python.bundle_sha256", "")
	v.SetDefault("python.cache_dir", "./data/runtimes")
	v.SetDefault("python.stdlib_dir", "")
	v.SetDefault("python.stdlib_mount", "/usr/local/lib")

	v.SetDefault("store.path", "./data/codestore")
	v.SetDefault("store.in_memory", false)
	v.SetDefault("store.sync_writes", false)

	v.SetDefault("catalog.path", "")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.port", 9090)

	v.SetDefault("logging.mode", "production")
	v.SetDefault("logging.level", "info")

	v.SetDefault("languages.javascript.image", "node:20-alpine")
}

func fromViper(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Validate configuration
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

// validate ensures the configuration is valid
//
//nolint:gocyclo // Flat list of independent checks
func (c *Config) validate() error {
	if c.Server.Transport != "stdio" && c.Server.Transport != "http" {
		return fmt.Errorf("invalid server.transport: %s, must be 'stdio' or 'http'", c.Server.Transport)
	}

	if c.Server.Transport == "http" && (c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535) {
		return fmt.Errorf("invalid server.http_port: %d", c.Server.HTTPPort)
	}

	switch c.Sandbox.Isolation {
	case IsolationInProcess, IsolationDocker, IsolationPodman:
	case IsolationLocal:
		if !c.Sandbox.EnableLocalIsolation {
			return fmt.Errorf("sandbox.isolation 'local' requires sandbox.enable_local_isolation")
		}
	default:
		return fmt.Errorf("unsupported sandbox.isolation: %s, must be 'inprocess', 'docker' or 'podman'", c.Sandbox.Isolation)
	}

	if c.Sandbox.TimeoutSec <= 0 {
		return fmt.Errorf("sandbox.timeout_sec must be positive, got: %d", c.Sandbox.TimeoutSec)
	}

	if c.Sandbox.LoadTimeoutSec <= 0 {
		return fmt.Errorf("sandbox.load_timeout_sec must be positive, got: %d", c.Sandbox.LoadTimeoutSec)
	}

	if c.Sandbox.TeardownGraceMS < 0 {
		return fmt.Errorf("sandbox.teardown_grace_ms must not be negative, got: %d", c.Sandbox.TeardownGraceMS)
	}

	if c.Sandbox.MaxCallStack <= 0 {
		return fmt.Errorf("sandbox.max_call_stack must be positive, got: %d", c.Sandbox.MaxCallStack)
	}

	if c.Sandbox.MaxTranscriptBytes <= 0 {
		return fmt.Errorf("sandbox.max_transcript_bytes must be positive, got: %d", c.Sandbox.MaxTranscriptBytes)
	}

	if c.Sandbox.MemoryMB <= 0 {
		return fmt.Errorf("sandbox.memory_mb must be positive, got: %d", c.Sandbox.MemoryMB)
	}

	if c.Python.BundleURL == "" {
		return fmt.Errorf("python.bundle_url must be set")
	}

	if c.Python.BundleSHA256 != "" && len(c.Python.BundleSHA256) != 64 {
		return fmt.Errorf("python.bundle_sha256 must be a hex encoded SHA-256 digest")
	}

	if !c.Store.InMemory && c.Store.Path == "" {
		return fmt.Errorf("store.path must be set unless store.in_memory is enabled")
	}

	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return fmt.Errorf("invalid metrics.port: %d", c.Metrics.Port)
	}

	if c.Logging.Mode != "production" && c.Logging.Mode != "development" {
		return fmt.Errorf("invalid logging.mode: %s, must be 'production' or 'development'", c.Logging.Mode)
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
		"dpanic": true, "panic": true, "fatal": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	return nil
}

// GetTimeout returns the execution timeout as a duration
func (c *Config) GetTimeout() time.Duration {
	return time.Duration(c.Sandbox.TimeoutSec) * time.Second
}

// GetLoadTimeout returns the runtime load timeout as a duration
func (c *Config) GetLoadTimeout() time.Duration {
	return time.Duration(c.Sandbox.LoadTimeoutSec) * time.Second
}

// GetTeardownGrace returns how long teardown waits for a destroyed boundary
func (c *Config) GetTeardownGrace() time.Duration {
	return time.Duration(c.Sandbox.TeardownGraceMS) * time.Millisecond
}
