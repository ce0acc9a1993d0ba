package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Transport: "http",
			HTTPPort:  8080,
		},
		Sandbox: SandboxConfig{
			Isolation:       IsolationInProcess,
			TimeoutSec:      10,
			LoadTimeoutSec:  60,
			TeardownGraceMS: 500,
			MaxCallStack:    1000,
			MemoryMB:        256,

			MaxTranscriptBytes: 4096,
		},
		Python: PythonConfig{
			BundleURL: "https://example.com/python.wasm",
			CacheDir:  "/tmp/runtimes",
		},
		Store: StoreConfig{
			InMemory: true,
		},
		Logging: LoggingConfig{
			Mode:  "production",
			Level: "info",
		},
	}
}

func TestConfigValidation(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		require.NoError(t, validConfig().validate())
	})

	tests := []struct {
		name    string
		mutate  func(*Config)
		message string
	}{
		{"InvalidServerTransport", func(c *Config) { c.Server.Transport = "invalid" }, "invalid server.transport"},
		{"InvalidHTTPPort", func(c *Config) { c.Server.HTTPPort = 0 }, "invalid server.http_port"},
		{"InvalidIsolation", func(c *Config) { c.Sandbox.Isolation = "vm" }, "unsupported sandbox.isolation"},
		{"InvalidSandboxTimeout", func(c *Config) { c.Sandbox.TimeoutSec = 0 }, "sandbox.timeout_sec must be positive"},
		{"InvalidLoadTimeout", func(c *Config) { c.Sandbox.LoadTimeoutSec = -1 }, "sandbox.load_timeout_sec must be positive"},
		{"NegativeTeardownGrace", func(c *Config) { c.Sandbox.TeardownGraceMS = -1 }, "sandbox.teardown_grace_ms must not be negative"},
		{"InvalidCallStack", func(c *Config) { c.Sandbox.MaxCallStack = 0 }, "sandbox.max_call_stack must be positive"},
		{"InvalidTranscriptCap", func(c *Config) { c.Sandbox.MaxTranscriptBytes = 0 }, "sandbox.max_transcript_bytes must be positive"},
		{"InvalidSandboxMemory", func(c *Config) { c.Sandbox.MemoryMB = 0 }, "sandbox.memory_mb must be positive"},
		{"MissingBundleURL", func(c *Config) { c.Python.BundleURL = "" }, "python.bundle_url must be set"},
		{"InvalidBundleDigest", func(c *Config) { c.Python.BundleSHA256 = "abc" }, "python.bundle_sha256"},
		{"MissingStorePath", func(c *Config) { c.Store.InMemory = false }, "store.path must be set"},
		{"InvalidMetricsPort", func(c *Config) { c.Metrics = MetricsConfig{Enabled: true, Port: 70000} }, "invalid metrics.port"},
		{"InvalidLoggingMode", func(c *Config) { c.Logging.Mode = "invalid_mode" }, "invalid logging.mode"},
		{"InvalidLogLevel", func(c *Config) { c.Logging.Level = "invalid_level" }, "invalid logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.message)
		})
	}

	t.Run("StdioIgnoresHTTPPort", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.Transport = "stdio"
		cfg.Server.HTTPPort = 0
		require.NoError(t, cfg.validate())
	})

	t.Run("ContainerIsolation", func(t *testing.T) {
		for _, isolation := range []string{IsolationDocker, IsolationPodman} {
			cfg := validConfig()
			cfg.Sandbox.Isolation = isolation
			require.NoError(t, cfg.validate())
		}
	})

	t.Run("LocalIsolationRequiresOptIn", func(t *testing.T) {
		cfg := validConfig()
		cfg.Sandbox.Isolation = IsolationLocal
		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "enable_local_isolation")

		cfg.Sandbox.EnableLocalIsolation = true
		require.NoError(t, cfg.validate())
	})
}

func TestLoad(t *testing.T) {
	t.Run("FileOverridesDefaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		content := `server:
  transport: http
  http_port: 9000
sandbox:
  timeout_sec: 3
store:
  in_memory: true
languages:
  javascript:
    image: node:22-alpine
    environment:
      NODE_OPTIONS: --max-old-space-size=64
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "http", cfg.Server.Transport)
		assert.Equal(t, 9000, cfg.Server.HTTPPort)
		assert.Equal(t, 3*time.Second, cfg.GetTimeout())
		assert.Equal(t, IsolationInProcess, cfg.Sandbox.Isolation)
		assert.Equal(t, 2*time.Second, cfg.GetTeardownGrace())
		assert.Equal(t, 120*time.Second, cfg.GetLoadTimeout())
		assert.Equal(t, 1<<20, cfg.Sandbox.MaxTranscriptBytes)
		assert.True(t, cfg.Store.InMemory)
		assert.Equal(t, "node:22-alpine", cfg.Languages["javascript"].Image)
		// viper lowercases map keys
		assert.Equal(t, "--max-old-space-size=64", cfg.Languages["javascript"].Environment["node_options"])
	})

	t.Run("InvalidFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("sandbox:\n  timeout_sec: 0\n"), 0o600))

		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sandbox.timeout_sec must be positive")
	})

	t.Run("MissingFile", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.Error(t, err)
	})
}
