package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the main configuration structure
type Config struct {
	Server     ServerConfig    `yaml:"server"`
	Sandbox    SandboxConfig   `yaml:"sandbox"`
	Resolver   ResolverConfig  `yaml:"resolver"`
	SourceMaps SourceMapConfig `yaml:"sourceMaps"`
	Logging    LoggingConfig   `yaml:"logging"`
	Overlay    OverlayConfig   `yaml:"overlay"`
}

// ServerConfig controls the MCP HTTP endpoint
type ServerConfig struct {
	Port        string `yaml:"port"`
	MetricsPath string `yaml:"metricsPath"` // empty disables /metrics
}

// SandboxConfig locates the WASM JavaScript runtime and per-session workspaces
type SandboxConfig struct {
	WasmPath     string `yaml:"wasmPath"`
	WorkspaceDir string `yaml:"workspaceDir"`
}

// ResolverConfig tunes stack frame resolution
type ResolverConfig struct {
	Concurrency   int           `yaml:"concurrency"`   // 0 = one lookup per frame at once
	LookupTimeout time.Duration `yaml:"lookupTimeout"` // 0 = wait indefinitely
	HideNative    bool          `yaml:"hideNative"`    // drop engine-internal frames
}

// SourceMapConfig tells the source map store where to look
type SourceMapConfig struct {
	Dir         string        `yaml:"dir"`
	Remote      bool          `yaml:"remote"`
	HTTPTimeout time.Duration `yaml:"httpTimeout"`
}

// LoggingConfig mirrors logger.Config
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// OverlayConfig controls the crash screen document
type OverlayConfig struct {
	Title  string      `yaml:"title"`
	Styles StyleConfig `yaml:"styles"`
}

// StyleConfig overrides individual CSS properties of each style table
type StyleConfig struct {
	Overlay map[string]string `yaml:"overlay"`
	Header  map[string]string `yaml:"header"`
	Trace   map[string]string `yaml:"trace"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        "3000",
			MetricsPath: "/metrics",
		},
		Sandbox: SandboxConfig{
			WasmPath:     "./wasm/dist/sandbox.wasm",
			WorkspaceDir: os.TempDir(),
		},
		SourceMaps: SourceMapConfig{
			HTTPTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Overlay: OverlayConfig{
			Title: "failfast",
		},
	}
}

// Load reads and parses the configuration file. An empty path yields the
// defaults. Environment overrides are applied last.
func Load(configPath string) (*Config, error) {
	config := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := applyEnvOverrides(config); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := validate(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

// applyEnvOverrides applies FAILFAST_* environment variables
func applyEnvOverrides(config *Config) error {
	if v := os.Getenv("FAILFAST_PORT"); v != "" {
		config.Server.Port = v
	}
	if v := os.Getenv("FAILFAST_WASM_PATH"); v != "" {
		config.Sandbox.WasmPath = v
	}
	if v := os.Getenv("FAILFAST_WORKSPACE_DIR"); v != "" {
		config.Sandbox.WorkspaceDir = v
	}
	if v := os.Getenv("FAILFAST_SOURCEMAP_DIR"); v != "" {
		config.SourceMaps.Dir = v
	}
	if v := os.Getenv("FAILFAST_SOURCEMAP_REMOTE"); v != "" {
		remote, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("FAILFAST_SOURCEMAP_REMOTE: %w", err)
		}
		config.SourceMaps.Remote = remote
	}
	if v := os.Getenv("FAILFAST_LOOKUP_TIMEOUT"); v != "" {
		timeout, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("FAILFAST_LOOKUP_TIMEOUT: %w", err)
		}
		config.Resolver.LookupTimeout = timeout
	}
	if v := os.Getenv("FAILFAST_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("FAILFAST_LOG_FORMAT"); v != "" {
		config.Logging.Format = v
	}
	return nil
}

// validate checks if the configuration is valid
func validate(config *Config) error {
	if config.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}
	if _, err := strconv.Atoi(config.Server.Port); err != nil {
		return fmt.Errorf("server.port %q is not a number", config.Server.Port)
	}
	if config.Resolver.Concurrency < 0 {
		return fmt.Errorf("resolver.concurrency must not be negative")
	}
	if config.Resolver.LookupTimeout < 0 {
		return fmt.Errorf("resolver.lookupTimeout must not be negative")
	}
	if config.SourceMaps.HTTPTimeout < 0 {
		return fmt.Errorf("sourceMaps.httpTimeout must not be negative")
	}

	switch config.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format %q is invalid (must be text or json)", config.Logging.Format)
	}

	return nil
}
