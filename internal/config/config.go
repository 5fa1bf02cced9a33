// Package config provides configuration for go-drive commands.
//
// Values are resolved in this order, later sources winning:
// Default, YAML file, environment variables, command-line flags.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Default configuration values.
const (
	DefaultPort       = 4567
	DefaultPath       = "/socket.io/"
	DefaultModelPath  = "model/model.onnx"
	DefaultSpeedLimit = 10.0
)

// Model backends.
const (
	BackendFile   = "file"
	BackendRemote = "remote"
)

// Config holds all configuration for the drive server.
// Flag parsing is done in cmd/drive; this struct is data only.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Model   ModelConfig   `yaml:"model"`
	Control ControlConfig `yaml:"control"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig configures the simulator-facing listener.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"` // Socket.IO endpoint path
}

// ModelConfig selects and locates the steering model.
type ModelConfig struct {
	Backend string `yaml:"backend"` // "file" or "remote"
	Path    string `yaml:"path"`    // .onnx or .pb artifact
	URL     string `yaml:"url"`     // TF-Serving predict URL
	Layout  string `yaml:"layout"`  // "nhwc" or "nchw"
}

// ControlConfig holds the throttle policy parameters.
type ControlConfig struct {
	SpeedLimit float64 `yaml:"speedLimit"`
}

// LogConfig configures internal/log.
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port: DefaultPort,
			Path: DefaultPath,
		},
		Model: ModelConfig{
			Backend: BackendFile,
			Path:    DefaultModelPath,
			Layout:  "nhwc",
		},
		Control: ControlConfig{
			SpeedLimit: DefaultSpeedLimit,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
	}
}

// Load returns Default overlaid with the YAML file at path (if non-empty)
// and then with environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return cfg, err
		}
	}
	if err := cfg.LoadEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadFile overlays values from a YAML file. Keys absent from the file keep
// their current value.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// LoadEnv applies DRIVE_* environment overrides.
func (c *Config) LoadEnv() error {
	if v := os.Getenv("DRIVE_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return &ConfigError{Field: "Server.Port", Message: "DRIVE_PORT must be an integer: " + v}
		}
		c.Server.Port = port
	}
	if v := os.Getenv("DRIVE_MODEL_BACKEND"); v != "" {
		c.Model.Backend = v
	}
	if v := os.Getenv("DRIVE_MODEL_PATH"); v != "" {
		c.Model.Path = v
	}
	if v := os.Getenv("DRIVE_MODEL_URL"); v != "" {
		c.Model.URL = v
	}
	if v := os.Getenv("DRIVE_SPEED_LIMIT"); v != "" {
		limit, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return &ConfigError{Field: "Control.SpeedLimit", Message: "DRIVE_SPEED_LIMIT must be a number: " + v}
		}
		c.Control.SpeedLimit = limit
	}
	if v := os.Getenv("DRIVE_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("DRIVE_LOG_FILE"); v != "" {
		c.Log.File = v
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return &ConfigError{Field: "Server.Port", Message: fmt.Sprintf("port out of range: %d", c.Server.Port)}
	}
	if c.Server.Path == "" {
		return &ConfigError{Field: "Server.Path", Message: "endpoint path is required"}
	}
	if c.Control.SpeedLimit <= 0 {
		return &ConfigError{Field: "Control.SpeedLimit", Message: "speed limit must be positive"}
	}
	switch c.Model.Backend {
	case BackendFile:
		if c.Model.Path == "" {
			return &ConfigError{Field: "Model.Path", Message: "model path is required for the file backend"}
		}
	case BackendRemote:
		if c.Model.URL == "" {
			return &ConfigError{Field: "Model.URL", Message: "model URL is required for the remote backend"}
		}
	default:
		return &ConfigError{Field: "Model.Backend", Message: "unknown backend: " + c.Model.Backend}
	}
	switch c.Model.Layout {
	case "nhwc", "nchw":
	default:
		return &ConfigError{Field: "Model.Layout", Message: "layout must be nhwc or nchw"}
	}
	return nil
}

// Addr returns the listen address for the server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config: " + e.Field + ": " + e.Message
}
