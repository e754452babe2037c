// Package config loads bridge settings from a YAML file. A missing file
// yields the defaults.
package config

import (
	"errors"
	"fmt"
	"os"

	"go.yaml.in/yaml/v3"

	"github.com/tomyedwab/sqlbridge/sqlbridge/encode"
)

// Config holds all bridge settings.
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	Database DatabaseConfig `yaml:"database"`
	HTTP     HTTPConfig     `yaml:"http"`
	Wasm     WasmConfig     `yaml:"wasm"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type BridgeConfig struct {
	// MaxResultChars is the size past which array results stop consuming
	// rows. Zero disables the limit.
	MaxResultChars int `yaml:"max_result_chars"`
}

// DatabaseConfig names a database to open before the first call arrives.
// Callers can still open a different one.
type DatabaseConfig struct {
	Path   string `yaml:"path"`
	Create bool   `yaml:"create"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type WasmConfig struct {
	Module string `yaml:"module"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Log:    LogConfig{Level: "info", Format: "json"},
		Bridge: BridgeConfig{MaxResultChars: encode.DefaultLimit},
		HTTP:   HTTPConfig{Addr: ":8080"},
	}
}

// Load reads the YAML file at path over the defaults. An empty path or a
// missing file returns the defaults.
func Load(path string) (Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return c, nil
		}
		return c, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("parse config %s: %w", path, err)
	}
	return c, c.Validate()
}

// Validate checks values that have no sensible fallback.
func (c Config) Validate() error {
	if c.Bridge.MaxResultChars < 0 {
		return fmt.Errorf("bridge.max_result_chars must not be negative, got %d", c.Bridge.MaxResultChars)
	}
	if c.HTTP.Addr == "" {
		return errors.New("http.addr must not be empty")
	}
	switch c.Log.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got %q", c.Log.Format)
	}
	return nil
}
