package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/kiwi-scanner/sdk/internal/engine/sim"
	"github.com/kiwi-scanner/sdk/internal/feedback"
	"github.com/kiwi-scanner/sdk/internal/logging"
	"github.com/kiwi-scanner/sdk/internal/settings"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig      `yaml:"server"`
	Log       LogConfig         `yaml:"log"`
	Scanner   settings.Settings `yaml:"scanner"`
	Feedback  feedback.Timing   `yaml:"feedback"`
	Simulator sim.Config        `yaml:"simulator"`
	Stats     StatsConfig       `yaml:"stats"`
}

type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
	// AuthToken, when set, is required as a bearer token or ?token= query
	// parameter on every API and websocket request.
	AuthToken      string   `yaml:"auth_token,omitempty"`
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	// Dir holds kiwiscan.log. Empty logs to stderr.
	Dir string `yaml:"dir"`
}

type StatsConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Dir          string        `yaml:"dir"`
	SaveInterval time.Duration `yaml:"save_interval"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
		Log: LogConfig{
			Level: logging.LevelInfo,
		},
		Scanner:   settings.Defaults(),
		Feedback:  feedback.DefaultTiming(),
		Simulator: sim.DefaultConfig(),
		Stats: StatsConfig{
			Enabled:      true,
			SaveInterval: 30 * time.Second,
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// DefaultPath returns $XDG_CONFIG_HOME/kiwiscan/config.yaml, falling back to
// ~/.config.
func DefaultPath() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml"
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "kiwiscan", "config.yaml")
}

// Warnings lists values that load fine but are outside their documented
// range. Scanner settings are kept as written.
func (c *Config) Warnings() []string {
	var out []string
	if err := c.Scanner.Validate(); err != nil {
		var joined interface{ Unwrap() []error }
		if errors.As(err, &joined) {
			for _, e := range joined.Unwrap() {
				out = append(out, "scanner."+e.Error())
			}
		} else {
			out = append(out, "scanner."+err.Error())
		}
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		out = append(out, fmt.Sprintf("server.port = %d, outside 0-65535", c.Server.Port))
	}
	if lvl := strings.ToUpper(strings.TrimSpace(c.Log.Level)); lvl != "" && !slices.Contains(logging.ValidLevels(), lvl) {
		out = append(out, fmt.Sprintf("log.level = %q, unknown level, using INFO", c.Log.Level))
	}
	return out
}

// Marshal renders the config as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
