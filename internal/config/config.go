package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/nicwh1988/respawn/internal/cron"
	"github.com/nicwh1988/respawn/internal/logger"
	"github.com/nicwh1988/respawn/internal/notify"
	"github.com/nicwh1988/respawn/internal/worker"
)

// DefaultFileName is looked up next to the executable when no path is given.
const DefaultFileName = "respawn.toml"

// ServerConfig controls the embedded REST API.
type ServerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Listen   string `mapstructure:"listen"`    // default 127.0.0.1:8080
	BasePath string `mapstructure:"base_path"` // default /api
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// StoreConfig selects the launch record database.
// DSN forms: postgres://..., sqlite://path, or a bare sqlite path.
type StoreConfig struct {
	DSN string `mapstructure:"dsn"`
}

// HistoryConfig lists lifecycle event sinks by DSN
// (clickhouse://host:port?table=..., opensearch://host/index).
type HistoryConfig struct {
	Sinks []string `mapstructure:"sinks"`
}

// Config is the decoded configuration file. A missing file is a valid setup:
// one default worker, relaunched from the executable's directory.
type Config struct {
	Path string `mapstructure:"-"` // where it was loaded from; empty for built-in defaults

	WorkDir  string   `mapstructure:"work_dir"`  // default workdir for workers that set none
	Env      []string `mapstructure:"env"`       // extra KEY=VALUE entries shared by all workers
	EnvFiles []string `mapstructure:"env_files"` // .env files merged before the env list

	Log     logger.Config `mapstructure:"log"`
	Server  ServerConfig  `mapstructure:"server"`
	Store   StoreConfig   `mapstructure:"store"`
	History HistoryConfig `mapstructure:"history"`
	Notify  notify.Config `mapstructure:"notify"`

	Workers []worker.Spec `mapstructure:"workers"`
}

// Default is the zero-file configuration.
func Default() *Config {
	c := &Config{Workers: []worker.Spec{worker.DefaultSpec()}}
	fillDefaults(c)
	return c
}

func fillDefaults(c *Config) {
	if c.Server.Listen == "" {
		c.Server.Listen = "127.0.0.1:8080"
	}
	if c.Server.BasePath == "" {
		c.Server.BasePath = "/api"
	}
	if len(c.Workers) == 0 {
		c.Workers = []worker.Spec{worker.DefaultSpec()}
	}
}

// DefaultPath returns the config location next to the launcher executable.
func DefaultPath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable path: %w", err)
	}
	return filepath.Join(filepath.Dir(exe), DefaultFileName), nil
}

// Load reads the TOML file at path. An empty path means the default location;
// a missing default file yields Default(). An explicitly named file must
// exist and parse.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		if _, err := os.Stat(p); err != nil {
			if os.IsNotExist(err) {
				return finish(Default())
			}
			return nil, err
		}
		path = p
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	c.Path = path
	fillDefaults(&c)
	return finish(&c)
}

// finish normalizes workers and validates the assembled config.
func finish(c *Config) (*Config, error) {
	var merged []string
	for _, p := range c.EnvFiles {
		entries, err := LoadEnvFile(p)
		if err != nil {
			return nil, fmt.Errorf("env file %s: %w", p, err)
		}
		merged = append(merged, entries...)
	}
	// the explicit env list wins over file entries downstream
	c.Env = append(merged, c.Env...)

	seen := make(map[string]bool, len(c.Workers))
	for i := range c.Workers {
		w := &c.Workers[i]
		if w.WorkDir == "" {
			w.WorkDir = c.WorkDir
		}
		w.Normalize()
		if err := w.Validate(); err != nil {
			return nil, fmt.Errorf("worker %q: %w", w.Name, err)
		}
		if seen[w.Name] {
			return nil, fmt.Errorf("duplicate worker name %q", w.Name)
		}
		seen[w.Name] = true
		if w.Schedule != "" {
			if err := cron.ValidateSchedule(w.Schedule); err != nil {
				return nil, fmt.Errorf("worker %q schedule: %w", w.Name, err)
			}
		}
	}

	if (c.Server.CertFile == "") != (c.Server.KeyFile == "") {
		return nil, fmt.Errorf("server cert_file and key_file must be set together")
	}
	return c, nil
}

// FindWorker returns the named worker spec.
func (c *Config) FindWorker(name string) (worker.Spec, bool) {
	for _, w := range c.Workers {
		if w.Name == name {
			return w, true
		}
	}
	return worker.Spec{}, false
}

// LoadEnvFile parses KEY=VALUE lines. Blank lines and # comments are
// skipped; order is preserved so later files can override earlier ones.
func LoadEnvFile(path string) ([]string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i > 0 {
			out = append(out, strings.TrimSpace(line[:i])+"="+strings.TrimSpace(line[i+1:]))
		}
	}
	return out, nil
}
