// Package config holds the launcher configuration. Values are layered:
// defaults, then an optional YAML file, then LOCUS_* environment variables,
// then command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultSidecarName = "locus-backend"
	DefaultHealthURL   = "http://127.0.0.1:8000/health"
)

// FailMode decides what a failed setup hook does to the application.
type FailMode string

const (
	FailFast FailMode = "fail-fast"
	Retry    FailMode = "retry"
	Degraded FailMode = "degraded"
)

func (m FailMode) Valid() bool {
	switch m {
	case FailFast, Retry, Degraded:
		return true
	}
	return false
}

type Config struct {
	Sidecar SidecarConfig `yaml:"sidecar"`
	Policy  PolicyConfig  `yaml:"policy"`
	Restart RestartConfig `yaml:"restart"`
	Health  HealthConfig  `yaml:"health"`
	Log     LogConfig     `yaml:"log"`
	UI      UIConfig      `yaml:"ui"`
}

type SidecarConfig struct {
	Name        string            `yaml:"name"`
	Path        string            `yaml:"path"`
	Args        []string          `yaml:"args"`
	Env         map[string]string `yaml:"env"`
	Dir         string            `yaml:"dir"`
	SearchPath  bool              `yaml:"search_path"`
	StopGrace   time.Duration     `yaml:"stop_grace"`
	WatchBinary bool              `yaml:"watch_binary"`
}

type PolicyConfig struct {
	Mode           FailMode      `yaml:"mode"`
	SpawnAttempts  int           `yaml:"spawn_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

type RestartConfig struct {
	Enabled        bool          `yaml:"enabled"`
	MaxRestarts    int           `yaml:"max_restarts"`
	Window         time.Duration `yaml:"window"`
	StableAfter    time.Duration `yaml:"stable_after"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

type HealthConfig struct {
	URL                string        `yaml:"url"`
	Interval           time.Duration `yaml:"interval"`
	Timeout            time.Duration `yaml:"timeout"`
	UnhealthyThreshold int           `yaml:"unhealthy_threshold"`
	RestartOnUnhealthy bool          `yaml:"restart_on_unhealthy"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
	Dir   string `yaml:"dir"`
	Tail  int    `yaml:"tail"`
}

type UIConfig struct {
	Headless bool    `yaml:"headless"`
	Width    float32 `yaml:"width"`
	Height   float32 `yaml:"height"`
}

// Default matches the original behaviour where it is defined (fail-fast
// setup) and adds supervision on top.
func Default() *Config {
	return &Config{
		Sidecar: SidecarConfig{
			Name:      DefaultSidecarName,
			StopGrace: 5 * time.Second,
		},
		Policy: PolicyConfig{
			Mode:           FailFast,
			SpawnAttempts:  3,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     5 * time.Second,
		},
		Restart: RestartConfig{
			Enabled:        true,
			MaxRestarts:    5,
			Window:         5 * time.Minute,
			StableAfter:    time.Minute,
			InitialBackoff: time.Second,
			MaxBackoff:     30 * time.Second,
		},
		Health: HealthConfig{
			Interval:           10 * time.Second,
			Timeout:            2 * time.Second,
			UnhealthyThreshold: 3,
		},
		Log: LogConfig{
			Level: "info",
			Dir:   defaultLogDir(),
			Tail:  500,
		},
		UI: UIConfig{
			Width:  720,
			Height: 480,
		},
	}
}

func defaultLogDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "locus", "logs")
}

// LoadFile overlays the YAML file at path onto c. Keys absent from the file
// keep their current value.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Sidecar.Name == "" {
		errs = append(errs, errors.New("sidecar.name must not be empty"))
	}
	if c.Sidecar.StopGrace < 0 {
		errs = append(errs, errors.New("sidecar.stop_grace must not be negative"))
	}
	if !c.Policy.Mode.Valid() {
		errs = append(errs, fmt.Errorf("policy.mode %q is not one of fail-fast, retry, degraded", c.Policy.Mode))
	}
	if c.Policy.SpawnAttempts < 1 {
		errs = append(errs, errors.New("policy.spawn_attempts must be at least 1"))
	}
	if c.Policy.InitialBackoff < 0 || c.Policy.MaxBackoff < 0 {
		errs = append(errs, errors.New("policy backoff must not be negative"))
	}
	if c.Restart.MaxRestarts < 0 {
		errs = append(errs, errors.New("restart.max_restarts must not be negative"))
	}
	if c.Restart.Window < 0 || c.Restart.StableAfter < 0 ||
		c.Restart.InitialBackoff < 0 || c.Restart.MaxBackoff < 0 {
		errs = append(errs, errors.New("restart durations must not be negative"))
	}
	if c.Health.URL != "" {
		if c.Health.Interval <= 0 {
			errs = append(errs, errors.New("health.interval must be positive"))
		}
		if c.Health.Timeout <= 0 {
			errs = append(errs, errors.New("health.timeout must be positive"))
		}
		if c.Health.UnhealthyThreshold < 1 {
			errs = append(errs, errors.New("health.unhealthy_threshold must be at least 1"))
		}
	}
	if c.Log.Tail < 0 {
		errs = append(errs, errors.New("log.tail must not be negative"))
	}

	return errors.Join(errs...)
}
