package config

import (
	"os"

	flag "github.com/spf13/pflag"
)

// Flags are the command-line overrides. Only flags the user actually set
// are applied, so an unset flag never clobbers a file or env value.
type Flags struct {
	fs *flag.FlagSet

	ConfigPath  string
	SidecarName string
	SidecarPath string
	LogLevel    string
	LogJSON     bool
	FailPolicy  string
	HealthURL   string
	Headless    bool
	Version     bool
}

func BindFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{fs: fs}
	fs.StringVarP(&f.ConfigPath, "config", "c", "", "Path to a YAML config file (overrides LOCUS_CONFIG)")
	fs.StringVar(&f.SidecarName, "sidecar", DefaultSidecarName, "Name of the backend sidecar binary")
	fs.StringVar(&f.SidecarPath, "sidecar-path", "", "Explicit path to the backend binary")
	fs.StringVar(&f.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	fs.BoolVar(&f.LogJSON, "log-json", false, "Write logs as JSON lines")
	fs.StringVar(&f.FailPolicy, "fail-policy", string(FailFast), "Setup failure policy: fail-fast, retry, degraded")
	fs.StringVar(&f.HealthURL, "health-url", "", "Backend health endpoint to poll (empty disables)")
	fs.BoolVar(&f.Headless, "no-gui", false, "Run without a window until interrupted")
	fs.BoolVar(&f.Version, "version", false, "Print version and exit")
	return f
}

// Apply copies every flag that was set on the command line into c.
func (f *Flags) Apply(c *Config) {
	if f.fs.Changed("sidecar") {
		c.Sidecar.Name = f.SidecarName
	}
	if f.fs.Changed("sidecar-path") {
		c.Sidecar.Path = f.SidecarPath
	}
	if f.fs.Changed("log-level") {
		c.Log.Level = f.LogLevel
	}
	if f.fs.Changed("log-json") {
		c.Log.JSON = f.LogJSON
	}
	if f.fs.Changed("fail-policy") {
		c.Policy.Mode = FailMode(f.FailPolicy)
	}
	if f.fs.Changed("health-url") {
		c.Health.URL = f.HealthURL
	}
	if f.fs.Changed("no-gui") {
		c.UI.Headless = f.Headless
	}
}

// Load builds the effective configuration from every layer and validates it.
func Load(f *Flags, lookup LookupFunc) (*Config, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	cfg := Default()

	path := f.ConfigPath
	if path == "" {
		path, _ = lookup("LOCUS_CONFIG")
	}
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.ApplyEnv(lookup); err != nil {
		return nil, err
	}
	f.Apply(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
