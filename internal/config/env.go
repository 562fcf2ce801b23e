package config

import (
	"fmt"
	"strconv"
	"time"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays LOCUS_* variables onto c.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	if v, ok := lookup("LOCUS_SIDECAR"); ok && v != "" {
		c.Sidecar.Name = v
	}
	if v, ok := lookup("LOCUS_SIDECAR_PATH"); ok && v != "" {
		c.Sidecar.Path = v
	}
	if v, ok := lookup("LOCUS_FAIL_POLICY"); ok && v != "" {
		c.Policy.Mode = FailMode(v)
	}
	if v, ok := lookup("LOCUS_HEALTH_URL"); ok {
		c.Health.URL = v
	}
	if v, ok := lookup("LOCUS_LOG_LEVEL"); ok && v != "" {
		c.Log.Level = v
	}
	if v, ok := lookup("LOCUS_DEBUG"); ok && v == "1" {
		c.Log.Level = "debug"
	}
	if v, ok := lookup("LOCUS_LOG_DIR"); ok {
		c.Log.Dir = v
	}
	if v, ok := lookup("LOCUS_JSON_LOGS"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("LOCUS_JSON_LOGS: %w", err)
		}
		c.Log.JSON = b
	}
	if v, ok := lookup("LOCUS_STOP_GRACE"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("LOCUS_STOP_GRACE: %w", err)
		}
		c.Sidecar.StopGrace = d
	}
	return nil
}
