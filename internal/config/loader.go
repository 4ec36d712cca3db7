package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	if cfg.Backend.BaseURL == "" {
		errs = append(errs, errors.New("backend.base_url is required"))
	} else if u, err := url.Parse(cfg.Backend.BaseURL); err != nil || !u.IsAbs() {
		errs = append(errs, fmt.Errorf("backend.base_url %q must be an absolute URL", cfg.Backend.BaseURL))
	}
	if cfg.Backend.CallTimeoutSeconds < 0 {
		errs = append(errs, errors.New("backend.call_timeout_seconds must not be negative"))
	}
	if cfg.Backend.BreakerMaxFailures < 0 {
		errs = append(errs, errors.New("backend.breaker_max_failures must not be negative"))
	}

	if cfg.Session.PollIntervalMS < 0 {
		errs = append(errs, errors.New("session.poll_interval_ms must not be negative"))
	}
	if cfg.Session.SilenceThreshold < 0 || cfg.Session.SilenceThreshold >= 1 {
		errs = append(errs, fmt.Errorf("session.silence_threshold %v must be in [0,1)", cfg.Session.SilenceThreshold))
	}
	if cfg.Session.SilenceWindowMS < 0 {
		errs = append(errs, errors.New("session.silence_window_ms must not be negative"))
	}
	if cfg.Session.ActionCooldownSeconds < 0 {
		errs = append(errs, errors.New("session.action_cooldown_seconds must not be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %w", errors.Join(errs...))
	}
	return nil
}
