package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path, fills unset values with
// defaults and returns a validated [Config]. It is a convenience wrapper
// around [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r over the defaults and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills fields an explicit empty value in the file would
// otherwise zero out.
func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = def.Server.ListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = def.Server.LogLevel
	}
	if cfg.Runtime.TickMillis == 0 {
		cfg.Runtime.TickMillis = def.Runtime.TickMillis
	}
	if cfg.Phone.Device == "" {
		cfg.Phone.Device = def.Phone.Device
	}
	if cfg.Phone.Address == 0 {
		cfg.Phone.Address = def.Phone.Address
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if _, _, err := net.SplitHostPort(cfg.Server.ListenAddr); err != nil {
		errs = append(errs, fmt.Errorf("server.listen_addr %q is not a host:port address: %w", cfg.Server.ListenAddr, err))
	}

	if cfg.Runtime.TickMillis < 1 || cfg.Runtime.TickMillis > 1000 {
		errs = append(errs, fmt.Errorf("runtime.tick_millis %d is out of range [1, 1000]", cfg.Runtime.TickMillis))
	}

	if cfg.Phone.Address > 0x7f {
		errs = append(errs, fmt.Errorf("phone.address %d is not a 7-bit i2c address", cfg.Phone.Address))
	}

	if len(cfg.Audio.PlayerCommand) == 0 {
		slog.Warn("audio.player_command is empty; media playback will be unavailable")
	}
	if len(cfg.Audio.SynthCommand) == 0 {
		slog.Warn("audio.synth_command is empty; speech will be substituted with silence")
	}

	return errors.Join(errs...)
}
