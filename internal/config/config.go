// Package config provides the configuration schema and loader for the
// fernspielapparat runtime.
package config

import "time"

// LogLevel controls log verbosity for the runtime.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for the runtime.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader];
// CLI flags override individual values afterwards.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Runtime RuntimeConfig `yaml:"runtime"`
	Phone   PhoneConfig   `yaml:"phone"`
	Audio   AudioConfig   `yaml:"audio"`
}

// ServerConfig holds network and logging settings for the remote control
// server.
type ServerConfig struct {
	// ListenAddr is the TCP address the WebSocket server binds to.
	// Default: "0.0.0.0:38397".
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// RuntimeConfig tunes the evaluator.
type RuntimeConfig struct {
	// TickMillis is the evaluator tick period in milliseconds.
	// Recommended range 10-20, default 10.
	TickMillis int `yaml:"tick_millis"`

	// Watch reloads the startup phonebook file when it changes on disk.
	Watch bool `yaml:"watch"`

	// ExitOnTerminal terminates the runtime with exit code 0 when a
	// terminal state is reached, instead of halting until reset.
	ExitOnTerminal bool `yaml:"exit_on_terminal"`
}

// PhoneConfig locates the telephone hardware on the I2C bus.
type PhoneConfig struct {
	// Device is the I2C bus registry name (e.g. "/dev/i2c-1" or "1").
	// Default: "/dev/i2c-1".
	Device string `yaml:"device"`

	// Address is the 7-bit slave address of the phone's microcontroller.
	// Default: 4.
	Address uint16 `yaml:"address"`
}

// AudioConfig selects the playback and synthesis subprocesses.
type AudioConfig struct {
	// PlayerCommand is the argv prefix of an ffplay-compatible media
	// player; the media path is appended.
	PlayerCommand []string `yaml:"player_command"`

	// SynthCommand is the argv prefix of an espeak-compatible speech
	// synthesizer; "-w <file> <text>" is appended.
	SynthCommand []string `yaml:"synth_command"`
}

// Default returns the configuration used when no config file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: "0.0.0.0:38397",
			LogLevel:   LogInfo,
		},
		Runtime: RuntimeConfig{
			TickMillis: 10,
		},
		Phone: PhoneConfig{
			Device:  "/dev/i2c-1",
			Address: 4,
		},
		Audio: AudioConfig{
			PlayerCommand: []string{"ffplay", "-nodisp", "-autoexit", "-loglevel", "quiet"},
			SynthCommand:  []string{"espeak"},
		},
	}
}

// TickPeriod returns the evaluator tick period as a duration.
func (c *Config) TickPeriod() time.Duration {
	return time.Duration(c.Runtime.TickMillis) * time.Millisecond
}
