// Package config loads the arenabench HCL configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// Readiness modes
const (
	ReadinessPort  = "port"
	ReadinessDelay = "delay"
)

// Defaults
const (
	DefaultGameMode         = "Round1"
	DefaultDisconnectMarker = "Dropping"
	DefaultListenHost       = "127.0.0.1"
	DefaultWorkers          = 6
	DefaultMatches          = 2
	DefaultBasePort         = 31001
	DefaultPortStride       = 10
	DefaultStartupDelay     = 2 * time.Second
	DefaultReadyTimeout     = 30 * time.Second
	DefaultMatchTimeout     = 15 * time.Minute
	DefaultShutdownGrace    = 1 * time.Second
	DefaultKillAfter        = 1 * time.Second

	maxPort = 65535
)

// Config is the complete bench configuration
type Config struct {
	Server  ServerSettings
	Runner  RunnerSettings
	Players []PlayerConfig
}

// file mirrors Config with optional blocks
type file struct {
	Server  *ServerSettings `hcl:"server,block"`
	Runner  *RunnerSettings `hcl:"runner,block"`
	Players []PlayerConfig  `hcl:"player,block"`
}

// ServerSettings describes the game server binary and the per-match game config
type ServerSettings struct {
	Command          []string `hcl:"command,optional"`
	GameMode         string   `hcl:"game_mode,optional"`
	Seed             *int64   `hcl:"seed,optional"`
	DisconnectMarker string   `hcl:"disconnect_marker,optional"`
	ListenHost       string   `hcl:"listen_host,optional"`
	AcceptTimeout    *float64 `hcl:"accept_timeout,optional"`
	SingleTimeout    *float64 `hcl:"single_timeout,optional"`
	TotalTimeLimit   *float64 `hcl:"total_time_limit,optional"`
}

// RunnerSettings controls the batch: concurrency, ports, files and timeouts.
// Durations are Go duration strings ("2s", "15m").
type RunnerSettings struct {
	Workers       int    `hcl:"workers,optional"`
	Matches       int    `hcl:"matches,optional"`
	BasePort      int    `hcl:"base_port,optional"`
	PortStride    int    `hcl:"port_stride,optional"`
	WorkDir       string `hcl:"work_dir,optional"`
	Readiness     string `hcl:"readiness,optional"`
	StartupDelay  string `hcl:"startup_delay,optional"`
	ReadyTimeout  string `hcl:"ready_timeout,optional"`
	MatchTimeout  string `hcl:"match_timeout,optional"`
	ShutdownGrace string `hcl:"shutdown_grace,optional"`
	KillAfter     string `hcl:"kill_after,optional"`
	FailFast      bool   `hcl:"fail_fast,optional"`
	KeepResults   bool   `hcl:"keep_results,optional"`
}

// PlayerConfig is one participant. The label is the display name.
type PlayerConfig struct {
	Name    string   `hcl:"name,label"`
	Command []string `hcl:"command"`
	Token   *string  `hcl:"token,optional"`
}

// Default returns a configuration with every default applied and no players
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load loads configuration from an HCL file. A missing file yields the
// defaults so that everything can be supplied from flags.
func Load(filename string) (*Config, error) {
	if _, err := os.Stat(filename); errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}

	parser := hclparse.NewParser()
	hclFile, diags := parser.ParseHCLFile(filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file: %s", diags.Error())
	}

	var decoded file
	diags = gohcl.DecodeBody(hclFile.Body, nil, &decoded)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL: %s", diags.Error())
	}

	cfg := Config{Players: decoded.Players}
	if decoded.Server != nil {
		cfg.Server = *decoded.Server
	}
	if decoded.Runner != nil {
		cfg.Runner = *decoded.Runner
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.GameMode == "" {
		c.Server.GameMode = DefaultGameMode
	}
	if c.Server.DisconnectMarker == "" {
		c.Server.DisconnectMarker = DefaultDisconnectMarker
	}
	if c.Server.ListenHost == "" {
		c.Server.ListenHost = DefaultListenHost
	}

	r := &c.Runner
	if r.Workers == 0 {
		r.Workers = DefaultWorkers
	}
	if r.Matches == 0 {
		r.Matches = DefaultMatches
	}
	if r.BasePort == 0 {
		r.BasePort = DefaultBasePort
	}
	if r.PortStride == 0 {
		r.PortStride = DefaultPortStride
	}
	if r.WorkDir == "" {
		r.WorkDir = "."
	}
	if r.Readiness == "" {
		r.Readiness = ReadinessPort
	}
	if r.StartupDelay == "" {
		r.StartupDelay = DefaultStartupDelay.String()
	}
	if r.ReadyTimeout == "" {
		r.ReadyTimeout = DefaultReadyTimeout.String()
	}
	if r.MatchTimeout == "" {
		r.MatchTimeout = DefaultMatchTimeout.String()
	}
	if r.ShutdownGrace == "" {
		r.ShutdownGrace = DefaultShutdownGrace.String()
	}
	if r.KillAfter == "" {
		r.KillAfter = DefaultKillAfter.String()
	}
}

// Validate checks the configuration for a batch of the given size
func (c *Config) Validate(matches int) error {
	if len(c.Server.Command) == 0 || c.Server.Command[0] == "" {
		return fmt.Errorf("server command must be set")
	}
	if len(c.Players) == 0 {
		return fmt.Errorf("at least one player must be configured")
	}

	seen := make(map[string]bool, len(c.Players))
	for i, p := range c.Players {
		if len(p.Command) == 0 || p.Command[0] == "" {
			return fmt.Errorf("player %d (%s): command must be set", i, p.Name)
		}
		if p.Name != "" && seen[p.Name] {
			return fmt.Errorf("player %d: duplicate name %q", i, p.Name)
		}
		seen[p.Name] = true
	}

	r := c.Runner
	if r.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", r.Workers)
	}
	if r.BasePort < 1 || r.BasePort > maxPort {
		return fmt.Errorf("invalid base port: %d", r.BasePort)
	}
	if r.PortStride <= len(c.Players) {
		return fmt.Errorf("port stride %d must exceed player count %d", r.PortStride, len(c.Players))
	}
	if matches > 0 {
		highest := r.BasePort + (matches-1)*r.PortStride + len(c.Players) - 1
		if highest > maxPort {
			return fmt.Errorf("%d matches need ports up to %d, above %d", matches, highest, maxPort)
		}
	}

	switch r.Readiness {
	case ReadinessPort, ReadinessDelay:
	default:
		return fmt.Errorf("invalid readiness mode %q (want %q or %q)", r.Readiness, ReadinessPort, ReadinessDelay)
	}

	for name, value := range map[string]string{
		"startup_delay":  r.StartupDelay,
		"ready_timeout":  r.ReadyTimeout,
		"match_timeout":  r.MatchTimeout,
		"shutdown_grace": r.ShutdownGrace,
		"kill_after":     r.KillAfter,
	} {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("runner %s: %w", name, err)
		}
		if d < 0 {
			return fmt.Errorf("runner %s must not be negative", name)
		}
	}

	// Zero would leave a hung match holding its worker forever
	if r.MatchTimeoutDuration() <= 0 {
		return fmt.Errorf("runner match_timeout must be positive")
	}
	if r.Readiness == ReadinessPort && r.ReadyTimeoutDuration() <= 0 {
		return fmt.Errorf("runner ready_timeout must be positive with %q readiness", ReadinessPort)
	}

	return nil
}

// StartupDelayDuration returns the fixed readiness delay
func (r RunnerSettings) StartupDelayDuration() time.Duration {
	return parseOr(r.StartupDelay, DefaultStartupDelay)
}

// ReadyTimeoutDuration returns the bound on the active readiness check
func (r RunnerSettings) ReadyTimeoutDuration() time.Duration {
	return parseOr(r.ReadyTimeout, DefaultReadyTimeout)
}

// MatchTimeoutDuration returns the bound on completion detection
func (r RunnerSettings) MatchTimeoutDuration() time.Duration {
	return parseOr(r.MatchTimeout, DefaultMatchTimeout)
}

// ShutdownGraceDuration returns the wait between completion and termination
func (r RunnerSettings) ShutdownGraceDuration() time.Duration {
	return parseOr(r.ShutdownGrace, DefaultShutdownGrace)
}

// KillAfterDuration returns how long a process gets to exit after an interrupt
func (r RunnerSettings) KillAfterDuration() time.Duration {
	return parseOr(r.KillAfter, DefaultKillAfter)
}

func parseOr(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
