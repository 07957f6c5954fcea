package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"

	"github.com/lox/arenabench/internal/config"
)

// version is set by ldflags during build
var version = "dev"

type CLI struct {
	Version kong.VersionFlag `short:"v" help:"Show version"`

	Matches string `arg:"" optional:"" help:"Number of matches to run (defaults to runner.matches)"`

	Config       string        `short:"c" default:"arenabench.hcl" type:"path" help:"HCL configuration file"`
	Server       string        `help:"Game server command, overrides server.command"`
	Player       []string      `help:"Player as name=command, repeatable; replaces configured players"`
	Workers      int           `help:"Matches to run at once"`
	WorkDir      string        `type:"path" help:"Directory for per-match config and results files"`
	MatchTimeout time.Duration `help:"Give up on a match after this long"`
	Readiness    string        `help:"Server readiness check (port|delay)"`
	FailFast     bool          `help:"Stop the batch on the first failed match"`
	KeepResults  bool          `help:"Keep results files after aggregation"`
	JSONOut      string        `name:"json-out" type:"path" help:"Also write the final report as JSON"`
	NoColor      bool          `help:"Disable colours in the report"`
	Debug        bool          `help:"Enable debug logging"`
	JSONLogs     bool          `name:"json-logs" help:"Log JSON instead of console output"`
	Validate     bool          `help:"Check configuration and binaries, then exit"`

	stdout io.Writer
	stderr io.Writer
}

func main() {
	cli := CLI{stdout: os.Stdout, stderr: os.Stderr}
	ctx := kong.Parse(&cli,
		kong.Name("arenabench"),
		kong.Description("Run batches of matches between bot clients and report aggregate results"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Vars{
			"version": version,
		},
	)
	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}

func (c *CLI) Run() error {
	logger := setupLogger(c.stderr, c.Debug, c.JSONLogs)

	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}

	matches := resolveMatches(c.Matches, cfg.Runner.Matches, logger)
	if err := cfg.Validate(matches); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Validate {
		if err := checkBinaries(cfg); err != nil {
			return err
		}
		logger.Info().
			Int("players", len(cfg.Players)).
			Int("matches", matches).
			Msg("Configuration is valid")
		return nil
	}

	ctx, stop := signalContext(logger)
	defer stop()

	_, err = runBatch(ctx, cfg, batchOptions{
		Matches: matches,
		JSONOut: c.JSONOut,
		NoColor: c.NoColor,
		Stdout:  c.stdout,
	}, logger)
	return err
}

// loadConfig reads the config file and applies flag overrides
func (c *CLI) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", c.Config, err)
	}

	if c.Server != "" {
		cfg.Server.Command = strings.Fields(c.Server)
	}
	if len(c.Player) > 0 {
		players, err := parsePlayers(c.Player)
		if err != nil {
			return nil, err
		}
		cfg.Players = players
	}
	if c.Workers > 0 {
		cfg.Runner.Workers = c.Workers
	}
	if c.WorkDir != "" {
		cfg.Runner.WorkDir = c.WorkDir
	}
	if c.MatchTimeout > 0 {
		cfg.Runner.MatchTimeout = c.MatchTimeout.String()
	}
	if c.Readiness != "" {
		cfg.Runner.Readiness = c.Readiness
	}
	if c.FailFast {
		cfg.Runner.FailFast = true
	}
	if c.KeepResults {
		cfg.Runner.KeepResults = true
	}
	return cfg, nil
}

// parsePlayers turns name=command flags into players. A value without '='
// is a command for an unnamed player.
func parsePlayers(values []string) ([]config.PlayerConfig, error) {
	players := make([]config.PlayerConfig, 0, len(values))
	for _, v := range values {
		name, command, found := strings.Cut(v, "=")
		if !found {
			name, command = "", v
		}
		argv := strings.Fields(command)
		if len(argv) == 0 {
			return nil, fmt.Errorf("player %q: missing command", v)
		}
		players = append(players, config.PlayerConfig{
			Name:    strings.TrimSpace(name),
			Command: argv,
		})
	}
	return players, nil
}

// resolveMatches parses the positional match count. Anything that is not a
// non-negative integer falls back to the default.
func resolveMatches(arg string, fallback int, logger zerolog.Logger) int {
	if arg == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || n < 0 {
		logger.Warn().Str("matches", arg).Int("default", fallback).Msg("Can't parse number of matches, using default")
		return fallback
	}
	return n
}

// checkBinaries verifies that the server and every client can be executed
func checkBinaries(cfg *config.Config) error {
	var errs []error
	if _, err := exec.LookPath(cfg.Server.Command[0]); err != nil {
		errs = append(errs, fmt.Errorf("server: %w", err))
	}
	for i, p := range cfg.Players {
		if _, err := exec.LookPath(p.Command[0]); err != nil {
			name := p.Name
			if name == "" {
				name = strconv.Itoa(i)
			}
			errs = append(errs, fmt.Errorf("player %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
