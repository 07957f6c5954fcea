// Package match runs a single game: one server process and one client per
// player, torn down once every client has disconnected.
package match

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"

	"github.com/lox/arenabench/internal/contract"
	"github.com/lox/arenabench/internal/fileutil"
	"github.com/lox/arenabench/internal/registry"
	"github.com/lox/arenabench/internal/spawner"
)

// DefaultMatchTimeout bounds a match when Options leaves it unset
const DefaultMatchTimeout = 15 * time.Minute

// BatchModeFlag makes the server run without its viewer
const BatchModeFlag = "--batch-mode"

// ClientHost is the address clients connect to
const ClientHost = "127.0.0.1"

// Environment passed to every client
const (
	EnvMatch    = "ARENABENCH_MATCH"
	EnvPlayerID = "ARENABENCH_PLAYER_ID"
	EnvPort     = "ARENABENCH_PORT"
)

// Options configures a Runner
type Options struct {
	ServerCommand    []string
	GameMode         string
	Seed             *int64 // match i uses Seed+i; nil leaves the seed to the server
	Timeouts         contract.Timeouts
	ListenHost       string
	DisconnectMarker string
	WorkDir          string
	PortStride       int

	Readiness     Readiness
	MatchTimeout  time.Duration
	ShutdownGrace time.Duration
	KillAfter     time.Duration

	Clock quartz.Clock
}

// Runner runs matches for a fixed set of players. It holds no per-match
// state, so RunMatch may be called concurrently for different indexes.
type Runner struct {
	opts     Options
	registry *registry.Registry
	logger   zerolog.Logger
}

// NewRunner creates a runner for the registry's players
func NewRunner(reg *registry.Registry, opts Options, logger zerolog.Logger) *Runner {
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	if opts.WorkDir == "" {
		opts.WorkDir = "."
	}
	if opts.PortStride <= 0 {
		opts.PortStride = 10
	}
	if opts.Readiness == nil {
		opts.Readiness = DelayReadiness{Clock: opts.Clock, Delay: 2 * time.Second}
	}
	if opts.MatchTimeout <= 0 {
		opts.MatchTimeout = DefaultMatchTimeout
	}
	return &Runner{
		opts:     opts,
		registry: reg,
		logger:   logger.With().Str("component", "match").Logger(),
	}
}

// PortOffset is the port shift of a match
func (r *Runner) PortOffset(index int) int {
	return index * r.opts.PortStride
}

// RunMatch plays match index to completion and returns the path of its
// results file. The config file is always removed; the results file is
// removed too when the match fails.
func (r *Runner) RunMatch(ctx context.Context, index int) (_ string, err error) {
	logger := r.logger.With().Int("match", index).Logger()
	offset := r.PortOffset(index)
	configPath := contract.ConfigPath(r.opts.WorkDir, index)
	resultPath := contract.ResultPath(r.opts.WorkDir, index)

	if err := fileutil.RemoveIfExists(resultPath); err != nil {
		return "", &Error{Index: index, Op: "clear stale results", Err: err}
	}
	if err := fileutil.WriteJSONAtomic(configPath, r.GameConfig(index), 0644); err != nil {
		return "", &Error{Index: index, Op: "write config", Err: err}
	}

	procs := spawner.NewGroup(logger)
	defer func() {
		if n := procs.ActiveCount(); n > 0 {
			logger.Debug().Int("running", n).Msg("Stopping match processes")
		}
		if stopErr := procs.StopAll(); stopErr != nil {
			logger.Warn().Err(stopErr).Msg("Failed to stop match processes")
		}
		if rmErr := fileutil.RemoveIfExists(configPath); rmErr != nil {
			logger.Warn().Err(rmErr).Str("path", configPath).Msg("Failed to remove config file")
		}
		if err != nil {
			if rmErr := fileutil.RemoveIfExists(resultPath); rmErr != nil {
				logger.Warn().Err(rmErr).Str("path", resultPath).Msg("Failed to remove results of failed match")
			}
		}
	}()

	detector := NewDisconnectDetector(r.opts.DisconnectMarker, r.registry.Len())
	server := spawner.NewProcess(ctx, "server", r.serverArgv(configPath, resultPath), logger,
		spawner.WithClock(r.opts.Clock),
		spawner.WithKillAfter(r.opts.KillAfter),
		spawner.WithOutput(func(line string) {
			if detector.Observe(line) {
				logger.Debug().
					Int("disconnects", detector.Count()).
					Int("clients", detector.Want()).
					Msg("Client disconnected")
			}
		}),
	)
	procs.Add(server)

	logger.Info().Int("port_offset", offset).Msg("Starting match")
	if err := server.Start(); err != nil {
		return "", &Error{Index: index, Op: "launch server", Err: err}
	}

	perPort := false
	if pr, ok := r.opts.Readiness.(PerPortReadiness); ok {
		perPort = pr.PerPort()
	}
	if !perPort {
		if err := r.waitReady(ctx, server, r.registry.Ports(offset)); err != nil {
			return "", &Error{Index: index, Op: "wait for server", Err: err}
		}
	}

	for _, p := range r.registry.Players() {
		port := p.Port + offset
		if perPort {
			if err := r.waitReady(ctx, server, []int{port}); err != nil {
				return "", &Error{Index: index, Player: p.Name, Op: "wait for server", Err: err}
			}
		}

		argv := append(append([]string(nil), p.Command...), ClientHost, strconv.Itoa(port))
		client := spawner.NewProcess(ctx, "client-"+p.Name, argv, logger,
			spawner.WithClock(r.opts.Clock),
			spawner.WithKillAfter(r.opts.KillAfter),
			spawner.WithEnv(map[string]string{
				EnvMatch:    strconv.Itoa(index),
				EnvPlayerID: strconv.Itoa(p.ID),
				EnvPort:     strconv.Itoa(port),
			}),
		)
		procs.Add(client)

		logger.Debug().Str("player", p.Name).Int("port", port).Msg("Starting client")
		if err := client.Start(); err != nil {
			return "", &Error{Index: index, Player: p.Name, Op: "launch client", Err: err}
		}
	}

	if err := r.awaitCompletion(ctx, server, detector, resultPath, logger); err != nil {
		return "", &Error{Index: index, Op: "await completion", Err: err}
	}

	if err := sleep(ctx, r.opts.Clock, r.opts.ShutdownGrace, "match", "grace"); err != nil {
		return "", &Error{Index: index, Op: "shutdown grace", Err: err}
	}

	if err := procs.StopAll(); err != nil {
		logger.Warn().Err(err).Msg("Failed to stop match processes")
	}

	logger.Info().Str("results", resultPath).Msg("Match ends")
	return resultPath, nil
}

// GameConfig builds the server config for match index
func (r *Runner) GameConfig(index int) *contract.GameConfig {
	offset := r.PortOffset(index)
	endpoints := make([]contract.Endpoint, 0, r.registry.Len())
	for _, p := range r.registry.Players() {
		endpoints = append(endpoints, contract.Endpoint{
			Host:  r.opts.ListenHost,
			Port:  p.Port + offset,
			Token: p.Token,
		})
	}

	var seed *int64
	if r.opts.Seed != nil {
		s := *r.opts.Seed + int64(index)
		seed = &s
	}

	return contract.NewGameConfig(r.opts.GameMode, seed, r.opts.Timeouts, endpoints)
}

func (r *Runner) serverArgv(configPath, resultPath string) []string {
	argv := append([]string(nil), r.opts.ServerCommand...)
	return append(argv, "--config", configPath, "--save-results", resultPath, BatchModeFlag)
}

// waitReady runs the readiness check on ports, giving up early if the server
// exits
func (r *Runner) waitReady(ctx context.Context, server *spawner.Process, ports []int) error {
	readyCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-server.Done():
			cancel()
		case <-readyCtx.Done():
		}
	}()

	host := r.opts.ListenHost
	if host == "" {
		host = ClientHost
	}

	err := r.opts.Readiness.Wait(readyCtx, host, ports)
	if err != nil && !server.IsAlive() && ctx.Err() == nil {
		return fmt.Errorf("%w: %v", ErrServerExited, server.ExitErr())
	}
	return err
}

// awaitCompletion blocks until every client has disconnected, the server
// exits, the match timeout fires or ctx is done.
func (r *Runner) awaitCompletion(ctx context.Context, server *spawner.Process, detector *DisconnectDetector, resultPath string, logger zerolog.Logger) error {
	timer := r.opts.Clock.NewTimer(r.opts.MatchTimeout, "match", "timeout")
	defer timer.Stop()

	select {
	case <-detector.Done():
		logger.Debug().Int("disconnects", detector.Count()).Msg("All clients disconnected")
		return nil

	case <-server.Done():
		if err := ctx.Err(); err != nil {
			return err
		}
		// Output is fully drained once the server is done
		select {
		case <-detector.Done():
			return nil
		default:
		}
		if _, err := os.Stat(resultPath); err == nil {
			logger.Debug().Msg("Server exited after writing results")
			return nil
		}
		return fmt.Errorf("%w after %d of %d disconnects: %v",
			ErrServerExited, detector.Count(), detector.Want(), server.ExitErr())

	case <-timer.C:
		logger.Error().
			Dur("timeout", r.opts.MatchTimeout).
			Int("disconnects", detector.Count()).
			Int("clients", detector.Want()).
			Msg("Match timed out, terminating processes")
		return fmt.Errorf("%w after %s (%d of %d disconnects)",
			ErrMatchTimeout, r.opts.MatchTimeout, detector.Count(), detector.Want())

	case <-ctx.Done():
		return ctx.Err()
	}
}
