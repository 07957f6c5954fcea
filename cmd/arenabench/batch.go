package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/lox/arenabench/internal/aggregate"
	"github.com/lox/arenabench/internal/config"
	"github.com/lox/arenabench/internal/contract"
	"github.com/lox/arenabench/internal/match"
	"github.com/lox/arenabench/internal/pool"
	"github.com/lox/arenabench/internal/registry"
	"github.com/lox/arenabench/internal/report"
)

var errAllFailed = errors.New("every match failed")

type batchOptions struct {
	Matches int
	JSONOut string
	NoColor bool
	Stdout  io.Writer
}

// runBatch plays the batch, aggregates the results and prints the report.
// The summary is returned even when the batch was aborted.
func runBatch(ctx context.Context, cfg *config.Config, opts batchOptions, logger zerolog.Logger) (*aggregate.Summary, error) {
	runID := report.NewRunID()
	logger = logger.With().Str("run", runID).Logger()

	specs := make([]registry.Spec, len(cfg.Players))
	for i, p := range cfg.Players {
		specs[i] = registry.Spec{Name: p.Name, Command: p.Command, Token: p.Token}
	}
	reg, err := registry.New(cfg.Runner.BasePort, specs)
	if err != nil {
		return nil, fmt.Errorf("failed to register players: %w", err)
	}

	if err := os.MkdirAll(cfg.Runner.WorkDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}

	runner := match.NewRunner(reg, runnerOptions(cfg), logger)

	policy := pool.Continue
	if cfg.Runner.FailFast {
		policy = pool.FailFast
	}

	logger.Info().
		Int("matches", opts.Matches).
		Int("workers", cfg.Runner.Workers).
		Int("players", reg.Len()).
		Str("policy", policy.String()).
		Msgf("Running %d matches", opts.Matches)

	start := time.Now()
	outcomes, runErr := pool.Run(ctx, runner, opts.Matches, pool.Options{
		Workers: cfg.Runner.Workers,
		Policy:  policy,
		Monitor: newProgressLogger(logger),
	})
	if runErr != nil {
		logger.Error().Err(runErr).Msg("Batch aborted")
	}

	reporter := report.New(opts.Stdout, report.Options{NoColor: opts.NoColor})
	agg := aggregate.New(reg, aggregate.Options{
		Reporter:    reporter,
		KeepResults: cfg.Runner.KeepResults,
	}, logger)

	summary := agg.Aggregate(outcomes)
	elapsed := time.Since(start)
	reporter.Final(summary, elapsed)

	if opts.JSONOut != "" {
		if err := report.WriteJSON(opts.JSONOut, runID, start, elapsed, summary); err != nil {
			return summary, fmt.Errorf("failed to write JSON report: %w", err)
		}
		logger.Info().Str("path", opts.JSONOut).Msg("Wrote JSON report")
	}

	if runErr != nil {
		return summary, runErr
	}
	if summary.Requested > 0 && summary.Completed == 0 {
		return summary, errAllFailed
	}
	return summary, nil
}

func runnerOptions(cfg *config.Config) match.Options {
	s, r := cfg.Server, cfg.Runner

	var readiness match.Readiness = match.PortReadiness{Timeout: r.ReadyTimeoutDuration()}
	if r.Readiness == config.ReadinessDelay {
		readiness = match.DelayReadiness{Delay: r.StartupDelayDuration()}
	}

	return match.Options{
		ServerCommand: s.Command,
		GameMode:      s.GameMode,
		Seed:          s.Seed,
		Timeouts: contract.Timeouts{
			Accept:    s.AcceptTimeout,
			Single:    s.SingleTimeout,
			TotalTime: s.TotalTimeLimit,
		},
		ListenHost:       s.ListenHost,
		DisconnectMarker: s.DisconnectMarker,
		WorkDir:          r.WorkDir,
		PortStride:       r.PortStride,
		Readiness:        readiness,
		MatchTimeout:     r.MatchTimeoutDuration(),
		ShutdownGrace:    r.ShutdownGraceDuration(),
		KillAfter:        r.KillAfterDuration(),
	}
}
