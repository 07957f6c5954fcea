package main

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lox/arenabench/internal/pool"
)

// progressLogger logs match starts and completions as the pool reports them
type progressLogger struct {
	mu        sync.Mutex
	logger    zerolog.Logger
	startTime time.Time
	failed    int
}

func newProgressLogger(logger zerolog.Logger) *progressLogger {
	return &progressLogger{
		logger:    logger.With().Str("component", "progress").Logger(),
		startTime: time.Now(),
	}
}

func (p *progressLogger) OnMatchStart(index, total int) {
	p.logger.Debug().Int("match", index).Int("total", total).Msg("Match started")
}

func (p *progressLogger) OnMatchDone(o pool.Outcome, completed, total int) {
	p.mu.Lock()
	if o.Err != nil {
		p.failed++
	}
	failed := p.failed
	p.mu.Unlock()

	var event *zerolog.Event
	if o.Err != nil {
		event = p.logger.Warn().Err(o.Err)
	} else {
		event = p.logger.Info()
	}
	event.
		Int("match", o.Index).
		Int("done", completed).
		Int("total", total).
		Int("failed", failed).
		Dur("took", o.Duration).
		Dur("elapsed", time.Since(p.startTime)).
		Msgf("Match %d finished", o.Index+1)
}
