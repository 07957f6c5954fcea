// Package aggregate merges per-match results files into per-player totals.
package aggregate

import (
	"github.com/rs/zerolog"

	"github.com/lox/arenabench/internal/contract"
	"github.com/lox/arenabench/internal/fileutil"
	"github.com/lox/arenabench/internal/pool"
	"github.com/lox/arenabench/internal/registry"
	"github.com/lox/arenabench/internal/statistics"
)

// NoWinner is MatchReport.Winner when no player took part
const NoWinner = -1

// Reporter receives a report for every aggregated match, in match order
type Reporter interface {
	MatchReport(r MatchReport)
}

// PlayerLine is one player's row of a match report
type PlayerLine struct {
	ID          int
	Name        string
	Score       float64
	Place       float64
	Damage      float64
	Kills       float64
	FirstPlace  bool
	Wins        int
	FirstPlaces int
}

// MatchReport is the state after applying one match
type MatchReport struct {
	Index   int
	Total   int
	Winner  int
	Players []PlayerLine
}

// Failure is a match that was excluded from the totals
type Failure struct {
	Index int
	Err   error
}

// PlayerSummary is one player's line of the final report
type PlayerSummary struct {
	ID       int
	Name     string
	Stats    registry.Stats
	Averages registry.Averages
	Score    statistics.Summary
}

// Summary is the outcome of a whole batch
type Summary struct {
	Requested int
	Completed int
	Failed    int
	Players   []PlayerSummary
	Failures  []Failure
}

// Options configures an Aggregator
type Options struct {
	Reporter    Reporter
	KeepResults bool
}

// Aggregator folds results into the registry. It is not safe for concurrent
// use; the pool hands it outcomes only after every match has finished.
type Aggregator struct {
	registry *registry.Registry
	opts     Options
	logger   zerolog.Logger
	total    int
	scores   []statistics.Series
}

// New creates an aggregator over the registry's players
func New(reg *registry.Registry, opts Options, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		registry: reg,
		opts:     opts,
		logger:   logger.With().Str("component", "aggregate").Logger(),
		scores:   make([]statistics.Series, reg.Len()),
	}
}

// Aggregate applies every successful outcome in match-index order and
// returns the batch summary. Failed matches and unreadable results files are
// logged and excluded without touching any player.
func (a *Aggregator) Aggregate(outcomes []pool.Outcome) *Summary {
	a.total = len(outcomes)
	summary := &Summary{Requested: len(outcomes)}

	for _, o := range outcomes {
		if o.Err != nil {
			a.logger.Error().Err(o.Err).Int("match", o.Index).Msg("Match failed, excluded from results")
			summary.Failures = append(summary.Failures, Failure{Index: o.Index, Err: o.Err})
			continue
		}

		res, err := contract.ReadResults(o.ResultPath, a.registry.Len())
		if err != nil {
			a.logger.Error().Err(err).Int("match", o.Index).Str("path", o.ResultPath).Msg("Bad results file, excluded from results")
			summary.Failures = append(summary.Failures, Failure{Index: o.Index, Err: err})
			continue
		}

		report := a.Apply(o.Index, res)
		summary.Completed++

		if a.opts.Reporter != nil {
			a.opts.Reporter.MatchReport(report)
		}

		if !a.opts.KeepResults {
			if err := fileutil.RemoveIfExists(o.ResultPath); err != nil {
				a.logger.Warn().Err(err).Str("path", o.ResultPath).Msg("Failed to remove results file")
			}
		}
	}

	summary.Failed = len(summary.Failures)
	summary.Players = a.players(summary.Completed)
	return summary
}

// Apply records one validated match. The winner is the player with the
// strictly greatest score, the earliest registered on ties; first places are
// counted from place == 1 on their own.
func (a *Aggregator) Apply(index int, res *contract.Results) MatchReport {
	winner := NoWinner
	var best float64

	for _, p := range a.registry.Players() {
		line := res.Results.Players[p.ID]
		p.Record(registry.MatchStats{
			Score:  line.Score,
			Place:  line.Place,
			Damage: line.Damage,
			Kills:  line.Kills,
		})
		a.scores[p.ID].Add(line.Score)
		if winner == NoWinner || p.Last.Score > best {
			winner = p.ID
			best = p.Last.Score
		}
	}

	if p, ok := a.registry.Player(winner); ok {
		p.RecordWin()
	}

	report := MatchReport{
		Index:   index,
		Total:   a.total,
		Winner:  winner,
		Players: make([]PlayerLine, 0, a.registry.Len()),
	}
	for _, p := range a.registry.Players() {
		report.Players = append(report.Players, PlayerLine{
			ID:          p.ID,
			Name:        p.Name,
			Score:       p.Last.Score,
			Place:       p.Last.Place,
			Damage:      p.Last.Damage,
			Kills:       p.Last.Kills,
			FirstPlace:  p.Last.FirstPlace,
			Wins:        p.Stats.Wins,
			FirstPlaces: p.Stats.FirstPlaces,
		})
	}

	a.logger.Debug().Int("match", index).Int("winner", winner).Msg("Match aggregated")
	return report
}

func (a *Aggregator) players(matches int) []PlayerSummary {
	out := make([]PlayerSummary, 0, a.registry.Len())
	for _, p := range a.registry.Players() {
		if err := a.scores[p.ID].Validate(); err != nil {
			a.logger.Warn().Err(err).Str("player", p.Name).Msg("Score series out of step")
		}
		out = append(out, PlayerSummary{
			ID:       p.ID,
			Name:     p.Name,
			Stats:    p.Stats,
			Averages: p.Stats.Averages(matches),
			Score:    a.scores[p.ID].Summary(),
		})
	}
	return out
}
