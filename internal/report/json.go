package report

import (
	"time"

	"github.com/google/uuid"

	"github.com/lox/arenabench/internal/aggregate"
	"github.com/lox/arenabench/internal/fileutil"
	"github.com/lox/arenabench/internal/statistics"
)

// JSONReport is the machine readable form of a batch summary
type JSONReport struct {
	RunID     string        `json:"run_id"`
	StartedAt time.Time     `json:"started_at"`
	ElapsedMS int64         `json:"elapsed_ms"`
	Requested int           `json:"requested"`
	Completed int           `json:"completed"`
	Failed    int           `json:"failed"`
	Players   []JSONPlayer  `json:"players"`
	Failures  []JSONFailure `json:"failures,omitempty"`
}

// JSONPlayer is one player's totals and averages
type JSONPlayer struct {
	ID          int     `json:"id"`
	Name        string  `json:"name"`
	Matches     int     `json:"matches"`
	TotalScore  float64 `json:"total_score"`
	Wins        int     `json:"wins"`
	FirstPlaces int     `json:"first_places"`
	SumDamage   float64 `json:"sum_damage"`
	SumKills    float64 `json:"sum_kills"`
	SumPlace    float64 `json:"sum_place"`
	AvgScore    int64   `json:"avg_score"`
	AvgDamage   int64   `json:"avg_damage"`
	AvgKills    int64   `json:"avg_kills"`
	AvgPlace    int64   `json:"avg_place"`

	Score statistics.Summary `json:"score"`
}

// JSONFailure is a match excluded from the totals
type JSONFailure struct {
	Match int    `json:"match"`
	Error string `json:"error"`
}

// NewRunID returns a fresh run identifier
func NewRunID() string {
	return uuid.NewString()
}

// BuildJSON converts a summary into its JSON form
func BuildJSON(runID string, started time.Time, elapsed time.Duration, s *aggregate.Summary) *JSONReport {
	rep := &JSONReport{
		RunID:     runID,
		StartedAt: started.UTC(),
		ElapsedMS: elapsed.Milliseconds(),
		Requested: s.Requested,
		Completed: s.Completed,
		Failed:    s.Failed,
		Players:   make([]JSONPlayer, 0, len(s.Players)),
	}
	for _, p := range s.Players {
		rep.Players = append(rep.Players, JSONPlayer{
			ID:          p.ID,
			Name:        p.Name,
			Matches:     p.Stats.Matches,
			TotalScore:  p.Stats.TotalScore,
			Wins:        p.Stats.Wins,
			FirstPlaces: p.Stats.FirstPlaces,
			SumDamage:   p.Stats.SumDamage,
			SumKills:    p.Stats.SumKills,
			SumPlace:    p.Stats.SumPlace,
			AvgScore:    p.Averages.Score,
			AvgDamage:   p.Averages.Damage,
			AvgKills:    p.Averages.Kills,
			AvgPlace:    p.Averages.Place,
			Score:       p.Score,
		})
	}
	for _, f := range s.Failures {
		rep.Failures = append(rep.Failures, JSONFailure{Match: f.Index, Error: f.Err.Error()})
	}
	return rep
}

// WriteJSON writes the summary to path atomically
func WriteJSON(path, runID string, started time.Time, elapsed time.Duration, s *aggregate.Summary) error {
	return fileutil.WriteJSONAtomic(path, BuildJSON(runID, started, elapsed, s), 0644)
}
