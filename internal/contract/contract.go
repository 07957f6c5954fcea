// Package contract defines the JSON files exchanged with the game server: the
// per-match config it reads and the results file it writes.
package contract

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var (
	// ErrShortResults is returned when a results file lists fewer players than
	// are registered.
	ErrShortResults = errors.New("results file has fewer players than registered")

	// ErrMalformedResults is returned when a player entry is null or lacks
	// one of its fields.
	ErrMalformedResults = errors.New("malformed player result")
)

// ConfigFileName is the per-match server config file name
func ConfigFileName(index int) string {
	return fmt.Sprintf("parallel_conf_%d.json", index)
}

// ResultFileName is the per-match results file name
func ResultFileName(index int) string {
	return fmt.Sprintf("result_parallel_%d.json", index)
}

// ConfigPath joins dir and the config file name for a match
func ConfigPath(dir string, index int) string {
	return filepath.Join(dir, ConfigFileName(index))
}

// ResultPath joins dir and the results file name for a match
func ResultPath(dir string, index int) string {
	return filepath.Join(dir, ResultFileName(index))
}

// GameConfig is the server's --config file
type GameConfig struct {
	Seed    *int64         `json:"seed"`
	Game    GameSelection  `json:"game"`
	Players []PlayerConfig `json:"players"`
}

// GameSelection picks the game mode
type GameSelection struct {
	Create string `json:"Create"`
}

// PlayerConfig wraps a player's transport; only TCP is used
type PlayerConfig struct {
	TCP *TCPPlayer `json:"Tcp"`
}

// TCPPlayer is a player slot the server listens on. Nil fields are written
// as null and left to the server's defaults.
type TCPPlayer struct {
	Host           *string  `json:"host"`
	Port           int      `json:"port"`
	AcceptTimeout  *float64 `json:"accept_timeout"`
	SingleTimeout  *float64 `json:"single_timeout"`
	TotalTimeLimit *float64 `json:"total_time_limit"`
	Token          *string  `json:"token"`
	Run            *string  `json:"run"`
}

// Endpoint is one player slot of a match
type Endpoint struct {
	Host  string
	Port  int
	Token *string
}

// Timeouts are applied to every player slot
type Timeouts struct {
	Accept    *float64
	Single    *float64
	TotalTime *float64
}

// NewGameConfig builds the server config for one match
func NewGameConfig(mode string, seed *int64, timeouts Timeouts, endpoints []Endpoint) *GameConfig {
	cfg := &GameConfig{
		Seed:    seed,
		Game:    GameSelection{Create: mode},
		Players: make([]PlayerConfig, 0, len(endpoints)),
	}
	for _, ep := range endpoints {
		tcp := &TCPPlayer{
			Port:           ep.Port,
			AcceptTimeout:  timeouts.Accept,
			SingleTimeout:  timeouts.Single,
			TotalTimeLimit: timeouts.TotalTime,
			Token:          ep.Token,
		}
		if ep.Host != "" {
			host := ep.Host
			tcp.Host = &host
		}
		cfg.Players = append(cfg.Players, PlayerConfig{TCP: tcp})
	}
	return cfg
}

// Results is the server's --save-results file
type Results struct {
	Results MatchResults `json:"results"`
}

// MatchResults holds one entry per player, in player ID order
type MatchResults struct {
	Players []PlayerResult `json:"players"`
}

// PlayerResult is one player's outcome. Place 1 is first.
type PlayerResult struct {
	Score  float64 `json:"score"`
	Place  float64 `json:"place"`
	Damage float64 `json:"damage"`
	Kills  float64 `json:"kills"`
}

// rawPlayerResult keeps absent fields distinguishable from zero
type rawPlayerResult struct {
	Score  *float64 `json:"score"`
	Place  *float64 `json:"place"`
	Damage *float64 `json:"damage"`
	Kills  *float64 `json:"kills"`
}

type rawResults struct {
	Results struct {
		Players []*rawPlayerResult `json:"players"`
	} `json:"results"`
}

// ReadResults reads and validates a results file for the given number of
// players. Every registered player's entry must carry score, place, damage
// and kills; entries past the registered players are dropped.
func ReadResults(path string, players int) (*Results, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read results file: %w", err)
	}

	var raw rawResults
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse results JSON %s: %w", path, err)
	}

	entries := raw.Results.Players
	if got := len(entries); got < players {
		return nil, fmt.Errorf("%s: %w (got %d, want %d)", path, ErrShortResults, got, players)
	}

	res := &Results{Results: MatchResults{Players: make([]PlayerResult, 0, players)}}
	for i, entry := range entries[:players] {
		if entry == nil {
			return nil, fmt.Errorf("%s: %w: player %d is null", path, ErrMalformedResults, i)
		}
		if missing := entry.missing(); len(missing) > 0 {
			return nil, fmt.Errorf("%s: %w: player %d missing %v", path, ErrMalformedResults, i, missing)
		}
		res.Results.Players = append(res.Results.Players, PlayerResult{
			Score:  *entry.Score,
			Place:  *entry.Place,
			Damage: *entry.Damage,
			Kills:  *entry.Kills,
		})
	}

	return res, nil
}

func (r *rawPlayerResult) missing() []string {
	var fields []string
	if r.Score == nil {
		fields = append(fields, "score")
	}
	if r.Place == nil {
		fields = append(fields, "place")
	}
	if r.Damage == nil {
		fields = append(fields, "damage")
	}
	if r.Kills == nil {
		fields = append(fields, "kills")
	}
	return fields
}
