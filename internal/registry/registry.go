// Package registry holds the participants of a bench run and their statistics.
package registry

import (
	"fmt"
	"math"
)

// Spec describes a participant before registration
type Spec struct {
	Name    string
	Command []string
	Token   *string
}

// MatchStats is one player's line of a single match result
type MatchStats struct {
	Score      float64
	Place      float64
	Damage     float64
	Kills      float64
	FirstPlace bool
}

// Stats accumulates a player's results over the batch
type Stats struct {
	Matches     int
	TotalScore  float64
	Wins        int
	FirstPlaces int
	SumPlace    float64
	SumDamage   float64
	SumKills    float64
}

// Averages are per-match averages truncated toward zero
type Averages struct {
	Score  int64
	Damage int64
	Kills  int64
	Place  int64
}

// Player is a registered participant. ID indexes the result file's player
// array and never changes.
type Player struct {
	ID      int
	Name    string
	Command []string
	Token   *string
	Port    int

	Stats Stats
	Last  MatchStats
}

// Registry is the ordered, fixed set of players
type Registry struct {
	players  []*Player
	basePort int
}

// New registers the specs in order. Player i gets ID i and port basePort+i.
func New(basePort int, specs []Spec) (*Registry, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("no players to register")
	}

	r := &Registry{
		players:  make([]*Player, 0, len(specs)),
		basePort: basePort,
	}
	for id, spec := range specs {
		if len(spec.Command) == 0 {
			return nil, fmt.Errorf("player %d: empty command", id)
		}
		name := spec.Name
		if name == "" {
			name = fmt.Sprintf("p%d", id)
		}
		r.players = append(r.players, &Player{
			ID:      id,
			Name:    name,
			Command: append([]string(nil), spec.Command...),
			Token:   spec.Token,
			Port:    basePort + id,
		})
	}
	return r, nil
}

// Players returns the players in ID order
func (r *Registry) Players() []*Player {
	return r.players
}

// Len returns the number of players
func (r *Registry) Len() int {
	return len(r.players)
}

// Player returns the player with the given ID
func (r *Registry) Player(id int) (*Player, bool) {
	if id < 0 || id >= len(r.players) {
		return nil, false
	}
	return r.players[id], true
}

// Ports returns every player's port shifted by offset, in ID order
func (r *Registry) Ports(offset int) []int {
	ports := make([]int, len(r.players))
	for i, p := range r.players {
		ports[i] = p.Port + offset
	}
	return ports
}

// Names returns the display names in ID order
func (r *Registry) Names() []string {
	names := make([]string, len(r.players))
	for i, p := range r.players {
		names[i] = p.Name
	}
	return names
}

// Record stores a match line as the player's last result and adds it to the
// running totals.
func (p *Player) Record(m MatchStats) {
	m.FirstPlace = m.Place == 1
	p.Last = m

	p.Stats.Matches++
	p.Stats.TotalScore += m.Score
	p.Stats.SumPlace += m.Place
	p.Stats.SumDamage += m.Damage
	p.Stats.SumKills += m.Kills
	if m.FirstPlace {
		p.Stats.FirstPlaces++
	}
}

// RecordWin counts a match win (highest score)
func (p *Player) RecordWin() {
	p.Stats.Wins++
}

// Averages divides the totals by matches, truncating
func (s Stats) Averages(matches int) Averages {
	if matches <= 0 {
		return Averages{}
	}
	return Averages{
		Score:  TruncDiv(s.TotalScore, matches),
		Damage: TruncDiv(s.SumDamage, matches),
		Kills:  TruncDiv(s.SumKills, matches),
		Place:  TruncDiv(s.SumPlace, matches),
	}
}

// TruncDiv returns sum/n truncated toward zero
func TruncDiv(sum float64, n int) int64 {
	if n == 0 {
		return 0
	}
	return int64(math.Trunc(sum / float64(n)))
}
