// Package report renders match and batch results as terminal tables.
package report

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/muesli/termenv"

	"github.com/lox/arenabench/internal/aggregate"
)

// Options configures a Reporter
type Options struct {
	NoColor bool
}

// Styles for report output
type Styles struct {
	Title  lipgloss.Style
	Header lipgloss.Style
	Label  lipgloss.Style
	Cell   lipgloss.Style
	Winner lipgloss.Style
	Border lipgloss.Style
	Error  lipgloss.Style
	Info   lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) Styles {
	return Styles{
		Title: r.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Bold(true).
			Padding(0, 1),
		Header: r.NewStyle().
			Foreground(lipgloss.Color("#FFD700")).
			Bold(true).
			Padding(0, 1),
		Label: r.NewStyle().
			Foreground(lipgloss.Color("#96CEB4")).
			Padding(0, 1),
		Cell: r.NewStyle().
			Padding(0, 1).
			Align(lipgloss.Right),
		Winner: r.NewStyle().
			Foreground(lipgloss.Color("#96CEB4")).
			Bold(true).
			Padding(0, 1).
			Align(lipgloss.Right),
		Border: r.NewStyle().
			Foreground(lipgloss.Color("#626262")),
		Error: r.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B")).
			Bold(true),
		Info: r.NewStyle().
			Foreground(lipgloss.Color("#626262")),
	}
}

// Reporter writes tables to out. It implements aggregate.Reporter.
type Reporter struct {
	out      io.Writer
	renderer *lipgloss.Renderer
	styles   Styles
}

// New creates a reporter writing to out
func New(out io.Writer, opts Options) *Reporter {
	renderer := lipgloss.NewRenderer(out)
	if opts.NoColor {
		renderer.SetColorProfile(termenv.Ascii)
	}
	return &Reporter{
		out:      out,
		renderer: renderer,
		styles:   newStyles(renderer),
	}
}

// MatchReport prints the table for one aggregated match
func (r *Reporter) MatchReport(m aggregate.MatchReport) {
	rows := [][]string{
		row("Score", m.Players, func(p aggregate.PlayerLine) string { return Number(p.Score) }),
		row("Place", m.Players, func(p aggregate.PlayerLine) string { return Number(p.Place) }),
		row("Damage", m.Players, func(p aggregate.PlayerLine) string { return Number(p.Damage) }),
		row("Kills", m.Players, func(p aggregate.PlayerLine) string { return Number(p.Kills) }),
		row("S_Wins", m.Players, func(p aggregate.PlayerLine) string { return strconv.Itoa(p.Wins) }),
		row("S_First", m.Players, func(p aggregate.PlayerLine) string { return strconv.Itoa(p.FirstPlaces) }),
	}

	names := make([]string, len(m.Players))
	for i, p := range m.Players {
		names[i] = p.Name
	}

	fmt.Fprintln(r.out, r.styles.Title.Render(fmt.Sprintf("match number %d from %d", m.Index+1, m.Total)))
	fmt.Fprintln(r.out, r.table(names, rows, m.Winner))
}

// Final prints the batch totals, failures and elapsed time
func (r *Reporter) Final(s *aggregate.Summary, elapsed time.Duration) {
	rows := [][]string{
		row("Score", s.Players, func(p aggregate.PlayerSummary) string { return Number(p.Stats.TotalScore) }),
		row("Wins", s.Players, func(p aggregate.PlayerSummary) string { return strconv.Itoa(p.Stats.Wins) }),
		row("First", s.Players, func(p aggregate.PlayerSummary) string { return strconv.Itoa(p.Stats.FirstPlaces) }),
		row("Avg_Score", s.Players, func(p aggregate.PlayerSummary) string { return strconv.FormatInt(p.Averages.Score, 10) }),
		row("Avg_Damage", s.Players, func(p aggregate.PlayerSummary) string { return strconv.FormatInt(p.Averages.Damage, 10) }),
		row("Avg_Kills", s.Players, func(p aggregate.PlayerSummary) string { return strconv.FormatInt(p.Averages.Kills, 10) }),
		row("Avg_Place", s.Players, func(p aggregate.PlayerSummary) string { return strconv.FormatInt(p.Averages.Place, 10) }),
	}

	names := make([]string, len(s.Players))
	for i, p := range s.Players {
		names[i] = p.Name
	}

	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, r.styles.Title.Render(fmt.Sprintf("Final Results %d matches", s.Requested)))
	fmt.Fprintln(r.out, r.table(names, rows, leader(s.Players)))

	if s.Failed > 0 {
		fmt.Fprintln(r.out, r.styles.Error.Render(fmt.Sprintf("%d of %d matches failed", s.Failed, s.Requested)))
		for _, f := range s.Failures {
			fmt.Fprintf(r.out, "  match %d: %v\n", f.Index+1, f.Err)
		}
	}

	fmt.Fprintln(r.out, r.styles.Info.Render(Elapsed(s.Requested, elapsed)))
}

func (r *Reporter) table(names []string, rows [][]string, highlight int) string {
	headers := append([]string{"Name"}, names...)
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(r.styles.Border).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return r.styles.Header
			case col == 0:
				return r.styles.Label
			case col-1 == highlight:
				return r.styles.Winner
			default:
				return r.styles.Cell
			}
		})
	return t.String()
}

// row is a table row: the label, then one cell per player
func row[T any](label string, players []T, value func(T) string) []string {
	out := make([]string, 0, len(players)+1)
	out = append(out, label)
	for _, p := range players {
		out = append(out, value(p))
	}
	return out
}

// leader returns the ID with the most total score, or aggregate.NoWinner
func leader(players []aggregate.PlayerSummary) int {
	best := aggregate.NoWinner
	var score float64
	for _, p := range players {
		if p.Stats.Matches == 0 {
			continue
		}
		if best == aggregate.NoWinner || p.Stats.TotalScore > score {
			best = p.ID
			score = p.Stats.TotalScore
		}
	}
	return best
}

// Number formats a result value truncated to an integer
func Number(v float64) string {
	return strconv.FormatInt(int64(math.Trunc(v)), 10)
}

// Elapsed formats the batch duration as "<N> matches. <m>:<ss>"
func Elapsed(matches int, d time.Duration) string {
	secs := int64(d / time.Second)
	return fmt.Sprintf("%d matches. %d:%02d", matches, secs/60, secs%60)
}
