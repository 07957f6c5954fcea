package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/arenabench/internal/aggregate"
	"github.com/lox/arenabench/internal/registry"
	"github.com/lox/arenabench/internal/statistics"
)

func testSummary() *aggregate.Summary {
	return &aggregate.Summary{
		Requested: 3,
		Completed: 2,
		Failed:    1,
		Players: []aggregate.PlayerSummary{
			{
				ID:       0,
				Name:     "P_1",
				Stats:    registry.Stats{Matches: 2, TotalScore: 35, Wins: 1, FirstPlaces: 1, SumDamage: 8, SumKills: 1, SumPlace: 3},
				Averages: registry.Averages{Score: 17, Damage: 4, Kills: 0, Place: 1},
			},
			{
				ID:       1,
				Name:     "P_2",
				Stats:    registry.Stats{Matches: 2, TotalScore: 36, Wins: 1, FirstPlaces: 1, SumDamage: 6, SumKills: 2, SumPlace: 3},
				Averages: registry.Averages{Score: 18, Damage: 3, Kills: 1, Place: 1},
				Score:    statistics.Summary{Matches: 2, Mean: 18, StdDev: 1.41, Median: 18},
			},
		},
		Failures: []aggregate.Failure{{Index: 2, Err: errors.New("match 2: await completion: match timed out")}},
	}
}

func TestMatchReport(t *testing.T) {
	var buf bytes.Buffer
	r := New(&buf, Options{NoColor: true})

	r.MatchReport(aggregate.MatchReport{
		Index:  0,
		Total:  2,
		Winner: 0,
		Players: []aggregate.PlayerLine{
			{ID: 0, Name: "P_1", Score: 20.7, Place: 1, Damage: 5, Kills: 1, FirstPlace: true, Wins: 1, FirstPlaces: 1},
			{ID: 1, Name: "P_2", Score: 10, Place: 2, Damage: 2, Kills: 0},
		},
	})

	out := buf.String()
	assert.Contains(t, out, "match number 1 from 2")
	for _, label := range []string{"Name", "Score", "Place", "Damage", "Kills", "S_Wins", "S_First", "P_1", "P_2"} {
		assert.Contains(t, out, label)
	}
	assert.Contains(t, out, "20")
	assert.NotContains(t, out, "20.7")
	assert.NotContains(t, out, "\x1b[", "no escape codes without colour")
}

func TestFinalReport(t *testing.T) {
	var buf bytes.Buffer
	r := New(&buf, Options{NoColor: true})

	r.Final(testSummary(), 125*time.Second)

	out := buf.String()
	assert.Contains(t, out, "Final Results 3 matches")
	for _, label := range []string{"Wins", "First", "Avg_Score", "Avg_Damage", "Avg_Kills", "Avg_Place"} {
		assert.Contains(t, out, label)
	}
	assert.Contains(t, out, "35")
	assert.Contains(t, out, "1 of 3 matches failed")
	assert.Contains(t, out, "match 3: ")
	assert.Contains(t, out, "3 matches. 2:05")
}

func TestElapsed(t *testing.T) {
	assert.Equal(t, "2 matches. 0:00", Elapsed(2, 0))
	assert.Equal(t, "2 matches. 0:59", Elapsed(2, 59*time.Second+900*time.Millisecond))
	assert.Equal(t, "10 matches. 61:01", Elapsed(10, 61*time.Minute+time.Second))
}

func TestNumber(t *testing.T) {
	assert.Equal(t, "17", Number(17.9))
	assert.Equal(t, "-3", Number(-3.5))
	assert.Equal(t, "0", Number(0))
}

func TestLeader(t *testing.T) {
	s := testSummary()
	assert.Equal(t, 1, leader(s.Players))
	assert.Equal(t, aggregate.NoWinner, leader(nil))
}

func TestWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	runID := NewRunID()
	_, err := uuid.Parse(runID)
	require.NoError(t, err)

	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, WriteJSON(path, runID, started, 1500*time.Millisecond, testSummary()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got JSONReport
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, runID, got.RunID)
	assert.True(t, started.Equal(got.StartedAt))
	assert.Equal(t, int64(1500), got.ElapsedMS)
	assert.Equal(t, 2, got.Completed)
	require.Len(t, got.Players, 2)
	assert.Equal(t, "P_2", got.Players[1].Name)
	assert.Equal(t, int64(18), got.Players[1].AvgScore)
	assert.Equal(t, 18.0, got.Players[1].Score.Mean)
	assert.Equal(t, 1.41, got.Players[1].Score.StdDev)
	require.Len(t, got.Failures, 1)
	assert.Equal(t, 2, got.Failures[0].Match)
	assert.Contains(t, got.Failures[0].Error, "timed out")
}

func TestRow(t *testing.T) {
	lines := []aggregate.PlayerLine{{Name: "P_1", Kills: 2}, {Name: "P_2", Kills: 3}}
	assert.Equal(t, []string{"Kills", "2", "3"},
		row("Kills", lines, func(p aggregate.PlayerLine) string { return Number(p.Kills) }))

	summaries := testSummary().Players
	assert.Equal(t, []string{"Wins", "1", "1"},
		row("Wins", summaries, func(p aggregate.PlayerSummary) string { return strconv.Itoa(p.Stats.Wins) }))

	assert.Equal(t, []string{"Score"}, row("Score", []aggregate.PlayerLine(nil), func(aggregate.PlayerLine) string { return "" }))
}
