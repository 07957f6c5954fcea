package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/arenabench/internal/config"
	"github.com/lox/arenabench/internal/contract"
	"github.com/lox/arenabench/internal/match"
	"github.com/lox/arenabench/internal/report"
)

func TestResolveMatches(t *testing.T) {
	logger := zerolog.New(zerolog.NewTestWriter(t))

	tests := []struct {
		arg  string
		want int
	}{
		{"", 2},
		{"5", 5},
		{" 7 ", 7},
		{"0", 0},
		{"abc", 2},
		{"-3", 2},
		{"2.5", 2},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.arg), func(t *testing.T) {
			assert.Equal(t, tt.want, resolveMatches(tt.arg, 2, logger))
		})
	}
}

func TestParsePlayers(t *testing.T) {
	players, err := parsePlayers([]string{"P_1=/bots/a", "fast=/bots/b --fast", "/bots/c"})
	require.NoError(t, err)
	require.Len(t, players, 3)

	assert.Equal(t, "P_1", players[0].Name)
	assert.Equal(t, []string{"/bots/a"}, players[0].Command)
	assert.Equal(t, []string{"/bots/b", "--fast"}, players[1].Command)
	assert.Empty(t, players[2].Name)
	assert.Equal(t, []string{"/bots/c"}, players[2].Command)

	_, err = parsePlayers([]string{"empty="})
	assert.Error(t, err)
}

func TestLoadConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arenabench.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`
server {
  command = ["/opt/game/server"]
}

runner {
  workers = 3
  matches = 4
}

player "P_1" {
  command = ["/bots/one"]
}
`), 0644))

	cli := CLI{
		Config:       path,
		Server:       "/opt/other/server --quiet",
		Player:       []string{"a=/bots/a", "b=/bots/b"},
		Workers:      8,
		MatchTimeout: 90 * time.Second,
		Readiness:    config.ReadinessDelay,
		FailFast:     true,
	}

	cfg, err := cli.loadConfig()
	require.NoError(t, err)

	assert.Equal(t, []string{"/opt/other/server", "--quiet"}, cfg.Server.Command)
	require.Len(t, cfg.Players, 2)
	assert.Equal(t, "a", cfg.Players[0].Name)
	assert.Equal(t, 8, cfg.Runner.Workers)
	assert.Equal(t, 4, cfg.Runner.Matches)
	assert.Equal(t, 90*time.Second, cfg.Runner.MatchTimeoutDuration())
	assert.Equal(t, config.ReadinessDelay, cfg.Runner.Readiness)
	assert.True(t, cfg.Runner.FailFast)
	assert.False(t, cfg.Runner.KeepResults)
}

func TestLoadConfigFileOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arenabench.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`
server {
  command = ["/opt/game/server"]
}

player "P_1" {
  command = ["/bots/one"]
}
`), 0644))

	cfg, err := (&CLI{Config: path}).loadConfig()
	require.NoError(t, err)
	assert.Equal(t, config.DefaultWorkers, cfg.Runner.Workers)
	assert.Equal(t, config.DefaultMatches, cfg.Runner.Matches)
	require.Len(t, cfg.Players, 1)
}

func TestCheckBinaries(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Command = []string{"sh"}
	cfg.Players = []config.PlayerConfig{{Name: "ok", Command: []string{"sh"}}}
	require.NoError(t, checkBinaries(cfg))

	cfg.Players = append(cfg.Players, config.PlayerConfig{Name: "gone", Command: []string{"/nonexistent/bot"}})
	err := checkBinaries(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "player gone")
}

func TestRunValidateOnly(t *testing.T) {
	var stdout, stderr bytes.Buffer
	cli := CLI{
		Config:   filepath.Join(t.TempDir(), "missing.hcl"),
		Server:   "sh",
		Player:   []string{"P_1=sh"},
		Validate: true,
		stdout:   &stdout,
		stderr:   &stderr,
	}

	require.NoError(t, cli.Run())
	assert.Empty(t, stdout.String())
	assert.Contains(t, stderr.String(), "Configuration is valid")
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	var stdout, stderr bytes.Buffer
	cli := CLI{
		Config: filepath.Join(t.TempDir(), "missing.hcl"),
		Player: []string{"P_1=sh"},
		stdout: &stdout,
		stderr: &stderr,
	}

	err := cli.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server command")
}

// writeScript writes an executable shell script
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755))
	return path
}

func batchConfig(t *testing.T, serverBody string) *config.Config {
	t.Helper()
	bin := t.TempDir()
	server := writeScript(t, bin, "server.sh", serverBody)
	client := writeScript(t, bin, "client.sh", "exec sleep 30\n")

	cfg := config.Default()
	cfg.Server.Command = []string{"sh", server}
	cfg.Players = []config.PlayerConfig{
		{Name: "P_1", Command: []string{"sh", client}},
		{Name: "P_2", Command: []string{"sh", client}},
	}
	cfg.Runner.WorkDir = t.TempDir()
	cfg.Runner.Workers = 2
	cfg.Runner.BasePort = 32001
	cfg.Runner.Readiness = config.ReadinessDelay
	cfg.Runner.StartupDelay = "20ms"
	cfg.Runner.MatchTimeout = "10s"
	cfg.Runner.ShutdownGrace = "10ms"
	cfg.Runner.KillAfter = "200ms"
	return cfg
}

const scoringServer = `case "$4" in
  *_0.json) body='{"results":{"players":[{"score":20,"place":1,"damage":5,"kills":1},{"score":10,"place":2,"damage":2,"kills":0}]}}' ;;
  *) body='{"results":{"players":[{"score":15,"place":2,"damage":3,"kills":2},{"score":25,"place":1,"damage":6,"kills":3}]}}' ;;
esac
printf '%s' "$body" > "$4"
echo "Dropping player 0"
echo "Dropping player 1"
exec sleep 30
`

func TestRunBatchEndToEnd(t *testing.T) {
	cfg := batchConfig(t, scoringServer)
	require.NoError(t, cfg.Validate(2))

	var stdout bytes.Buffer
	jsonOut := filepath.Join(t.TempDir(), "report.json")

	summary, err := runBatch(context.Background(), cfg, batchOptions{
		Matches: 2,
		JSONOut: jsonOut,
		NoColor: true,
		Stdout:  &stdout,
	}, zerolog.New(zerolog.NewTestWriter(t)))
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Completed)
	require.Len(t, summary.Players, 2)
	for _, p := range summary.Players {
		assert.Equal(t, 35.0, p.Stats.TotalScore)
		assert.Equal(t, 1, p.Stats.Wins)
		assert.Equal(t, 1, p.Stats.FirstPlaces)
		assert.Equal(t, int64(17), p.Averages.Score)
		assert.Equal(t, int64(4), p.Averages.Damage)
		assert.Equal(t, int64(1), p.Averages.Kills)
		assert.Equal(t, int64(1), p.Averages.Place)
	}

	out := stdout.String()
	assert.Contains(t, out, "match number 1 from 2")
	assert.Contains(t, out, "match number 2 from 2")
	assert.Contains(t, out, "Final Results 2 matches")
	assert.Contains(t, out, "2 matches. 0:")

	for i := range 2 {
		assert.NoFileExists(t, contract.ConfigPath(cfg.Runner.WorkDir, i))
		assert.NoFileExists(t, contract.ResultPath(cfg.Runner.WorkDir, i))
	}

	data, err := os.ReadFile(jsonOut)
	require.NoError(t, err)
	var rep report.JSONReport
	require.NoError(t, json.Unmarshal(data, &rep))
	assert.Equal(t, 2, rep.Completed)
	assert.NotEmpty(t, rep.RunID)
}

func TestRunBatchAllMatchesFail(t *testing.T) {
	cfg := batchConfig(t, "exit 1\n")

	var stdout bytes.Buffer
	summary, err := runBatch(context.Background(), cfg, batchOptions{
		Matches: 2,
		NoColor: true,
		Stdout:  &stdout,
	}, zerolog.New(zerolog.NewTestWriter(t)))
	require.ErrorIs(t, err, errAllFailed)
	assert.Equal(t, 2, summary.Failed)
	assert.Contains(t, stdout.String(), "2 of 2 matches failed")
}

func TestRunBatchZeroMatches(t *testing.T) {
	cfg := batchConfig(t, "exit 1\n")

	var stdout bytes.Buffer
	summary, err := runBatch(context.Background(), cfg, batchOptions{Stdout: &stdout, NoColor: true}, zerolog.Nop())
	require.NoError(t, err)
	assert.Zero(t, summary.Requested)
	assert.Contains(t, stdout.String(), "Final Results 0 matches")
}

func TestRunnerOptionsReadiness(t *testing.T) {
	cfg := config.Default()

	opts := runnerOptions(cfg)
	port, ok := opts.Readiness.(match.PortReadiness)
	require.True(t, ok)
	assert.Equal(t, config.DefaultReadyTimeout, port.Timeout)

	cfg.Runner.Readiness = config.ReadinessDelay
	cfg.Runner.StartupDelay = "3s"
	delay, ok := runnerOptions(cfg).Readiness.(match.DelayReadiness)
	require.True(t, ok)
	assert.Equal(t, 3*time.Second, delay.Delay)
}
