package spawner

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// Group tracks the processes of one match so they can be torn down together.
type Group struct {
	mu        sync.Mutex
	processes []*Process
	logger    zerolog.Logger
}

// NewGroup creates an empty group
func NewGroup(logger zerolog.Logger) *Group {
	return &Group{logger: logger}
}

// Add registers a process with the group
func (g *Group) Add(p *Process) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.processes = append(g.processes, p)
}

// StopAll stops every process concurrently. Processes that already exited are
// not an error; the group can be stopped again safely.
func (g *Group) StopAll() error {
	g.mu.Lock()
	procs := append([]*Process(nil), g.processes...)
	g.mu.Unlock()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, proc := range procs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := proc.Stop(); err != nil {
				g.logger.Error().Err(err).Str("process", proc.Name).Msg("Failed to stop process")
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	return errors.Join(errs...)
}

// ActiveCount returns the number of processes still running
func (g *Group) ActiveCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	count := 0
	for _, proc := range g.processes {
		if proc.IsAlive() {
			count++
		}
	}
	return count
}
