package match

import (
	"strings"
	"sync"
)

// DisconnectDetector counts server output lines carrying the disconnect
// marker and signals once every client has dropped.
type DisconnectDetector struct {
	marker string
	want   int

	mu     sync.Mutex
	count  int
	done   chan struct{}
	closed bool
}

// NewDisconnectDetector waits for want marker lines
func NewDisconnectDetector(marker string, want int) *DisconnectDetector {
	d := &DisconnectDetector{
		marker: marker,
		want:   want,
		done:   make(chan struct{}),
	}
	if want <= 0 {
		d.closed = true
		close(d.done)
	}
	return d
}

// Observe inspects one output line and reports whether it counted
func (d *DisconnectDetector) Observe(line string) bool {
	if d.marker == "" || !strings.Contains(line, d.marker) {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.count++
	if d.count >= d.want && !d.closed {
		d.closed = true
		close(d.done)
	}
	return true
}

// Done is closed when the count reaches the number of clients
func (d *DisconnectDetector) Done() <-chan struct{} {
	return d.done
}

// Count returns the markers seen so far
func (d *DisconnectDetector) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.count
}

// Want returns the number of markers that completes the match
func (d *DisconnectDetector) Want() int {
	return d.want
}
