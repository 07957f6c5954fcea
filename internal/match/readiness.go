package match

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/coder/quartz"
)

// ErrNotReady is returned when the server's ports never became bound
var ErrNotReady = errors.New("server not ready")

// Readiness decides when the server can accept clients
type Readiness interface {
	Wait(ctx context.Context, host string, ports []int) error
}

// PerPortReadiness is a Readiness that can gate each client on its own port
// instead of waiting for every port before the first client starts. Servers
// that bind player ports one at a time, each after the previous player has
// connected, need this.
type PerPortReadiness interface {
	Readiness
	PerPort() bool
}

// DelayReadiness waits a fixed time. It races the server's startup and is
// kept for servers whose ports cannot be checked.
type DelayReadiness struct {
	Clock quartz.Clock
	Delay time.Duration
}

// Wait sleeps for the delay or until ctx is done
func (r DelayReadiness) Wait(ctx context.Context, _ string, _ []int) error {
	return sleep(ctx, clockOrReal(r.Clock), r.Delay, "readiness", "delay")
}

// PortReadiness polls the match's player ports until the server has bound all
// of them.
type PortReadiness struct {
	Clock   quartz.Clock
	Timeout time.Duration
	Initial time.Duration
	Max     time.Duration

	// Check reports whether something listens on host:port; PortBound by default
	Check func(host string, port int) bool
}

// PerPort is always true; a port bound up front passes on its first check.
func (PortReadiness) PerPort() bool { return true }

// Wait polls with exponential backoff until every port is bound
func (r PortReadiness) Wait(ctx context.Context, host string, ports []int) error {
	clock := clockOrReal(r.Clock)
	check := r.Check
	if check == nil {
		check = PortBound
	}
	backoff := r.Initial
	if backoff <= 0 {
		backoff = 25 * time.Millisecond
	}
	maxBackoff := r.Max
	if maxBackoff < backoff {
		maxBackoff = 500 * time.Millisecond
	}

	var deadline <-chan time.Time
	if r.Timeout > 0 {
		timeout := clock.NewTimer(r.Timeout, "readiness", "timeout")
		defer timeout.Stop()
		deadline = timeout.C
	}

	pending := append([]int(nil), ports...)
	for {
		remaining := pending[:0]
		for _, port := range pending {
			if !check(host, port) {
				remaining = append(remaining, port)
			}
		}
		pending = remaining
		if len(pending) == 0 {
			return nil
		}

		wait := clock.NewTimer(backoff, "readiness", "backoff")
		select {
		case <-ctx.Done():
			wait.Stop()
			return ctx.Err()
		case <-deadline:
			wait.Stop()
			return fmt.Errorf("%w: ports %v not listening after %s", ErrNotReady, pending, r.Timeout)
		case <-wait.C:
		}

		backoff = min(backoff*2, maxBackoff)
	}
}

// procNetTables list the kernel's TCP sockets on Linux
var procNetTables = []string{"/proc/net/tcp", "/proc/net/tcp6"}

// tcpListen is the socket state of a listening socket in the tables
const tcpListen = "0A"

// PortBound reports whether something listens on host:port. It never
// connects, because the game server takes the first connection on a player
// port as that player. Where the kernel socket tables can be read it only
// looks; otherwise it binds the address briefly and treats EADDRINUSE as
// bound, which can make a server binding in that instant fail.
func PortBound(host string, port int) bool {
	if bound, ok := listeningInTables(procNetTables, port); ok {
		return bound
	}
	return bindBound(host, port)
}

// listeningInTables reports whether any table lists a listener on port. ok is
// false when no table could be read.
func listeningInTables(paths []string, port int) (bound, ok bool) {
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		ok = true
		found := tableHasListener(f, port)
		f.Close()
		if found {
			return true, true
		}
	}
	return false, ok
}

// tableHasListener scans a /proc/net/tcp style table. Local addresses are
// hex "ADDR:PORT"; the state column is fourth.
func tableHasListener(r io.Reader, port int) bool {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 || fields[3] != tcpListen {
			continue
		}
		i := strings.LastIndexByte(fields[1], ':')
		if i < 0 {
			continue
		}
		p, err := strconv.ParseUint(fields[1][i+1:], 16, 16)
		if err == nil && int(p) == port {
			return true
		}
	}
	return false
}

func bindBound(host string, port int) bool {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return errors.Is(err, syscall.EADDRINUSE)
	}
	ln.Close()
	return false
}

func clockOrReal(c quartz.Clock) quartz.Clock {
	if c == nil {
		return quartz.NewReal()
	}
	return c
}

func sleep(ctx context.Context, clock quartz.Clock, d time.Duration, tags ...string) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := clock.NewTimer(d, tags...)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
