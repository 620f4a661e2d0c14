// Package worker runs one worker process: the accept loop, the
// per-session receive → parse → dispatch → send cycle, and the periodic
// self-checks that decide when the process must stop.
//
// A worker moves through four states.  It is Starting until its
// one-time setup succeeds, Serving while it accepts and services
// connections, Draining once a tick finds it should stop, and Exited
// when the last session is closed.  A failed setup goes straight from
// Starting to Exited with a *errors.SetupError.
package worker

import (
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"forkhost/internal/metrics"
	"forkhost/internal/transport"
)

// Descriptors a worker process inherits from the supervisor.
const (
	FdListener = 3 // shared listening socket, absent in SO_REUSEPORT mode
	FdStatus   = 4 // write end: one JSON status snapshot per line
	FdLiveness = 5 // read end: closed by the supervisor to revoke liveness
)

// Process describes one worker.  The supervisor keeps one per child;
// the child builds its own at boot.  Only the liveness flag changes
// after creation.
type Process struct {
	ID        uuid.UUID
	Name      string
	Pid       int
	Ppid      int // parent at spawn time
	StartTime time.Time
	Strategy  transport.Strategy
	Stat      *metrics.Collector

	alive atomic.Bool
}

// NewProcess returns a live record for the calling process.
func NewProcess(name string, strategy transport.Strategy) *Process {
	p := &Process{
		ID:        uuid.New(),
		Name:      name,
		Pid:       os.Getpid(),
		Ppid:      os.Getppid(),
		StartTime: time.Now(),
		Strategy:  strategy,
		Stat:      metrics.New(),
	}
	p.alive.Store(true)
	return p
}

// Alive reports the liveness flag.
func (p *Process) Alive() bool { return p.alive.Load() }

// MarkDead clears the liveness flag.  The worker notices at its next
// tick; nothing is interrupted.
func (p *Process) MarkDead() { p.alive.Store(false) }

// NewChild returns a live record for a worker the calling process just
// started.
func NewChild(name string, pid int, strategy transport.Strategy) *Process {
	p := &Process{
		ID:        uuid.New(),
		Name:      name,
		Pid:       pid,
		Ppid:      os.Getpid(),
		StartTime: time.Now(),
		Strategy:  strategy,
	}
	p.alive.Store(true)
	return p
}
