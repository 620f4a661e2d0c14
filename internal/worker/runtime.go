package worker

import (
	"context"
	"io"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"forkhost/internal/app"
	"forkhost/internal/errors"
	"forkhost/internal/list"
	"forkhost/internal/metrics"
	"forkhost/internal/protocol"
	"forkhost/internal/session"
	"forkhost/util"
)

// State is a worker lifecycle state.
type State int32

const (
	Starting State = iota
	Serving
	Draining
	Exited
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Serving:
		return "serving"
	case Draining:
		return "draining"
	case Exited:
		return "exited"
	default:
		return "unknown"
	}
}

// Defaults for a zero Runtime field.
const (
	DefaultTickInterval = time.Second
	DefaultGracePeriod  = 5 * time.Second
)

// acceptSlice is the accept poll used when connections may already be
// pending; maxAcceptBatch caps how many one pass takes.
const (
	acceptSlice    = 100 * time.Microsecond
	maxAcceptBatch = 64
)

// Runtime serves connections for one worker process on a single
// goroutine.
type Runtime struct {
	Proc      *Process
	Listener  net.Listener
	Protocols *protocol.Registry
	Apps      *app.Registry
	Logger    *util.Logger

	TickInterval time.Duration
	GracePeriod  time.Duration

	// Clock drives the tick.  I/O deadlines always use wall time.
	Clock clock.Clock
	// Getppid defaults to os.Getppid.
	Getppid func() int
	// Probe, when set, is consulted on every tick.
	Probe Probe
	// Reporter, when set, receives a snapshot on every tick.
	Reporter *Reporter

	state    atomic.Int32
	sessions *list.List[*session.Session]
	next     time.Time // next tick, on Clock
	drainBy  time.Time // wall time, set while draining
}

// State returns the current lifecycle state.  Safe for concurrent use.
func (r *Runtime) State() State { return State(r.state.Load()) }

func (r *Runtime) setState(s State) {
	r.state.Store(int32(s))
	r.Logger.Debug("worker %s: %s", r.Proc.Name, s)
}

func (r *Runtime) defaults() {
	if r.Clock == nil {
		r.Clock = clock.New()
	}
	if r.Getppid == nil {
		r.Getppid = os.Getppid
	}
	if r.TickInterval <= 0 {
		r.TickInterval = DefaultTickInterval
	}
	if r.GracePeriod <= 0 {
		r.GracePeriod = DefaultGracePeriod
	}
	if r.Logger == nil {
		r.Logger = util.NewLogger(util.LogWarning)
	}
	if r.Proc.Stat == nil {
		r.Proc.Stat = metrics.NewWithClock(r.Clock)
	}
	r.sessions = list.New(list.Options[*session.Session]{})
}

// Run executes the worker lifecycle until the worker is told to stop,
// is orphaned, or fails to start.  A worker stopped through its
// liveness flag returns nil.
func (r *Runtime) Run(ctx context.Context) error {
	r.defaults()
	r.setState(Starting)

	if err := r.setup(); err != nil {
		r.setState(Exited)
		r.Logger.Error("worker %s: setup failed: %v", r.Proc.Name, err)
		return &errors.SetupError{Worker: r.Proc.Name, Err: err}
	}

	r.setState(Serving)
	r.Logger.Notice("worker %s (pid %d) serving on %s with %s strategy",
		r.Proc.Name, r.Proc.Pid, r.Listener.Addr(), r.Proc.Strategy.Name())

	cause := r.serve(ctx)

	r.setState(Draining)
	r.drain()
	r.setState(Exited)

	if errors.Is(cause, errors.ErrNotAlive) {
		r.Logger.Notice("worker %s: stopped", r.Proc.Name)
		return nil
	}
	r.Logger.Warn("worker %s: %v", r.Proc.Name, cause)
	return cause
}

func (r *Runtime) setup() error {
	if err := r.Protocols.Init(); err != nil {
		return err
	}
	if err := r.Apps.Init(); err != nil {
		return multierr.Append(err, r.Protocols.Teardown())
	}
	if err := r.Proc.Strategy.Setup(r.Listener); err != nil {
		return multierr.Combine(err, r.Apps.Teardown(), r.Protocols.Teardown())
	}
	return nil
}

// serve is the Serving state.  It returns the reason to stop.
func (r *Runtime) serve(ctx context.Context) error {
	r.next = r.Clock.Now().Add(r.TickInterval)
	tick := func() error { return r.tickIfDue(ctx) }
	busy := false
	for {
		if err := tick(); err != nil {
			return err
		}

		if !r.Proc.Strategy.Serial() || r.sessions.Len() == 0 {
			wait := r.Proc.Strategy.AcceptWait()
			if busy {
				wait = 0
			}
			if left := r.untilTick(); left < wait {
				wait = left
			}
			if err := r.accept(wait); err != nil {
				return err
			}
		}

		var err error
		if busy, err = r.step(tick); err != nil {
			return err
		}
	}
}

// tickIfDue runs cron when the tick interval has elapsed.
func (r *Runtime) tickIfDue(ctx context.Context) error {
	now := r.Clock.Now()
	if now.Before(r.next) {
		return nil
	}
	if err := r.cron(ctx, now); err != nil {
		return err
	}
	r.next = now.Add(r.TickInterval)
	return nil
}

func (r *Runtime) untilTick() time.Duration {
	return r.next.Sub(r.Clock.Now())
}

// ioLimit is the wall-clock instant session I/O must give control back
// by: the next tick while serving, the grace deadline while draining.
func (r *Runtime) ioLimit() time.Time {
	if !r.drainBy.IsZero() {
		return r.drainBy
	}
	return time.Now().Add(r.untilTick())
}

// cron runs once per tick: strategy hook, report, then the checks that
// may end the Serving state.  A changed parent wins over every other
// reason, since a dead supervisor also closes the liveness pipe.
func (r *Runtime) cron(ctx context.Context, now time.Time) error {
	r.Proc.Stat.RecordTick(now)
	if err := r.Proc.Strategy.Cron(now); err != nil {
		r.Logger.Warn("worker %s: cron: %v", r.Proc.Name, err)
	}
	if r.Reporter != nil {
		if err := r.Reporter.Report(r.Proc.Stat.Snapshot()); err != nil {
			r.Logger.Debug("worker %s: status report: %v", r.Proc.Name, err)
		}
	}

	if ppid := r.Getppid(); ppid != r.Proc.Ppid {
		r.Proc.MarkDead()
		r.Logger.Warn("worker %s: parent changed from %d to %d", r.Proc.Name, r.Proc.Ppid, ppid)
		return errors.ErrOrphaned
	}
	if ctx.Err() != nil || (r.Probe != nil && !r.Probe.Alive()) {
		r.Proc.MarkDead()
	}
	if !r.Proc.Alive() {
		return errors.ErrNotAlive
	}
	return nil
}

type deadliner interface {
	SetDeadline(time.Time) error
}

// accept waits up to wait for a connection, then takes whatever else
// is already pending unless the strategy is serial.  Only a listener
// failure is returned; everything about a connection stays local.
func (r *Runtime) accept(wait time.Duration) error {
	d, ok := r.Listener.(deadliner)
	batch := maxAcceptBatch
	if r.Proc.Strategy.Serial() {
		batch = 1
	}
	for i := 0; i < batch; i++ {
		if wait < acceptSlice {
			wait = acceptSlice
		}
		if ok {
			d.SetDeadline(time.Now().Add(wait)) //nolint:errcheck
		}
		conn, err := r.Listener.Accept()
		if err != nil {
			if util.IsTimeout(err) {
				return nil
			}
			if errors.IsRetryable(err) {
				r.Logger.Warn("worker %s: accept: %v", r.Proc.Name, err)
				return nil
			}
			return errors.Wrap("accept", r.Listener.Addr().String(), err)
		}
		r.open(conn)
		wait = 0
	}
	return nil
}

// open binds a protocol and an application to conn and queues the
// session.
func (r *Runtime) open(conn net.Conn) {
	meta := session.MetaOf(conn)
	peer := util.FormatAddr(meta.PeerIP, meta.PeerPort)

	proto, err := r.Protocols.Spot(meta)
	if err != nil {
		r.reject(conn, errors.Session(err, peer, nil))
		return
	}
	a, err := r.Apps.Spot(proto)
	if err != nil {
		r.reject(conn, errors.Session(errors.ErrDispatch, peer, err))
		return
	}
	r.Logger.Verbose("connection from %s: %s/%s", peer, proto.Name(), a.Name())

	s := session.New(bound(conn, r.ioLimit), meta, proto, a, r.Logger)
	s.Stats = r.Proc.Stat
	r.Proc.Stat.ConnectionOpened()
	r.sessions.PushBack(s)
}

func (r *Runtime) reject(conn net.Conn, err error) {
	r.Logger.Warn("dropping connection: %v", err)
	r.Proc.Stat.RecordError(err.Error())
	conn.Close()
}

// step advances every session once, then rotates the list so the next
// pass starts with a different session.  tick, when set, runs between
// sessions and stops the pass on error.  moved reports whether any
// session made progress.
func (r *Runtime) step(tick func() error) (moved bool, err error) {
	it := r.sessions.Iterator(list.FromHead)
	for n := it.Next(); n != nil; n = it.Next() {
		done, progress, serr := r.stepSession(n.Value)
		if done {
			r.finish(n.Value, serr)
			r.sessions.Remove(n)
		}
		moved = moved || done || progress
		if tick != nil {
			if err := tick(); err != nil {
				return moved, err
			}
		}
	}
	r.sessions.Rotate()
	return moved, nil
}

// stepSession makes as much progress on s as the strategy allows
// without waiting for other sessions.  done reports that s must be
// closed; err is why, when it ended badly.
func (r *Runtime) stepSession(s *session.Session) (done, progress bool, err error) {
	if s.Phase == session.Reading {
		res, perr := s.Protocol().Parse(s)
		if res == session.Incomplete {
			n, rerr := r.Proc.Strategy.Recv(s.Conn, &s.In)
			r.Proc.Stat.BytesReceived(int64(n))
			progress = n > 0
			if progress {
				res, perr = s.Protocol().Parse(s)
			}
			if res == session.Incomplete {
				switch {
				case rerr == nil, errors.Is(rerr, errors.ErrWouldBlock), yielded(s.Conn, rerr, false):
					return false, progress, nil
				case errors.Is(rerr, io.EOF) && s.In.Len() == 0:
					r.Logger.Debug("session %s: closed by peer", s.Peer())
					return true, progress, nil
				default:
					return true, progress, rerr
				}
			}
		}

		switch res {
		case session.Incomplete:
			return false, progress, nil
		case session.Invalid:
			return true, progress, errors.Session(errors.ErrParse, s.Peer(), perr)
		}

		if err := s.Dispatch(); err != nil {
			return true, progress, errors.Session(errors.ErrDispatch, s.Peer(), err)
		}
		r.Proc.Stat.RequestServed()
		s.Phase = session.Writing
		progress = true
	}

	n, werr := r.Proc.Strategy.Send(s.Conn, &s.Out)
	r.Proc.Stat.BytesSent(int64(n))
	progress = progress || n > 0
	switch {
	case errors.Is(werr, errors.ErrWouldBlock), yielded(s.Conn, werr, true):
		return false, progress, nil
	case werr != nil:
		return true, progress, werr
	}
	return s.Out.Len() == 0, progress, nil
}

// finish reports err, if any, with a single log entry and closes s.
func (r *Runtime) finish(s *session.Session, err error) {
	if err != nil {
		r.Logger.Warn("dropping connection: %v", err)
		r.Proc.Stat.RecordError(err.Error())
		if er, ok := s.Protocol().(session.ErrorResponder); ok && !errors.Is(err, errors.ErrTransport) {
			s.Out.Reset()
			er.WriteError(s, err)
			r.Proc.Strategy.Send(s.Conn, &s.Out) //nolint:errcheck
		}
	}
	if cerr := s.Close(); cerr != nil {
		r.Logger.Debug("session %s: close: %v", s.Peer(), cerr)
	}
	r.Proc.Stat.ConnectionClosed()
}

// drain is the Draining state: stop accepting, give in-flight sessions
// the grace period, then close whatever is left and run teardown hooks.
func (r *Runtime) drain() {
	if err := r.Listener.Close(); err != nil && !util.IsHarmless(err) {
		r.Logger.Debug("worker %s: close listener: %v", r.Proc.Name, err)
	}

	r.drainBy = time.Now().Add(r.GracePeriod)
	for r.sessions.Len() > 0 && time.Now().Before(r.drainBy) {
		if moved, _ := r.step(nil); !moved {
			idle := r.Proc.Strategy.AcceptWait()
			if left := time.Until(r.drainBy); left < idle {
				idle = left
			}
			time.Sleep(idle)
		}
	}
	if n := r.sessions.Len(); n > 0 {
		r.Logger.Verbose("worker %s: closing %d unfinished sessions", r.Proc.Name, n)
	}
	for n := r.sessions.First(); n != nil; n = r.sessions.First() {
		r.finish(n.Value, nil)
		r.sessions.Remove(n)
	}

	if err := multierr.Combine(r.Apps.Teardown(), r.Protocols.Teardown()); err != nil {
		r.Logger.Warn("worker %s: teardown: %v", r.Proc.Name, err)
	}
}
