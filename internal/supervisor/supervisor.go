// Package supervisor keeps a pool of worker processes alive.
//
// The supervisor never serves traffic itself.  It starts workers through
// a Spawner, reads the status lines they report, respawns the ones that
// exit, and on shutdown revokes every worker's liveness, waits out the
// grace period and kills whatever is left.  A circuit breaker stops the
// respawn loop from hammering the system while workers keep failing
// their boot.
package supervisor

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"forkhost/internal/errors"
	"forkhost/internal/list"
	"forkhost/internal/metrics"
	"forkhost/internal/retry"
	"forkhost/internal/transport"
	"forkhost/internal/worker"
	"forkhost/util"
)

// Defaults for a zero Options field.
const (
	DefaultGracePeriod = 5 * time.Second
	DefaultMinUptime   = 5 * time.Second
)

// Options configures a Supervisor.
type Options struct {
	Workers     int
	Strategy    transport.Strategy
	GracePeriod time.Duration
	// MinUptime separates a crash from a crash loop: a worker that
	// exits sooner is respawned only after a backoff delay.
	MinUptime time.Duration
	Backoff   *retry.Backoff
	Breaker   *retry.BreakerConfig
	Clock     clock.Clock
}

// record is the supervisor's view of one child.
type record struct {
	proc     *worker.Process
	child    Child
	exited   chan struct{}
	exitErr  error
	last     metrics.Snapshot
	reported time.Time
}

// Supervisor manages the worker pool.
type Supervisor struct {
	opts    Options
	spawner Spawner
	logger  *util.Logger
	clock   clock.Clock
	breaker *retry.Breaker

	mu      sync.Mutex
	workers *list.List[*record]
}

// New creates a Supervisor.  Nothing is started until Run.
func New(opts Options, spawner Spawner, logger *util.Logger) *Supervisor {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	if opts.MinUptime <= 0 {
		opts.MinUptime = DefaultMinUptime
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Backoff == nil {
		opts.Backoff = retry.DefaultBackoff()
	}
	b := *opts.Backoff
	b.MaxAttempts = 0
	b.Clock = opts.Clock
	opts.Backoff = &b

	bc := retry.DefaultBreakerConfig()
	if opts.Breaker != nil {
		bc = *opts.Breaker
	}
	bc.Clock = opts.Clock
	bc.OnChange = func(from, to retry.State) {
		logger.Warn("respawn breaker %s -> %s", from, to)
	}

	return &Supervisor{
		opts:    opts,
		spawner: spawner,
		logger:  logger,
		clock:   opts.Clock,
		breaker: retry.NewBreaker(bc),
		workers: list.New(list.Options[*record]{}),
	}
}

// Spawn starts one worker and begins tracking it.
func (s *Supervisor) Spawn(ctx context.Context, name string, strategy transport.Strategy) (*worker.Process, error) {
	rec, err := s.spawn(ctx, name, strategy)
	if err != nil {
		return nil, err
	}
	return rec.proc, nil
}

func (s *Supervisor) spawn(ctx context.Context, name string, strategy transport.Strategy) (*record, error) {
	child, err := s.spawner.Spawn(ctx, SpawnSpec{Name: name, Strategy: strategy.Name()})
	if err != nil {
		return nil, &errors.SpawnError{Name: name, Err: err}
	}

	rec := &record{
		proc:   worker.NewChild(name, child.Pid(), strategy),
		child:  child,
		exited: make(chan struct{}),
	}
	rec.proc.StartTime = s.clock.Now()

	s.mu.Lock()
	s.workers.PushBack(rec)
	s.mu.Unlock()

	go s.readStatus(rec)
	go func() {
		err := child.Wait()
		s.mu.Lock()
		rec.exitErr = err
		s.mu.Unlock()
		rec.proc.MarkDead()
		close(rec.exited)
	}()

	s.logger.Notice("spawned %s (pid %d, %s)", name, rec.proc.Pid, strategy.Name())
	return rec, nil
}

// readStatus consumes the worker's JSON status lines until it exits.
func (s *Supervisor) readStatus(rec *record) {
	r := rec.child.Status()
	if r == nil {
		return
	}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		var snap metrics.Snapshot
		if err := json.Unmarshal(sc.Bytes(), &snap); err != nil {
			s.logger.Debug("%s: bad status line: %v", rec.proc.Name, err)
			continue
		}
		s.mu.Lock()
		rec.last = snap
		rec.reported = s.clock.Now()
		s.mu.Unlock()
	}
}

// MarkDead revokes a worker's liveness.  The worker leaves Serving at
// its next tick; it is not killed.
func (s *Supervisor) MarkDead(p *worker.Process) {
	p.MarkDead()
	s.mu.Lock()
	rec := s.find(p.ID.String())
	s.mu.Unlock()
	if rec == nil {
		return
	}
	if err := rec.child.Revoke(); err != nil {
		s.logger.Debug("%s: revoke: %v", p.Name, err)
	}
	s.logger.Verbose("%s (pid %d) marked dead", p.Name, p.Pid)
}

// MarkDeadByID is MarkDead for a worker ID.  It reports whether the
// worker was found.
func (s *Supervisor) MarkDeadByID(id string) bool {
	s.mu.Lock()
	rec := s.find(id)
	s.mu.Unlock()
	if rec == nil {
		return false
	}
	s.MarkDead(rec.proc)
	return true
}

// find must be called with s.mu held.
func (s *Supervisor) find(id string) *record {
	for n := s.workers.First(); n != nil; n = n.Next() {
		if n.Value.proc.ID.String() == id {
			return n.Value
		}
	}
	return nil
}

func (s *Supervisor) forget(rec *record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for n := s.workers.First(); n != nil; n = n.Next() {
		if n.Value == rec {
			s.workers.Remove(n)
			return
		}
	}
}

// Run keeps opts.Workers workers alive until ctx is cancelled, then
// shuts them all down.
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.Notice("supervisor (pid %d) starting %d %s workers",
		os.Getpid(), s.opts.Workers, s.opts.Strategy.Name())

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.opts.Workers; i++ {
		name := fmt.Sprintf("worker-%d", i)
		g.Go(func() error { return s.keep(gctx, name) })
	}
	err := g.Wait()
	s.logger.Notice("supervisor stopped")
	return err
}

// keep runs one worker slot: spawn, wait, respawn.
func (s *Supervisor) keep(ctx context.Context, name string) error {
	for ctx.Err() == nil {
		err := s.opts.Backoff.Do(ctx, func(attempt int) error {
			return s.runOnce(ctx, name, attempt)
		})
		if err != nil && ctx.Err() == nil {
			s.logger.Warn("%s: %v", name, err)
		}
	}
	return nil
}

// runOnce spawns the worker and waits for it.  A nil return means the
// slot can be refilled right away; an error asks for a backoff delay.
func (s *Supervisor) runOnce(ctx context.Context, name string, attempt int) error {
	if ctx.Err() != nil {
		return nil
	}
	if err := s.breaker.Allow(); err != nil {
		return err
	}

	rec, err := s.spawn(ctx, name, s.opts.Strategy)
	if err != nil {
		s.breaker.Record(err)
		s.logger.Warn("%v", err)
		return err
	}
	p := rec.proc

	select {
	case <-rec.exited:
	case <-ctx.Done():
		s.stop(rec)
		s.forget(rec)
		return nil
	}
	s.forget(rec)

	s.mu.Lock()
	exitErr := rec.exitErr
	s.mu.Unlock()

	code := exitCode(exitErr)
	uptime := s.clock.Since(p.StartTime)
	if code == errors.ExitBootError {
		err := &errors.SetupError{Worker: name, Err: exitErr}
		s.breaker.Record(err)
		s.logger.Warn("%s (pid %d) failed to boot (attempt %d)", name, p.Pid, attempt)
		return err
	}
	s.breaker.Record(nil)
	if ctx.Err() != nil {
		return nil
	}
	s.logger.Warn("%s (pid %d) exited with status %d after %s; respawning",
		name, p.Pid, code, uptime.Truncate(time.Millisecond))
	if uptime < s.opts.MinUptime {
		return fmt.Errorf("%s exited after %s", name, uptime.Truncate(time.Millisecond))
	}
	return nil
}

// stop revokes liveness, waits up to the grace period and kills a worker
// that is still running.
func (s *Supervisor) stop(rec *record) {
	s.MarkDead(rec.proc)
	select {
	case <-rec.exited:
		return
	case <-s.clock.After(s.opts.GracePeriod):
	}
	s.logger.Warn("%s (pid %d) ignored the grace period; killing", rec.proc.Name, rec.proc.Pid)
	if err := rec.child.Kill(); err != nil {
		s.logger.Debug("%s: kill: %v", rec.proc.Name, err)
	}
	<-rec.exited
}

// exitCode extracts a process exit status from a Wait error.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee interface{ ExitCode() int }
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}

// Info is the public view of a tracked worker.
type Info struct {
	ID       string           `json:"id"`
	Name     string           `json:"name"`
	Pid      int              `json:"pid"`
	Strategy string           `json:"strategy"`
	Alive    bool             `json:"alive"`
	Started  time.Time        `json:"started"`
	Reported *time.Time       `json:"reported,omitempty"`
	Stats    metrics.Snapshot `json:"stats"`
}

func (r *record) info() Info {
	in := Info{
		ID:      r.proc.ID.String(),
		Name:    r.proc.Name,
		Pid:     r.proc.Pid,
		Alive:   r.proc.Alive(),
		Started: r.proc.StartTime,
		Stats:   r.last,
	}
	if r.proc.Strategy != nil {
		in.Strategy = r.proc.Strategy.Name()
	}
	if !r.reported.IsZero() {
		t := r.reported
		in.Reported = &t
	}
	return in
}

// Workers returns a snapshot of the tracked workers in spawn order.
func (s *Supervisor) Workers() []Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Info, 0, s.workers.Len())
	s.workers.Each(func(r *record) { out = append(out, r.info()) })
	return out
}

// Worker returns one tracked worker by ID.
func (s *Supervisor) Worker(id string) (Info, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r := s.find(id); r != nil {
		return r.info(), true
	}
	return Info{}, false
}

// Samples feeds the Prometheus exporter.
func (s *Supervisor) Samples() []metrics.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]metrics.Sample, 0, s.workers.Len())
	s.workers.Each(func(r *record) {
		out = append(out, metrics.Sample{Worker: r.proc.Name, Pid: r.proc.Pid, Snapshot: r.last})
	})
	return out
}
