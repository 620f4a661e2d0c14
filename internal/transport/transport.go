// Package transport moves bytes between a worker and its clients.
//
// A Strategy is the worker-behaviour variant a worker process runs
// with: how its listener is prepared, how long the accept poll may
// block, and how session buffers are filled and drained.  Two
// strategies exist.  "sync" blocks on every read and write up to the
// I/O timeout and serves one session to completion before accepting
// the next.  "async" only moves bytes that are ready, reports
// errors.ErrWouldBlock otherwise, and lets the worker round-robin
// across many sessions.
//
// The package also holds the listener helpers (inherited descriptor or
// SO_REUSEPORT bind) and the Dialer used for outbound connections.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"sort"
	"time"

	"forkhost/internal/errors"
)

// Defaults applied when Options leaves a field zero.
const (
	DefaultIOTimeout    = 5 * time.Second
	DefaultPollInterval = 10 * time.Millisecond
	DefaultMaxRetries   = 3
)

// Strategy is an immutable worker-behaviour variant.
type Strategy interface {
	Name() string
	// Setup prepares the listener before the first accept.
	Setup(ln net.Listener) error
	// Cron runs on every worker tick.
	Cron(now time.Time) error
	// AcceptWait bounds how long an idle worker blocks in accept.  The
	// worker shortens it further to keep its tick on time.
	AcceptWait() time.Duration
	// Serial reports whether a session is served to completion before
	// the next connection is accepted.
	Serial() bool
	// Recv appends whatever the peer sent to buf.
	Recv(conn net.Conn, buf *bytes.Buffer) (int, error)
	// Send writes the unsent prefix of buf and consumes the bytes that
	// were flushed.
	Send(conn net.Conn, buf *bytes.Buffer) (int, error)
}

// Options tunes the strategies.  Zero fields select the defaults; a
// negative MaxRetries limits async to one attempt per call.
type Options struct {
	IOTimeout    time.Duration // sync: per read/write deadline
	PollInterval time.Duration // async: accept wait of an idle pass
	MaxRetries   int           // async: extra attempts after progress
}

func (o Options) withDefaults() Options {
	if o.IOTimeout <= 0 {
		o.IOTimeout = DefaultIOTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	} else if o.MaxRetries == 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	return o
}

var strategies = map[string]func(Options) Strategy{
	"sync":  func(o Options) Strategy { return &Sync{opts: o} },
	"async": func(o Options) Strategy { return &Async{opts: o} },
}

// Lookup returns the strategy registered under name.
func Lookup(name string, opts Options) (Strategy, error) {
	mk, ok := strategies[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, errors.ErrUnknownStrategy)
	}
	return mk(opts.withDefaults()), nil
}

// Names lists the registered strategies in sorted order.
func Names() []string {
	names := make([]string, 0, len(strategies))
	for n := range strategies {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Dialer opens outbound network connections.
type Dialer interface {
	// Dial establishes a connection to the given network address.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close releases any long-lived resources held by the dialer.
	// Stateless dialers return nil.
	Close() error
}

type deadliner interface {
	SetDeadline(time.Time) error
}

// requireDeadlines rejects listeners whose Accept cannot be bounded.
func requireDeadlines(ln net.Listener) error {
	if ln == nil {
		return fmt.Errorf("no listener")
	}
	if _, ok := ln.(deadliner); !ok {
		return fmt.Errorf("listener %T does not support accept deadlines", ln)
	}
	return nil
}
