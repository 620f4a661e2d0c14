// Package app holds the table of applications a worker can dispatch
// parsed requests to.  An application operates on a Session: it reads
// the request the protocol left in its state and writes the response
// into the session's output buffer.  The worker moves the bytes.
package app

import (
	"fmt"
	"time"

	"go.uber.org/multierr"

	"forkhost/internal/errors"
	"forkhost/internal/session"
)

type entry struct {
	app       session.Application
	protocols []string
}

func (e entry) accepts(proto string) bool {
	if len(e.protocols) == 0 {
		return true
	}
	for _, p := range e.protocols {
		if p == proto {
			return true
		}
	}
	return false
}

// Registry is an ordered table of applications.
type Registry struct {
	entries []entry
	frozen  bool
}

// NewRegistry returns an empty, writable registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends a.  When protocols is empty the application serves
// every protocol; otherwise only the named ones.
func (r *Registry) Register(a session.Application, protocols ...string) error {
	if r.frozen {
		return fmt.Errorf("register application %s: %w", a.Name(), errors.ErrRegistryFrozen)
	}
	r.entries = append(r.entries, entry{app: a, protocols: protocols})
	return nil
}

// Freeze makes the registry read-only.
func (r *Registry) Freeze() { r.frozen = true }

// Len returns the number of registered applications.
func (r *Registry) Len() int { return len(r.entries) }

// Lookup finds an application by name.
func (r *Registry) Lookup(name string) (session.Application, bool) {
	for _, e := range r.entries {
		if e.app.Name() == name {
			return e.app, true
		}
	}
	return nil, false
}

// Spot returns the first application that serves proto.
func (r *Registry) Spot(proto session.Protocol) (session.Application, error) {
	for _, e := range r.entries {
		if e.accepts(proto.Name()) {
			return e.app, nil
		}
	}
	return nil, fmt.Errorf("protocol %s: %w", proto.Name(), errors.ErrUnknownApp)
}

// Init runs every application's one-time setup hook, stopping at the
// first failure.
func (r *Registry) Init() error {
	for _, e := range r.entries {
		if in, ok := e.app.(session.Initializer); ok {
			if err := in.Init(); err != nil {
				return fmt.Errorf("application %s init: %w", e.app.Name(), err)
			}
		}
	}
	return nil
}

// Teardown runs teardown hooks in reverse registration order.
func (r *Registry) Teardown() error {
	var err error
	for i := len(r.entries) - 1; i >= 0; i-- {
		a := r.entries[i].app
		if fin, ok := a.(session.Finalizer); ok {
			if ferr := fin.Teardown(); ferr != nil {
				err = multierr.Append(err, fmt.Errorf("application %s teardown: %w", a.Name(), ferr))
			}
		}
	}
	return err
}

// Options configures the built-in applications.
type Options struct {
	Program string // exec: run a program directly
	Command string // exec: run via the system shell
	Timeout time.Duration
}

// Builtin returns the named built-in application.
func Builtin(name string, opts Options) (session.Application, error) {
	switch name {
	case "echo":
		return Echo{}, nil
	case "status":
		return Status{}, nil
	case "exec":
		return &Exec{Program: opts.Program, Command: opts.Command, Timeout: opts.Timeout}, nil
	default:
		return nil, fmt.Errorf("%q: %w", name, errors.ErrUnknownApp)
	}
}

// Names lists the built-in application names.
func Names() []string { return []string{"echo", "status", "exec"} }

func payload(s *session.Session) ([]byte, error) {
	req, ok := s.ProtocolState().(session.Request)
	if !ok {
		return nil, fmt.Errorf("protocol %s carries no request payload", s.Protocol().Name())
	}
	return req.Payload(), nil
}
