// Package protocol holds the table of wire-protocol drivers a worker can
// speak and decides which one owns a freshly accepted connection.
//
// Drivers are registered once at boot in priority order.  After Freeze
// the table is read-only, so it can be consulted from the serving loop
// without locking.
package protocol

import (
	"fmt"

	"go.uber.org/multierr"

	"forkhost/internal/errors"
	"forkhost/internal/session"
)

// MatchFunc reports whether a protocol claims a connection with the
// given metadata.
type MatchFunc func(session.Meta) bool

// Any claims every connection.
func Any(session.Meta) bool { return true }

// PeerPort claims connections whose client port is one of ports.
func PeerPort(ports ...int) MatchFunc {
	return func(m session.Meta) bool { return containsPort(ports, m.PeerPort) }
}

// LocalPort claims connections accepted on one of ports.
func LocalPort(ports ...int) MatchFunc {
	return func(m session.Meta) bool { return containsPort(ports, m.LocalPort) }
}

func containsPort(ports []int, p int) bool {
	for _, want := range ports {
		if want == p {
			return true
		}
	}
	return false
}

type entry struct {
	proto session.Protocol
	match MatchFunc
}

// Registry is an ordered table of protocol drivers.
type Registry struct {
	entries []entry
	frozen  bool
}

// NewRegistry returns an empty, writable registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends p.  A nil match claims every connection.
func (r *Registry) Register(p session.Protocol, match MatchFunc) error {
	if r.frozen {
		return fmt.Errorf("register protocol %s: %w", p.Name(), errors.ErrRegistryFrozen)
	}
	if match == nil {
		match = Any
	}
	r.entries = append(r.entries, entry{proto: p, match: match})
	return nil
}

// Freeze makes the registry read-only.
func (r *Registry) Freeze() { r.frozen = true }

// Len returns the number of registered drivers.
func (r *Registry) Len() int { return len(r.entries) }

// Names lists the drivers in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.proto.Name()
	}
	return names
}

// Lookup finds a driver by name.
func (r *Registry) Lookup(name string) (session.Protocol, bool) {
	for _, e := range r.entries {
		if e.proto.Name() == name {
			return e.proto, true
		}
	}
	return nil, false
}

// Spot returns the first driver, in registration order, that claims the
// connection.  The choice is final for the life of the session.
func (r *Registry) Spot(meta session.Meta) (session.Protocol, error) {
	for _, e := range r.entries {
		if e.match(meta) {
			return e.proto, nil
		}
	}
	return nil, errors.ErrNoMatchingProtocol
}

// Init runs the one-time setup hook of every driver that has one and
// stops at the first failure.
func (r *Registry) Init() error {
	for _, e := range r.entries {
		if in, ok := e.proto.(session.Initializer); ok {
			if err := in.Init(); err != nil {
				return fmt.Errorf("protocol %s init: %w", e.proto.Name(), err)
			}
		}
	}
	return nil
}

// Teardown runs every teardown hook in reverse registration order and
// returns all failures combined.
func (r *Registry) Teardown() error {
	var err error
	for i := len(r.entries) - 1; i >= 0; i-- {
		p := r.entries[i].proto
		if fin, ok := p.(session.Finalizer); ok {
			if ferr := fin.Teardown(); ferr != nil {
				err = multierr.Append(err, fmt.Errorf("protocol %s teardown: %w", p.Name(), ferr))
			}
		}
	}
	return err
}
