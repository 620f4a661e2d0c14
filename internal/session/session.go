// Package session represents a single client connection: the socket,
// the peer, the protocol and application bound to it, their private
// per-connection state, and the input/output buffers the worker fills
// and drains.
//
// Protocols and applications operate on sessions rather than raw
// connections, which keeps them testable and decoupled from the
// transport strategy that moves the bytes.
package session

import (
	"bytes"
	"net"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"forkhost/internal/metrics"
	"forkhost/util"
)

// ParseResult is the outcome of one parser invocation.
type ParseResult int

const (
	// Incomplete means more bytes are needed; the parser will be called
	// again with the same, grown, input buffer.
	Incomplete ParseResult = iota
	// Complete means a full request is held in the protocol state.
	Complete
	// Invalid means the buffered bytes can never form a request.
	Invalid
)

func (r ParseResult) String() string {
	switch r {
	case Incomplete:
		return "incomplete"
	case Complete:
		return "complete"
	case Invalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// State is per-session private data owned by a protocol or an
// application.  Release is called exactly once when the session ends.
type State interface {
	Release() error
}

// Request is implemented by protocol state that carries a parsed
// request body applications can read without knowing the protocol.
type Request interface {
	Payload() []byte
}

// Protocol parses one wire format.
type Protocol interface {
	Name() string
	// NewState allocates the protocol's per-session data.  It may
	// return nil when the protocol keeps none.
	NewState() State
	// Parse consumes bytes from s.In.  Only the bytes of a recognised
	// request may be consumed; anything else stays buffered.
	Parse(s *Session) (ParseResult, error)
}

// Application turns a parsed request into a response.
type Application interface {
	Name() string
	NewState() State
	// Construct reads the parsed request from the protocol state and
	// writes the response into s.Out.
	Construct(s *Session) error
}

// Initializer is implemented by protocols and applications that need a
// one-time setup per process.
type Initializer interface {
	Init() error
}

// Finalizer is the teardown counterpart of Initializer.
type Finalizer interface {
	Teardown() error
}

// ErrorResponder is implemented by protocols that can tell the client
// why its connection is about to be closed.
type ErrorResponder interface {
	WriteError(s *Session, err error)
}

// Meta is the connection metadata protocol selection may consult.
type Meta struct {
	PeerIP    string
	PeerPort  int
	LocalPort int
}

// MetaOf extracts the metadata of an accepted connection.
func MetaOf(conn net.Conn) Meta {
	ip, port := util.HostPort(conn.RemoteAddr())
	_, local := util.HostPort(conn.LocalAddr())
	return Meta{PeerIP: ip, PeerPort: port, LocalPort: local}
}

// Phase is where a session is in its receive → send cycle.
type Phase int

const (
	Reading Phase = iota
	Writing
	Done
)

// Session encapsulates the runtime context for a single connection.
type Session struct {
	ID     uuid.UUID
	Conn   net.Conn
	Meta   Meta
	Logger *util.Logger
	Stats  *metrics.Collector

	In    bytes.Buffer
	Out   bytes.Buffer
	Phase Phase

	protocol   Protocol
	protoState State
	app        Application
	appState   State
	dispatched bool
	closed     bool
}

// New creates a Session bound to conn, p and a.  The bindings never
// change for the life of the session.
func New(conn net.Conn, meta Meta, p Protocol, a Application, logger *util.Logger) *Session {
	return &Session{
		ID:       uuid.New(),
		Conn:     conn,
		Meta:     meta,
		Logger:   logger,
		protocol: p,
		app:      a,
	}
}

// Protocol returns the bound protocol.
func (s *Session) Protocol() Protocol { return s.protocol }

// Application returns the bound application.
func (s *Session) Application() Application { return s.app }

// Peer returns "ip:port" of the client.
func (s *Session) Peer() string {
	return util.FormatAddr(s.Meta.PeerIP, s.Meta.PeerPort)
}

// ProtocolState returns the protocol's per-session data, allocating it
// on first use.
func (s *Session) ProtocolState() State {
	if s.protoState == nil && !s.closed {
		s.protoState = s.protocol.NewState()
	}
	return s.protoState
}

// AppState returns the application's per-session data, allocating it
// on first use.
func (s *Session) AppState() State {
	if s.appState == nil && !s.closed && s.app != nil {
		s.appState = s.app.NewState()
	}
	return s.appState
}

// Dispatch runs the bound application once.  Later calls are no-ops
// that return nil, so a request is never constructed twice.
func (s *Session) Dispatch() error {
	if s.dispatched {
		return nil
	}
	s.dispatched = true
	return s.app.Construct(s)
}

// Dispatched reports whether the application already ran.
func (s *Session) Dispatched() bool { return s.dispatched }

// Closed reports whether Close has run.
func (s *Session) Closed() bool { return s.closed }

// Close releases protocol then application state and closes the
// connection.  It is idempotent; only the first call does any work.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.Phase = Done

	var err error
	if s.protoState != nil {
		err = multierr.Append(err, s.protoState.Release())
		s.protoState = nil
	}
	if s.appState != nil {
		err = multierr.Append(err, s.appState.Release())
		s.appState = nil
	}
	if s.Conn != nil {
		if cerr := s.Conn.Close(); !util.IsHarmless(cerr) {
			err = multierr.Append(err, cerr)
		}
	}
	return err
}
