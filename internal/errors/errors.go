// Package errors defines the error values forkhost passes between
// layers.
//
// Errors have one of two scopes.  A connection-scoped error (no matching
// protocol, parse, dispatch, transport) ends only the session it came
// from, and the worker keeps serving.  A process-scoped error (setup,
// orphaning, revoked liveness) ends the worker with an exit status the
// supervisor can tell apart.
package errors

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"syscall"
)

// ExitBootError is the exit status of a worker whose setup failed.
const ExitBootError = 3

var (
	ErrNoMatchingProtocol = errors.New("no protocol claims the connection")
	ErrParse              = errors.New("malformed request")
	ErrDispatch           = errors.New("application failed")
	ErrTransport          = errors.New("transport failure")
	ErrWouldBlock         = errors.New("operation would block")
	ErrSetup              = errors.New("worker setup failed")
	ErrOrphaned           = errors.New("worker orphaned: parent changed")
	ErrNotAlive           = errors.New("worker liveness revoked")
	ErrUnknownStrategy    = errors.New("unknown worker strategy")
	ErrUnknownApp         = errors.New("unknown application")
	ErrRegistryFrozen     = errors.New("registry is frozen")
)

// connectionScoped lists the sentinels that stay inside a session.
var connectionScoped = []error{ErrNoMatchingProtocol, ErrParse, ErrDispatch, ErrTransport}

// NetworkError is a failed socket operation: listen, inherit, accept
// or dial.
type NetworkError struct {
	Op        string
	Addr      string
	Err       error
	Retryable bool
}

func (e *NetworkError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: %v", e.Op, e.Addr, e.Err)
	if e.Retryable {
		b.WriteString(" (retryable)")
	}
	return b.String()
}

func (e *NetworkError) Unwrap() error { return e.Err }

// SSHError is a failure talking to the exposure gateway.  Op is one of
// "handshake", "auth" or "forward".
type SSHError struct {
	Op   string
	Host string
	Port int
	Err  error
}

func (e *SSHError) Error() string {
	return fmt.Sprintf("ssh %s %s:%d: %v", e.Op, e.Host, e.Port, e.Err)
}

func (e *SSHError) Unwrap() error { return e.Err }

// SpawnError means a worker process could not be created.  Running
// workers are unaffected.
type SpawnError struct {
	Name string
	Err  error
}

func (e *SpawnError) Error() string { return fmt.Sprintf("spawn worker %s: %v", e.Name, e.Err) }
func (e *SpawnError) Unwrap() error { return e.Err }

// SetupError is fatal to the worker process.  It matches ErrSetup.
type SetupError struct {
	Worker string
	Err    error
}

func (e *SetupError) Error() string        { return fmt.Sprintf("worker %s setup: %v", e.Worker, e.Err) }
func (e *SetupError) Unwrap() error        { return e.Err }
func (e *SetupError) Is(target error) bool { return target == ErrSetup }

// SessionError is a connection-scoped failure.  Kind is one of the
// connection sentinels.
type SessionError struct {
	Kind error
	Peer string
	Err  error
}

func (e *SessionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("session %s: %v", e.Peer, e.Kind)
	}
	return fmt.Sprintf("session %s: %v: %v", e.Peer, e.Kind, e.Err)
}

func (e *SessionError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// TransportError is a send or receive failure.  It matches ErrTransport.
type TransportError struct {
	Op   string
	Peer string
	Err  error
}

func (e *TransportError) Error() string        { return fmt.Sprintf("%s %s: %v", e.Op, e.Peer, e.Err) }
func (e *TransportError) Unwrap() error        { return e.Err }
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// ConfigError rejects one flag.  It renders as
//
//	config: --field=value: message
//	  hint: hint
type ConfigError struct {
	Field   string
	Value   any // nil leaves out "=value"
	Message string
	Hint    string
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString("config: --")
	b.WriteString(e.Field)
	if e.Value != nil {
		fmt.Fprintf(&b, "=%v", e.Value)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Hint != "" {
		b.WriteString("\n  hint: ")
		b.WriteString(e.Hint)
	}
	return b.String()
}

// Wrap builds a NetworkError and classifies it.
func Wrap(op, addr string, err error) *NetworkError {
	return &NetworkError{Op: op, Addr: addr, Err: err, Retryable: transient(err)}
}

// WrapSSH builds an SSHError.
func WrapSSH(op, host string, port int, err error) *SSHError {
	return &SSHError{Op: op, Host: host, Port: port, Err: err}
}

// Session builds a SessionError of the given kind.
func Session(kind error, peer string, err error) *SessionError {
	return &SessionError{Kind: kind, Peer: peer, Err: err}
}

// IsRetryable reports whether the operation behind err may succeed if
// tried again.  A NetworkError's own classification wins.
func IsRetryable(err error) bool {
	var ne *NetworkError
	if errors.As(err, &ne) {
		return ne.Retryable
	}
	return transient(err)
}

// IsConnectionScoped reports whether err should end only its session.
func IsConnectionScoped(err error) bool {
	for _, kind := range connectionScoped {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

// ExitCode is the status a process ending with err exits with.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, ErrSetup) {
		return ExitBootError
	}
	return 1
}

// transientErrnos are the errors an accept or dial can hit under load
// that clear up by themselves.
var transientErrnos = []error{
	syscall.ECONNABORTED,
	syscall.ECONNRESET,
	syscall.ECONNREFUSED,
	syscall.EMFILE,
	syscall.ENFILE,
	syscall.ENOBUFS,
	syscall.EAGAIN,
	syscall.EINTR,
}

func transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	for _, errno := range transientErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}
	var dns *net.DNSError
	if errors.As(err, &dns) {
		return dns.IsTemporary || dns.IsTimeout
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// The standard helpers, so callers need a single errors import.

func As(err error, target any) bool { return errors.As(err, target) }
func Is(err, target error) bool     { return errors.Is(err, target) }
func New(text string) error         { return errors.New(text) }
func Unwrap(err error) error        { return errors.Unwrap(err) }
func Join(errs ...error) error      { return errors.Join(errs...) }
