package transport

import (
	"bytes"
	"net"
	"time"

	"forkhost/internal/errors"
	"forkhost/util"
)

// attemptWindow is the deadline of one async attempt.  It is short
// enough to act as a readiness check; an already expired deadline
// would fail before the read is even tried.
const attemptWindow = 100 * time.Microsecond

// Async never waits on a quiet peer.  Each call makes one attempt and
// reports errors.ErrWouldBlock when nothing moved; after progress it
// keeps going for up to MaxRetries further attempts so a burst is
// handled in one pass.  The worker waits PollInterval in accept when a
// whole pass made no progress.
type Async struct {
	opts Options
}

func (a *Async) Name() string { return "async" }

func (a *Async) Setup(ln net.Listener) error { return requireDeadlines(ln) }

func (a *Async) Cron(time.Time) error { return nil }

func (a *Async) AcceptWait() time.Duration { return a.opts.PollInterval }

func (a *Async) Serial() bool { return false }

func (a *Async) Recv(conn net.Conn, buf *bytes.Buffer) (int, error) {
	total := 0
	for attempt := 0; attempt <= a.opts.MaxRetries; attempt++ {
		conn.SetReadDeadline(time.Now().Add(attemptWindow)) //nolint:errcheck
		n, err := recvOnce(conn, buf)
		total += n
		if err != nil {
			if total > 0 || util.IsTimeout(err) {
				break
			}
			return 0, err
		}
		if n == 0 {
			break
		}
	}
	if total == 0 {
		return 0, errors.ErrWouldBlock
	}
	return total, nil
}

// Send flushes as much of buf as the peer accepts.  Partial progress is
// not an error; the caller sends again while buf is non-empty.
func (a *Async) Send(conn net.Conn, buf *bytes.Buffer) (int, error) {
	if buf.Len() == 0 {
		return 0, nil
	}
	total := 0
	for attempt := 0; attempt <= a.opts.MaxRetries && buf.Len() > 0; attempt++ {
		conn.SetWriteDeadline(time.Now().Add(attemptWindow)) //nolint:errcheck
		n, err := sendOnce(conn, buf)
		total += n
		if err != nil {
			if total > 0 || util.IsTimeout(err) {
				break
			}
			return 0, err
		}
		if n == 0 {
			break
		}
	}
	if total == 0 {
		return 0, errors.ErrWouldBlock
	}
	return total, nil
}
