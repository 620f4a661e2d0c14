package transport

import (
	"bytes"
	"net"
	"time"

	"forkhost/internal/errors"
	"forkhost/util"
)

// Sync blocks on every operation up to IOTimeout.
type Sync struct {
	opts Options
}

func (s *Sync) Name() string { return "sync" }

func (s *Sync) Setup(ln net.Listener) error { return requireDeadlines(ln) }

func (s *Sync) Cron(time.Time) error { return nil }

func (s *Sync) AcceptWait() time.Duration { return s.opts.IOTimeout }

func (s *Sync) Serial() bool { return true }

func (s *Sync) Recv(conn net.Conn, buf *bytes.Buffer) (int, error) {
	conn.SetReadDeadline(time.Now().Add(s.opts.IOTimeout)) //nolint:errcheck
	return recvOnce(conn, buf)
}

func (s *Sync) Send(conn net.Conn, buf *bytes.Buffer) (int, error) {
	total := 0
	for buf.Len() > 0 {
		conn.SetWriteDeadline(time.Now().Add(s.opts.IOTimeout)) //nolint:errcheck
		n, err := sendOnce(conn, buf)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func recvOnce(conn net.Conn, buf *bytes.Buffer) (int, error) {
	b := util.GetBuf()
	defer util.PutBuf(b)

	n, err := conn.Read(*b)
	buf.Write((*b)[:n])
	if err != nil {
		return n, &errors.TransportError{Op: "recv", Peer: peerOf(conn), Err: err}
	}
	return n, nil
}

func sendOnce(conn net.Conn, buf *bytes.Buffer) (int, error) {
	n, err := conn.Write(buf.Bytes())
	buf.Next(n)
	if err != nil {
		return n, &errors.TransportError{Op: "send", Peer: peerOf(conn), Err: err}
	}
	return n, nil
}

func peerOf(conn net.Conn) string {
	if a := conn.RemoteAddr(); a != nil {
		return a.String()
	}
	return "unknown"
}
