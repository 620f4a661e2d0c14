package worker

import (
	"net"
	"time"

	"forkhost/util"
)

// boundedConn clamps the deadlines a strategy sets to the worker's next
// tick, so a blocking read or write never holds the tick back.  A wait
// cut short by the clamp keeps its original target: the strategy's own
// timeout still fires once, measured from when the wait began.
type boundedConn struct {
	net.Conn
	limit func() time.Time

	readWant, writeWant       time.Time
	readClipped, writeClipped bool
}

func bound(conn net.Conn, limit func() time.Time) *boundedConn {
	return &boundedConn{Conn: conn, limit: limit}
}

func (c *boundedConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	if n > 0 {
		c.readWant = time.Time{}
	}
	return n, err
}

func (c *boundedConn) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	if n > 0 {
		c.writeWant = time.Time{}
	}
	return n, err
}

func (c *boundedConn) SetDeadline(t time.Time) error {
	if err := c.SetReadDeadline(t); err != nil {
		return err
	}
	return c.SetWriteDeadline(t)
}

func (c *boundedConn) SetReadDeadline(t time.Time) error {
	t, c.readWant, c.readClipped = c.clamp(t, c.readWant)
	return c.Conn.SetReadDeadline(t)
}

func (c *boundedConn) SetWriteDeadline(t time.Time) error {
	t, c.writeWant, c.writeClipped = c.clamp(t, c.writeWant)
	return c.Conn.SetWriteDeadline(t)
}

// clamp returns the deadline to apply, the target to remember while a
// clipped wait is pending, and whether t was clipped.
func (c *boundedConn) clamp(t, want time.Time) (time.Time, time.Time, bool) {
	if !want.IsZero() {
		t = want
	}
	limit := c.limit()
	if limit.IsZero() || (!t.IsZero() && !limit.Before(t)) {
		return t, time.Time{}, false
	}
	return limit, t, true
}

// yielded reports whether err is a timeout caused by the clamp rather
// than by the strategy's own deadline.
func yielded(conn net.Conn, err error, write bool) bool {
	c, ok := conn.(*boundedConn)
	if !ok || err == nil || !util.IsTimeout(err) {
		return false
	}
	if write {
		return c.writeClipped
	}
	return c.readClipped
}
