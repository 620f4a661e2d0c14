package worker

import (
	"net"
	"testing"
	"time"
)

func TestBoundedConn_ClampKeepsOriginalTimeout(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	const timeout = 200 * time.Millisecond
	c := bound(server, func() time.Time { return time.Now().Add(20 * time.Millisecond) })

	start := time.Now()
	yields := 0
	for {
		// Each retry asks for a fresh full timeout, as a strategy does.
		c.SetReadDeadline(time.Now().Add(timeout)) //nolint:errcheck
		_, err := c.Read(make([]byte, 1))
		if err == nil {
			t.Fatal("read returned data from a silent peer")
		}
		if !yielded(c, err, false) {
			break
		}
		yields++
		if time.Since(start) > 2*time.Second {
			t.Fatal("clamped wait never reached its own timeout")
		}
	}

	if yields == 0 {
		t.Error("wait was never cut short for the tick")
	}
	if took := time.Since(start); took < timeout || took > timeout+300*time.Millisecond {
		t.Errorf("timed out after %v, want about %v", took, timeout)
	}
}

func TestBoundedConn_ProgressResetsWait(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	c := bound(server, func() time.Time { return time.Now().Add(10 * time.Millisecond) })
	c.SetReadDeadline(time.Now().Add(time.Hour)) //nolint:errcheck
	if _, err := c.Read(make([]byte, 1)); !yielded(c, err, false) {
		t.Fatalf("err = %v, want a clamped timeout", err)
	}

	go client.Write([]byte("x"))                 //nolint:errcheck
	c.SetReadDeadline(time.Now().Add(time.Hour)) //nolint:errcheck
	for {
		n, err := c.Read(make([]byte, 1))
		if n == 1 {
			break
		}
		if !yielded(c, err, false) {
			t.Fatalf("err = %v", err)
		}
		c.SetReadDeadline(time.Now().Add(time.Hour)) //nolint:errcheck
	}
	if !c.readWant.IsZero() {
		t.Error("a read that returned data should forget the pending target")
	}
}

func TestBoundedConn_NoLimit(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	c := bound(server, func() time.Time { return time.Time{} })
	c.SetWriteDeadline(time.Now().Add(10 * time.Millisecond)) //nolint:errcheck
	_, err := c.Write([]byte("x"))
	if err == nil {
		t.Fatal("write to a silent peer should time out")
	}
	if yielded(c, err, true) {
		t.Error("timeout without a limit must be the caller's own")
	}
}
