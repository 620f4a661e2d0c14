package transport

import (
	"context"
	"net"
	"time"

	"forkhost/internal/errors"
)

// TCPDialer reaches the local service on behalf of a connection that
// arrived somewhere else, such as a channel forwarded by the SSH
// gateway.
type TCPDialer struct {
	Timeout time.Duration
	// KeepAlive is the TCP keepalive period.  Zero uses the system
	// default and a negative value turns keepalives off.
	KeepAlive time.Duration
}

// Dial connects to address.  Failures come back as a NetworkError with
// Op "dial".
func (d *TCPDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	nd := net.Dialer{Timeout: d.Timeout, KeepAlive: d.KeepAlive}
	conn, err := nd.DialContext(ctx, network, address)
	if err != nil {
		return nil, errors.Wrap("dial", address, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true) //nolint:errcheck
	}
	return conn, nil
}

// Close releases nothing; a TCPDialer keeps no state between dials.
func (d *TCPDialer) Close() error { return nil }
