package tunnel

import (
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// RFC 4254 §7.1 "tcpip-forward" / "cancel-tcpip-forward" payload.
type forwardRequest struct {
	Addr string
	Port uint32
}

// RFC 4254 §7.2 "forwarded-tcpip" channel-open payload.
type forwardedChannel struct {
	Addr       string
	Port       uint32
	OriginAddr string
	OriginPort uint32
}

// remoteListener accepts forwarded-tcpip channels as connections.
//
// ssh.Client.Listen matches channels against the exact bind address it
// sent, and several public gateways echo back a different one ("0.0.0.0"
// for ""), so every channel would be refused.  remoteListener takes all
// forwarded-tcpip channels instead.
type remoteListener struct {
	client   *ssh.Client
	req      forwardRequest
	incoming <-chan ssh.NewChannel
	done     chan struct{}
	once     sync.Once
}

// listenRemote asks the gateway to listen on bindAddr:port and forward
// connections back over client.
func listenRemote(client *ssh.Client, bindAddr string, port int) (*remoteListener, error) {
	incoming := client.HandleChannelOpen("forwarded-tcpip")
	if incoming == nil {
		return nil, fmt.Errorf("forwarded-tcpip channels already claimed")
	}
	req := forwardRequest{Addr: bindAddr, Port: uint32(port)}
	ok, reply, err := client.SendRequest("tcpip-forward", true, ssh.Marshal(&req))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("gateway refused to listen on %s", net.JoinHostPort(bindAddr, fmt.Sprint(port)))
	}
	// Port 0 asks the gateway to choose; it answers with the port.
	if port == 0 && len(reply) >= 4 {
		var assigned struct{ Port uint32 }
		if ssh.Unmarshal(reply, &assigned) == nil {
			req.Port = assigned.Port
		}
	}
	return &remoteListener{
		client:   client,
		req:      req,
		incoming: incoming,
		done:     make(chan struct{}),
	}, nil
}

func (l *remoteListener) Accept() (net.Conn, error) {
	select {
	case <-l.done:
		return nil, net.ErrClosed
	case nc, ok := <-l.incoming:
		if !ok {
			return nil, io.EOF
		}
		ch, reqs, err := nc.Accept()
		if err != nil {
			return nil, fmt.Errorf("accept forwarded channel: %w", err)
		}
		go ssh.DiscardRequests(reqs)

		raddr := &net.TCPAddr{}
		var p forwardedChannel
		if ssh.Unmarshal(nc.ExtraData(), &p) == nil {
			raddr = &net.TCPAddr{IP: net.ParseIP(p.OriginAddr), Port: int(p.OriginPort)}
		}
		return &channelConn{Channel: ch, raddr: raddr}, nil
	}
}

// Close cancels the remote forward.  The SSH connection stays up.
func (l *remoteListener) Close() error {
	l.once.Do(func() {
		close(l.done)
		l.client.SendRequest("cancel-tcpip-forward", false, ssh.Marshal(&l.req)) //nolint:errcheck
	})
	return nil
}

func (l *remoteListener) Addr() net.Addr {
	return &net.TCPAddr{IP: net.ParseIP(l.req.Addr), Port: int(l.req.Port)}
}

// channelConn adapts an ssh.Channel to net.Conn.  Channels have no
// deadlines; the setters are no-ops.
type channelConn struct {
	ssh.Channel
	raddr net.Addr
}

func (c *channelConn) LocalAddr() net.Addr              { return &net.TCPAddr{} }
func (c *channelConn) RemoteAddr() net.Addr             { return c.raddr }
func (c *channelConn) SetDeadline(time.Time) error      { return nil }
func (c *channelConn) SetReadDeadline(time.Time) error  { return nil }
func (c *channelConn) SetWriteDeadline(time.Time) error { return nil }
