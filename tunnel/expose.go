// Package tunnel publishes the host's listening port on a remote SSH
// gateway, the equivalent of "ssh -R".  Connections arriving at the
// gateway are carried back over the SSH connection and bridged to the
// local listener, where workers serve them like any other client.
package tunnel

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"forkhost/internal/errors"
	"forkhost/internal/metrics"
	"forkhost/internal/retry"
	"forkhost/internal/transport"
	"forkhost/util"
)

// ExposeConfig configures an Exposer.
type ExposeConfig struct {
	SSH *SSHConfig

	RemoteBind string // "" lets the gateway decide
	RemotePort int

	// LocalAddr is the host's listen address as host:port.
	LocalAddr string

	// KeepAlive is the keepalive@openssh.com interval; 0 disables it.
	KeepAlive time.Duration
	// Reconnect paces reconnection after the SSH connection is lost.
	// Nil uses retry.DefaultBackoff.
	Reconnect *retry.Backoff
	// Dialer reaches LocalAddr.  Nil uses a transport.TCPDialer.
	Dialer transport.Dialer
}

// Exposer keeps a reverse forward up until its context ends.
type Exposer struct {
	cfg    ExposeConfig
	logger *util.Logger
	stats  *metrics.Collector

	mu     sync.Mutex
	remote net.Addr
}

// NewExposer returns an Exposer; nothing is dialled until Run.
func NewExposer(cfg ExposeConfig, logger *util.Logger) *Exposer {
	if cfg.Reconnect == nil {
		cfg.Reconnect = retry.DefaultBackoff()
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &transport.TCPDialer{Timeout: 5 * time.Second}
	}
	return &Exposer{cfg: cfg, logger: logger, stats: metrics.New()}
}

// Stats counts bridged connections.
func (e *Exposer) Stats() *metrics.Collector { return e.stats }

// RemoteAddr is the gateway-side address of the current forward, or nil
// while disconnected.
func (e *Exposer) RemoteAddr() net.Addr {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remote
}

// link is one live SSH connection with its remote forward.
type link struct {
	client   *ssh.Client
	listener *remoteListener
}

func (l *link) close() {
	l.listener.Close()
	l.client.Close()
}

// Run connects and serves until ctx is cancelled.  A failure to connect
// the first time is returned at once; a lost connection is re-established
// with the Reconnect backoff and only an exhausted backoff ends Run.
func (e *Exposer) Run(ctx context.Context) error {
	ln, err := e.connect(ctx)
	if err != nil {
		return err
	}
	for {
		e.serve(ctx, ln)
		if ctx.Err() != nil {
			return nil
		}

		e.logger.Warn("expose: connection to %s lost; reconnecting", e.cfg.SSH.Addr())
		err := e.cfg.Reconnect.Do(ctx, func(attempt int) error {
			var err error
			ln, err = e.connect(ctx)
			if err != nil {
				e.logger.Verbose("expose: reconnect attempt %d: %v", attempt, err)
				e.stats.RecordError(err.Error())
			}
			return err
		})
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// connect dials the gateway and requests the remote forward.
func (e *Exposer) connect(ctx context.Context) (*link, error) {
	sc := e.cfg.SSH
	cc, err := sc.clientConfig(func(msg string) { e.logger.Notice("gateway: %s", msg) })
	if err != nil {
		return nil, errors.WrapSSH("auth", sc.Host, sc.Port, err)
	}

	addr := sc.Addr()
	e.logger.Debug("expose: dialing %s as %s", addr, sc.User)
	conn, err := (&net.Dialer{Timeout: cc.Timeout}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrap("dial", addr, err)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cc)
	if err != nil {
		conn.Close()
		return nil, errors.WrapSSH("handshake", sc.Host, sc.Port, err)
	}
	client := ssh.NewClient(c, chans, reqs)

	ln, err := listenRemote(client, e.cfg.RemoteBind, e.cfg.RemotePort)
	if err != nil {
		client.Close()
		return nil, errors.WrapSSH("forward", sc.Host, sc.Port, err)
	}
	go e.gatewayMessages(client)

	e.mu.Lock()
	e.remote = ln.Addr()
	e.mu.Unlock()
	e.logger.Notice("exposing %s on %s (remote %s)", e.cfg.LocalAddr, addr, ln.Addr())
	return &link{client: client, listener: ln}, nil
}

// serve accepts forwarded connections until the link dies or ctx ends.
func (e *Exposer) serve(ctx context.Context, l *link) {
	var wg sync.WaitGroup
	stop := make(chan struct{})
	defer func() {
		close(stop)
		l.close()
		wg.Wait()
		e.mu.Lock()
		e.remote = nil
		e.mu.Unlock()
	}()

	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		l.listener.Close()
	}()
	go func() {
		l.client.Wait() //nolint:errcheck
		l.listener.Close()
	}()
	if e.cfg.KeepAlive > 0 {
		go e.keepAlive(l, stop)
	}

	for {
		conn, err := l.listener.Accept()
		if err != nil {
			if !util.IsHarmless(err) {
				e.logger.Debug("expose: accept: %v", err)
			}
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.bridge(ctx, conn)
		}()
	}
}

// bridge connects one forwarded connection to the local listener.
func (e *Exposer) bridge(ctx context.Context, remote net.Conn) {
	e.stats.ConnectionOpened()
	defer e.stats.ConnectionClosed()

	local, err := e.cfg.Dialer.Dial(ctx, "tcp", e.cfg.LocalAddr)
	if err != nil {
		remote.Close()
		e.logger.Warn("expose: %v", err)
		e.stats.RecordError(err.Error())
		return
	}
	e.logger.Verbose("expose: %s -> %s", remote.RemoteAddr(), e.cfg.LocalAddr)
	if err := util.Bridge(ctx, remote, local); err != nil {
		e.logger.Debug("expose: bridge %s: %v", remote.RemoteAddr(), err)
	}
}

// keepAlive closes the link when the gateway stops answering.
func (e *Exposer) keepAlive(l *link, stop <-chan struct{}) {
	t := time.NewTicker(e.cfg.KeepAlive)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			if _, _, err := l.client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				e.logger.Warn("expose: keepalive: %v", err)
				e.stats.RecordError(fmt.Sprintf("keepalive: %v", err))
				l.close()
				return
			}
			e.stats.RecordTick(time.Now())
		}
	}
}

// gatewayMessages logs whatever the gateway prints on a session.
// Public gateways announce the assigned URL this way.  Gateways that
// refuse sessions are fine.
func (e *Exposer) gatewayMessages(client *ssh.Client) {
	sess, err := client.NewSession()
	if err != nil {
		e.logger.Debug("expose: no gateway session: %v", err)
		return
	}
	defer sess.Close()
	stdout, err := sess.StdoutPipe()
	if err != nil {
		return
	}
	stderr, err := sess.StderrPipe()
	if err != nil {
		return
	}
	if err := sess.Shell(); err != nil {
		return
	}

	var wg sync.WaitGroup
	relay := func(r io.Reader) {
		defer wg.Done()
		buf := make([]byte, 4096)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				e.logger.Notice("gateway: %s", buf[:n])
			}
			if err != nil {
				return
			}
		}
	}
	wg.Add(2)
	go relay(stdout)
	go relay(stderr)
	wg.Wait()
}
