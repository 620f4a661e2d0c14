package transport

import (
	"context"
	"fmt"
	"net"
	"os"

	"forkhost/internal/errors"
)

// Listen binds a TCP listener on addr.  With reusePort set the socket is
// opened with SO_REUSEPORT so every worker can bind the same address and
// the kernel spreads connections across them.
func Listen(ctx context.Context, addr string, reusePort bool) (net.Listener, error) {
	var lc net.ListenConfig
	if reusePort {
		if !ReusePortSupported {
			return nil, fmt.Errorf("listen %s: SO_REUSEPORT is not supported on this platform", addr)
		}
		lc.Control = reusePortControl
	}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrap("listen", addr, err)
	}
	return ln, nil
}

// Inherit rebuilds a listener from a descriptor passed down by the
// parent process.
func Inherit(fd uintptr) (net.Listener, error) {
	f := os.NewFile(fd, "listener")
	if f == nil {
		return nil, fmt.Errorf("inherit listener: invalid descriptor %d", fd)
	}
	defer f.Close()

	ln, err := net.FileListener(f)
	if err != nil {
		return nil, errors.Wrap("inherit", fmt.Sprintf("fd %d", fd), err)
	}
	return ln, nil
}

// File returns a duplicate descriptor of a TCP listener, suitable for
// handing to a child process.  The caller closes it.
func File(ln net.Listener) (*os.File, error) {
	tl, ok := ln.(*net.TCPListener)
	if !ok {
		return nil, fmt.Errorf("listener %T cannot be shared with a child process", ln)
	}
	return tl.File()
}
