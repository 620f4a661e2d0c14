package util

import (
	"context"
	"errors"
	"io"
	"net"
	"os"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// DefaultBufSize is the read size for session and bridge I/O.
const DefaultBufSize = 32 * 1024

// Bridge pumps bytes both ways between a and b.  It returns once either
// direction ends or ctx is cancelled, with both connections closed.
// Disconnect noise is not reported.
func Bridge(ctx context.Context, a, b net.Conn) error {
	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{}, 2)

	pump := func(dst, src net.Conn) func() error {
		return func() error {
			buf := GetBuf()
			defer PutBuf(buf)
			_, err := io.CopyBuffer(dst, src, *buf)
			done <- struct{}{}
			if IsHarmless(err) {
				return nil
			}
			return err
		}
	}
	g.Go(pump(b, a))
	g.Go(pump(a, b))

	select {
	case <-gctx.Done():
	case <-done:
	}
	return multierr.Combine(quietClose(a), quietClose(b), g.Wait())
}

func quietClose(c io.Closer) error {
	if err := c.Close(); !IsHarmless(err) {
		return err
	}
	return nil
}

// IsHarmless reports whether err is what a torn-down connection
// normally produces.
func IsHarmless(err error) bool {
	return err == nil ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed)
}

// IsTimeout reports whether err is an expired deadline.
func IsTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
