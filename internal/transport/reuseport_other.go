//go:build !unix

package transport

import "syscall"

// ReusePortSupported reports whether Listen honours reusePort.
const ReusePortSupported = false

func reusePortControl(_, _ string, _ syscall.RawConn) error { return nil }
