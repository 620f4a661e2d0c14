// Package core is the orchestration layer.  It turns a Config into one
// of the two roles a forkhost process plays and owns that role's
// lifecycle.
//
// Architecture layers (bottom → top):
//
//	transport, session  →  protocol, app  →  worker  →  supervisor  →  core  →  cmd
//
// The supervisor role never serves traffic; it re-executes the binary
// with the hidden --worker flags to obtain the worker role.
package core

import "context"

// Mode is a complete process role, from setup to teardown.
type Mode interface {
	Run(ctx context.Context) error
}
