package core

import (
	"context"
	"io"
	"net"
	"os"

	"forkhost/config"
	"forkhost/internal/app"
	"forkhost/internal/errors"
	"forkhost/internal/protocol"
	"forkhost/internal/transport"
	"forkhost/internal/worker"
	"forkhost/util"
)

// WorkerMode serves connections inside a process started by the
// supervisor.  The zero values of the optional fields read the
// inherited descriptors.
type WorkerMode struct {
	Config   *config.Config
	Strategy transport.Strategy
	Logger   *util.Logger

	Listener net.Listener // default: fd 3, or a reuseport bind
	Probe    worker.Probe // default: liveness pipe on fd 5
	Status   io.Writer    // default: status pipe on fd 4
}

// Run returns nil when the supervisor revokes the worker or ctx is
// cancelled, errors.ErrOrphaned when the supervisor disappears, and a
// *errors.SetupError when the worker cannot start.
func (m *WorkerMode) Run(ctx context.Context) error {
	cfg := m.Config
	name := cfg.WorkerName

	ln, err := m.listener(ctx)
	if err != nil {
		return &errors.SetupError{Worker: name, Err: err}
	}

	protocols := protocol.NewRegistry()
	if err := protocols.Register(&protocol.Line{MaxLen: cfg.MaxRequestLen}, protocol.Any); err != nil {
		ln.Close()
		return &errors.SetupError{Worker: name, Err: err}
	}
	protocols.Freeze()

	apps := app.NewRegistry()
	a, err := app.Builtin(cfg.App, cfg.AppOptions())
	if err == nil {
		err = apps.Register(a)
	}
	if err != nil {
		ln.Close()
		return &errors.SetupError{Worker: name, Err: err}
	}
	apps.Freeze()

	probe := m.Probe
	if probe == nil {
		probe = worker.WatchPipe(os.NewFile(worker.FdLiveness, "liveness"))
	}
	status := m.Status
	if status == nil {
		status = os.NewFile(worker.FdStatus, "status")
	}

	rt := &worker.Runtime{
		Proc:         worker.NewProcess(name, m.Strategy),
		Listener:     ln,
		Protocols:    protocols,
		Apps:         apps,
		Logger:       m.Logger,
		TickInterval: cfg.TickInterval,
		GracePeriod:  cfg.GracePeriod,
		Probe:        probe,
		Reporter:     worker.NewReporter(status),
	}
	return rt.Run(ctx)
}

func (m *WorkerMode) listener(ctx context.Context) (net.Listener, error) {
	switch {
	case m.Listener != nil:
		return m.Listener, nil
	case m.Config.ReusePort:
		return transport.Listen(ctx, m.Config.ListenAddr, true)
	default:
		return transport.Inherit(worker.FdListener)
	}
}
