package core

import (
	"context"
	"net"
	"os"

	"golang.org/x/sync/errgroup"

	"forkhost/config"
	"forkhost/internal/supervisor"
	"forkhost/internal/transport"
	"forkhost/tunnel"
	"forkhost/util"
)

// SupervisorMode binds the listening socket, keeps the worker pool
// alive and runs the optional admin API and SSH exposure next to it.
type SupervisorMode struct {
	Config   *config.Config
	Strategy transport.Strategy
	Args     []string
	Expose   *tunnel.ExposeConfig // nil disables exposure
	Logger   *util.Logger

	// Spawner defaults to re-executing this binary.
	Spawner supervisor.Spawner
}

// Run blocks until ctx is cancelled or a component fails.  Either way
// every worker is shut down before it returns.
func (m *SupervisorMode) Run(ctx context.Context) error {
	cfg := m.Config

	// In reuseport mode every worker binds for itself.
	var ln net.Listener
	if !cfg.ReusePort {
		l, err := transport.Listen(ctx, cfg.ListenAddr, false)
		if err != nil {
			return err
		}
		defer l.Close()
		ln = l
		m.Logger.Notice("listening on %s", l.Addr())
	}

	spawner := m.Spawner
	if spawner == nil {
		spawner = &supervisor.ExecSpawner{
			Args:     m.Args,
			Listener: ln,
			Stdout:   os.Stdout,
			Stderr:   os.Stderr,
		}
	}
	sup := supervisor.New(supervisor.Options{
		Workers:     cfg.Workers,
		Strategy:    m.Strategy,
		GracePeriod: cfg.GracePeriod,
		MinUptime:   cfg.MinUptime,
	}, spawner, m.Logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sup.Run(gctx) })
	if cfg.AdminAddr != "" {
		g.Go(func() error { return sup.ServeAdmin(gctx, cfg.AdminAddr) })
	}
	if m.Expose != nil {
		exp := tunnel.NewExposer(*m.Expose, m.Logger)
		g.Go(func() error { return exp.Run(gctx) })
	}
	return g.Wait()
}
