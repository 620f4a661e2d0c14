package core

import (
	"time"

	"forkhost/config"
	"forkhost/internal/retry"
	"forkhost/internal/transport"
	"forkhost/tunnel"
	"forkhost/util"
)

// Build selects the mode for cfg.  args is the command line the process
// was started with; the supervisor hands it to every worker so both
// sides read the same configuration.
func Build(cfg *config.Config, args []string, logger *util.Logger) (Mode, error) {
	strategy, err := transport.Lookup(cfg.Strategy, cfg.TransportOptions())
	if err != nil {
		return nil, err
	}
	if cfg.Worker {
		return &WorkerMode{Config: cfg, Strategy: strategy, Logger: logger}, nil
	}

	m := &SupervisorMode{
		Config:   cfg,
		Strategy: strategy,
		Args:     args,
		Logger:   logger,
	}
	if cfg.ExposeEnabled {
		m.Expose = exposeConfig(cfg)
	}
	return m, nil
}

func exposeConfig(cfg *config.Config) *tunnel.ExposeConfig {
	attempts := cfg.ReconnectRetries
	if attempts <= 0 {
		attempts = config.DefaultMaxReconnectAttempts
	}
	b := retry.DefaultBackoff()
	b.MaxAttempts = attempts

	return &tunnel.ExposeConfig{
		SSH: &tunnel.SSHConfig{
			User:                     cfg.ExposeUser,
			Host:                     cfg.ExposeHost,
			Port:                     cfg.ExposePort,
			KeyPath:                  cfg.SSHKeyPath,
			PromptPass:               cfg.SSHPassword,
			UseAgent:                 cfg.UseSSHAgent,
			StrictHostKey:            cfg.StrictHostKey,
			KnownHosts:               cfg.KnownHostsPath,
			ConnTimeout:              config.DefaultConnTimeout,
			AllowKeyboardInteractive: true,
		},
		RemoteBind: cfg.RemoteBind,
		RemotePort: cfg.RemotePort,
		LocalAddr:  cfg.LocalAddr(),
		KeepAlive:  cfg.KeepAlive,
		Reconnect:  b,
		Dialer:     &transport.TCPDialer{Timeout: 5 * time.Second},
	}
}
