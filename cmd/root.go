// Package cmd wires the command-line flags to a core.Mode.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	"forkhost/config"
	"forkhost/internal/app"
	"forkhost/internal/core"
	"forkhost/internal/transport"
	"forkhost/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X forkhost/cmd.version=2.0.0"
var version = "0.1.0" //nolint:gochecknoglobals

// Execute parses args and runs the supervisor, or a worker when the
// hidden --worker flag is set.
func Execute(ctx context.Context, args []string) error {
	return execute(ctx, args, os.Stderr)
}

func execute(ctx context.Context, args []string, stderr io.Writer) error {
	cfg := config.Default()
	config.LoadFromEnv(cfg)

	fs := newFlagSet(cfg)
	fs.SetOutput(stderr)
	var showVersion, showHelp, dryRun bool
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")
	fs.BoolVar(&dryRun, "dry-run", false, "Validate the configuration and exit")
	fs.Usage = func() { printUsage(stderr, fs) }

	if err := fs.Parse(args); err != nil {
		return err
	}
	if showHelp {
		printUsage(stderr, fs)
		return nil
	}
	if showVersion {
		fmt.Fprintf(stderr, "forkhost %s\n", version)
		return nil
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	if err := cfg.ApplyExpose(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if dryRun {
		fmt.Fprintln(stderr, "configuration OK")
		return nil
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Close()

	mode, err := core.Build(cfg, args, logger)
	if err != nil {
		return err
	}
	return mode.Run(ctx)
}

func newFlagSet(cfg *config.Config) *flag.FlagSet {
	fs := flag.NewFlagSet("forkhost", flag.ContinueOnError)
	fs.SortFlags = false

	// ── listener ─────────────────────────────────────────────────
	fs.StringVarP(&cfg.ListenAddr, "listen", "l", cfg.ListenAddr, "Listen address (host:port)")
	fs.BoolVar(&cfg.ReusePort, "reuseport", cfg.ReusePort, "Each worker binds its own SO_REUSEPORT socket")

	// ── workers ──────────────────────────────────────────────────
	fs.IntVarP(&cfg.Workers, "workers", "n", cfg.Workers, "Number of worker processes")
	fs.StringVarP(&cfg.Strategy, "strategy", "s", cfg.Strategy,
		"Worker strategy: "+strings.Join(transport.Names(), ", "))
	fs.DurationVar(&cfg.TickInterval, "tick", cfg.TickInterval, "Worker housekeeping interval")
	fs.DurationVar(&cfg.GracePeriod, "grace", cfg.GracePeriod, "Shutdown grace period")
	fs.DurationVar(&cfg.MinUptime, "min-uptime", cfg.MinUptime, "Workers exiting sooner are respawned with backoff")

	// ── transport ────────────────────────────────────────────────
	fs.DurationVar(&cfg.IOTimeout, "io-timeout", cfg.IOTimeout, "Blocking I/O timeout (sync strategy)")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Accept wait when a pass moved no bytes (async strategy)")
	fs.IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, "Further I/O attempts after progress before yielding (async strategy, <0 disables)")
	fs.IntVar(&cfg.MaxRequestLen, "max-request", cfg.MaxRequestLen, "Longest accepted request in bytes")

	// ── application ──────────────────────────────────────────────
	fs.StringVarP(&cfg.App, "app", "a", cfg.App, "Application: "+strings.Join(app.Names(), ", "))
	fs.StringVarP(&cfg.ExecProgram, "exec", "e", cfg.ExecProgram, "Program run by the exec application")
	fs.StringVarP(&cfg.ExecCommand, "command", "c", cfg.ExecCommand, "Shell command run by the exec application")
	fs.DurationVar(&cfg.ExecTimeout, "exec-timeout", cfg.ExecTimeout, "Time limit for one exec request")

	// ── logging ──────────────────────────────────────────────────
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "Log file (default stdout)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, verbose, notice or warning")
	fs.Int64Var(&cfg.LogMaxSize, "log-max-size", cfg.LogMaxSize, "Rotate the log file past this many bytes")
	fs.BoolVar(&cfg.LogTimestamps, "log-timestamps", cfg.LogTimestamps, "Prefix log lines with a timestamp")

	// ── admin ────────────────────────────────────────────────────
	fs.StringVar(&cfg.AdminAddr, "admin", cfg.AdminAddr, "Admin HTTP API address (disabled if empty)")

	// ── SSH exposure ─────────────────────────────────────────────
	fs.StringVarP(&cfg.ExposeSpec, "expose", "R", cfg.ExposeSpec, "Publish the listen port on [user@]gateway[:port]")
	fs.StringVar(&cfg.RemoteBind, "remote-bind", cfg.RemoteBind, "Bind address on the gateway")
	fs.IntVar(&cfg.RemotePort, "remote-port", cfg.RemotePort, "Port on the gateway (0 lets it choose)")
	fs.StringVar(&cfg.SSHKeyPath, "expose-key", cfg.SSHKeyPath, "SSH private key file")
	fs.BoolVar(&cfg.SSHPassword, "expose-password", cfg.SSHPassword, "Prompt for the SSH password")
	fs.BoolVar(&cfg.UseSSHAgent, "expose-agent", cfg.UseSSHAgent, "Use the SSH agent")
	fs.BoolVar(&cfg.StrictHostKey, "strict-hostkey", cfg.StrictHostKey, "Verify the gateway host key")
	fs.StringVar(&cfg.KnownHostsPath, "known-hosts", cfg.KnownHostsPath, "Custom known_hosts path")
	fs.DurationVar(&cfg.KeepAlive, "keep-alive", cfg.KeepAlive, "SSH keepalive interval (0 disables)")
	fs.IntVar(&cfg.ReconnectRetries, "reconnect-retries", cfg.ReconnectRetries, "Gateway reconnect attempts")

	// ── worker re-exec (internal) ────────────────────────────────
	fs.BoolVar(&cfg.Worker, "worker", false, "Run as a worker")
	fs.StringVar(&cfg.WorkerName, "worker-name", "", "Worker name")
	fs.MarkHidden("worker")      //nolint:errcheck
	fs.MarkHidden("worker-name") //nolint:errcheck

	return fs
}

func newLogger(cfg *config.Config) (*util.Logger, error) {
	level, err := util.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logger := util.NewLogger(level)
	logger.SetTimestamps(cfg.LogTimestamps)
	logger.SetMaxSize(cfg.LogMaxSize)
	if err := logger.Redirect(cfg.LogFile); err != nil {
		return nil, fmt.Errorf("log file: %w", err)
	}
	return logger, nil
}

func printUsage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintf(w, `forkhost v%s - pre-forking network service host

Usage:
  forkhost [options]

Options:
`, version)
	fmt.Fprint(w, fs.FlagUsages())
	fmt.Fprint(w, `
Examples:
  forkhost -l :7000 -n 4                      Echo service, four workers
  forkhost -s async -a status --admin :9100   Status app plus admin API
  forkhost -a exec -c 'tr a-z A-Z'            Uppercase every request
  forkhost -R ops@gateway --remote-port 9000  Publish through an SSH gateway
`)
}
