// Package config defines the runtime configuration for forkhost.
//
// Values come from three layers, highest precedence first: command-line
// flags (cmd), FORKHOST_* environment variables (LoadFromEnv) and the
// defaults in defaults.go.  Supervisor and workers share one Config: a
// worker is started with the supervisor's command line plus the hidden
// worker flags, so both sides always agree.
package config

import (
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"forkhost/internal/app"
	"forkhost/internal/errors"
	"forkhost/internal/transport"
	"forkhost/util"
)

// Config holds every tuneable of a forkhost process.
type Config struct {
	// ── Listener ─────────────────────────────────────────────────────
	ListenAddr string
	// ReusePort makes every worker bind its own SO_REUSEPORT socket
	// instead of inheriting the supervisor's.
	ReusePort bool

	// ── Workers ──────────────────────────────────────────────────────
	Workers      int
	Strategy     string
	TickInterval time.Duration
	GracePeriod  time.Duration
	MinUptime    time.Duration

	// ── Transport ────────────────────────────────────────────────────
	IOTimeout     time.Duration
	PollInterval  time.Duration
	MaxRetries    int
	MaxRequestLen int

	// ── Application ──────────────────────────────────────────────────
	App         string
	ExecProgram string // --exec: program path
	ExecCommand string // --command: shell command
	ExecTimeout time.Duration

	// ── Logging ──────────────────────────────────────────────────────
	LogFile       string
	LogLevel      string
	LogMaxSize    int64
	LogTimestamps bool

	// ── Admin API ────────────────────────────────────────────────────
	AdminAddr string

	// ── SSH exposure ─────────────────────────────────────────────────
	ExposeSpec       string // raw [user@]host[:port] from --expose
	ExposeEnabled    bool
	ExposeUser       string
	ExposeHost       string
	ExposePort       int
	RemoteBind       string
	RemotePort       int
	SSHKeyPath       string
	SSHPassword      bool // prompt interactively
	UseSSHAgent      bool
	StrictHostKey    bool
	KnownHostsPath   string
	KeepAlive        time.Duration
	ReconnectRetries int

	// ── Worker mode (set by the supervisor) ──────────────────────────
	Worker     bool
	WorkerName string
}

// gatewayRe matches [user@]host[:port].
var gatewayRe = regexp.MustCompile(`^(?:([^@]+)@)?([^:@]+)(?::(\d+))?$`)

// ParseGatewaySpec splits "deploy@gw.example.com:2222" into its parts.
// The port defaults to 22.
func ParseGatewaySpec(spec string) (user, host string, port int, err error) {
	m := gatewayRe.FindStringSubmatch(spec)
	if m == nil {
		return "", "", 0, &errors.ConfigError{
			Field: "expose", Value: spec,
			Message: "malformed gateway",
			Hint:    "expected [user@]host[:port]",
		}
	}
	user, host, port = m[1], m[2], DefaultSSHPort
	if m[3] != "" {
		port, err = strconv.Atoi(m[3])
		if err != nil || port < 1 || port > 65535 {
			return "", "", 0, &errors.ConfigError{Field: "expose", Value: spec, Message: "gateway port out of range 1-65535"}
		}
	}
	return user, host, port, nil
}

// ApplyExpose parses ExposeSpec into the Expose* fields.
func (c *Config) ApplyExpose() error {
	if c.ExposeSpec == "" {
		return nil
	}
	user, host, port, err := ParseGatewaySpec(c.ExposeSpec)
	if err != nil {
		return err
	}
	c.ExposeEnabled = true
	c.ExposeUser, c.ExposeHost, c.ExposePort = user, host, port
	return nil
}

// LocalAddr is the loopback address the exposure dials to reach the
// host's listener.
func (c *Config) LocalAddr() string {
	host, port, err := net.SplitHostPort(c.ListenAddr)
	if err != nil {
		return c.ListenAddr
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}

// TransportOptions collects the strategy tuneables.
func (c *Config) TransportOptions() transport.Options {
	return transport.Options{
		IOTimeout:    c.IOTimeout,
		PollInterval: c.PollInterval,
		MaxRetries:   c.MaxRetries,
	}
}

// AppOptions collects the application tuneables.
func (c *Config) AppOptions() app.Options {
	return app.Options{Program: c.ExecProgram, Command: c.ExecCommand, Timeout: c.ExecTimeout}
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent.  The
// first problem found is returned as a *errors.ConfigError.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return &errors.ConfigError{
			Field: "listen", Value: c.ListenAddr,
			Message: "not a host:port address",
			Hint:    "use :7000 to listen on every interface",
		}
	}
	if c.Workers < 1 {
		return &errors.ConfigError{Field: "workers", Value: c.Workers, Message: "need at least one worker"}
	}
	if _, err := transport.Lookup(c.Strategy, transport.Options{}); err != nil {
		return &errors.ConfigError{
			Field: "strategy", Value: c.Strategy,
			Message: "unknown strategy",
			Hint:    "one of " + strings.Join(transport.Names(), ", "),
		}
	}
	if c.ReusePort && !transport.ReusePortSupported {
		return &errors.ConfigError{Field: "reuseport", Message: "SO_REUSEPORT is not supported on this platform"}
	}

	for _, d := range []struct {
		field string
		v     time.Duration
	}{
		{"tick", c.TickInterval},
		{"grace", c.GracePeriod},
		{"io-timeout", c.IOTimeout},
		{"poll-interval", c.PollInterval},
	} {
		if d.v <= 0 {
			return &errors.ConfigError{Field: d.field, Value: d.v, Message: "must be positive"}
		}
	}
	if c.MaxRequestLen < 1 {
		return &errors.ConfigError{Field: "max-request", Value: c.MaxRequestLen, Message: "must be positive"}
	}

	if c.ExecProgram != "" && c.ExecCommand != "" {
		return &errors.ConfigError{Field: "exec", Message: "--exec and --command are mutually exclusive"}
	}
	if c.App == "exec" && c.ExecProgram == "" && c.ExecCommand == "" {
		return &errors.ConfigError{
			Field: "app", Value: c.App,
			Message: "the exec application needs a program",
			Hint:    "add --exec /path/to/program or --command 'shell command'",
		}
	}
	if _, err := app.Builtin(c.App, c.AppOptions()); err != nil {
		return &errors.ConfigError{
			Field: "app", Value: c.App,
			Message: "unknown application",
			Hint:    "one of " + strings.Join(app.Names(), ", "),
		}
	}

	if _, err := util.ParseLogLevel(c.LogLevel); err != nil {
		return &errors.ConfigError{
			Field: "log-level", Value: c.LogLevel,
			Message: "unknown level",
			Hint:    "one of debug, verbose, notice, warning",
		}
	}

	if c.ExposeEnabled {
		if c.ExposeHost == "" {
			return &errors.ConfigError{Field: "expose", Message: "gateway host is required"}
		}
		if c.RemotePort < 0 || c.RemotePort > 65535 {
			return &errors.ConfigError{Field: "remote-port", Value: c.RemotePort, Message: "out of range 0-65535"}
		}
	}

	if c.Worker && c.WorkerName == "" {
		return &errors.ConfigError{Field: "worker-name", Message: "required in worker mode"}
	}
	return nil
}
