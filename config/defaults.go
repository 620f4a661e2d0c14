package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// Every tuneable default lives here so flags, environment loading and
// validation agree.

const (
	DefaultListenAddr = ":7000"
	DefaultWorkers    = 4
	DefaultStrategy   = "sync"
	DefaultApp        = "echo"

	DefaultTickInterval = time.Second
	DefaultGracePeriod  = 5 * time.Second
	// DefaultMinUptime separates a crash from a crash loop when
	// respawning workers.
	DefaultMinUptime = 5 * time.Second

	DefaultIOTimeout     = 5 * time.Second
	DefaultPollInterval  = 10 * time.Millisecond
	DefaultMaxRetries    = 3
	DefaultMaxRequestLen = 8 * 1024
	DefaultExecTimeout   = 10 * time.Second

	DefaultLogLevel   = "notice"
	DefaultLogMaxSize = 100 * 1024 * 1024

	// DefaultSSHPort is the gateway port when the spec omits one.
	DefaultSSHPort = 22

	// DefaultKeepAlive is the SSH keepalive interval for exposure.
	DefaultKeepAlive = 30 * time.Second

	// DefaultConnTimeout bounds the SSH dial and handshake.
	DefaultConnTimeout = 30 * time.Second

	// DefaultMaxReconnectAttempts is how many times exposure retries
	// after losing the gateway.
	DefaultMaxReconnectAttempts = 10
)

// Default returns a Config with every default applied.
func Default() *Config {
	return &Config{
		ListenAddr:    DefaultListenAddr,
		Workers:       DefaultWorkers,
		Strategy:      DefaultStrategy,
		App:           DefaultApp,
		TickInterval:  DefaultTickInterval,
		GracePeriod:   DefaultGracePeriod,
		MinUptime:     DefaultMinUptime,
		IOTimeout:     DefaultIOTimeout,
		PollInterval:  DefaultPollInterval,
		MaxRetries:    DefaultMaxRetries,
		MaxRequestLen: DefaultMaxRequestLen,
		ExecTimeout:   DefaultExecTimeout,
		LogLevel:      DefaultLogLevel,
		LogMaxSize:    DefaultLogMaxSize,
		KeepAlive:     DefaultKeepAlive,
	}
}
