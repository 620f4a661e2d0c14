package config

// loader.go - configuration from FORKHOST_* environment variables.
//
// Precedence (highest wins): CLI flags, environment, defaults.  Booleans
// accept "1", "true" and "yes" in any case.  Durations accept Go syntax
// ("250ms", "2s") or a bare number of seconds.

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// LoadFromEnv overlays environment variables onto cfg.  Unset or
// unparsable variables leave the field alone.  Call it before parsing
// flags so flags win.
func LoadFromEnv(cfg *Config) {
	envString("FORKHOST_LISTEN", &cfg.ListenAddr)
	envFlag("FORKHOST_REUSEPORT", &cfg.ReusePort)

	envPositive("FORKHOST_WORKERS", &cfg.Workers)
	envString("FORKHOST_STRATEGY", &cfg.Strategy)
	envDuration("FORKHOST_TICK", &cfg.TickInterval)
	envDuration("FORKHOST_GRACE", &cfg.GracePeriod)
	envDuration("FORKHOST_MIN_UPTIME", &cfg.MinUptime)

	envDuration("FORKHOST_IO_TIMEOUT", &cfg.IOTimeout)
	envDuration("FORKHOST_POLL_INTERVAL", &cfg.PollInterval)
	if v, ok := envInt("FORKHOST_MAX_RETRIES"); ok {
		cfg.MaxRetries = v
	}
	envPositive("FORKHOST_MAX_REQUEST", &cfg.MaxRequestLen)

	envString("FORKHOST_APP", &cfg.App)
	envString("FORKHOST_EXEC", &cfg.ExecProgram)
	envString("FORKHOST_COMMAND", &cfg.ExecCommand)
	envDuration("FORKHOST_EXEC_TIMEOUT", &cfg.ExecTimeout)

	envString("FORKHOST_LOG_FILE", &cfg.LogFile)
	envString("FORKHOST_LOG_LEVEL", &cfg.LogLevel)
	if v, ok := envInt("FORKHOST_LOG_MAX_SIZE"); ok && v > 0 {
		cfg.LogMaxSize = int64(v)
	}
	envFlag("FORKHOST_LOG_TIMESTAMPS", &cfg.LogTimestamps)

	envString("FORKHOST_ADMIN", &cfg.AdminAddr)

	envString("FORKHOST_EXPOSE", &cfg.ExposeSpec)
	envString("FORKHOST_REMOTE_BIND", &cfg.RemoteBind)
	envPositive("FORKHOST_REMOTE_PORT", &cfg.RemotePort)
	envString("FORKHOST_SSH_KEY", &cfg.SSHKeyPath)
	envFlag("FORKHOST_SSH_PASSWORD", &cfg.SSHPassword)
	envFlag("FORKHOST_SSH_AGENT", &cfg.UseSSHAgent)
	envFlag("FORKHOST_STRICT_HOSTKEY", &cfg.StrictHostKey)
	envString("FORKHOST_KNOWN_HOSTS", &cfg.KnownHostsPath)
	envDuration("FORKHOST_KEEP_ALIVE", &cfg.KeepAlive)
}

// ── helpers ──────────────────────────────────────────────────────────

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envFlag(key string, dst *bool) {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes":
		*dst = true
	case "0", "false", "no":
		*dst = false
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envPositive(key string, dst *int) {
	if n, ok := envInt(key); ok && n > 0 {
		*dst = n
	}
}

func envDuration(key string, dst *time.Duration) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		if n > 0 {
			*dst = time.Duration(n) * time.Second
		}
		return
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		*dst = d
	}
}
