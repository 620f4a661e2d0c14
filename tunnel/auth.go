package tunnel

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
	"golang.org/x/term"
)

// SSHConfig describes how to reach and authenticate to a gateway.
type SSHConfig struct {
	User          string
	Host          string
	Port          int
	KeyPath       string
	PromptPass    bool
	UseAgent      bool
	StrictHostKey bool
	KnownHosts    string
	ConnTimeout   time.Duration

	// AllowKeyboardInteractive answers keyboard-interactive challenges
	// with empty responses, which is how most public gateways
	// authenticate anonymous users.
	AllowKeyboardInteractive bool
}

// Addr returns host:port, defaulting the port to 22.
func (c *SSHConfig) Addr() string {
	port := c.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// clientConfig builds the handshake configuration.  banner, when set,
// receives the gateway's pre-auth banner.
func (c *SSHConfig) clientConfig(banner func(string)) (*ssh.ClientConfig, error) {
	auth, err := BuildAuthMethods(c)
	if err != nil {
		return nil, err
	}
	hk, err := hostKeyCallback(c)
	if err != nil {
		return nil, err
	}
	timeout := c.ConnTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	cc := &ssh.ClientConfig{
		User:            c.User,
		Auth:            auth,
		HostKeyCallback: hk,
		Timeout:         timeout,
	}
	if banner != nil {
		cc.BannerCallback = func(msg string) error {
			banner(msg)
			return nil
		}
	}
	return cc, nil
}

// defaultKeys are tried from ~/.ssh when nothing else is configured.
var defaultKeys = []string{"id_ed25519", "id_rsa", "id_ecdsa"}

// readSecret asks the operator for a password or passphrase.
var readSecret = promptTerminal

// BuildAuthMethods returns what the client offers the gateway, in
// order: key file, agent, password, keyboard-interactive.  An explicitly
// requested source that cannot load is an error.  With none requested
// the agent and the default key files are tried quietly.
func BuildAuthMethods(cfg *SSHConfig) ([]ssh.AuthMethod, error) {
	type source struct {
		enabled bool
		label   string
		load    func() (ssh.AuthMethod, error)
	}
	sources := []source{
		{cfg.KeyPath != "", "key " + cfg.KeyPath, func() (ssh.AuthMethod, error) { return keyFileAuth(cfg.KeyPath) }},
		{cfg.UseAgent, "ssh-agent", agentAuth},
		{cfg.PromptPass, "password", passwordAuth},
	}

	var methods []ssh.AuthMethod
	for _, src := range sources {
		if !src.enabled {
			continue
		}
		m, err := src.load()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", src.label, err)
		}
		methods = append(methods, m)
	}
	if len(methods) == 0 {
		methods = fallbackAuth()
	}
	if cfg.AllowKeyboardInteractive {
		methods = append(methods, ssh.KeyboardInteractive(emptyAnswers))
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("no SSH authentication method available; " +
			"use --expose-key, --expose-agent or --expose-password")
	}
	return methods, nil
}

func emptyAnswers(_, _ string, questions []string, _ []bool) ([]string, error) {
	return make([]string, len(questions)), nil
}

// passwordAuth prompts only when the gateway asks, up to three times.
func passwordAuth() (ssh.AuthMethod, error) {
	cb := func() (string, error) {
		pass, err := readSecret("SSH password: ")
		return string(pass), err
	}
	return ssh.RetryableAuthMethod(ssh.PasswordCallback(cb), 3), nil
}

func keyFileAuth(path string) (ssh.AuthMethod, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	signer, err := ssh.ParsePrivateKey(pem)
	var missing *ssh.PassphraseMissingError
	if errors.As(err, &missing) {
		var pass []byte
		if pass, err = readSecret(fmt.Sprintf("Enter passphrase for %s: ", path)); err != nil {
			return nil, err
		}
		signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, pass)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing key: %w", err)
	}
	return ssh.PublicKeys(signer), nil
}

func agentAuth() (ssh.AuthMethod, error) {
	sock, ok := os.LookupEnv("SSH_AUTH_SOCK")
	if !ok || sock == "" {
		return nil, fmt.Errorf("SSH_AUTH_SOCK is not set")
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil, err
	}
	return ssh.PublicKeysCallback(agent.NewClient(conn).Signers), nil
}

// promptTerminal reads a secret without echo.  Only the supervisor
// builds auth methods, so workers never prompt.
func promptTerminal(label string) ([]byte, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, fmt.Errorf("cannot prompt for %q: stdin is not a terminal", label)
	}
	fmt.Fprint(os.Stderr, label)
	defer fmt.Fprintln(os.Stderr)
	return term.ReadPassword(fd)
}

func fallbackAuth() []ssh.AuthMethod {
	var out []ssh.AuthMethod
	if m, err := agentAuth(); err == nil {
		out = append(out, m)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return out
	}
	for _, name := range defaultKeys {
		if m, err := keyFileAuth(filepath.Join(home, ".ssh", name)); err == nil {
			out = append(out, m)
		}
	}
	return out
}

// hostKeyCallback checks the gateway against known_hosts when
// StrictHostKey is set and accepts any key otherwise.
func hostKeyCallback(cfg *SSHConfig) (ssh.HostKeyCallback, error) {
	if !cfg.StrictHostKey {
		return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec
	}
	path := cfg.KnownHosts
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("known_hosts %s: %w", path, err)
	}
	return cb, nil
}
