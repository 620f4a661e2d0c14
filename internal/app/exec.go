package app

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"forkhost/internal/session"
)

// DefaultExecTimeout bounds a single exec request.
const DefaultExecTimeout = 10 * time.Second

// Exec runs a child process per request: the request body is its stdin
// and its stdout is the response.  Either Program or Command must be
// set.
type Exec struct {
	Program string // execute a program directly
	Command string // execute via the system shell
	Timeout time.Duration
}

func (e *Exec) Name() string            { return "exec" }
func (e *Exec) NewState() session.State { return nil }

// Init checks that there is something to run.
func (e *Exec) Init() error {
	if e.Program == "" && e.Command == "" {
		return fmt.Errorf("no command specified for exec")
	}
	if e.Program != "" {
		if _, err := exec.LookPath(e.Program); err != nil {
			return err
		}
	}
	return nil
}

func (e *Exec) command(ctx context.Context) (*exec.Cmd, error) {
	switch {
	case e.Command != "":
		if runtime.GOOS == "windows" {
			return exec.CommandContext(ctx, "cmd.exe", "/C", e.Command), nil
		}
		return exec.CommandContext(ctx, "/bin/sh", "-c", e.Command), nil
	case e.Program != "":
		return exec.CommandContext(ctx, e.Program), nil
	default:
		return nil, fmt.Errorf("no command specified for exec")
	}
}

func (e *Exec) Construct(s *session.Session) error {
	body, err := payload(s)
	if err != nil {
		return err
	}

	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultExecTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd, err := e.command(ctx)
	if err != nil {
		return err
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(append(append([]byte(nil), body...), '\n'))
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if s.Logger != nil {
		s.Logger.Debug("exec: %s", cmd.String())
	}
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("exec %q: %w: %s", cmd.Path, err, msg)
		}
		return fmt.Errorf("exec %q: %w", cmd.Path, err)
	}
	s.Out.Write(stdout.Bytes())
	return nil
}
