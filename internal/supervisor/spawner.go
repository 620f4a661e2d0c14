package supervisor

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"sync"

	"forkhost/internal/transport"
	"forkhost/internal/worker"
)

// SpawnSpec names the worker to start.
type SpawnSpec struct {
	Name     string
	Strategy string
}

// Child is a started worker process as seen from the supervisor.
type Child interface {
	Pid() int
	// Status streams the worker's JSON status lines.  It reaches EOF
	// when the worker exits.
	Status() io.Reader
	// Revoke tells the worker to stop at its next tick.  It is safe to
	// call more than once.
	Revoke() error
	// Kill terminates the worker immediately.
	Kill() error
	// Wait blocks until the worker exits.
	Wait() error
}

// Spawner starts worker processes.
type Spawner interface {
	Spawn(ctx context.Context, spec SpawnSpec) (Child, error)
}

// ExecSpawner re-executes a binary in worker mode.  The child gets the
// listening socket on fd 3 (unless Listener is nil, in which case it
// binds its own with SO_REUSEPORT), the write end of its status pipe on
// fd 4 and the read end of its liveness pipe on fd 5.
type ExecSpawner struct {
	Path     string   // defaults to the running executable
	Args     []string // passed before the worker flags
	Env      []string // nil inherits the environment
	Listener net.Listener
	Stdout   io.Writer
	Stderr   io.Writer
}

// WorkerArgs returns the flags that put the binary in worker mode.
func WorkerArgs(spec SpawnSpec) []string {
	return []string{"--worker", "--worker-name=" + spec.Name, "--strategy=" + spec.Strategy}
}

// Spawn starts one worker.
func (e *ExecSpawner) Spawn(ctx context.Context, spec SpawnSpec) (Child, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := e.Path
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate executable: %w", err)
		}
		path = exe
	}

	var lnFile *os.File
	if e.Listener != nil {
		f, err := transport.File(e.Listener)
		if err != nil {
			return nil, err
		}
		lnFile = f
		defer lnFile.Close()
	}

	statusR, statusW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("status pipe: %w", err)
	}
	liveR, liveW, err := os.Pipe()
	if err != nil {
		statusR.Close()
		statusW.Close()
		return nil, fmt.Errorf("liveness pipe: %w", err)
	}

	args := append(append([]string{}, e.Args...), WorkerArgs(spec)...)
	cmd := exec.Command(path, args...)
	cmd.Env = e.Env
	cmd.Stdout = e.Stdout
	cmd.Stderr = e.Stderr

	extra := make([]*os.File, worker.FdLiveness-2)
	extra[worker.FdListener-3] = lnFile
	extra[worker.FdStatus-3] = statusW
	extra[worker.FdLiveness-3] = liveR
	cmd.ExtraFiles = extra

	startErr := cmd.Start()
	// The child owns its ends now.
	statusW.Close()
	liveR.Close()
	if startErr != nil {
		statusR.Close()
		liveW.Close()
		return nil, startErr
	}
	return &execChild{cmd: cmd, status: statusR, live: liveW}, nil
}

type execChild struct {
	cmd    *exec.Cmd
	status *os.File
	live   *os.File
	once   sync.Once
	err    error
}

func (c *execChild) Pid() int          { return c.cmd.Process.Pid }
func (c *execChild) Status() io.Reader { return c.status }
func (c *execChild) Kill() error       { return c.cmd.Process.Kill() }

func (c *execChild) Revoke() error {
	c.once.Do(func() { c.err = c.live.Close() })
	return c.err
}

func (c *execChild) Wait() error {
	err := c.cmd.Wait()
	c.Revoke() //nolint:errcheck
	c.status.Close()
	return err
}
