package shell

import (
	"bytes"
	"io"
	"os/exec"
	"time"

	"github.com/pkg/errors"
)

// WaitDelay bounds how long Wait keeps waiting for output pipes after the
// process has exited, e.g. when a detached grandchild still holds them.
const WaitDelay = 2 * time.Second

// Command is a child process with piped standard streams. Output is captured
// in memory; the process is reaped in the background so that its state can be
// polled without blocking.
type Command struct {
	Cmd   *exec.Cmd
	StdIn io.WriteCloser

	stdout bytes.Buffer
	stderr bytes.Buffer

	startedAt time.Time
	exitedAt  time.Time
	exited    chan struct{}
	waitErr   error
}

func NewCommand(command string, args ...string) (*Command, error) {
	c := &Command{
		Cmd:    exec.Command(command, args...),
		exited: make(chan struct{}),
	}
	c.Cmd.Stdout = &c.stdout
	c.Cmd.Stderr = &c.stderr
	c.Cmd.WaitDelay = WaitDelay
	setProcessGroup(c.Cmd)

	stdin, err := c.Cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(err, "failed to open stdin pipe")
	}
	c.StdIn = stdin
	return c, nil
}

// Start spawns the process. Pipes are released by exec if spawning fails.
func (c *Command) Start() error {
	if err := c.Cmd.Start(); err != nil {
		return err
	}
	c.startedAt = time.Now()
	go func() {
		c.waitErr = c.Cmd.Wait()
		c.exitedAt = time.Now()
		close(c.exited)
	}()
	return nil
}

// WriteInput writes data to stdin and closes it.
func (c *Command) WriteInput(data []byte) error {
	_, err := c.StdIn.Write(data)
	if cerr := c.StdIn.Close(); err == nil {
		err = cerr
	}
	return err
}

// TryWait reports whether the process has exited and been reaped.
func (c *Command) TryWait() bool {
	select {
	case <-c.exited:
		return true
	default:
		return false
	}
}

// Exited is closed once the process has been reaped.
func (c *Command) Exited() <-chan struct{} {
	return c.exited
}

// Wait blocks until the process has been reaped and returns the exec error.
func (c *Command) Wait() error {
	<-c.exited
	return c.waitErr
}

// Kill sends SIGKILL to the process group of the command.
func (c *Command) Kill() error {
	return killProcessGroup(c.Cmd.Process)
}

// Elapsed is the time since Start, frozen once the process has exited.
func (c *Command) Elapsed() time.Duration {
	if c.TryWait() {
		return c.exitedAt.Sub(c.startedAt)
	}
	return time.Since(c.startedAt)
}

// Stdout must only be called after the process has been reaped.
func (c *Command) Stdout() []byte {
	return c.stdout.Bytes()
}

// Stderr must only be called after the process has been reaped.
func (c *Command) Stderr() []byte {
	return c.stderr.Bytes()
}

// ExitStatus returns the exit code, or nil when the process did not exit
// normally (killed by a signal) or has not been reaped yet.
func (c *Command) ExitStatus() *int32 {
	if !c.TryWait() || c.Cmd.ProcessState == nil {
		return nil
	}
	code := c.Cmd.ProcessState.ExitCode()
	if code < 0 {
		return nil
	}
	status := int32(code)
	return &status
}
