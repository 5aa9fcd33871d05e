package runner

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"github.com/cutekitek/fixture-runner/internal/repository/dto"
	"github.com/cutekitek/fixture-runner/pkg/shell"
)

type ProcessRunnerConfig struct {
	// Defaults to CheckStatusInterval.
	PollInterval time.Duration
	Logger       *slog.Logger
}

// ProcessRunner runs programs as local child processes. Timeouts are enforced
// by polling the child and killing its process group.
type ProcessRunner struct {
	Config ProcessRunnerConfig
	log    *slog.Logger
}

func NewProcessRunner(cfg ProcessRunnerConfig) *ProcessRunner {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = CheckStatusInterval
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &ProcessRunner{Config: cfg, log: log}
}

// Run executes req.Program. A non-positive req.Timeout disables the time limit.
func (r *ProcessRunner) Run(_ context.Context, req *dto.RunRequest) (*dto.RunResult, error) {
	cmd, err := shell.NewCommand(req.Program, req.Args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to prepare command")
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "failed to spawn %s", req.Program)
	}
	if req.OnStart != nil {
		req.OnStart()
	}

	// Input goes in from its own goroutine so that a child which never reads
	// stdin cannot keep the poll loop from enforcing the timeout.
	inputErr := make(chan error, 1)
	go func() {
		inputErr <- cmd.WriteInput(req.Input)
	}()

	ticker := time.NewTicker(r.Config.PollInterval)
	defer ticker.Stop()

	for !cmd.TryWait() {
		if req.Timeout > 0 && cmd.Elapsed() > req.Timeout {
			if err := cmd.Kill(); err != nil {
				r.log.Warn("failed to kill timed out process", "program", req.Program, "error", err)
			}
			_ = cmd.Wait()
			<-inputErr
			r.log.Debug("process timed out", "program", req.Program, "elapsed", cmd.Elapsed())
			return &dto.RunResult{
				Stdout:   cmd.Stdout(),
				Stderr:   cmd.Stderr(),
				Elapsed:  cmd.Elapsed(),
				TimedOut: true,
			}, nil
		}
		select {
		case <-ticker.C:
		case <-cmd.Exited():
		}
	}

	waitErr := cmd.Wait()
	if err := <-inputErr; err != nil && !isClosedPipe(err) {
		return nil, errors.Wrap(err, "failed to write input")
	}
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		return nil, errors.Wrap(waitErr, "failed to collect output")
	}

	return &dto.RunResult{
		Stdout:     cmd.Stdout(),
		Stderr:     cmd.Stderr(),
		ExitStatus: cmd.ExitStatus(),
		Elapsed:    cmd.Elapsed(),
	}, nil
}

// isClosedPipe reports input that was cut short because the child exited
// without reading all of it. The outputs decide the outcome in that case.
func isClosedPipe(err error) bool {
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
