package runner

import (
	"bytes"
	"context"
	"log/slog"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"

	"github.com/cutekitek/fixture-runner/internal/repository/dto"
	"github.com/cutekitek/fixture-runner/internal/repository/models"
	"github.com/cutekitek/fixture-runner/pkg/files"
	"github.com/cutekitek/fixture-runner/pkg/protocol"
)

// Paths locate the program under test and its fixture directories. The same
// value is shared by every unit of a run.
type Paths struct {
	Program string
	InDir   string
	OutDir  string
	ErrDir  string
}

type UnitConfig struct {
	Timeout time.Duration
	Store   FixtureStore
	Runner  Runner
	Logger  *slog.Logger
}

// Unit runs a single test case once: it feeds the .in fixture to the program,
// then compares stdout and stderr with the .out and .err fixtures.
type Unit struct {
	name  string
	paths Paths
	cfg   UnitConfig
	log   *slog.Logger
	ran   atomic.Bool
}

func NewUnit(name string, paths Paths, cfg UnitConfig) *Unit {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Unit{
		name:  name,
		paths: paths,
		cfg:   cfg,
		log:   log.With("test", name),
	}
}

func (u *Unit) Name() string {
	return u.name
}

func (u *Unit) InFilePath() string  { return files.FixturePath(u.paths.InDir, u.name, files.ExtInput) }
func (u *Unit) OutFilePath() string { return files.FixturePath(u.paths.OutDir, u.name, files.ExtStdout) }
func (u *Unit) ErrFilePath() string { return files.FixturePath(u.paths.ErrDir, u.name, files.ExtStderr) }

// Run executes the test and reports on report: StartedExecution once the
// program has been spawned, then exactly one Done. A unit runs at most once;
// later calls report an internal error without spawning anything.
func (u *Unit) Run(ctx context.Context, report chan<- models.UnitMessage) {
	result := u.execute(ctx, report)
	u.log.Debug("test finished", "outcome", result.Outcome.Kind())
	report <- models.Done{Result: result}
}

func (u *Unit) execute(ctx context.Context, report chan<- models.UnitMessage) protocol.TestResult {
	if !u.ran.CompareAndSwap(false, true) {
		return u.internalError(errors.New("test unit already ran"))
	}

	input, err := u.cfg.Store.ReadFixture(ctx, u.InFilePath())
	if err != nil {
		return u.internalError(errors.Wrap(err, "failed to read input fixture"))
	}

	res, err := u.cfg.Runner.Run(ctx, &dto.RunRequest{
		Program: u.paths.Program,
		Input:   input,
		Timeout: u.cfg.Timeout,
		OnStart: func() {
			u.log.Debug("test started")
			report <- models.StartedExecution{Name: u.name}
		},
	})
	if err != nil {
		return u.internalError(err)
	}
	if res.TimedOut {
		return protocol.NewTestResult(u.name, protocol.Timeout{})
	}
	return u.checkOutcome(ctx, res)
}

func (u *Unit) checkOutcome(ctx context.Context, res *dto.RunResult) protocol.TestResult {
	if !utf8.Valid(res.Stdout) {
		return u.internalError(errors.New("program stdout is not valid UTF-8"))
	}
	if !utf8.Valid(res.Stderr) {
		return u.internalError(errors.New("program stderr is not valid UTF-8"))
	}

	expectedOut, err := u.cfg.Store.ReadFixture(ctx, u.OutFilePath())
	if err != nil {
		return u.internalError(errors.Wrap(err, "failed to read stdout fixture"))
	}

	if !bytes.Equal(res.Stdout, expectedOut) {
		return u.failed(res)
	}

	expectedErr, err := u.cfg.Store.ReadFixture(ctx, u.ErrFilePath())
	if err != nil {
		return u.internalError(errors.Wrap(err, "failed to read stderr fixture"))
	}
	if !bytes.Equal(res.Stderr, expectedErr) {
		return u.failed(res)
	}

	return protocol.NewTestResult(u.name, protocol.Success{
		Time:       res.Elapsed.Seconds(),
		ExitStatus: res.ExitStatus,
	})
}

func (u *Unit) failed(res *dto.RunResult) protocol.TestResult {
	return protocol.NewTestResult(u.name, protocol.Failure{
		Stdout:     string(res.Stdout),
		Stderr:     string(res.Stderr),
		ExitStatus: res.ExitStatus,
	})
}

func (u *Unit) internalError(err error) protocol.TestResult {
	u.log.Debug("internal error", "error", err)
	return protocol.NewTestResult(u.name, protocol.InternalProgramError{Description: err.Error()})
}
