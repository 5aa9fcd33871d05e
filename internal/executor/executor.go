package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/cutekitek/fixture-runner/internal/config"
	"github.com/cutekitek/fixture-runner/internal/mappers"
	"github.com/cutekitek/fixture-runner/internal/reporter"
	"github.com/cutekitek/fixture-runner/internal/repository/models"
	"github.com/cutekitek/fixture-runner/internal/runner"
	"github.com/cutekitek/fixture-runner/pkg/protocol"
)

var (
	ErrAlreadyCreated = errors.New("executor already created")
	ErrNotImplemented = errors.New("running mode is not implemented")
)

// Guard allows at most one live Executor per guard. An Executor claims it on
// construction and releases it when ExecuteTesting returns.
type Guard struct {
	claimed atomic.Bool
}

func NewGuard() *Guard {
	return &Guard{}
}

func (g *Guard) claim() error {
	if !g.claimed.CompareAndSwap(false, true) {
		return ErrAlreadyCreated
	}
	return nil
}

func (g *Guard) release() {
	g.claimed.Store(false)
}

// Observer is notified about scheduling events. Calls come from the
// executor's receive loop, never concurrently.
type Observer interface {
	UnitLaunched(name string)
	UnitFinished(result protocol.TestResult)
	MessageEmitted(msg protocol.Message)
}

type noopObserver struct{}

func (noopObserver) UnitLaunched(string)              {}
func (noopObserver) UnitFinished(protocol.TestResult) {}
func (noopObserver) MessageEmitted(protocol.Message)  {}

type Options struct {
	// Non-positive disables the per-test time limit.
	Timeout  time.Duration
	Store    runner.FixtureStore
	Runner   runner.Runner
	Sink     reporter.Sink
	Logger   *slog.Logger
	Observer Observer
}

type Executor struct {
	guard   *Guard
	opts    Options
	log     *slog.Logger
	runID   string
	units   []*runner.Unit
	started bool
	sinkErr error
}

func New(guard *Guard, opts Options) (*Executor, error) {
	if opts.Sink == nil {
		return nil, errors.New("executor needs a sink")
	}
	if opts.Store == nil {
		return nil, errors.New("executor needs a fixture store")
	}
	if err := guard.claim(); err != nil {
		return nil, err
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Observer == nil {
		opts.Observer = noopObserver{}
	}
	runID := uuid.NewString()
	log := opts.Logger.With("component", "executor", "run_id", runID)
	if opts.Runner == nil {
		opts.Runner = runner.NewProcessRunner(runner.ProcessRunnerConfig{Logger: log})
	}

	return &Executor{
		guard: guard,
		opts:  opts,
		log:   log,
		runID: runID,
	}, nil
}

// Load builds an Executor with one test per name of cfg.
func Load(guard *Guard, cfg *config.Run, opts Options) (*Executor, error) {
	var paths runner.Paths
	switch mode := cfg.Mode().(type) {
	case config.LocalMode:
		paths = runner.Paths{
			Program: mode.CompiledProgramPath,
			InDir:   mode.InTestPath,
			OutDir:  mode.OutTestPath,
			ErrDir:  mode.ErrTestPath,
		}
	default:
		return nil, errors.Wrapf(ErrNotImplemented, "%s", cfg.Mode())
	}

	e, err := New(guard, opts)
	if err != nil {
		return nil, err
	}
	for _, name := range cfg.TestNames() {
		e.PushTest(paths, name)
	}
	e.log.Info("configuration loaded",
		"mode", cfg.Mode().String(),
		"language", string(cfg.Language()),
		"concurrency", cfg.Concurrency().String(),
		"tests", len(e.units),
	)
	return e, nil
}

func (e *Executor) RunID() string {
	return e.runID
}

func (e *Executor) PushTest(paths runner.Paths, name string) {
	if e.started {
		e.log.Warn("test pushed after scheduling started, ignoring", "test", name)
		return
	}
	e.units = append(e.units, runner.NewUnit(name, paths, runner.UnitConfig{
		Timeout: e.opts.Timeout,
		Store:   e.opts.Store,
		Runner:  e.opts.Runner,
		Logger:  e.log,
	}))
}

// ExecuteTesting runs every pushed test with at most cfg.Concurrency().Slots()
// of them in flight, writes each event to the sink as soon as it arrives and
// finishes with TestingProcessCompleted. Sink failures do not interrupt the
// run; the first one is returned once all units have reported.
func (e *Executor) ExecuteTesting(ctx context.Context, cfg *config.Run) error {
	if e.started {
		return errors.New("testing already executed")
	}
	e.started = true
	defer e.guard.release()

	slots := min(cfg.Concurrency().Slots(), len(e.units))
	e.log.Info("testing started", "tests", len(e.units), "slots", slots)
	start := time.Now()

	report := make(chan models.UnitMessage, slots)
	next := 0
	launchNext := func() {
		if next >= len(e.units) {
			return
		}
		u := e.units[next]
		next++
		e.opts.Observer.UnitLaunched(u.Name())
		go e.runUnit(ctx, u, report)
	}
	for i := 0; i < slots; i++ {
		launchNext()
	}

	e.drain(report, len(e.units), launchNext)
	e.emit(protocol.TestingProcessCompleted{})

	e.log.Info("testing finished", "elapsed", time.Since(start))
	return e.sinkErr
}

// drain receives unit messages until outstanding units have all reported
// Done, launching the next queued unit after each one.
func (e *Executor) drain(report <-chan models.UnitMessage, outstanding int, launchNext func()) {
	for outstanding > 0 {
		msg, ok := <-report
		if !ok {
			e.log.Error("completion channel closed", "outstanding", outstanding)
			return
		}
		done, isDone := msg.(models.Done)
		if isDone {
			outstanding--
			e.opts.Observer.UnitFinished(done.Result)
		}
		e.emit(mappers.UnitMessageToBackendMessage(msg))
		if isDone {
			launchNext()
		}
	}
}

func (e *Executor) runUnit(ctx context.Context, u *runner.Unit, report chan<- models.UnitMessage) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("test unit panicked", "test", u.Name(), "panic", r)
			report <- models.Done{Result: protocol.NewTestResult(u.Name(), protocol.InternalProgramError{
				Description: fmt.Sprintf("test unit panicked: %v", r),
			})}
		}
	}()
	u.Run(ctx, report)
}

func (e *Executor) emit(msg protocol.Message) {
	e.opts.Observer.MessageEmitted(msg)
	if e.sinkErr != nil {
		return
	}
	frame, err := protocol.Encode(msg)
	if err == nil {
		err = e.opts.Sink.WriteFrame(frame)
	}
	if err != nil {
		e.log.Error("failed to report message", "kind", msg.Kind(), "error", err)
		e.sinkErr = errors.Wrapf(err, "failed to report %s", msg.Kind())
	}
}
