package runner

import (
	"context"
	"time"

	"github.com/cutekitek/fixture-runner/internal/repository/dto"
)

// CheckStatusInterval is how often a running process is polled for exit and timeout.
const CheckStatusInterval = 150 * time.Millisecond

type Runner interface {
	// Synchronously runs a program to completion or until it times out. An
	// error means the run never produced a result (spawn or input failure);
	// req.OnStart has been called iff the process was spawned.
	Run(context.Context, *dto.RunRequest) (*dto.RunResult, error)
}

// FixtureStore reads fixture files by path.
type FixtureStore interface {
	ReadFixture(ctx context.Context, path string) ([]byte, error)
}
