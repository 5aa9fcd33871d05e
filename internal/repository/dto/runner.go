package dto

import (
	"time"
)

type RunRequest struct {
	Program string
	Args    []string
	Input   []byte
	Timeout time.Duration
	// Called once the process has been spawned, before any input is written.
	OnStart func()
}

type RunResult struct {
	Stdout []byte
	Stderr []byte
	// nil when the process was terminated by a signal
	ExitStatus *int32
	Elapsed    time.Duration
	TimedOut   bool
}
