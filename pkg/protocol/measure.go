// Package protocol defines the messages a backend streams to its presentation
// layer and the length-prefixed framing used to carry them.
package protocol

// MeasureKind names the variant of a Measure on the wire.
type MeasureKind string

const (
	MeasureSuccess              MeasureKind = "success"
	MeasureFailure              MeasureKind = "failure"
	MeasureInternalProgramError MeasureKind = "internal_program_error"
	MeasureTimeout              MeasureKind = "timeout"
)

// Measure is the terminal outcome of a single test. The set of
// implementations is closed: Success, Failure, InternalProgramError, Timeout.
type Measure interface {
	Kind() MeasureKind
	isMeasure()
}

// Success means both output streams matched their fixtures.
type Success struct {
	// Time is the wall-clock run time in seconds.
	Time float64
	// ExitStatus is nil when the process was terminated by a signal.
	ExitStatus *int32
}

// Failure means the process finished but an output stream differed from its fixture.
type Failure struct {
	Stdout     string
	Stderr     string
	ExitStatus *int32
}

// InternalProgramError is a harness defect: a fixture could not be read, the
// program could not be spawned, input delivery or output decoding failed.
type InternalProgramError struct {
	Description string
}

// Timeout means the process was killed after exceeding the time limit.
type Timeout struct{}

func (Success) Kind() MeasureKind              { return MeasureSuccess }
func (Failure) Kind() MeasureKind              { return MeasureFailure }
func (InternalProgramError) Kind() MeasureKind { return MeasureInternalProgramError }
func (Timeout) Kind() MeasureKind              { return MeasureTimeout }

func (Success) isMeasure()              {}
func (Failure) isMeasure()              {}
func (InternalProgramError) isMeasure() {}
func (Timeout) isMeasure()              {}

// ExitStatus returns a pointer to code, for building Success and Failure values.
func ExitStatus(code int32) *int32 {
	return &code
}

// TestResult pairs a test name with its outcome.
type TestResult struct {
	Name    string
	Outcome Measure
}

func NewTestResult(name string, outcome Measure) TestResult {
	return TestResult{Name: name, Outcome: outcome}
}
