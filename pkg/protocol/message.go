package protocol

// MessageKind names the variant of a Message on the wire.
type MessageKind string

const (
	KindExecutionStarted        MessageKind = "execution_started"
	KindTestCompleted           MessageKind = "test_completed"
	KindTestingProcessCompleted MessageKind = "testing_process_completed"
)

// Message is a value crossing the backend process boundary. The set of
// implementations is closed: ExecutionStarted, TestCompleted and
// TestingProcessCompleted.
type Message interface {
	Kind() MessageKind
	isMessage()
}

// ExecutionStarted is sent once the program under test has been spawned.
type ExecutionStarted struct {
	TestName string
}

// TestCompleted carries the terminal outcome of one test.
type TestCompleted struct {
	Result TestResult
}

// TestingProcessCompleted is the last message of every stream.
type TestingProcessCompleted struct{}

func (ExecutionStarted) Kind() MessageKind        { return KindExecutionStarted }
func (TestCompleted) Kind() MessageKind           { return KindTestCompleted }
func (TestingProcessCompleted) Kind() MessageKind { return KindTestingProcessCompleted }

func (ExecutionStarted) isMessage()        {}
func (TestCompleted) isMessage()           {}
func (TestingProcessCompleted) isMessage() {}
