package protocol

import (
	"github.com/pkg/errors"
	"github.com/tinylib/msgp/msgp"
)

// Payloads are MessagePack maps tagged with a "kind" key. Unknown keys are
// skipped so that newer producers stay readable by older consumers.
const (
	keyKind        = "kind"
	keyTestName    = "test_name"
	keyResult      = "result"
	keyName        = "name"
	keyOutcome     = "outcome"
	keyTime        = "time"
	keyExitStatus  = "exit_status"
	keyStdout      = "stdout"
	keyStderr      = "stderr"
	keyDescription = "description"
)

var (
	ErrUnknownKind  = errors.New("unknown kind")
	ErrMissingField = errors.New("missing field")
)

// Marshal encodes m as a MessagePack payload without the frame header.
func Marshal(m Message) ([]byte, error) {
	return appendMessage(make([]byte, 0, messageSize(m)), m)
}

// Unmarshal decodes a payload produced by Marshal. The whole buffer must be
// consumed by exactly one message.
func Unmarshal(payload []byte) (Message, error) {
	m, rest, err := readMessage(payload)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, errors.Errorf("%d trailing bytes after message", len(rest))
	}
	return m, nil
}

func appendMessage(b []byte, m Message) ([]byte, error) {
	switch m := m.(type) {
	case ExecutionStarted:
		b = msgp.AppendMapHeader(b, 2)
		b = appendKind(b, string(KindExecutionStarted))
		b = msgp.AppendString(b, keyTestName)
		b = msgp.AppendString(b, m.TestName)
		return b, nil
	case TestCompleted:
		b = msgp.AppendMapHeader(b, 2)
		b = appendKind(b, string(KindTestCompleted))
		b = msgp.AppendString(b, keyResult)
		return appendResult(b, m.Result)
	case TestingProcessCompleted:
		b = msgp.AppendMapHeader(b, 1)
		return appendKind(b, string(KindTestingProcessCompleted)), nil
	default:
		return b, errors.Wrapf(ErrUnknownKind, "message type %T", m)
	}
}

func appendResult(b []byte, r TestResult) ([]byte, error) {
	b = msgp.AppendMapHeader(b, 2)
	b = msgp.AppendString(b, keyName)
	b = msgp.AppendString(b, r.Name)
	b = msgp.AppendString(b, keyOutcome)
	return appendMeasure(b, r.Outcome)
}

func appendMeasure(b []byte, m Measure) ([]byte, error) {
	switch m := m.(type) {
	case Success:
		b = msgp.AppendMapHeader(b, 3)
		b = appendKind(b, string(MeasureSuccess))
		b = msgp.AppendString(b, keyTime)
		b = msgp.AppendFloat64(b, m.Time)
		b = msgp.AppendString(b, keyExitStatus)
		return appendExitStatus(b, m.ExitStatus), nil
	case Failure:
		b = msgp.AppendMapHeader(b, 4)
		b = appendKind(b, string(MeasureFailure))
		b = msgp.AppendString(b, keyStdout)
		b = msgp.AppendString(b, m.Stdout)
		b = msgp.AppendString(b, keyStderr)
		b = msgp.AppendString(b, m.Stderr)
		b = msgp.AppendString(b, keyExitStatus)
		return appendExitStatus(b, m.ExitStatus), nil
	case InternalProgramError:
		b = msgp.AppendMapHeader(b, 2)
		b = appendKind(b, string(MeasureInternalProgramError))
		b = msgp.AppendString(b, keyDescription)
		return msgp.AppendString(b, m.Description), nil
	case Timeout:
		b = msgp.AppendMapHeader(b, 1)
		return appendKind(b, string(MeasureTimeout)), nil
	default:
		return b, errors.Wrapf(ErrUnknownKind, "outcome type %T", m)
	}
}

func appendKind(b []byte, kind string) []byte {
	b = msgp.AppendString(b, keyKind)
	return msgp.AppendString(b, kind)
}

func appendExitStatus(b []byte, code *int32) []byte {
	if code == nil {
		return msgp.AppendNil(b)
	}
	return msgp.AppendInt32(b, *code)
}

func readMessage(b []byte) (Message, []byte, error) {
	sz, b, err := msgp.ReadMapHeaderBytes(b)
	if err != nil {
		return nil, b, msgp.WrapError(err, "message")
	}

	var (
		kind      string
		testName  string
		result    TestResult
		hasResult bool
	)
	for i := uint32(0); i < sz; i++ {
		var key []byte
		key, b, err = msgp.ReadMapKeyZC(b)
		if err != nil {
			return nil, b, msgp.WrapError(err, "message")
		}
		switch string(key) {
		case keyKind:
			kind, b, err = msgp.ReadStringBytes(b)
		case keyTestName:
			testName, b, err = msgp.ReadStringBytes(b)
		case keyResult:
			result, b, err = readResult(b)
			hasResult = true
		default:
			b, err = msgp.Skip(b)
		}
		if err != nil {
			return nil, b, msgp.WrapError(err, "message", string(key))
		}
	}

	switch MessageKind(kind) {
	case KindExecutionStarted:
		return ExecutionStarted{TestName: testName}, b, nil
	case KindTestCompleted:
		if !hasResult {
			return nil, b, errors.Wrapf(ErrMissingField, "%s in %s", keyResult, kind)
		}
		return TestCompleted{Result: result}, b, nil
	case KindTestingProcessCompleted:
		return TestingProcessCompleted{}, b, nil
	default:
		return nil, b, errors.Wrapf(ErrUnknownKind, "message kind %q", kind)
	}
}

func readResult(b []byte) (TestResult, []byte, error) {
	var r TestResult
	sz, b, err := msgp.ReadMapHeaderBytes(b)
	if err != nil {
		return r, b, err
	}
	for i := uint32(0); i < sz; i++ {
		var key []byte
		key, b, err = msgp.ReadMapKeyZC(b)
		if err != nil {
			return r, b, err
		}
		switch string(key) {
		case keyName:
			r.Name, b, err = msgp.ReadStringBytes(b)
		case keyOutcome:
			r.Outcome, b, err = readMeasure(b)
		default:
			b, err = msgp.Skip(b)
		}
		if err != nil {
			return r, b, msgp.WrapError(err, string(key))
		}
	}
	if r.Outcome == nil {
		return r, b, errors.Wrapf(ErrMissingField, "%s in result", keyOutcome)
	}
	return r, b, nil
}

func readMeasure(b []byte) (Measure, []byte, error) {
	sz, b, err := msgp.ReadMapHeaderBytes(b)
	if err != nil {
		return nil, b, err
	}

	var (
		kind        string
		elapsed     float64
		exitStatus  *int32
		stdout      string
		stderr      string
		description string
	)
	for i := uint32(0); i < sz; i++ {
		var key []byte
		key, b, err = msgp.ReadMapKeyZC(b)
		if err != nil {
			return nil, b, err
		}
		switch string(key) {
		case keyKind:
			kind, b, err = msgp.ReadStringBytes(b)
		case keyTime:
			elapsed, b, err = msgp.ReadFloat64Bytes(b)
		case keyExitStatus:
			exitStatus, b, err = readExitStatus(b)
		case keyStdout:
			stdout, b, err = msgp.ReadStringBytes(b)
		case keyStderr:
			stderr, b, err = msgp.ReadStringBytes(b)
		case keyDescription:
			description, b, err = msgp.ReadStringBytes(b)
		default:
			b, err = msgp.Skip(b)
		}
		if err != nil {
			return nil, b, msgp.WrapError(err, string(key))
		}
	}

	switch MeasureKind(kind) {
	case MeasureSuccess:
		return Success{Time: elapsed, ExitStatus: exitStatus}, b, nil
	case MeasureFailure:
		return Failure{Stdout: stdout, Stderr: stderr, ExitStatus: exitStatus}, b, nil
	case MeasureInternalProgramError:
		return InternalProgramError{Description: description}, b, nil
	case MeasureTimeout:
		return Timeout{}, b, nil
	default:
		return nil, b, errors.Wrapf(ErrUnknownKind, "outcome kind %q", kind)
	}
}

func readExitStatus(b []byte) (*int32, []byte, error) {
	if msgp.IsNil(b) {
		b, err := msgp.ReadNilBytes(b)
		return nil, b, err
	}
	code, b, err := msgp.ReadInt32Bytes(b)
	if err != nil {
		return nil, b, err
	}
	return &code, b, nil
}

// messageSize is an upper bound on the encoded size of m, used to size buffers.
func messageSize(m Message) int {
	const header = msgp.MapHeaderSize + 2*msgp.StringPrefixSize + len(keyKind) + len(KindTestingProcessCompleted)
	switch m := m.(type) {
	case ExecutionStarted:
		return header + 2*msgp.StringPrefixSize + len(keyTestName) + len(m.TestName)
	case TestCompleted:
		size := header + msgp.StringPrefixSize + len(keyResult) +
			msgp.MapHeaderSize + 4*msgp.StringPrefixSize + len(keyName) + len(m.Result.Name) + len(keyOutcome) +
			msgp.MapHeaderSize + 2*msgp.StringPrefixSize + len(keyKind) + len(MeasureInternalProgramError) +
			2*msgp.StringPrefixSize + len(keyExitStatus) + len(keyTime) + msgp.Float64Size + msgp.Int32Size
		switch o := m.Result.Outcome.(type) {
		case Failure:
			size += 4*msgp.StringPrefixSize + len(keyStdout) + len(keyStderr) + len(o.Stdout) + len(o.Stderr)
		case InternalProgramError:
			size += 2*msgp.StringPrefixSize + len(keyDescription) + len(o.Description)
		}
		return size
	default:
		return header
	}
}
