package config

import (
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

var ErrInvalidConcurrency = errors.New("concurrency must be \"disabled\" or a positive integer")

// Language of the program under test. It is informational only.
type Language string

const LanguageCpp Language = "cpp"

// RunningMode selects where the program and fixtures come from. The set of
// implementations is closed: LocalMode and GitRepositoryMode.
type RunningMode interface {
	fmt.Stringer
	isRunningMode()
}

// LocalMode reads the program and fixtures from local paths.
type LocalMode struct {
	InTestPath          string `yaml:"in_test_path"`
	OutTestPath         string `yaml:"out_test_path"`
	ErrTestPath         string `yaml:"err_test_path"`
	CompiledProgramPath string `yaml:"compiled_program_path"`
}

// GitRepositoryMode is declared for configuration compatibility. Executors
// refuse to run it.
type GitRepositoryMode struct {
	Address string `yaml:"address"`
}

func (LocalMode) String() string         { return "Local mode" }
func (GitRepositoryMode) String() string { return "Git repository mode" }

func (LocalMode) isRunningMode()         {}
func (GitRepositoryMode) isRunningMode() {}

// Concurrency is either disabled (serial execution) or a fixed number of slots.
// The zero value is disabled.
type Concurrency struct {
	slots uint64
}

func Disabled() Concurrency {
	return Concurrency{}
}

func Enabled(n uint64) (Concurrency, error) {
	if n == 0 {
		return Concurrency{}, ErrInvalidConcurrency
	}
	return Concurrency{slots: n}, nil
}

func (c Concurrency) Enabled() bool {
	return c.slots > 0
}

// Slots is the number of tests allowed to run at once: 1 when disabled.
// Values beyond the range of int saturate at math.MaxInt.
func (c Concurrency) Slots() int {
	switch {
	case c.slots == 0:
		return 1
	case c.slots > math.MaxInt:
		return math.MaxInt
	}
	return int(c.slots)
}

func (c Concurrency) String() string {
	if !c.Enabled() {
		return "disabled"
	}
	return fmt.Sprintf("enabled(%d)", c.slots)
}

func (c *Concurrency) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return errors.Wrapf(ErrInvalidConcurrency, "line %d", value.Line)
	}
	if strings.EqualFold(value.Value, "disabled") {
		*c = Disabled()
		return nil
	}
	var n uint64
	if err := value.Decode(&n); err != nil {
		return errors.Wrapf(ErrInvalidConcurrency, "line %d: %q", value.Line, value.Value)
	}
	enabled, err := Enabled(n)
	if err != nil {
		return errors.Wrapf(err, "line %d", value.Line)
	}
	*c = enabled
	return nil
}

// Run describes one testing run. It is immutable once built.
type Run struct {
	mode        RunningMode
	testList    []string
	language    Language
	concurrency Concurrency
}

func NewRun(mode RunningMode, tests []string, language Language, concurrency Concurrency) *Run {
	return &Run{
		mode:        mode,
		testList:    append([]string(nil), tests...),
		language:    language,
		concurrency: concurrency,
	}
}

func (r *Run) Mode() RunningMode {
	return r.mode
}

// TestNames returns the tests in configuration order.
func (r *Run) TestNames() []string {
	return append([]string(nil), r.testList...)
}

func (r *Run) Language() Language {
	return r.language
}

func (r *Run) Concurrency() Concurrency {
	return r.concurrency
}

type runDocument struct {
	Mode        modeDocument `yaml:"mode"`
	TestList    []string     `yaml:"test_list"`
	Language    Language     `yaml:"language"`
	Concurrency Concurrency  `yaml:"concurrency"`
}

type modeDocument struct {
	Local         *LocalMode         `yaml:"local"`
	GitRepository *GitRepositoryMode `yaml:"git_repository"`
}

// ParseError reports a configuration that could not be parsed, together with
// the raw input.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("error while converting configuration: %v. ARG = ##[%s]##", e.Err, e.Raw)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ParseRun parses a YAML run configuration:
//
//	mode:
//	  local:
//	    in_test_path: tests/in
//	    out_test_path: tests/out
//	    err_test_path: tests/err
//	    compiled_program_path: ./solution
//	test_list: [t1, t2]
//	language: cpp
//	concurrency: 4 # or "disabled"
func ParseRun(raw string) (*Run, error) {
	run, err := parseRun(raw)
	if err != nil {
		return nil, &ParseError{Raw: raw, Err: err}
	}
	return run, nil
}

// LoadRunFile reads and parses a run configuration file.
func LoadRunFile(path string) (*Run, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read run configuration")
	}
	return ParseRun(string(data))
}

func parseRun(raw string) (*Run, error) {
	dec := yaml.NewDecoder(strings.NewReader(raw))
	dec.KnownFields(true)

	var doc runDocument
	if err := dec.Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, errors.New("empty configuration")
		}
		return nil, err
	}

	var mode RunningMode
	switch {
	case doc.Mode.Local != nil && doc.Mode.GitRepository != nil:
		return nil, errors.New("mode: exactly one of local, git_repository must be set")
	case doc.Mode.Local != nil:
		if err := validateLocal(doc.Mode.Local); err != nil {
			return nil, err
		}
		mode = *doc.Mode.Local
	case doc.Mode.GitRepository != nil:
		mode = *doc.Mode.GitRepository
	default:
		return nil, errors.New("mode: one of local, git_repository must be set")
	}

	switch strings.ToLower(string(doc.Language)) {
	case "", "cpp", "c++":
		doc.Language = LanguageCpp
	default:
		return nil, errors.Errorf("language: unsupported %q", doc.Language)
	}

	for i, name := range doc.TestList {
		if name == "" {
			return nil, errors.Errorf("test_list[%d]: empty test name", i)
		}
	}

	return NewRun(mode, doc.TestList, doc.Language, doc.Concurrency), nil
}

func validateLocal(m *LocalMode) error {
	fields := []struct{ name, value string }{
		{"in_test_path", m.InTestPath},
		{"out_test_path", m.OutTestPath},
		{"err_test_path", m.ErrTestPath},
		{"compiled_program_path", m.CompiledProgramPath},
	}
	for _, f := range fields {
		if f.value == "" {
			return errors.Errorf("mode.local.%s is required", f.name)
		}
	}
	return nil
}
