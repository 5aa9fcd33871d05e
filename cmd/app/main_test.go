package main

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/cutekitek/fixture-runner/pkg/protocol"
)

// execMainEnv makes the test binary behave as the fixture-runner binary.
const execMainEnv = "FIXTURE_RUNNER_EXEC_MAIN"

func TestMain(m *testing.M) {
	if os.Getenv(execMainEnv) == "1" {
		main()
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func runApp(t *testing.T, args ...string) ([]protocol.Message, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp(&out)
	app.ExitErrHandler = func(*cli.Context, error) {}

	err := app.Run(append([]string{"fixture-runner"}, args...))

	var msgs []protocol.Message
	r := protocol.NewReader(&out)
	for {
		msg, rerr := r.ReadMessage()
		if rerr == io.EOF {
			break
		}
		require.NoError(t, rerr)
		msgs = append(msgs, msg)
	}
	return msgs, err
}

func TestApp_RunsLocalFixtures(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	dir := t.TempDir()
	prog := filepath.Join(dir, "double.sh")
	require.NoError(t, os.WriteFile(prog, []byte("#!/bin/sh\nread n\necho $((n * 2))\n"), 0o755))
	for name, fixtures := range map[string][3]string{
		"pass": {"4\n", "8\n", ""},
		"fail": {"4\n", "9\n", ""},
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name+".in"), []byte(fixtures[0]), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, name+".out"), []byte(fixtures[1]), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, name+".err"), []byte(fixtures[2]), 0o644))
	}
	yaml := fmt.Sprintf(`
mode:
  local:
    in_test_path: %[1]s
    out_test_path: %[1]s
    err_test_path: %[1]s
    compiled_program_path: %[2]s
test_list: [pass, fail]
concurrency: 2
`, dir, prog)

	msgs, err := runApp(t, "-c", yaml, "--timeout", "5", "--fixtures", "local")
	require.NoError(t, err)
	require.Len(t, msgs, 5)
	assert.Equal(t, protocol.TestingProcessCompleted{}, msgs[4])

	outcomes := map[string]protocol.MeasureKind{}
	for _, msg := range msgs {
		if done, ok := msg.(protocol.TestCompleted); ok {
			outcomes[done.Result.Name] = done.Result.Outcome.Kind()
		}
	}
	assert.Equal(t, map[string]protocol.MeasureKind{
		"pass": protocol.MeasureSuccess,
		"fail": protocol.MeasureFailure,
	}, outcomes)
}

func TestApp_MalformedConfiguration(t *testing.T) {
	msgs, err := runApp(t, "-c", "mode: [", "--timeout", "1")
	require.Error(t, err)
	assert.Empty(t, msgs, "nothing runs on a bad configuration")

	var exitErr cli.ExitCoder
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, exitBadConfig, exitErr.ExitCode())
	assert.Contains(t, err.Error(), "ARG = ##[mode: [")
}

func TestParseTimeout(t *testing.T) {
	d, err := parseTimeout(1.5)
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, d)

	for _, bad := range []float64{0, -1, math.NaN(), 1e11, math.Inf(1)} {
		_, err := parseTimeout(bad)
		assert.Error(t, err)
	}
}

func TestReadRunConfig_RequiresOneSource(t *testing.T) {
	_, err := readRunConfig("", "")
	assert.Error(t, err)
	_, err = readRunConfig("x", "y")
	assert.Error(t, err)
}

func TestMain_InterruptStopsRun(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh and SIGINT")
	}
	dir := t.TempDir()
	prog := filepath.Join(dir, "slow.sh")
	require.NoError(t, os.WriteFile(prog, []byte("#!/bin/sh\nexec sleep 5\n"), 0o755))
	for _, ext := range []string{".in", ".out", ".err"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "slow"+ext), nil, 0o644))
	}
	yaml := fmt.Sprintf(`
mode:
  local:
    in_test_path: %[1]s
    out_test_path: %[1]s
    err_test_path: %[1]s
    compiled_program_path: %[2]s
test_list: [slow]
`, dir, prog)

	cmd := exec.Command(os.Args[0], "-c", yaml, "--timeout", "30", "--fixtures", "local")
	cmd.Env = append(os.Environ(), execMainEnv+"=1")
	stdout, err := cmd.StdoutPipe()
	require.NoError(t, err)
	require.NoError(t, cmd.Start())

	msg, err := protocol.NewReader(stdout).ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, protocol.ExecutionStarted{TestName: "slow"}, msg)

	start := time.Now()
	require.NoError(t, cmd.Process.Signal(os.Interrupt))
	_, _ = io.Copy(io.Discard, stdout)
	err = cmd.Wait()

	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.False(t, exitErr.Success())
	assert.Less(t, time.Since(start), 3*time.Second)
}
