package config

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const localRun = `
mode:
  local:
    in_test_path: tests/in
    out_test_path: tests/out/
    err_test_path: tests/err
    compiled_program_path: ./solution
test_list: [t1, t2, t3]
language: cpp
concurrency: 4
`

func TestParseRun_Local(t *testing.T) {
	run, err := ParseRun(localRun)
	require.NoError(t, err)

	assert.Equal(t, LocalMode{
		InTestPath:          "tests/in",
		OutTestPath:         "tests/out/",
		ErrTestPath:         "tests/err",
		CompiledProgramPath: "./solution",
	}, run.Mode())
	assert.Equal(t, []string{"t1", "t2", "t3"}, run.TestNames())
	assert.Equal(t, LanguageCpp, run.Language())
	assert.True(t, run.Concurrency().Enabled())
	assert.Equal(t, 4, run.Concurrency().Slots())
	assert.Equal(t, "Local mode", run.Mode().String())
}

func TestParseRun_TestNamesAreCopied(t *testing.T) {
	run, err := ParseRun(localRun)
	require.NoError(t, err)

	names := run.TestNames()
	names[0] = "changed"
	assert.Equal(t, "t1", run.TestNames()[0])
}

func TestParseRun_Concurrency(t *testing.T) {
	tests := []struct {
		value   string
		enabled bool
		slots   int
	}{
		{value: "disabled", enabled: false, slots: 1},
		{value: "Disabled", enabled: false, slots: 1},
		{value: "1", enabled: true, slots: 1},
		{value: "16", enabled: true, slots: 16},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			raw := strings.Replace(localRun, "concurrency: 4", "concurrency: "+tt.value, 1)
			run, err := ParseRun(raw)
			require.NoError(t, err)
			assert.Equal(t, tt.enabled, run.Concurrency().Enabled())
			assert.Equal(t, tt.slots, run.Concurrency().Slots())
		})
	}
}

func TestConcurrency_SlotsSaturate(t *testing.T) {
	raw := strings.Replace(localRun, "concurrency: 4", "concurrency: 18446744073709551615", 1)
	run, err := ParseRun(raw)
	require.NoError(t, err)
	assert.True(t, run.Concurrency().Enabled())
	assert.Equal(t, math.MaxInt, run.Concurrency().Slots())

	c, err := Enabled(math.MaxUint64)
	require.NoError(t, err)
	assert.Equal(t, math.MaxInt, c.Slots())
}

func TestParseRun_ConcurrencyDefaultsToDisabled(t *testing.T) {
	raw := strings.Replace(localRun, "concurrency: 4", "", 1)
	run, err := ParseRun(raw)
	require.NoError(t, err)
	assert.False(t, run.Concurrency().Enabled())
	assert.Equal(t, 1, run.Concurrency().Slots())
}

func TestParseRun_InvalidConcurrency(t *testing.T) {
	for _, value := range []string{"0", "-2", "many", "[1, 2]"} {
		t.Run(value, func(t *testing.T) {
			raw := strings.Replace(localRun, "concurrency: 4", "concurrency: "+value, 1)
			_, err := ParseRun(raw)
			require.ErrorIs(t, err, ErrInvalidConcurrency)
		})
	}
}

func TestParseRun_GitRepository(t *testing.T) {
	run, err := ParseRun(`
mode:
  git_repository:
    address: https://example.com/tests.git
test_list: [a]
`)
	require.NoError(t, err)
	assert.Equal(t, GitRepositoryMode{Address: "https://example.com/tests.git"}, run.Mode())
	assert.Equal(t, "Git repository mode", run.Mode().String())
}

func TestParseRun_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "empty", raw: "", want: "empty configuration"},
		{name: "no mode", raw: "test_list: [a]\n", want: "one of local, git_repository must be set"},
		{
			name: "both modes",
			raw:  "mode:\n  local: {in_test_path: a, out_test_path: b, err_test_path: c, compiled_program_path: d}\n  git_repository: {address: x}\n",
			want: "exactly one of",
		},
		{
			name: "missing program",
			raw:  "mode:\n  local: {in_test_path: a, out_test_path: b, err_test_path: c}\n",
			want: "compiled_program_path is required",
		},
		{name: "unknown field", raw: localRun + "retries: 3\n", want: "retries"},
		{name: "bad language", raw: strings.Replace(localRun, "language: cpp", "language: cobol", 1), want: "cobol"},
		{name: "empty name", raw: strings.Replace(localRun, "[t1, t2, t3]", "[t1, '']", 1), want: "test_list[1]"},
		{name: "not yaml", raw: "mode: [", want: "yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRun(tt.raw)
			require.Error(t, err)

			var parseErr *ParseError
			require.ErrorAs(t, err, &parseErr)
			assert.Equal(t, tt.raw, parseErr.Raw)
			assert.Contains(t, err.Error(), tt.want)
			assert.Contains(t, err.Error(), "ARG = ##["+tt.raw+"]##")
		})
	}
}

func TestLoadRunFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(localRun), 0o644))

	run, err := LoadRunFile(path)
	require.NoError(t, err)
	assert.Len(t, run.TestNames(), 3)

	_, err = LoadRunFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestNewConfigFrom_Environment(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("FIXTURES_BACKEND", "minio")
	t.Setenv("MINIO_BUCKET", "golden")
	t.Setenv("RABBIT_PORT", "5673")
	t.Setenv("AMQP_MIRROR", "true")

	cfg, err := NewConfigFrom("")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, FixturesMinIO, cfg.FixturesBackend)
	assert.Equal(t, "golden", cfg.MinIOBucket)
	assert.Equal(t, 5673, cfg.RabbitMQPort)
	assert.True(t, cfg.AMQPMirror)
	assert.Equal(t, "fixture-runner-frames", cfg.RabbitMQQueue)
}

func TestNewConfigFrom_DotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("METRICS_ADDR=:9100\nRABBIT_QUEUE=frames\n"), 0o644))

	cfg, err := NewConfigFrom(path)
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.MetricsAddr)
	assert.Equal(t, "frames", cfg.RabbitMQQueue)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestNewConfigFrom_UnknownBackend(t *testing.T) {
	t.Setenv("FIXTURES_BACKEND", "ftp")
	_, err := NewConfigFrom("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ftp")
}
