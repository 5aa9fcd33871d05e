package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/cutekitek/fixture-runner/internal/config"
	"github.com/cutekitek/fixture-runner/internal/executor"
	"github.com/cutekitek/fixture-runner/internal/files"
	"github.com/cutekitek/fixture-runner/internal/metrics"
	"github.com/cutekitek/fixture-runner/internal/rabbitmq"
	"github.com/cutekitek/fixture-runner/internal/reporter"
	"github.com/cutekitek/fixture-runner/internal/runner"
)

// Exit code for a malformed run configuration or arguments.
const exitBadConfig = 2

var (
	configurationFlag = &cli.StringFlag{
		Name:    "configuration",
		Aliases: []string{"c"},
		Usage:   "Run configuration as YAML text",
	}
	configFileFlag = &cli.StringFlag{
		Name:  "config-file",
		Usage: "Path to a YAML run configuration, instead of --configuration",
	}
	timeoutFlag = &cli.Float64Flag{
		Name:     "timeout",
		Required: true,
		Usage:    "Per-test wall clock limit in seconds",
	}
	logLevelFlag = &cli.StringFlag{
		Name:    "log-level",
		EnvVars: []string{"LOG_LEVEL"},
		Usage:   "debug, info, warn or error",
	}
	metricsAddrFlag = &cli.StringFlag{
		Name:    "metrics-addr",
		EnvVars: []string{"METRICS_ADDR"},
		Usage:   "Serve Prometheus metrics on this address while running",
	}
	fixturesFlag = &cli.StringFlag{
		Name:    "fixtures",
		EnvVars: []string{"FIXTURES_BACKEND"},
		Usage:   "Fixture backend: local or minio",
	}
	amqpMirrorFlag = &cli.BoolFlag{
		Name:    "amqp-mirror",
		EnvVars: []string{"AMQP_MIRROR"},
		Usage:   "Also publish every frame to RabbitMQ",
	}
)

func setLogLevel(level string) {
	switch level {
	case "debug":
		slog.SetLogLoggerLevel(slog.LevelDebug)
	case "info":
		slog.SetLogLoggerLevel(slog.LevelInfo)
	case "warn":
		slog.SetLogLoggerLevel(slog.LevelWarn)
	case "error":
		slog.SetLogLoggerLevel(slog.LevelError)
	default:
		slog.SetLogLoggerLevel(slog.LevelWarn)
	}
}

func newApp(stdout io.Writer) *cli.App {
	return &cli.App{
		Name:  "fixture-runner",
		Usage: "Run a program against fixture tests and stream the results",
		Flags: []cli.Flag{
			configurationFlag,
			configFileFlag,
			timeoutFlag,
			logLevelFlag,
			metricsAddrFlag,
			fixturesFlag,
			amqpMirrorFlag,
		},
		Action: func(c *cli.Context) error {
			return run(c, stdout)
		},
	}
}

// Signals keep their default disposition: an interrupted run dies at once
// instead of finishing its queue.
func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		// cli.Exit errors have already been printed and handled.
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context, stdout io.Writer) error {
	env, err := config.NewConfig()
	if err != nil {
		return err
	}
	if c.IsSet(logLevelFlag.Name) {
		env.LogLevel = c.String(logLevelFlag.Name)
	}
	if c.IsSet(metricsAddrFlag.Name) {
		env.MetricsAddr = c.String(metricsAddrFlag.Name)
	}
	if c.IsSet(fixturesFlag.Name) {
		env.FixturesBackend = c.String(fixturesFlag.Name)
	}
	if c.IsSet(amqpMirrorFlag.Name) {
		env.AMQPMirror = c.Bool(amqpMirrorFlag.Name)
	}
	setLogLevel(env.LogLevel)

	cfg, err := readRunConfig(c.String(configurationFlag.Name), c.String(configFileFlag.Name))
	if err != nil {
		return cli.Exit(err.Error(), exitBadConfig)
	}
	timeout, err := parseTimeout(c.Float64(timeoutFlag.Name))
	if err != nil {
		return cli.Exit(err.Error(), exitBadConfig)
	}

	store, err := newFixtureStore(env)
	if err != nil {
		return err
	}

	out := bufio.NewWriter(stdout)
	var sink reporter.Sink = reporter.NewStreamSink(out)
	if env.AMQPMirror {
		publisher := rabbitmq.NewPublisher(rabbitmq.Config{
			Login:    env.RabbitMQUser,
			Password: env.RabbitMQPassword,
			Host:     env.RabbitMQHost,
			Port:     env.RabbitMQPort,
			Queue:    env.RabbitMQQueue,
		})
		if err := publisher.Start(); err != nil {
			return errors.Wrap(err, "failed to start frame mirror")
		}
		defer publisher.Close()
		sink = reporter.Fanout{sink, reporter.BestEffort{Sink: publisher}}
	}

	m := metrics.New()
	if env.MetricsAddr != "" {
		metricsCtx, cancel := context.WithCancel(c.Context)
		defer cancel()
		go func() {
			if err := m.Serve(metricsCtx, env.MetricsAddr); err != nil {
				slog.Error("metrics server failed", "error", err)
			}
		}()
	}

	ex, err := executor.Load(executor.NewGuard(), cfg, executor.Options{
		Timeout:  timeout,
		Store:    store,
		Sink:     sink,
		Observer: m,
	})
	if err != nil {
		return err
	}
	slog.Info("app started", "run_id", ex.RunID(), "fixtures", env.FixturesBackend)

	return ex.ExecuteTesting(c.Context, cfg)
}

func readRunConfig(raw, file string) (*config.Run, error) {
	switch {
	case raw != "" && file != "":
		return nil, errors.New("only one of --configuration and --config-file may be set")
	case file != "":
		return config.LoadRunFile(file)
	case raw != "":
		return config.ParseRun(raw)
	default:
		return nil, errors.New("one of --configuration and --config-file is required")
	}
}

// Longest timeout a time.Duration can hold, in seconds.
const maxTimeoutSeconds = float64(math.MaxInt64) / float64(time.Second)

func parseTimeout(seconds float64) (time.Duration, error) {
	if !(seconds > 0) {
		return 0, errors.Errorf("timeout must be a positive number of seconds, got %v", seconds)
	}
	if seconds >= maxTimeoutSeconds {
		return 0, errors.Errorf("timeout must be below %.0f seconds, got %v", maxTimeoutSeconds, seconds)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

func newFixtureStore(env *config.Config) (runner.FixtureStore, error) {
	switch env.FixturesBackend {
	case config.FixturesMinIO:
		return files.NewFileStorage(files.Config{
			Url:      env.MinIOHost,
			Login:    env.MinIOLogin,
			Password: env.MinIOPassword,
			Bucket:   env.MinIOBucket,
			Secure:   env.MinIOSSL,
		})
	case config.FixturesLocal:
		return files.NewLocalStorage(), nil
	default:
		return nil, errors.Errorf("unknown fixtures backend %q", env.FixturesBackend)
	}
}
