package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/cutekitek/fixture-runner/internal/config"
	"github.com/cutekitek/fixture-runner/internal/rabbitmq"
	"github.com/cutekitek/fixture-runner/pkg/protocol"
)

func main() {
	app := &cli.App{
		Name:  "framedump",
		Usage: "Print fixture-runner frames from stdin or a RabbitMQ queue",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "amqp",
				Usage: "Consume frames from the RABBIT_QUEUE queue instead of stdin",
			},
		},
		Action: func(c *cli.Context) error {
			if c.Bool("amqp") {
				return dumpQueue(c.Context, os.Stdout)
			}
			return dumpStream(os.Stdin, os.Stdout)
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// dumpStream prints messages read from r until TestingProcessCompleted or a
// clean end of stream.
func dumpStream(r io.Reader, w io.Writer) error {
	reader := protocol.NewReader(r)
	for {
		msg, err := reader.ReadMessage()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(w, describe(msg))
		if _, ok := msg.(protocol.TestingProcessCompleted); ok {
			return nil
		}
	}
}

func dumpQueue(ctx context.Context, w io.Writer) error {
	env, err := config.NewConfig()
	if err != nil {
		return err
	}
	consumer := rabbitmq.NewConsumer(rabbitmq.Config{
		Login:    env.RabbitMQUser,
		Password: env.RabbitMQPassword,
		Host:     env.RabbitMQHost,
		Port:     env.RabbitMQPort,
		Queue:    env.RabbitMQQueue,
	})
	if err := consumer.Start(); err != nil {
		return err
	}
	defer consumer.Close()
	slog.Info("waiting for frames", "queue", env.RabbitMQQueue)

	dec := protocol.NewDecoder()
	for {
		select {
		case <-ctx.Done():
			return nil
		case body := <-consumer.Frames():
			_, _ = dec.Write(body)
			for {
				msg, ok, err := dec.Next()
				if err != nil {
					return errors.Wrap(err, "bad frame on queue")
				}
				if !ok {
					break
				}
				fmt.Fprintln(w, describe(msg))
				if _, done := msg.(protocol.TestingProcessCompleted); done {
					return nil
				}
			}
		}
	}
}

func describe(msg protocol.Message) string {
	switch m := msg.(type) {
	case protocol.ExecutionStarted:
		return fmt.Sprintf("started   %s", m.TestName)
	case protocol.TestCompleted:
		return fmt.Sprintf("completed %s: %s", m.Result.Name, describeMeasure(m.Result.Outcome))
	case protocol.TestingProcessCompleted:
		return "testing process completed"
	default:
		return fmt.Sprintf("unknown message %T", msg)
	}
}

func describeMeasure(m protocol.Measure) string {
	switch o := m.(type) {
	case protocol.Success:
		return fmt.Sprintf("success in %.3fs (exit %s)", o.Time, exitStatus(o.ExitStatus))
	case protocol.Failure:
		return fmt.Sprintf("failure (exit %s) stdout=%q stderr=%q", exitStatus(o.ExitStatus), o.Stdout, o.Stderr)
	case protocol.InternalProgramError:
		return fmt.Sprintf("internal error: %s", o.Description)
	case protocol.Timeout:
		return "timeout"
	default:
		return string(m.Kind())
	}
}

func exitStatus(code *int32) string {
	if code == nil {
		return "signal"
	}
	return fmt.Sprint(*code)
}
