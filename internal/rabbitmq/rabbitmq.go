package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	FrameContentType = "application/octet-stream"
	FrameType        = "fixture-runner.frame"

	publishTimeout = 5 * time.Second
	reconnectDelay = 15 * time.Second
)

var ErrNotConnected = errors.New("rabbitmq connection is not established")

type Config struct {
	Login    string
	Password string
	Host     string
	Port     int
	Queue    string
}

func (c Config) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d", c.Login, c.Password, c.Host, c.Port)
}

// conn owns one AMQP connection and channel and redials in the background
// after the broker drops it, until close is called. onConnect runs on every
// fresh channel before it is handed out.
type conn struct {
	cfg       Config
	log       *slog.Logger
	onConnect func(*amqp.Channel) error

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	closed  bool
}

func (c *conn) connect() error {
	connection, err := amqp.Dial(c.cfg.URL())
	if err != nil {
		return errors.Wrap(err, "failed to connect to rabbitmq")
	}
	channel, err := connection.Channel()
	if err != nil {
		connection.Close()
		return errors.Wrap(err, "failed to open channel")
	}
	if _, err := channel.QueueDeclare(c.cfg.Queue, false, false, false, false, nil); err != nil {
		connection.Close()
		return errors.Wrapf(err, "failed to declare queue %s", c.cfg.Queue)
	}
	if c.onConnect != nil {
		if err := c.onConnect(channel); err != nil {
			connection.Close()
			return err
		}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return connection.Close()
	}
	c.conn = connection
	c.channel = channel
	c.mu.Unlock()

	errChan := connection.NotifyClose(make(chan *amqp.Error, 1))
	go c.watch(errChan)
	return nil
}

func (c *conn) watch(errChan <-chan *amqp.Error) {
	amqpErr := <-errChan
	c.mu.Lock()
	closed := c.closed
	c.channel = nil
	c.mu.Unlock()
	if closed {
		return
	}

	c.log.Warn("rabbitmq connection lost", "error", amqpErr)
	for {
		time.Sleep(reconnectDelay)
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}
		if err := c.connect(); err != nil {
			c.log.Error("failed to reconnect to rabbitmq", "error", err)
			continue
		}
		c.log.Info("rabbitmq connection restored")
		return
	}
}

func (c *conn) current() *amqp.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channel
}

func (c *conn) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.channel = nil
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Publisher mirrors protocol frames to a queue, one frame per message.
type Publisher struct {
	c conn
}

func NewPublisher(cfg Config) *Publisher {
	return &Publisher{c: conn{cfg: cfg, log: slog.With("component", "rabbitmq-publisher", "queue", cfg.Queue)}}
}

func (p *Publisher) Start() error {
	return p.c.connect()
}

func (p *Publisher) WriteFrame(frame []byte) error {
	channel := p.c.current()
	if channel == nil {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := channel.PublishWithContext(ctx, "", p.c.cfg.Queue, false, false, framePublishing(frame)); err != nil {
		return errors.Wrap(err, "failed to publish frame")
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.c.close()
}

func framePublishing(frame []byte) amqp.Publishing {
	return amqp.Publishing{
		ContentType: FrameContentType,
		Type:        FrameType,
		MessageId:   uuid.NewString(),
		Timestamp:   time.Now(),
		Body:        frame,
	}
}

// Consumer delivers the bodies of frame messages from a queue.
type Consumer struct {
	c      conn
	frames chan []byte
}

func NewConsumer(cfg Config) *Consumer {
	c := &Consumer{frames: make(chan []byte, 64)}
	c.c = conn{
		cfg:       cfg,
		log:       slog.With("component", "rabbitmq-consumer", "queue", cfg.Queue),
		onConnect: c.listen,
	}
	return c
}

func (c *Consumer) Start() error {
	return c.c.connect()
}

// Frames yields message bodies in delivery order.
func (c *Consumer) Frames() <-chan []byte {
	return c.frames
}

func (c *Consumer) listen(channel *amqp.Channel) error {
	deliveries, err := channel.Consume(c.c.cfg.Queue, "", true, false, false, false, nil)
	if err != nil {
		return errors.Wrap(err, "failed to start consumer")
	}
	go func() {
		for d := range deliveries {
			if d.Type != "" && d.Type != FrameType {
				c.c.log.Warn("skipping message of unexpected type", "type", d.Type, "message_id", d.MessageId)
				continue
			}
			c.frames <- d.Body
		}
	}()
	return nil
}

func (c *Consumer) Close() error {
	return c.c.close()
}
