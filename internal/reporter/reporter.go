package reporter

import (
	"io"
	"log/slog"
	"sync"

	"github.com/pkg/errors"
)

// Sink receives encoded protocol frames in emission order.
type Sink interface {
	WriteFrame(frame []byte) error
}

type flusher interface {
	Flush() error
}

// StreamSink writes whole frames to a byte stream and flushes after each one
// when the stream buffers.
type StreamSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewStreamSink(w io.Writer) *StreamSink {
	return &StreamSink{w: w}
}

func (s *StreamSink) WriteFrame(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.w.Write(frame); err != nil {
		return errors.Wrap(err, "failed to write frame")
	}
	if f, ok := s.w.(flusher); ok {
		if err := f.Flush(); err != nil {
			return errors.Wrap(err, "failed to flush frame")
		}
	}
	return nil
}

// Fanout writes every frame to all sinks and returns the first error. A
// failing sink does not stop delivery to the others.
type Fanout []Sink

func (f Fanout) WriteFrame(frame []byte) error {
	var first error
	for _, s := range f {
		if err := s.WriteFrame(frame); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// BestEffort logs write failures of a secondary sink instead of returning them.
type BestEffort struct {
	Sink Sink
	Log  *slog.Logger
}

func (b BestEffort) WriteFrame(frame []byte) error {
	if err := b.Sink.WriteFrame(frame); err != nil {
		log := b.Log
		if log == nil {
			log = slog.Default()
		}
		log.Warn("failed to mirror frame", "error", err)
	}
	return nil
}
