// Package stream carries turn output to its consumer through a bounded
// queue. The producer (the turn pipeline) blocks when the consumer lags and
// aborts the turn when the lag exceeds a configured interval; events are
// never dropped or reordered.
package stream

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/maestrokit/maestro/pkg/models"
)

// ErrConsumerSlow is returned by Push when the consumer failed to drain the
// queue within the configured stall interval.
var ErrConsumerSlow = errors.New("stream consumer too slow")

// ErrSinkClosed is returned by Push after Close.
var ErrSinkClosed = errors.New("stream sink closed")

// Sink is the write side of a turn's event stream.
type Sink interface {
	// Push delivers one event. It blocks while the queue is full and fails
	// with ErrConsumerSlow when blocked longer than the stall interval.
	Push(ctx context.Context, event models.StreamEvent) error

	// Close marks the stream complete. Idempotent.
	Close()
}

// ChannelSink is a Sink over a bounded channel, consumed via Events.
type ChannelSink struct {
	events    chan models.StreamEvent
	stall     time.Duration
	closeOnce sync.Once
	closed    chan struct{}

	mu  sync.Mutex // serializes Push so seq matches delivery order
	seq int64
}

// NewChannelSink creates a sink with the given queue capacity and consumer
// stall interval.
func NewChannelSink(capacity int, stall time.Duration) *ChannelSink {
	return &ChannelSink{
		events: make(chan models.StreamEvent, capacity),
		stall:  stall,
		closed: make(chan struct{}),
	}
}

// Events is the read side. The channel is closed when the turn finishes.
func (s *ChannelSink) Events() <-chan models.StreamEvent {
	return s.events
}

// Push implements Sink. Events carry a monotonically increasing Seq assigned
// here, under the same lock that orders channel sends.
func (s *ChannelSink) Push(ctx context.Context, event models.StreamEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.closed:
		return ErrSinkClosed
	default:
	}

	event.Seq = s.seq

	timer := time.NewTimer(s.stall)
	defer timer.Stop()

	select {
	case s.events <- event:
		s.seq++
		return nil
	case <-s.closed:
		return ErrSinkClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrConsumerSlow
	}
}

// Close implements Sink.
func (s *ChannelSink) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.mu.Lock()
		defer s.mu.Unlock()
		close(s.events)
	})
}

// Discard is a Sink that drops everything. Used for synchronous turns where
// the reply is assembled from the pipeline's return value instead.
type Discard struct{}

func (Discard) Push(context.Context, models.StreamEvent) error { return nil }
func (Discard) Close()                                         {}
