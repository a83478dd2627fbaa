package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Handler processes one delivered payload. A non-nil error asks the queue
// to redeliver.
type Handler func(ctx context.Context, payload []byte) error

// Queue interface
type Queue interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(topic string, handler Handler) error
}

// ErrClosed is returned by Publish after Shutdown.
var ErrClosed = errors.New("queue is shut down")

// InMemoryQueue delivers to in-process subscribers with retry. Messages do
// not survive a restart; the sweeper re-dispatches unfinished campaigns.
type InMemoryQueue struct {
	mu       sync.Mutex
	handlers map[string][]Handler
	inflight sync.WaitGroup
	closed   bool

	// base is handed to every delivery and cancelled by Shutdown.
	base   context.Context
	cancel context.CancelFunc

	MaxRetries int
	Backoff    time.Duration
	Log        zerolog.Logger
}

// NewInMemoryQueue creates a new queue
func NewInMemoryQueue(log zerolog.Logger) *InMemoryQueue {
	base, cancel := context.WithCancel(context.Background())
	return &InMemoryQueue{
		handlers:   make(map[string][]Handler),
		base:       base,
		cancel:     cancel,
		MaxRetries: 3,
		Backoff:    500 * time.Millisecond,
		Log:        log,
	}
}

// Publish hands the payload to every subscriber of topic in its own goroutine.
func (q *InMemoryQueue) Publish(ctx context.Context, topic string, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	handlers := q.handlers[topic]
	if len(handlers) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}

	for _, handler := range handlers {
		q.inflight.Add(1)
		go func(h Handler) {
			defer q.inflight.Done()
			q.processJob(topic, h, payload)
		}(handler)
	}
	return nil
}

// processJob handles retries and errors
func (q *InMemoryQueue) processJob(topic string, handler Handler, payload []byte) {
	// Deliveries outlive the publisher's request but not the queue.
	ctx := q.base
	for attempt := 0; attempt <= q.MaxRetries; attempt++ {
		err := handler(ctx, payload)
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			q.Log.Warn().Err(err).Str("topic", topic).Msg("job interrupted by shutdown")
			return
		}
		if attempt == q.MaxRetries {
			q.Log.Error().Err(err).Str("topic", topic).Int("attempts", attempt+1).Msg("job permanently failed")
			return
		}
		q.Log.Warn().Err(err).Str("topic", topic).Int("attempt", attempt+1).Msg("job failed, retrying")
		// Linear backoff before retry
		select {
		case <-time.After(time.Duration(attempt+1) * q.Backoff):
		case <-ctx.Done():
			return
		}
	}
}

// Subscribe adds a handler for a topic
func (q *InMemoryQueue) Subscribe(topic string, handler Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

// Wait blocks until every delivery started so far has finished, including
// deliveries published by handlers while waiting.
func (q *InMemoryQueue) Wait() {
	q.inflight.Wait()
}

// Shutdown rejects new messages, cancels the context of running deliveries
// and waits for them until ctx is done.
func (q *InMemoryQueue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.cancel()
	return waitGroup(ctx, &q.inflight)
}

// waitGroup waits for wg or returns ctx's error first.
func waitGroup(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight deliveries: %w", ctx.Err())
	}
}

var _ Queue = (*InMemoryQueue)(nil)
