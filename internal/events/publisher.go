package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"identity-service/internal/metrics"
	"identity-service/internal/model"
)

// Publisher receives session lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, evt model.SessionEvent) error
}

// Sink is one destination for events.
type Sink interface {
	Name() string
	Write(ctx context.Context, evt model.SessionEvent) error
}

// ErrEventDropped means the dispatch queue was full or closed.
var ErrEventDropped = errors.New("session event dropped")

const defaultQueueSize = 1024

// FanOut queues events and a single worker writes each one to all sinks
// concurrently. A slow or failing sink never blocks the others past the
// timeout, and never blocks the caller.
type FanOut struct {
	sinks   []Sink
	timeout time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics

	queue     chan model.SessionEvent
	done      chan struct{}
	wg        sync.WaitGroup
	closed    atomic.Bool
	closeOnce sync.Once
}

func NewFanOut(logger *zap.Logger, m *metrics.Metrics, timeout time.Duration, sinks ...Sink) *FanOut {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &FanOut{
		sinks:   sinks,
		timeout: timeout,
		logger:  logger,
		metrics: m,
		queue:   make(chan model.SessionEvent, defaultQueueSize),
		done:    make(chan struct{}),
	}
	f.wg.Add(1)
	go f.run()
	return f
}

func (f *FanOut) run() {
	defer f.wg.Done()
	for {
		select {
		case evt := <-f.queue:
			_ = f.deliver(context.Background(), evt)
		case <-f.done:
			for {
				select {
				case evt := <-f.queue:
					_ = f.deliver(context.Background(), evt)
				default:
					return
				}
			}
		}
	}
}

// Publish enqueues the event and returns at once. When the queue is full the
// event is dropped and counted.
func (f *FanOut) Publish(_ context.Context, evt model.SessionEvent) error {
	if len(f.sinks) == 0 {
		return nil
	}
	if f.closed.Load() {
		return ErrEventDropped
	}
	select {
	case f.queue <- evt:
		return nil
	default:
		f.metrics.PublishFailed("queue")
		f.logger.Warn("Session event queue full, dropping event",
			zap.String("event_type", string(evt.EventType)),
			zap.String("event_id", evt.EventID))
		return ErrEventDropped
	}
}

// Close stops accepting events and waits until the queued ones are written.
func (f *FanOut) Close() {
	f.closeOnce.Do(func() {
		f.closed.Store(true)
		close(f.done)
		f.wg.Wait()
	})
}

// deliver writes evt to every sink and returns the joined sink errors. The
// event is written even if ctx is already cancelled, since it records
// something that has happened.
func (f *FanOut) deliver(ctx context.Context, evt model.SessionEvent) error {
	if len(f.sinks) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
	defer cancel()

	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range f.sinks {
		g.Go(func() error {
			if err := s.Write(gctx, evt); err != nil {
				f.metrics.PublishFailed(s.Name())
				f.logger.Warn("Session event not delivered",
					zap.String("sink", s.Name()),
					zap.String("event_type", string(evt.EventType)),
					zap.String("event_id", evt.EventID),
					zap.Error(err))
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
				mu.Unlock()
			}
			// sinks are independent, one failure must not cancel the rest
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
