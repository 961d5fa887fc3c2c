// Package worker defines the lifecycle contract shared by all long-running
// background operations: resource acquisition and release, error isolation
// at the worker boundary, cooperative stop, and ordered event emission on a
// worker-owned outbound channel.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"
)

// ErrAlreadyStarted is returned when Start is called twice; workers are not
// restartable.
var ErrAlreadyStarted = errors.New("worker already started")

// Lifecycle is what a worker specialization implements. The base guarantees
// Open runs before Execute, Close runs exactly once on every exit path, and
// any panic inside Execute is converted to an error event instead of
// crashing the host process.
type Lifecycle interface {
	// Open acquires the worker's resources (storage session, browser).
	// An error here skips Execute but still runs Close.
	Open(ctx context.Context) error

	// Execute is the worker body. It should check StopRequested at its
	// own cooperative checkpoints.
	Execute(ctx context.Context) error

	// Close releases everything Open acquired. Called unconditionally.
	Close()
}

// Base provides the shared worker infrastructure. Specializations embed a
// *Base and implement Lifecycle.
type Base struct {
	name   string
	logger arbor.ILogger

	stop    atomic.Bool
	started atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc

	events chan Event
	done   chan struct{}
}

// NewBase creates the base for a named worker. buffer sizes the outbound
// event channel; consumers must drain Events until it closes.
func NewBase(name string, buffer int, logger arbor.ILogger) *Base {
	if buffer <= 0 {
		buffer = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Base{
		name:   name,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
	}
}

// Name returns the worker name used in events and logs
func (b *Base) Name() string {
	return b.name
}

// Events returns the worker's outbound event channel. It is closed after
// the terminal queue_finished event once the worker terminates.
func (b *Base) Events() <-chan Event {
	return b.events
}

// Done is closed when the worker has terminated and released its resources
func (b *Base) Done() <-chan struct{} {
	return b.done
}

// RequestStop requests a graceful stop. Safe to call from any goroutine at
// any time; idempotent; the flag only ever transitions to requested. The
// worker context is cancelled so blocking calls wake at their next
// checkpoint - cancellation is never preemptive.
func (b *Base) RequestStop() {
	if b.stop.CompareAndSwap(false, true) {
		b.logger.Info().Str("worker", b.name).Msg("Stop requested - will halt at next checkpoint")
	}
	b.cancel()
}

// StopRequested reports whether a stop has been requested
func (b *Base) StopRequested() bool {
	return b.stop.Load()
}

// Context returns the worker's cancellation context. It is cancelled by
// RequestStop and when the worker terminates.
func (b *Base) Context() context.Context {
	return b.ctx
}

// Progress emits a progress event and logs it
func (b *Base) Progress(message string) {
	b.logger.Info().Str("worker", b.name).Msg(message)
	b.emit(Event{Type: EventProgress, Message: message})
}

// ReportError emits an error event and logs it
func (b *Base) ReportError(errCtx, message string) {
	b.logger.Error().Str("worker", b.name).Str("context", errCtx).Msg(message)
	b.emit(Event{Type: EventError, Context: errCtx, Message: message})
}

// Emit sends an operation-specific event (job_started, job_failed, ...)
func (b *Base) Emit(event Event) {
	b.emit(event)
}

func (b *Base) emit(event Event) {
	event.Worker = b.name
	event.Timestamp = time.Now()
	b.events <- event
}

// Start runs the lifecycle on a dedicated goroutine. It returns
// ErrAlreadyStarted on a second call; the Idle to Running transition
// happens exactly once per worker instance.
func (b *Base) Start(lc Lifecycle) error {
	if !b.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	go b.run(lc)
	return nil
}

func (b *Base) run(lc Lifecycle) {
	defer close(b.done)
	defer b.cancel()
	defer close(b.events)

	// The terminal event is emitted exactly once, after resources are
	// released, whatever the outcome of the body.
	defer b.emit(Event{Type: EventQueueFinished})

	defer lc.Close()

	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			b.logger.Error().
				Str("worker", b.name).
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", string(buf[:n])).
				Msg("Worker body panicked")
			b.emit(Event{Type: EventError, Context: "panic", Message: fmt.Sprintf("%v", r)})
		}
	}()

	if err := lc.Open(b.ctx); err != nil {
		b.logger.Error().Str("worker", b.name).Err(err).Msg("Worker failed to acquire resources")
		b.emit(Event{Type: EventError, Context: "open", Message: err.Error()})
		return
	}

	if err := lc.Execute(b.ctx); err != nil {
		b.logger.Error().Str("worker", b.name).Err(err).Msg("Worker run failed")
		b.emit(Event{Type: EventError, Context: "run", Message: err.Error()})
	}
}
