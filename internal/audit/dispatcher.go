package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// Dispatcher relays audit events to a sink from a dedicated goroutine so
// token and verification paths never block on sink latency. A nil
// *Dispatcher is valid and discards everything, which is how the engine
// models auditing being switched off.
type Dispatcher struct {
	sink       Sink
	queue      chan Event
	stop       chan struct{}
	dropIfFull bool
	dropped    atomic.Uint64
	stopping   atomic.Bool
	drained    sync.WaitGroup
	stopOnce   sync.Once
}

// NewDispatcher starts the relay goroutine. It returns nil when auditing
// is disabled; callers use the returned value without a nil check.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	buffer := cfg.BufferSize
	if buffer <= 0 {
		buffer = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		sink:       sink,
		queue:      make(chan Event, buffer),
		stop:       make(chan struct{}),
		dropIfFull: cfg.DropIfFull,
	}

	d.drained.Add(1)
	go d.relay()

	return d
}

func (d *Dispatcher) relay() {
	defer d.drained.Done()

	for {
		select {
		case event := <-d.queue:
			d.sink.Emit(context.Background(), event)
		case <-d.stop:
			d.drainQueue()
			return
		}
	}
}

// drainQueue delivers whatever is still buffered at shutdown. Emit has
// already stopped accepting events, so the queue can only shrink here.
func (d *Dispatcher) drainQueue() {
	for {
		select {
		case event := <-d.queue:
			d.sink.Emit(context.Background(), event)
		default:
			return
		}
	}
}

// Emit enqueues an event for async delivery. With DropIfFull set a full
// buffer increments the drop counter instead of blocking; otherwise Emit
// waits until the buffer has room, the context is cancelled, or the
// dispatcher shuts down.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.stopping.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.dropIfFull {
		select {
		case d.queue <- event:
		case <-d.stop:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.queue <- event:
	case <-ctx.Done():
	case <-d.stop:
	}
}

// Close stops accepting new events, flushes the buffer, and waits for the
// relay goroutine to exit. Safe to call more than once and on nil.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.stopOnce.Do(func() {
		d.stopping.Store(true)
		close(d.stop)
		d.drained.Wait()
	})
}

// Dropped reports how many events were discarded under DropIfFull.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
