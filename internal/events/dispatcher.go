package events

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"agent-market/internal/domain"
	"agent-market/internal/observability"
)

// Sink receives committed event batches in commit order.
type Sink interface {
	Publish(ctx context.Context, batch []domain.Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, batch []domain.Event) error

// Publish calls f.
func (f SinkFunc) Publish(ctx context.Context, batch []domain.Event) error {
	return f(ctx, batch)
}

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	QueueSize      int           // Buffered batches before Emit blocks (default 1024)
	PublishTimeout time.Duration // Per-sink deadline for one batch (default 5s)
	Logger         zerolog.Logger
}

type namedSink struct {
	name string
	sink Sink
}

// Dispatcher delivers batches to every sink from a single worker, so each
// sink observes batches in the order they were emitted. Sink failures are
// logged and counted; they never reach the emitter.
type Dispatcher struct {
	opts  DispatcherOptions
	sinks []namedSink
	queue chan []domain.Event

	mu      sync.RWMutex
	started bool
	closed  bool
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher. Sinks are added before Start.
func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 5 * time.Second
	}
	return &Dispatcher{
		opts:  opts,
		queue: make(chan []domain.Event, opts.QueueSize),
	}
}

// Add registers a sink. Calls after Start are ignored.
func (d *Dispatcher) Add(name string, s Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		d.opts.Logger.Warn().Str("sink", name).Msg("sink added after start ignored")
		return
	}
	d.sinks = append(d.sinks, namedSink{name: name, sink: s})
}

// Start launches the delivery worker.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	d.wg.Add(1)
	go d.run(ctx)
}

// Emit enqueues a batch and drops it once the dispatcher is closed.
//
// A full queue blocks the caller until the worker frees a slot. The ledger
// emits under its writer lock, so a slow sink throttles mutations instead of
// leaving gaps in the journal that stream clients resume from. Each wait is
// counted and logged.
func (d *Dispatcher) Emit(batch []domain.Event) {
	if len(batch) == 0 {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.opts.Logger.Warn().Uint64("seq", batch[0].Seq).Msg("dispatcher closed, batch dropped")
		return
	}
	select {
	case d.queue <- batch:
	default:
		observability.RecordQueueFull()
		d.opts.Logger.Warn().
			Uint64("seq", batch[0].Seq).
			Int("capacity", cap(d.queue)).
			Msg("event queue full, waiting for sinks")
		d.queue <- batch
	}
	observability.SetQueueDepth(len(d.queue))
}

// Close stops accepting batches and waits for queued ones to be delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()

	if started {
		d.wg.Wait()
	}
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()
	for batch := range d.queue {
		observability.SetQueueDepth(len(d.queue))
		d.deliver(ctx, batch)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, batch []domain.Event) {
	for _, s := range d.sinks {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.opts.PublishTimeout)
		err := s.sink.Publish(pctx, batch)
		cancel()
		observability.RecordPublish(s.name, len(batch), err)
		if err != nil {
			d.opts.Logger.Error().Err(err).
				Str("sink", s.name).
				Uint64("seq", batch[0].Seq).
				Int("events", len(batch)).
				Msg("publish batch")
		}
	}
}

// Recorder collects emitted batches; it serves as both Emitter and Sink.
type Recorder struct {
	mu      sync.Mutex
	batches [][]domain.Event
}

// Emit records a copy of batch.
func (r *Recorder) Emit(batch []domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, append([]domain.Event(nil), batch...))
}

// Publish records batch.
func (r *Recorder) Publish(_ context.Context, batch []domain.Event) error {
	r.Emit(batch)
	return nil
}

// Batches returns the recorded batches.
func (r *Recorder) Batches() [][]domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]domain.Event, len(r.batches))
	copy(out, r.batches)
	return out
}

// Events returns every recorded event in emission order.
func (r *Recorder) Events() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Event
	for _, b := range r.batches {
		out = append(out, b...)
	}
	return out
}

// Kinds returns the kinds of every recorded event in emission order.
func (r *Recorder) Kinds() []string {
	events := r.Events()
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Kind
	}
	return out
}

// Reset drops everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = nil
}
