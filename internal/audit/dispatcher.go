package audit

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	// DropIfFull makes Emit non-blocking; events that do not fit in the
	// buffer are counted by [Dispatcher.Dropped] and discarded.
	DropIfFull bool
	// CoalesceWindow folds EventRateLimitAttempt events for one
	// (identifier, action) into a single summary event per window. Zero
	// forwards every attempt as its own event.
	CoalesceWindow time.Duration
}

type attemptKey struct {
	identifier string
	action     string
}

// attemptRun accumulates the attempts of one key until it is flushed.
type attemptRun struct {
	first    Event
	last     Event
	count    int
	failures int
	opened   time.Time
}

// summary renders the run as one event. A run of one is the original event.
func (r *attemptRun) summary() Event {
	if r.count == 1 {
		return r.first
	}
	out := r.first
	out.Success = r.failures == 0
	out.Metadata = make(map[string]string, len(r.last.Metadata)+3)
	for k, v := range r.last.Metadata {
		out.Metadata[k] = v
	}
	out.Metadata[MetaCoalesced] = strconv.Itoa(r.count)
	out.Metadata[MetaFailures] = strconv.Itoa(r.failures)
	out.Metadata[MetaLastAttemptAt] = r.last.Timestamp.UTC().Format(time.RFC3339Nano)
	return out
}

// Dispatcher asynchronously forwards audit events to a sink. With a
// CoalesceWindow, attempt events are folded per (identifier, action) and
// take one buffer slot per window.
type Dispatcher struct {
	cfg  Config
	sink Sink
	ch   chan Event
	done chan struct{}
	wg   sync.WaitGroup

	mu   sync.Mutex
	runs map[attemptKey]*attemptRun

	dropped   atomic.Uint64
	coalesced atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher starts the delivery goroutine. It returns nil when cfg is not
// enabled; every method is safe on a nil *Dispatcher.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if cfg.CoalesceWindow < 0 {
		cfg.CoalesceWindow = 0
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		cfg:  cfg,
		sink: sink,
		ch:   make(chan Event, cfg.BufferSize),
		done: make(chan struct{}),
		runs: make(map[attemptKey]*attemptRun),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	var tick <-chan time.Time
	if d.cfg.CoalesceWindow > 0 {
		ticker := time.NewTicker(d.cfg.CoalesceWindow)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case event := <-d.ch:
			d.sink.Emit(context.Background(), event)
		case now := <-tick:
			// Events queued before a run opened must reach the sink first.
			d.drain()
			for _, event := range d.takeRuns(now) {
				d.sink.Emit(context.Background(), event)
			}
		case <-d.done:
			d.drain()
			for _, event := range d.takeRuns(time.Time{}) {
				d.sink.Emit(context.Background(), event)
			}
			return
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case event := <-d.ch:
			d.sink.Emit(context.Background(), event)
		default:
			return
		}
	}
}

// takeRuns removes and summarizes every run opened at least one window
// before now. A zero now takes all runs.
func (d *Dispatcher) takeRuns(now time.Time) []Event {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []Event
	for key, r := range d.runs {
		if !now.IsZero() && now.Sub(r.opened) < d.cfg.CoalesceWindow {
			continue
		}
		delete(d.runs, key)
		out = append(out, r.summary())
	}
	return out
}

// Emit queues event for delivery. Attempt events may be folded into a run;
// any other event carrying an identifier and action first flushes the run
// for that key, so a rate_limit_triggered event always follows the
// attempts that caused it.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.cfg.CoalesceWindow > 0 && event.Identifier != "" {
		key := attemptKey{identifier: event.Identifier, action: event.Action}
		if event.EventType == EventRateLimitAttempt {
			if d.fold(key, event) {
				return
			}
		} else if prior, ok := d.takeRun(key); ok {
			d.enqueue(ctx, prior)
		}
	}

	d.enqueue(ctx, event)
}

// fold adds event to the open run for key. It reports false once the
// dispatcher is closing, leaving the caller to deliver the event directly.
func (d *Dispatcher) fold(key attemptKey, event Event) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed.Load() {
		return false
	}

	r, ok := d.runs[key]
	if !ok {
		r = &attemptRun{first: event, opened: time.Now()}
		d.runs[key] = r
	} else {
		d.coalesced.Add(1)
	}
	r.last = event
	r.count++
	if !event.Success {
		r.failures++
	}
	return true
}

func (d *Dispatcher) takeRun(key attemptKey) (Event, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.runs[key]
	if !ok {
		return Event{}, false
	}
	delete(d.runs, key)
	return r.summary(), true
}

func (d *Dispatcher) enqueue(ctx context.Context, event Event) {
	if d.cfg.DropIfFull {
		select {
		case d.ch <- event:
		case <-d.done:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.ch <- event:
	case <-ctx.Done():
	case <-d.done:
	}
}

// Close stops accepting events, drains the buffer and any open attempt runs
// into the sink, and waits for delivery to finish.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed.Store(true)
		d.mu.Unlock()
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped returns how many events were discarded because the buffer was full.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Coalesced returns how many attempt events were folded into an earlier
// event of the same run instead of being delivered on their own.
func (d *Dispatcher) Coalesced() uint64 {
	if d == nil {
		return 0
	}
	return d.coalesced.Load()
}
