package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// Config controls dispatcher buffering.
type Config struct {
	Enabled    bool
	BufferSize int
	// DropIfFull drops events instead of blocking the caller when the
	// buffer is full.
	DropIfFull bool
	// Critical lists event types that are never dropped for a full buffer,
	// even with DropIfFull set. Emitting one waits for space or for ctx.
	Critical []string
}

// Dispatcher relays events to a sink on its own goroutine.
// A nil *Dispatcher discards everything.
type Dispatcher struct {
	sink     Sink
	queue    chan Event
	stop     chan struct{}
	dropFull bool
	critical map[string]struct{}

	worker   sync.WaitGroup
	stopping atomic.Bool
	stopOnce sync.Once

	total  atomic.Uint64
	dropMu sync.Mutex
	drops  map[string]uint64
}

// NewDispatcher starts a dispatcher, or returns nil when cfg is disabled.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	size := max(cfg.BufferSize, 1)

	d := &Dispatcher{
		sink:     sink,
		queue:    make(chan Event, size),
		stop:     make(chan struct{}),
		dropFull: cfg.DropIfFull,
		critical: make(map[string]struct{}, len(cfg.Critical)),
		drops:    make(map[string]uint64),
	}
	for _, typ := range cfg.Critical {
		d.critical[typ] = struct{}{}
	}
	d.worker.Add(1)
	go d.forward()
	return d
}

func (d *Dispatcher) forward() {
	defer d.worker.Done()
	ctx := context.Background()
	for {
		select {
		case ev := <-d.queue:
			d.sink.Emit(ctx, ev)
		case <-d.stop:
			for {
				select {
				case ev := <-d.queue:
					d.sink.Emit(ctx, ev)
				default:
					return
				}
			}
		}
	}
}

// Emit queues event. Non-critical events are dropped on a full buffer when
// DropIfFull is set; everything else waits no longer than ctx allows.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.stopping.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if _, ok := d.critical[event.Type]; d.dropFull && !ok {
		select {
		case d.queue <- event:
		case <-d.stop:
		default:
			d.dropped(event.Type)
		}
		return
	}

	select {
	case d.queue <- event:
	case <-ctx.Done():
		d.dropped(event.Type)
	case <-d.stop:
	}
}

func (d *Dispatcher) dropped(typ string) {
	d.total.Add(1)
	d.dropMu.Lock()
	d.drops[typ]++
	d.dropMu.Unlock()
}

// Close stops accepting events and waits for the queue to drain.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.stopOnce.Do(func() {
		d.stopping.Store(true)
		close(d.stop)
		d.worker.Wait()
	})
}

// Dropped reports how many events were discarded.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.total.Load()
}

// DroppedByType returns a copy of the drop counts keyed by event type.
func (d *Dispatcher) DroppedByType() map[string]uint64 {
	if d == nil {
		return nil
	}
	d.dropMu.Lock()
	defer d.dropMu.Unlock()
	out := make(map[string]uint64, len(d.drops))
	for typ, n := range d.drops {
		out[typ] = n
	}
	return out
}
