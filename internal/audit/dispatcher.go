package audit

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/MrEthical07/panelauth/internal/logging"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// Dispatcher asynchronously forwards audit events to a sink. Log assigns
// the event id up front so callers get it without waiting for delivery.
// Delivery failures are logged and counted.
type Dispatcher struct {
	cfg       Config
	sink      Sink
	log       logging.Logger
	ch        chan Event
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	failed    atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher returns nil when cfg.Enabled is false; callers then log to
// the sink directly.
func NewDispatcher(cfg Config, sink Sink, log logging.Logger) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		cfg:  cfg,
		sink: sink,
		log:  logging.OrNop(log),
		ch:   make(chan Event, cfg.BufferSize),
		done: make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.ch:
			d.deliver(event)
		case <-d.done:
			for {
				select {
				case event := <-d.ch:
					d.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(e Event) {
	if _, err := d.sink.Log(context.Background(), e); err != nil {
		d.failed.Add(1)
		d.log.Error(context.Background(), "audit delivery failed",
			"event_id", e.ID, "action", e.Action, "error", err)
	}
}

func (d *Dispatcher) Log(ctx context.Context, e Event) (string, error) {
	if d == nil || d.closed.Load() {
		return "", ErrClosed
	}
	prepare(&e)

	if d.cfg.DropIfFull {
		select {
		case d.ch <- e:
			return e.ID, nil
		case <-d.done:
			return "", ErrClosed
		default:
			d.dropped.Add(1)
			return "", ErrDropped
		}
	}

	select {
	case d.ch <- e:
		return e.ID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-d.done:
		return "", ErrClosed
	}
}

// Close drains buffered events and stops the worker.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Failed returns how many events the sink rejected.
func (d *Dispatcher) Failed() uint64 {
	if d == nil {
		return 0
	}
	return d.failed.Load()
}
