package conversation

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Handler consumes one event; *Machine is the production implementation.
type Handler interface {
	Handle(ctx context.Context, ev Event) error
}

const (
	workerQueueSize  = 32
	workerIdleExpiry = 2 * time.Minute
)

// Dispatcher fans events out to one worker goroutine per active chat.
// Events for the same chat run strictly in arrival order; different chats
// run in parallel. Workers are created on demand and reaped after an idle
// period.
type Dispatcher struct {
	handler Handler
	log     *slog.Logger

	mu      sync.Mutex
	workers map[int64]chan Event
	wg      sync.WaitGroup
	closed  bool
}

func NewDispatcher(handler Handler, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		handler: handler,
		log:     log,
		workers: make(map[int64]chan Event),
	}
}

// SetHandler installs the handler after construction. The transport, the
// dispatcher and the machine reference each other in a cycle, so one of the
// links has to be set late. Must be called before the first Dispatch.
func (d *Dispatcher) SetHandler(handler Handler) {
	d.mu.Lock()
	d.handler = handler
	d.mu.Unlock()
}

// Dispatch enqueues an event for its chat's worker, starting one if needed.
// The enqueue happens under the dispatcher lock, and a worker only retires
// after checking its queue is empty under the same lock, so no event can be
// enqueued on a retired worker. The enqueue never blocks: a chat whose queue
// is full has its event dropped with a log line, so one flooded chat cannot
// stall dispatch for every other chat.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.log.Warn("dispatcher closed, dropping event", "chat", ev.ChatID, "kind", ev.Kind)
		return
	}
	ch, ok := d.workers[ev.ChatID]
	if !ok {
		ch = make(chan Event, workerQueueSize)
		d.workers[ev.ChatID] = ch
		d.wg.Add(1)
		go d.run(ctx, ev.ChatID, ch)
	}
	select {
	case ch <- ev:
	default:
		d.log.Warn("worker queue full, dropping event", "chat", ev.ChatID, "kind", ev.Kind)
	}
	d.mu.Unlock()
}

func (d *Dispatcher) run(ctx context.Context, chatID int64, ch chan Event) {
	defer d.wg.Done()
	idle := time.NewTimer(workerIdleExpiry)
	defer idle.Stop()

	for {
		select {
		case ev := <-ch:
			if err := d.handler.Handle(ctx, ev); err != nil {
				d.log.Error("handle event", "chat", chatID, "kind", ev.Kind, "err", err)
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(workerIdleExpiry)
		case <-idle.C:
			d.mu.Lock()
			if len(ch) == 0 {
				delete(d.workers, chatID)
				d.mu.Unlock()
				return
			}
			d.mu.Unlock()
			idle.Reset(workerIdleExpiry)
		case <-ctx.Done():
			d.mu.Lock()
			delete(d.workers, chatID)
			d.mu.Unlock()
			return
		}
	}
}

// Close stops accepting events and waits for in-flight workers to drain
// their queues or observe context cancellation.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
}
