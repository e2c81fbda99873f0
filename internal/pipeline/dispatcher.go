package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/AI-Wallfacer/feishu-family-bot/internal/bus"
)

const queueFullText = "⚠️ Too many messages waiting, please try again later."

// Dispatcher hands webhook events to the pipeline. Submit never blocks the
// caller; the webhook handler must ack within the platform's deadline.
type Dispatcher interface {
	Submit(ev bus.InboundEvent)
}

// QueueDispatcher runs events strictly one at a time through a single
// worker. Events that arrive while the worker is busy get a "queued"
// placeholder card whose position is renumbered after every run.
type QueueDispatcher struct {
	pipe    *Pipeline
	replier Replier
	queue   chan bus.InboundEvent

	baseCtx context.Context

	mu       sync.Mutex
	inFlight bool
	pending  map[string]string // event ID to placeholder reply ID
	order    []string          // event IDs in enqueue order
}

func NewQueueDispatcher(pipe *Pipeline, replier Replier, queueSize int) *QueueDispatcher {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &QueueDispatcher{
		pipe:    pipe,
		replier: replier,
		queue:   make(chan bus.InboundEvent, queueSize),
		baseCtx: context.Background(),
		pending: make(map[string]string),
	}
}

// Start launches the worker loop. It returns once ctx is cancelled and the
// in-flight run, if any, has finished.
func (d *QueueDispatcher) Start(ctx context.Context) {
	d.baseCtx = ctx
	go d.work(ctx)
}

func (d *QueueDispatcher) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-d.queue:
			d.setInFlight(true)
			d.pipe.Process(ctx, ev, d.claim(ev.EventID))
			d.setInFlight(false)
			d.renumber(ctx)
		}
	}
}

// Submit enqueues the event. When the worker is already busy a placeholder
// card tells the sender how many runs are ahead of theirs.
func (d *QueueDispatcher) Submit(ev bus.InboundEvent) {
	waiting := len(d.queue)
	if waiting > 0 || d.busy() {
		if id, err := d.replier.Send(d.baseCtx, ev.EventID, queuedText(waiting)); err == nil && id != "" {
			d.track(ev.EventID, id)
		}
	}
	select {
	case d.queue <- ev:
	default:
		slog.Warn("dispatch queue full, dropping event", "event_id", ev.EventID)
		if id := d.claim(ev.EventID); id != "" {
			d.replier.Update(d.baseCtx, id, queueFullText)
		}
	}
}

func (d *QueueDispatcher) setInFlight(v bool) {
	d.mu.Lock()
	d.inFlight = v
	d.mu.Unlock()
}

// busy reports whether the worker is mid-run or placeholders are waiting.
func (d *QueueDispatcher) busy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inFlight || len(d.order) > 0
}

func (d *QueueDispatcher) track(eventID, replyID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending[eventID] = replyID
	d.order = append(d.order, eventID)
}

// claim removes and returns the placeholder reply ID for eventID, so the
// pipeline edits that card instead of sending a fresh one.
func (d *QueueDispatcher) claim(eventID string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, ok := d.pending[eventID]
	if !ok {
		return ""
	}
	delete(d.pending, eventID)
	for i, e := range d.order {
		if e == eventID {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	return id
}

// renumber refreshes every outstanding placeholder with its new position
// after a run completes.
func (d *QueueDispatcher) renumber(ctx context.Context) {
	d.mu.Lock()
	type pos struct {
		replyID string
		ahead   int
	}
	updates := make([]pos, 0, len(d.order))
	for i, eventID := range d.order {
		updates = append(updates, pos{replyID: d.pending[eventID], ahead: i})
	}
	d.mu.Unlock()

	for _, u := range updates {
		d.replier.Update(ctx, u.replyID, queuedText(u.ahead))
	}
}

func queuedText(ahead int) string {
	if ahead <= 0 {
		return "⏳ Queued, you are next..."
	}
	return fmt.Sprintf("⏳ Queued, %d ahead of you...", ahead)
}

// SpawnDispatcher runs each event in its own goroutine, bounded by a
// weighted semaphore. One slow provider call cannot stall other senders,
// at the cost of interleaved replies inside a conversation.
type SpawnDispatcher struct {
	pipe    *Pipeline
	sem     *semaphore.Weighted
	baseCtx context.Context
}

func NewSpawnDispatcher(pipe *Pipeline, maxConcurrent int) *SpawnDispatcher {
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	return &SpawnDispatcher{
		pipe:    pipe,
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		baseCtx: context.Background(),
	}
}

func (d *SpawnDispatcher) Start(ctx context.Context) {
	d.baseCtx = ctx
}

func (d *SpawnDispatcher) Submit(ev bus.InboundEvent) {
	go func() {
		if err := d.sem.Acquire(d.baseCtx, 1); err != nil {
			slog.Debug("dispatcher shutting down, dropping event", "event_id", ev.EventID)
			return
		}
		defer d.sem.Release(1)
		d.pipe.Process(d.baseCtx, ev, "")
	}()
}
