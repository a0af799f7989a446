package notify

import (
	"sync"

	"github.com/nerrad567/gray-audio-core/internal/topology"
)

// defaultQueueSize is the per-entity notification buffer. When a queue
// fills (a publisher stalled for a long time), the oldest notification is
// dropped so the mutating write never blocks.
const defaultQueueSize = 256

// Publisher receives change notifications from the dispatcher.
// Implementations are outward bridges (MQTT, KNX, WebSocket, persistence,
// telemetry). Publish is called from a dispatcher goroutine, one entity's
// notifications at a time in FIFO order; a slow Publish delays only that
// entity's queue.
type Publisher interface {
	Publish(topology.Notification)
}

// Logger defines the logging interface used by the Dispatcher.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// entityKey identifies one zone or client queue.
type entityKey struct {
	kind  topology.EntityKind
	index int
}

// Dispatcher decouples store mutation from outward propagation.
//
// It implements topology.Sink: Notify enqueues synchronously (and never
// blocks), delivery to registered publishers happens asynchronously on
// one goroutine per entity. Ordering per entity is FIFO; ordering across
// entities is unspecified.
//
// Publishers are registered at startup and never removed.
type Dispatcher struct {
	mu         sync.Mutex
	publishers []Publisher
	queues     map[entityKey]chan topology.Notification
	closed     bool
	queueSize  int

	wg     sync.WaitGroup
	logger Logger
}

// NewDispatcher creates a dispatcher with the default queue size.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		queues:    make(map[entityKey]chan topology.Notification),
		queueSize: defaultQueueSize,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.mu.Lock()
	d.logger = logger
	d.mu.Unlock()
}

// Register adds an outward publisher. Call before the store starts
// writing; registration is not supported after Close.
func (d *Dispatcher) Register(p Publisher) {
	if p == nil {
		return
	}
	d.mu.Lock()
	d.publishers = append(d.publishers, p)
	d.mu.Unlock()
}

// PublisherCount returns the number of registered publishers.
func (d *Dispatcher) PublisherCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.publishers)
}

// Notify enqueues a notification for asynchronous delivery.
//
// This is called synchronously from store writes (potentially while the
// store holds its write lock), so it must not block: if the entity's
// queue is full the oldest entry is dropped and a warning logged.
func (d *Dispatcher) Notify(n topology.Notification) {
	key := entityKey{kind: n.Kind, index: n.Index}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}

	q, ok := d.queues[key]
	if !ok {
		q = make(chan topology.Notification, d.queueSize)
		d.queues[key] = q
		d.wg.Add(1)
		go d.deliver(q)
	}
	logger := d.logger

	for {
		select {
		case q <- n:
			d.mu.Unlock()
			return
		default:
			// Queue full: drop the oldest entry to make room.
			select {
			case dropped := <-q:
				logger.Warn("notification queue overflow, dropping oldest",
					"kind", dropped.Kind,
					"index", dropped.Index,
					"field", dropped.Field,
				)
			default:
			}
		}
	}
}

// deliver drains one entity queue, fanning each notification out to all
// registered publishers in registration order.
func (d *Dispatcher) deliver(q chan topology.Notification) {
	defer d.wg.Done()

	for n := range q {
		d.mu.Lock()
		publishers := make([]Publisher, len(d.publishers))
		copy(publishers, d.publishers)
		logger := d.logger
		d.mu.Unlock()

		for _, p := range publishers {
			d.safePublish(p, n, logger)
		}
	}
}

// safePublish invokes one publisher with panic recovery so a faulty
// outward bridge cannot kill the delivery goroutine.
func (d *Dispatcher) safePublish(p Publisher, n topology.Notification, logger Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("publisher panicked",
				"panic", r,
				"kind", n.Kind,
				"index", n.Index,
				"field", n.Field,
			)
		}
	}()
	p.Publish(n)
}

// Close stops accepting notifications and waits for all queued
// deliveries to drain.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, q := range d.queues {
		close(q)
	}
	d.mu.Unlock()

	d.wg.Wait()
}
