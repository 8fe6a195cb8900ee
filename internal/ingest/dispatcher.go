package ingest

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultQueueSize is used when the configured queue size is not positive.
const DefaultQueueSize = 256

// Recorder receives pipeline outcomes, typically for metrics.
type Recorder interface {
	MessageReceived(topic string)
	MessageDropped(topic, reason string)
	MessageProcessed(topic string, err error)
}

// Drop reasons reported to the Recorder.
const (
	DropQueueFull    = "queue_full"
	DropUnknownTopic = "unknown_topic"
	DropStopped      = "stopped"
)

type noopRecorder struct{}

func (noopRecorder) MessageReceived(string)         {}
func (noopRecorder) MessageDropped(string, string)  {}
func (noopRecorder) MessageProcessed(string, error) {}

type message struct {
	topic      string
	payload    []byte
	receivedAt time.Time
}

// Dispatcher decouples broker callbacks from processing.
//
// Each routed topic gets a bounded FIFO queue drained by a single worker.
// Enqueue never blocks: when a queue is full the message is dropped and
// counted, matching the at-most-once delivery of the broker link.
//
// Thread Safety:
//   - Enqueue is safe for concurrent use, including with Stop. A message is
//     either accepted before Stop and processed, or dropped as stopped.
//   - Start and Stop may each be called more than once.
type Dispatcher struct {
	router   *Router
	queues   map[string]chan message
	logger   Logger
	recorder Recorder

	startOnce sync.Once
	stopOnce  sync.Once

	// mu is held shared by Enqueue and exclusively by Stop while it
	// marks the dispatcher stopped.
	mu      sync.RWMutex
	stopped bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher with one queue per topic known to router.
func NewDispatcher(router *Router, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	d := &Dispatcher{
		router:   router,
		queues:   make(map[string]chan message),
		logger:   noopLogger{},
		recorder: noopRecorder{},
		stop:     make(chan struct{}),
	}
	for _, topic := range router.Topics() {
		d.queues[topic] = make(chan message, queueSize)
	}
	return d
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.logger = logger
}

// SetRecorder sets the outcome recorder.
func (d *Dispatcher) SetRecorder(recorder Recorder) {
	d.recorder = recorder
}

// Enqueue queues a message for its topic worker. Its signature matches
// mqtt.MessageHandler so it can be registered directly.
func (d *Dispatcher) Enqueue(topic string, payload []byte, receivedAt time.Time) {
	q, ok := d.queues[topic]
	if !ok {
		// The router logs and rejects it; nothing to queue.
		_ = d.router.Route(context.Background(), topic, payload, receivedAt)
		d.recorder.MessageDropped(topic, DropUnknownTopic)
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		d.logger.Warn("ingest message dropped, dispatcher stopped", "topic", topic)
		d.recorder.MessageDropped(topic, DropStopped)
		return
	}

	select {
	case q <- message{topic: topic, payload: payload, receivedAt: receivedAt}:
		d.recorder.MessageReceived(topic)
	default:
		d.logger.Warn("ingest queue full, message dropped", "topic", topic, "queue_size", cap(q))
		d.recorder.MessageDropped(topic, DropQueueFull)
	}
}

// Start launches one worker per topic. Workers run until Stop. ctx supplies
// values to the processors; its cancellation does not abandon queued
// messages, which are still persisted by Stop.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	d.startOnce.Do(func() {
		for topic, q := range d.queues {
			d.wg.Add(1)
			go d.worker(ctx, topic, q)
		}
		d.logger.Info("ingest dispatcher started", "topics", len(d.queues))
	})
}

// Stop processes whatever is already queued, then waits for the workers
// to exit. Messages enqueued afterwards are dropped.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.stopped = true
		close(d.stop)
		d.mu.Unlock()
	})
	d.wg.Wait()
}

// QueueDepth returns the number of messages waiting for topic.
func (d *Dispatcher) QueueDepth(topic string) int {
	return len(d.queues[topic])
}

func (d *Dispatcher) worker(ctx context.Context, topic string, q chan message) {
	defer d.wg.Done()

	for {
		select {
		case msg := <-q:
			d.handle(ctx, msg)
		case <-d.stop:
			if pending := len(q); pending > 0 {
				d.logger.Info("draining ingest queue", "topic", topic, "pending", pending)
			}
			d.drain(ctx, q)
			return
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context, q chan message) {
	for {
		select {
		case msg := <-q:
			d.handle(ctx, msg)
		default:
			return
		}
	}
}

// handle routes one message. A panicking processor costs the message,
// not the worker.
func (d *Dispatcher) handle(ctx context.Context, msg message) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("ingest processor panic recovered", "topic", msg.topic, "panic", r)
			err = errors.New("processor panic")
		}
		d.recorder.MessageProcessed(msg.topic, err)
	}()

	err = d.router.Route(ctx, msg.topic, msg.payload, msg.receivedAt)
}
