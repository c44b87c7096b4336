package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/metrics"
)

// Message is a human-readable text bound for a chat destination. An empty
// Destination means the dispatcher's default (the admin group).
type Message struct {
	Destination string
	Text        string
}

// Sender delivers one text message.
type Sender interface {
	SendText(ctx context.Context, destination, text string) error
}

// Notifier accepts messages without blocking the caller. Delivery is best-effort.
type Notifier interface {
	Notify(msg Message)
}

// Nop drops every message. Used when no relay is configured.
type Nop struct{}

func (Nop) Notify(Message) {}

// Dispatcher queues messages and delivers them from a single worker so a
// slow or failing relay never holds up a payment or order transaction.
// When the queue is full the message is dropped and logged.
type Dispatcher struct {
	sender      Sender
	defaultDest string
	timeout     time.Duration
	metrics     *metrics.Metrics

	queue  chan Message
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(sender Sender, defaultDest string, size int, m *metrics.Metrics) *Dispatcher {
	if size <= 0 {
		size = 100
	}
	d := &Dispatcher{
		sender:      sender,
		defaultDest: defaultDest,
		timeout:     15 * time.Second,
		metrics:     m,
		queue:       make(chan Message, size),
	}
	d.wg.Add(1)
	go d.loop()
	return d
}

func (d *Dispatcher) Notify(msg Message) {
	if msg.Destination == "" {
		msg.Destination = d.defaultDest
	}
	if msg.Destination == "" || msg.Text == "" {
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	select {
	case d.queue <- msg:
	default:
		d.record("dropped")
		slog.Warn("notification queue full, dropping message", "destination", msg.Destination)
	}
}

// Stop closes the queue and waits until queued messages are delivered.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()
	for msg := range d.queue {
		d.deliver(msg)
	}
}

func (d *Dispatcher) deliver(msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := d.sender.SendText(ctx, msg.Destination, msg.Text); err != nil {
		d.record("failed")
		slog.Error("notification delivery failed", "destination", msg.Destination, "error", err)
		return
	}
	d.record("sent")
}

func (d *Dispatcher) record(result string) {
	if d.metrics != nil {
		d.metrics.NotificationsSent.WithLabelValues(result).Inc()
	}
}
