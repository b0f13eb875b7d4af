package telemetry

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/chaz8081/strapctl/internal/queue"
)

// Forwarder publishes readings to a broker. Callbacks only enqueue, so a
// slow broker never stalls BLE notification delivery; Run does the I/O.
type Forwarder struct {
	readingObserver
	pub    Publisher
	prefix string
	sep    string
	q      *queue.Queue[Reading]
}

// NewNATSForwarder publishes each reading on "<subject>.<kind>".
func NewNATSForwarder(pub Publisher, subject string) *Forwarder {
	return newForwarder(pub, subject, ".")
}

// NewMQTTForwarder publishes each reading on "<topic>/<kind>".
func NewMQTTForwarder(pub Publisher, topic string) *Forwarder {
	return newForwarder(pub, topic, "/")
}

func newForwarder(pub Publisher, prefix, sep string) *Forwarder {
	f := &Forwarder{
		pub:    pub,
		prefix: prefix,
		sep:    sep,
		q:      queue.New[Reading](),
	}
	f.readingObserver = readingObserver{emit: f.q.Enqueue}
	return f
}

// Subject returns the subject or topic a reading of kind is published on.
func (f *Forwarder) Subject(kind string) string {
	return f.prefix + f.sep + kind
}

// Pending reports the number of readings not yet published.
func (f *Forwarder) Pending() int {
	return f.q.Len()
}

// Run publishes readings until ctx ends, then publishes whatever is still
// buffered and returns.
func (f *Forwarder) Run(ctx context.Context) {
	for {
		r, err := f.q.Dequeue(ctx)
		if err != nil {
			break
		}
		f.publish(r)
	}
	for !f.q.IsEmpty() {
		r, err := f.q.Dequeue(context.Background())
		if err != nil {
			return
		}
		f.publish(r)
	}
}

func (f *Forwarder) publish(r Reading) {
	payload, err := json.Marshal(r)
	if err != nil {
		slog.Error("[TELEMETRY] Failed to encode reading", "kind", r.Kind, "error", err)
		return
	}
	subject := f.Subject(r.Kind)
	if err := f.pub.Publish(subject, payload); err != nil {
		slog.Warn("[TELEMETRY] Publish failed", "subject", subject, "error", err)
	}
}
