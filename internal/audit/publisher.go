package audit

import (
	"context"
	"log/slog"
	"time"
)

// Sink is where events land: the in-memory store in tests, Kafka in
// production. Append must be safe for concurrent use.
type Sink interface {
	Append(ctx context.Context, e Event) error
}

// Publisher decouples domain services from the sink. Emit never blocks the
// request path: events go through a bounded inbox and a background worker;
// when the inbox is full the oldest event is dropped and counted.
type Publisher struct {
	inbox  chan Event
	logger *slog.Logger
}

type PublisherOption func(*Publisher)

func WithLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) { p.logger = logger }
}

func WithBuffer(n int) PublisherOption {
	return func(p *Publisher) { p.inbox = make(chan Event, n) }
}

func NewPublisher(opts ...PublisherOption) *Publisher {
	p := &Publisher{
		inbox:  make(chan Event, 1024),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit stamps and enqueues the event. Losing an audit event is preferable to
// stalling a login, so a full inbox evicts the oldest entry.
func (p *Publisher) Emit(ctx context.Context, e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	for {
		select {
		case p.inbox <- e:
			return
		default:
		}
		select {
		case dropped := <-p.inbox:
			p.logger.WarnContext(ctx, "audit inbox full, dropping oldest event",
				"action", dropped.Action)
			droppedEvents.Inc()
		default:
		}
	}
}

// Run drains the inbox into the sink until the context is cancelled, then
// flushes whatever is still buffered.
func (p *Publisher) Run(ctx context.Context, sink Sink) error {
	for {
		select {
		case <-ctx.Done():
			p.flush(sink)
			return ctx.Err()
		case e := <-p.inbox:
			p.append(ctx, sink, e)
		}
	}
}

func (p *Publisher) flush(sink Sink) {
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case e := <-p.inbox:
			p.append(flushCtx, sink, e)
		default:
			return
		}
	}
}

func (p *Publisher) append(ctx context.Context, sink Sink, e Event) {
	if err := sink.Append(ctx, e); err != nil {
		p.logger.ErrorContext(ctx, "audit append failed", "action", e.Action, "error", err)
		appendFailures.Inc()
		return
	}
	appended.Inc()
}
