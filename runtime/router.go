package runtime

import (
	"context"
	"groupchat/contract"
	"groupchat/domain"
	"groupchat/domain/event"
	"log/slog"
	"time"
)

var _ contract.IBroadcaster = (*Router)(nil)

// Router delivers outbound events to the sinks the registry resolves.
// Delivery is sequential in registry order and best effort: a sink that
// fails or does not accept the event within deliveryTimeout is skipped and
// logged, the caller is never told.
type Router struct {
	log             *slog.Logger
	registry        contract.IRegistry
	deliveryTimeout time.Duration
	encoder         contract.Encoder
}

func NewRouter(log *slog.Logger, registry contract.IRegistry, deliveryTimeout time.Duration) *Router {
	return &Router{log: log, registry: registry, deliveryTimeout: deliveryTimeout}
}

// WithEncoder makes the router encode each event at most once per emit and
// hand the frame to the sinks implementing contract.FrameSink.
func (r *Router) WithEncoder(encoder contract.Encoder) *Router {
	r.encoder = encoder
	return r
}

// EmitToRoom returns the number of members the event was handed to.
func (r *Router) EmitToRoom(ctx context.Context, roomID domain.RoomID, e event.Event) int {
	return r.deliver(ctx, r.registry.SinksForRoom(roomID), e)
}

func (r *Router) EmitToOne(ctx context.Context, connectionID domain.ConnectionID, e event.Event) bool {
	sink, ok := r.registry.Sink(connectionID)
	if !ok {
		r.log.Debug("No sink for connection", "connection", connectionID, "event", e.Name())
		return false
	}
	return r.deliver(ctx, []contract.EventSink{sink}, e) == 1
}

// EmitToAll delivers to every connection but except.
func (r *Router) EmitToAll(ctx context.Context, e event.Event, except domain.ConnectionID) int {
	return r.deliver(ctx, r.registry.SinksExcept(except), e)
}

func (r *Router) deliver(ctx context.Context, sinks []contract.EventSink, e event.Event) int {
	var (
		frame     []byte
		encodeErr error
		encoded   bool
	)
	delivered := 0
	for _, sink := range sinks {
		frameSink, ok := sink.(contract.FrameSink)
		if !ok || r.encoder == nil {
			if err := r.withTimeout(ctx, func(ctx context.Context) error { return sink.Consume(ctx, e) }); err != nil {
				r.log.Warn("Event not delivered", "event", e.Name(), "error", err)
				continue
			}
			delivered++
			continue
		}

		if !encoded {
			frame, encodeErr = r.encoder(e)
			encoded = true
		}
		if encodeErr != nil {
			r.log.Warn("Event not encoded", "event", e.Name(), "error", encodeErr)
			continue
		}
		if err := r.withTimeout(ctx, func(ctx context.Context) error { return frameSink.ConsumeFrame(ctx, frame) }); err != nil {
			r.log.Warn("Event not delivered", "event", e.Name(), "error", err)
			continue
		}
		delivered++
	}
	return delivered
}

func (r *Router) withTimeout(ctx context.Context, consume func(ctx context.Context) error) error {
	if r.deliveryTimeout <= 0 {
		return consume(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, r.deliveryTimeout)
	defer cancel()
	return consume(ctx)
}
