package websocket

import (
	"context"
	"groupchat/contract"
	"groupchat/domain/event"
	"groupchat/errors"
	"sync"
)

var _ contract.FrameSink = (*Sink)(nil)

// Sink is the outbound queue of one connection. Frames are encoded before
// they are queued and written by the connection's single writer, in queue
// order.
type Sink struct {
	frames chan []byte
	done   chan struct{}
	once   sync.Once
}

func NewSink(size int) *Sink {
	return &Sink{frames: make(chan []byte, size), done: make(chan struct{})}
}

// Consume encodes and queues the event, waiting for room until ctx ends.
func (s *Sink) Consume(ctx context.Context, e event.Event) error {
	frame, err := EncodeEvent(e)
	if err != nil {
		return err
	}
	return s.ConsumeFrame(ctx, frame)
}

// ConsumeFrame queues a frame produced by EncodeEvent. The frame may be
// shared with other sinks and is never modified.
func (s *Sink) ConsumeFrame(ctx context.Context, frame []byte) error {
	select {
	case <-s.done:
		return errors.ErrConnectionClosed
	default:
	}
	select {
	case s.frames <- frame:
		return nil
	case <-s.done:
		return errors.ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events. Frames already queued are still written.
func (s *Sink) Close() {
	s.once.Do(func() { close(s.done) })
}

func (s *Sink) Frames() <-chan []byte {
	return s.frames
}

func (s *Sink) Done() <-chan struct{} {
	return s.done
}
