package workers

import (
	"context"
	"fmt"
	"groupchat/contract"
	"groupchat/domain"
	"groupchat/errors"
	"log/slog"
	"sync"
)

// Envelope carries a room command into the room mailbox. Reply is buffered so
// the worker never blocks on a submitter that gave up waiting.
type Envelope struct {
	Command domain.Command
	Reply   chan error
}

func NewEnvelope(cmd domain.Command) Envelope {
	return Envelope{Command: cmd, Reply: make(chan error, 1)}
}

// RoomWorker is the only goroutine applying commands for its room.
// Commands are handled one at a time, to completion, in mailbox order.
type RoomWorker struct {
	room    domain.RoomID
	mailbox <-chan Envelope
	handler contract.ICommandHandler
	log     *slog.Logger
	once    sync.Once
	done    chan struct{}
}

func NewRoomWorker(room domain.RoomID, mailbox <-chan Envelope, handler contract.ICommandHandler, log *slog.Logger) *RoomWorker {
	return &RoomWorker{
		room:    room,
		mailbox: mailbox,
		handler: handler,
		log:     log.With("room", room),
		done:    make(chan struct{}),
	}
}

// Done is closed once the worker stopped reading its mailbox.
func (w *RoomWorker) Done() <-chan struct{} {
	return w.done
}

func (w *RoomWorker) Run(ctx context.Context) error {
	defer w.once.Do(func() { close(w.done) })
	for {
		select {
		case <-ctx.Done():
			w.drain()
			w.log.Debug("Stopping room worker")
			return ctx.Err()
		case envelope, ok := <-w.mailbox:
			if !ok {
				return nil
			}
			envelope.Reply <- w.handle(envelope.Command)
		}
	}
}

// drain handles the commands already queued when the worker is stopped.
func (w *RoomWorker) drain() {
	for {
		select {
		case envelope, ok := <-w.mailbox:
			if !ok {
				return
			}
			envelope.Reply <- w.handle(envelope.Command)
		default:
			return
		}
	}
}

// handle runs the command detached from the worker context: an accepted
// command is never cut in the middle of its store append or fan-out.
func (w *RoomWorker) handle(cmd domain.Command) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("Room command panicked", "command", fmt.Sprintf("%T", cmd), "panic", r)
			err = fmt.Errorf("%w: %v", errors.ErrWorkerPanic, r)
		}
	}()
	return w.handler.Handle(context.Background(), cmd)
}
