// Package runtime runs the chat engine: who is connected where, one worker
// per room applying commands in order, and the fan-out of the resulting
// events. Transport concerns stay out of it.
package runtime

import (
	"context"
	"groupchat/contract"
	"groupchat/domain"
	"groupchat/errors"
	"groupchat/runtime/workers"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"
)

var _ contract.IDispatcher = (*Orchestrator)(nil)

type room struct {
	id         domain.RoomID
	mailbox    chan workers.Envelope
	worker     *workers.RoomWorker
	inFlight   int
	lastActive time.Time

	// sendMu is held for reading while sending and for writing while closing
	// the mailbox, so nothing is enqueued behind the close.
	sendMu sync.RWMutex
	closed bool
}

func (r *room) send(ctx context.Context, envelope workers.Envelope) error {
	r.sendMu.RLock()
	defer r.sendMu.RUnlock()
	if r.closed {
		return errors.ErrEngineStopped
	}
	select {
	case r.mailbox <- envelope:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close ends the mailbox. The worker returns once it handled what was queued.
func (r *room) close() {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()
	if !r.closed {
		r.closed = true
		close(r.mailbox)
	}
}

// Orchestrator owns the room workers. A room worker is created on the first
// command for that room and stopped once the room stayed empty and idle for
// roomIdleTimeout.
type Orchestrator struct {
	mu              sync.Mutex
	log             *slog.Logger
	supervisor      contract.ISupervisor
	handler         contract.ICommandHandler
	registry        contract.IRegistry
	mailboxSize     int
	roomIdleTimeout time.Duration
	rooms           map[domain.RoomID]*room
	ctx             context.Context
	cancel          context.CancelFunc
	stopped         bool
	now             func() time.Time
}

func NewOrchestrator(log *slog.Logger, supervisor contract.ISupervisor, handler contract.ICommandHandler,
	registry contract.IRegistry, mailboxSize int, roomIdleTimeout time.Duration) *Orchestrator {
	return &Orchestrator{
		log:             log,
		supervisor:      supervisor,
		handler:         handler,
		registry:        registry,
		mailboxSize:     mailboxSize,
		roomIdleTimeout: roomIdleTimeout,
		rooms:           make(map[domain.RoomID]*room),
		now:             time.Now,
	}
}

// Start starts the room reaper under supervision. It does not block; room
// workers are started on demand by Submit.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ctx, o.cancel = context.WithCancel(ctx)
	o.log.Info("Starting orchestrator")
	if o.roomIdleTimeout > 0 {
		o.supervisor.Start(o.ctx, workers.NewRoomReaperWorker(o.log, o, reapInterval(o.roomIdleTimeout)))
	}
}

func reapInterval(idle time.Duration) time.Duration {
	return max(idle/2, 10*time.Millisecond)
}

// Submit hands the command to its room worker and waits for the outcome.
// Once the command is in the mailbox it runs to completion even if ctx is
// canceled meanwhile.
func (o *Orchestrator) Submit(ctx context.Context, cmd domain.Command) error {
	r, err := o.acquire(cmd.RoomID())
	if err != nil {
		return err
	}
	defer o.release(r)

	envelope := workers.NewEnvelope(cmd)
	if err = r.send(ctx, envelope); err != nil {
		return err
	}

	select {
	case err = <-envelope.Reply:
		return err
	case <-r.worker.Done():
		select {
		case err = <-envelope.Reply:
			return err
		default:
			return errors.ErrEngineStopped
		}
	}
}

// acquire returns the worker of the room, starting it if needed, and counts
// the caller as in flight so the room cannot be reaped under it.
func (o *Orchestrator) acquire(roomID domain.RoomID) (*room, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped || o.ctx == nil {
		return nil, errors.ErrEngineStopped
	}

	r, ok := o.rooms[roomID]
	if !ok {
		mailbox := make(chan workers.Envelope, o.mailboxSize)
		r = &room{
			id:      roomID,
			mailbox: mailbox,
			worker:  workers.NewRoomWorker(roomID, mailbox, o.handler, o.log),
		}
		o.rooms[roomID] = r
		// Room workers only stop when their mailbox is closed.
		o.supervisor.Start(context.WithoutCancel(o.ctx), r.worker)
		o.log.Debug("Room worker started", "room", roomID)
	}
	r.inFlight++
	r.lastActive = o.now()
	return r, nil
}

func (o *Orchestrator) release(r *room) {
	o.mu.Lock()
	defer o.mu.Unlock()
	r.inFlight--
	r.lastActive = o.now()
}

// ReapIdleRooms stops the workers of rooms without members, without command
// in flight and idle for at least roomIdleTimeout. History is untouched.
func (o *Orchestrator) ReapIdleRooms(now time.Time) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	reaped := 0
	for id, r := range o.rooms {
		if r.inFlight > 0 || o.registry.MemberCount(id) > 0 {
			continue
		}
		if now.Sub(r.lastActive) < o.roomIdleTimeout {
			continue
		}
		delete(o.rooms, id)
		r.close()
		reaped++
		o.log.Debug("Room worker stopped", "room", id)
	}
	return reaped
}

// RoomCount is the number of running room workers.
func (o *Orchestrator) RoomCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.rooms)
}

// Stop refuses new commands, closes every mailbox and waits for the workers.
// Commands already queued are handled before their worker returns.
func (o *Orchestrator) Stop() {
	o.log.Info("Requesting orchestrator shutdown")
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	o.stopped = true
	rooms := lo.Values(o.rooms)
	cancel := o.cancel
	o.mu.Unlock()

	for _, r := range rooms {
		r.close()
	}
	if cancel != nil {
		cancel()
	}
	o.supervisor.Stop()
	o.supervisor.Wait()
	o.log.Debug("Orchestrator stopped")
}
