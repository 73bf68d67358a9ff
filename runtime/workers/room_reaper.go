package workers

import (
	"context"
	"log/slog"
	"time"
)

// IdleRoomReaper stops the workers of rooms that have been idle long enough
// and returns how many were stopped.
type IdleRoomReaper interface {
	ReapIdleRooms(now time.Time) int
}

type RoomReaperWorker struct {
	log      *slog.Logger
	reaper   IdleRoomReaper
	interval time.Duration
	now      func() time.Time
}

func NewRoomReaperWorker(log *slog.Logger, reaper IdleRoomReaper, interval time.Duration) *RoomReaperWorker {
	return &RoomReaperWorker{log: log, reaper: reaper, interval: interval, now: time.Now}
}

func (w *RoomReaperWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping room reaper")
			return nil
		case <-ticker.C:
			if reaped := w.reaper.ReapIdleRooms(w.now()); reaped > 0 {
				w.log.Debug("Idle rooms stopped", "count", reaped)
			}
		}
	}
}
