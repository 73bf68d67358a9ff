// Package observability reports the health of the running chat engine.
package observability

import (
	"log/slog"
	"os"
	goruntime "runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/process"
)

// Stats is a point in time view of the engine and of its process.
type Stats struct {
	Connections int     `json:"connections"`
	Rooms       int     `json:"rooms"`
	RoomWorkers int     `json:"room_workers"`
	Goroutines  int     `json:"goroutines"`
	AllocMemMb  uint64  `json:"alloc_mem_mb"`
	NumGC       uint32  `json:"num_gc"`
	RSSMb       uint64  `json:"rss_mb"`
	CPUPercent  float64 `json:"cpu_percent"`
	Uptime      string  `json:"uptime"`
}

type ConnectionCounter interface {
	ConnectionCount() int
	RoomCount() int
}

type WorkerCounter interface {
	RoomCount() int
}

// Collector gathers Stats on demand. Process metrics are best effort: when
// gopsutil cannot read them they stay at zero.
type Collector struct {
	log         *slog.Logger
	connections ConnectionCounter
	workers     WorkerCounter
	startedAt   time.Time

	once    sync.Once
	process *process.Process
}

func NewCollector(log *slog.Logger, connections ConnectionCounter, workers WorkerCounter) *Collector {
	return &Collector{log: log, connections: connections, workers: workers, startedAt: time.Now()}
}

func (c *Collector) Collect() Stats {
	var mem goruntime.MemStats
	goruntime.ReadMemStats(&mem)

	stats := Stats{
		Connections: c.connections.ConnectionCount(),
		Rooms:       c.connections.RoomCount(),
		RoomWorkers: c.workers.RoomCount(),
		Goroutines:  goruntime.NumGoroutine(),
		AllocMemMb:  mem.Alloc / 1024 / 1024,
		NumGC:       mem.NumGC,
		Uptime:      time.Since(c.startedAt).Round(time.Second).String(),
	}

	p := c.self()
	if p == nil {
		return stats
	}
	if info, err := p.MemoryInfo(); err == nil {
		stats.RSSMb = info.RSS / 1024 / 1024
	} else {
		c.log.Debug("Error while finding process ram usage", "err", err)
	}
	if cpu, err := p.CPUPercent(); err == nil {
		stats.CPUPercent = cpu
	} else {
		c.log.Debug("Error while finding process cpu usage", "err", err)
	}
	return stats
}

func (c *Collector) self() *process.Process {
	c.once.Do(func() {
		p, err := process.NewProcess(int32(os.Getpid()))
		if err != nil {
			c.log.Warn("Process metrics unavailable", "err", err)
			return
		}
		c.process = p
	})
	return c.process
}
