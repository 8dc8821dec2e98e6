package host

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Tick is the payload raised by TickSource.
type Tick struct {
	Seq uint64
	At  time.Time
}

// TickSource raises a Tick on every interval using gocron.
type TickSource struct {
	cron gocron.Scheduler
	seq  atomic.Uint64

	mu       sync.RWMutex
	handlers []func(any)
}

// NewTickSource creates a stopped TickSource. Call Start to begin ticking.
func NewTickSource(interval time.Duration) (*TickSource, error) {
	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("creating gocron scheduler: %w", err)
	}
	t := &TickSource{cron: cron}
	_, err = cron.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(t.tick),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = cron.Shutdown()
		return nil, fmt.Errorf("scheduling tick job: %w", err)
	}
	return t, nil
}

// Subscribe registers handler for every tick.
func (t *TickSource) Subscribe(handler func(payload any)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers = append(t.handlers, handler)
	return nil
}

// Start begins ticking.
func (t *TickSource) Start() { t.cron.Start() }

// Stop shuts down the scheduler.
func (t *TickSource) Stop() error { return t.cron.Shutdown() }

func (t *TickSource) tick() {
	ev := Tick{Seq: t.seq.Add(1), At: time.Now()}
	t.mu.RLock()
	handlers := append(([]func(any))(nil), t.handlers...)
	t.mu.RUnlock()
	for _, h := range handlers {
		h(ev)
	}
}
