package host

import (
	"os"
	"os/signal"
	"sync"
	"sync/atomic"

	"github.com/Duskaraa/Plots-Manager/internal/lifecycle"
)

// Termination is the lifecycle.FatalSignal raised for an OS signal.
type Termination struct {
	Signal    os.Signal
	cancelled atomic.Bool
}

// Reason names the OS signal.
func (t *Termination) Reason() string { return t.Signal.String() }

// Cancel marks the termination as suppressed.
func (t *Termination) Cancel() error {
	t.cancelled.Store(true)
	return nil
}

// Cancelled reports whether a handler suppressed the termination.
func (t *Termination) Cancelled() bool { return t.cancelled.Load() }

// SignalSource turns OS signals into fatal-termination signals.
type SignalSource struct {
	signals []os.Signal

	mu     sync.Mutex
	chans  []chan os.Signal
	done   chan struct{}
	closed bool
}

// NewSignalSource watches the given signals.
func NewSignalSource(signals ...os.Signal) *SignalSource {
	return &SignalSource{signals: signals, done: make(chan struct{})}
}

// SubscribeFatal delivers a Termination to handler for every watched signal.
func (s *SignalSource) SubscribeFatal(handler func(sig lifecycle.FatalSignal)) error {
	if len(s.signals) == 0 {
		return ErrUnavailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrUnavailable
	}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, s.signals...)
	s.chans = append(s.chans, ch)

	go func() {
		for {
			select {
			case sig := <-ch:
				handler(&Termination{Signal: sig})
			case <-s.done:
				return
			}
		}
	}()
	return nil
}

// Close stops watching signals.
func (s *SignalSource) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for _, ch := range s.chans {
		signal.Stop(ch)
	}
	close(s.done)
}
