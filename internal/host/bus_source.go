// Package host provides the concrete host-side collaborators used by the
// stagehost command: native event sources, a tick generator, the OS signal
// watchdog and the module catalog that performs loads.
package host

import (
	"errors"

	evbus "github.com/asaskevich/EventBus"
)

// Native topics published on the host bus.
const (
	TopicReady = "host:ready"
	TopicChat  = "host:chat"
)

// ErrUnavailable is returned by sources that have nothing to subscribe to.
var ErrUnavailable = errors.New("host source unavailable")

// NewBus creates the host's native event bus.
func NewBus() evbus.Bus {
	return evbus.New()
}

// BusSource exposes one topic of the host bus as a lifecycle.Source.
type BusSource struct {
	Bus   evbus.Bus
	Topic string
	// Async delivers on a separate goroutine. The bus holds its lock while
	// synchronous handlers run, so a handler that subscribes to the same bus
	// needs Async.
	Async bool
}

// Subscribe registers handler for every payload published on the topic.
func (s BusSource) Subscribe(handler func(payload any)) error {
	if s.Bus == nil || s.Topic == "" {
		return ErrUnavailable
	}
	fn := func(payload any) { handler(payload) }
	if s.Async {
		return s.Bus.SubscribeAsync(s.Topic, fn, false)
	}
	return s.Bus.Subscribe(s.Topic, fn)
}
