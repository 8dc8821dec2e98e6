package lifecycle

// Source is a host-native event source. Handlers receive the host payload
// unchanged. A Source that cannot be subscribed to returns an error and is
// skipped.
type Source interface {
	Subscribe(handler func(payload any)) error
}

// FatalSignal is delivered by the host when it is about to terminate the
// process, for example on a watchdog timeout.
type FatalSignal interface {
	Reason() string
	// Cancel asks the host not to terminate. It is best effort.
	Cancel() error
}

// FatalSource delivers fatal-termination signals.
type FatalSource interface {
	SubscribeFatal(handler func(sig FatalSignal)) error
}

// SourceBinding attaches a host Source to an event name on the dispatcher.
type SourceBinding struct {
	Event  string
	Source Source
}

// Host describes the boundary collaborators of the controller. Every field
// is optional.
type Host struct {
	// Ready fires once the host is ready for runtime work.
	Ready Source
	// Fatal delivers termination signals.
	Fatal FatalSource
	// Sources are attached to the dispatcher after the first readiness event.
	Sources []SourceBinding
}
