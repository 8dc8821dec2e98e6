package eventbus

import (
	"context"
	"errors"
	"fmt"
	"reflect"
)

// Wildcard is the reserved event name whose listeners receive every event.
const Wildcard = "*"

// ErrInvalidArgument is matched by every caller error returned from this package.
var ErrInvalidArgument = errors.New("invalid argument")

// ArgumentError describes a rejected call argument.
type ArgumentError struct {
	Op      string
	Field   string
	Message string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("eventbus: %s: invalid %s: %s", e.Op, e.Field, e.Message)
}

// Is reports whether target is ErrInvalidArgument.
func (e *ArgumentError) Is(target error) bool {
	return target == ErrInvalidArgument
}

// Delivery is what a listener receives for a single emitted event.
type Delivery struct {
	// Event is only set when the listener was reached through the wildcard
	// registration alone.
	Event   string
	Payload any
}

// Listener handles events. Listeners are stored by identity, so the dynamic
// type must be comparable (a pointer or a comparable struct).
type Listener interface {
	Handle(ctx context.Context, d Delivery) (any, error)
}

// Func adapts fn into a Listener. Each call returns a distinct identity.
func Func(fn func(ctx context.Context, d Delivery) (any, error)) Listener {
	return &funcListener{fn: fn}
}

// Handler adapts a fire-and-forget callback into a Listener.
func Handler(fn func(d Delivery)) Listener {
	return Func(func(_ context.Context, d Delivery) (any, error) {
		fn(d)
		return nil, nil
	})
}

type funcListener struct {
	fn func(ctx context.Context, d Delivery) (any, error)
}

func (f *funcListener) Handle(ctx context.Context, d Delivery) (any, error) {
	return f.fn(ctx, d)
}

// Outcome is the settled result of one listener invoked by EmitAsync.
type Outcome struct {
	Listener Listener
	Value    any
	Err      error
}

// OK reports whether the listener completed without error.
func (o Outcome) OK() bool { return o.Err == nil }

// PanicError wraps a value recovered from a panicking listener.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("listener panicked: %v", e.Value)
}

func validateEvent(op, event string) error {
	if event == "" {
		return &ArgumentError{Op: op, Field: "event", Message: "event name must not be empty"}
	}
	return nil
}

func validateListener(op string, l Listener) error {
	if l == nil {
		return &ArgumentError{Op: op, Field: "listener", Message: "listener must not be nil"}
	}
	if t := reflect.TypeOf(l); !t.Comparable() {
		return &ArgumentError{Op: op, Field: "listener", Message: fmt.Sprintf("listener type %s is not comparable; wrap it with eventbus.Func", t)}
	}
	if v := reflect.ValueOf(l); v.Kind() == reflect.Pointer && v.IsNil() {
		return &ArgumentError{Op: op, Field: "listener", Message: "listener must not be a nil pointer"}
	}
	if !hashable(l) {
		return &ArgumentError{Op: op, Field: "listener",
			Message: fmt.Sprintf("listener of type %T holds an unhashable value; wrap it with eventbus.Func", l)}
	}
	return nil
}

// hashable reports whether l can be used as a map key. A comparable struct
// type may still hold a slice, map or func in an interface field.
func hashable(l Listener) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	_ = map[Listener]struct{}{l: {}}
	return true
}
