// Package eventbus provides the in-process event dispatcher. Listeners are
// registered per event name (or the wildcard) and invoked either synchronously
// by Emit or concurrently by EmitAsync, which waits for every listener to
// settle. A failing listener never affects its siblings or the caller.
package eventbus

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/Duskaraa/Plots-Manager/internal/metrics"
)

const tracerName = "github.com/Duskaraa/Plots-Manager/internal/eventbus"

// DefaultMaxListeners is the per-event listener count above which a warning is logged.
const DefaultMaxListeners = 1000

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger used for listener faults and threshold warnings.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithMaxListeners sets the warning threshold. Zero or less disables the warning.
func WithMaxListeners(n int) Option {
	return func(d *Dispatcher) { d.maxListeners = n }
}

// WithMetrics records dispatch counters on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(d *Dispatcher) { d.metrics = c }
}

// WithTracerProvider sets the provider used for EmitAsync spans. Defaults to
// the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(d *Dispatcher) {
		if tp != nil {
			d.tracer = tp.Tracer(tracerName)
		}
	}
}

// Dispatcher owns the listener registry.
type Dispatcher struct {
	mu           sync.RWMutex
	sets         map[string]*listenerSet
	maxListeners int

	logger  *slog.Logger
	metrics *metrics.Collector
	tracer  trace.Tracer
}

// New creates an empty Dispatcher.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sets:         make(map[string]*listenerSet),
		maxListeners: DefaultMaxListeners,
		logger:       slog.Default(),
		tracer:       otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "eventbus")
	return d
}

// SetMaxListeners changes the warning threshold at runtime.
func (d *Dispatcher) SetMaxListeners(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.maxListeners = n
}

// On registers l for event and returns a function that removes exactly this
// pairing. Registering the same listener twice is a no-op.
func (d *Dispatcher) On(event string, l Listener) (unsubscribe func(), err error) {
	if err := validateEvent("on", event); err != nil {
		return nil, err
	}
	if err := validateListener("on", l); err != nil {
		return nil, err
	}
	d.add(event, l)

	var once sync.Once
	return func() {
		once.Do(func() { d.remove(event, l, false) })
	}, nil
}

// Once is like On but the listener fires at most one time, then removes itself.
func (d *Dispatcher) Once(event string, l Listener) (unsubscribe func(), err error) {
	if err := validateEvent("once", event); err != nil {
		return nil, err
	}
	if err := validateListener("once", l); err != nil {
		return nil, err
	}
	return d.On(event, &onceListener{inner: l, event: event, d: d})
}

// Off removes listeners. With an empty event and nil listener the whole
// registry is cleared; with a nil listener every listener for event is
// removed; otherwise only the given pairing. Unknown pairings are ignored.
func (d *Dispatcher) Off(event string, l Listener) {
	switch {
	case event == "" && l == nil:
		d.ClearListeners()
	case l == nil:
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.sets, event)
		d.metrics.SetListeners(event, 0)
	case validateListener("off", l) != nil:
		// never registered
	case event == "":
		for _, name := range d.EventNames() {
			d.remove(name, l, true)
		}
	default:
		d.remove(event, l, true)
	}
}

// ClearListeners removes every listener for every event.
func (d *Dispatcher) ClearListeners() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sets = make(map[string]*listenerSet)
	d.metrics.ResetListeners()
}

// Emit delivers payload synchronously to every listener of event and of the
// wildcard, each at most once. Listener failures are logged, never returned.
func (d *Dispatcher) Emit(ctx context.Context, event string, payload any) error {
	if err := validateEvent("emit", event); err != nil {
		return err
	}
	targets := d.deliverySet(event)
	faults := 0
	for _, t := range targets {
		if _, err := d.invoke(ctx, event, t, payload); err != nil {
			faults++
		}
	}
	d.metrics.Emitted("sync", len(targets), faults)
	return nil
}

// EmitAsync invokes every listener of event concurrently and waits until all
// of them have settled. The outcomes are in delivery order. It never fails
// because of a listener; the error is reserved for invalid arguments.
func (d *Dispatcher) EmitAsync(ctx context.Context, event string, payload any) ([]Outcome, error) {
	if err := validateEvent("emitAsync", event); err != nil {
		return nil, err
	}
	ctx, span := d.tracer.Start(ctx, "eventbus.EmitAsync", trace.WithAttributes(attribute.String("event", event)))
	defer span.End()

	targets := d.deliverySet(event)
	outcomes := make([]Outcome, len(targets))
	var faults atomic.Int32

	var g errgroup.Group
	for i, t := range targets {
		g.Go(func() error {
			v, err := d.invoke(ctx, event, t, payload)
			if err != nil {
				faults.Add(1)
			}
			outcomes[i] = Outcome{Listener: t.listener, Value: v, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	span.SetAttributes(attribute.Int("listeners", len(targets)), attribute.Int("faults", int(faults.Load())))
	d.metrics.Emitted("async", len(targets), int(faults.Load()))
	return outcomes, nil
}

// Listeners returns the listeners registered specifically for event, in
// delivery order. Once registrations appear as their wrapper.
func (d *Dispatcher) Listeners(event string) []Listener {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if s, ok := d.sets[event]; ok {
		return slices.Clone(s.order)
	}
	return nil
}

// ListenerCount returns the number of distinct listeners registered for event.
func (d *Dispatcher) ListenerCount(event string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if s, ok := d.sets[event]; ok {
		return len(s.order)
	}
	return 0
}

// EventNames returns the sorted names of events that have listeners.
func (d *Dispatcher) EventNames() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Sorted(maps.Keys(d.sets))
}

func (d *Dispatcher) add(event string, l Listener) {
	n, limit, added := d.insert(event, l)
	if added && limit > 0 && n == limit+1 {
		d.logger.Warn("possible listener leak: listener count exceeds threshold",
			"event", event, "count", n, "threshold", limit)
	}
}

func (d *Dispatcher) insert(event string, l Listener) (n, limit int, added bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sets[event]
	if !ok {
		s = newListenerSet()
		d.sets[event] = s
	}
	added = s.add(l)
	n = s.len()
	if added {
		d.metrics.SetListeners(event, n)
	}
	return n, d.maxListeners, added
}

// remove deletes l from event. With wrappers set, Once wrappers around l go
// too.
func (d *Dispatcher) remove(event string, l Listener, wrappers bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sets[event]
	if !ok {
		return
	}
	s.remove(l, wrappers)
	n := s.len()
	if n == 0 {
		delete(d.sets, event)
	}
	d.metrics.SetListeners(event, n)
}

type target struct {
	listener     Listener
	wildcardOnly bool
}

// deliverySet snapshots the listeners for one dispatch pass: the specific set
// in order, then wildcard members not already chosen.
func (d *Dispatcher) deliverySet(event string) []target {
	d.mu.RLock()
	defer d.mu.RUnlock()

	specific := d.sets[event]
	var targets []target
	if specific != nil {
		targets = make([]target, 0, specific.len())
		for _, l := range specific.order {
			targets = append(targets, target{listener: l})
		}
	}
	if event == Wildcard {
		return targets
	}
	if wild := d.sets[Wildcard]; wild != nil {
		for _, l := range wild.order {
			if specific != nil && specific.has(l) {
				continue
			}
			targets = append(targets, target{listener: l, wildcardOnly: true})
		}
	}
	return targets
}

func (d *Dispatcher) invoke(ctx context.Context, event string, t target, payload any) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
		if err != nil {
			d.logger.Error("listener failed", "event", event, "error", err)
		}
	}()
	del := Delivery{Payload: payload}
	if t.wildcardOnly {
		del.Event = event
	}
	return t.listener.Handle(ctx, del)
}

// onceListener runs inner at most once. The latch is set before inner runs,
// so a re-entrant emit of the same event from inside inner is not delivered.
type onceListener struct {
	inner Listener
	event string
	d     *Dispatcher
	fired atomic.Bool
}

func (o *onceListener) Handle(ctx context.Context, del Delivery) (any, error) {
	if !o.fired.CompareAndSwap(false, true) {
		return nil, nil
	}
	o.d.remove(o.event, o, false)
	return o.inner.Handle(ctx, del)
}

// listenerSet is an insertion-ordered set of listeners.
type listenerSet struct {
	order []Listener
	index map[Listener]struct{}
}

func newListenerSet() *listenerSet {
	return &listenerSet{index: make(map[Listener]struct{})}
}

func (s *listenerSet) len() int { return len(s.order) }

func (s *listenerSet) has(l Listener) bool {
	_, ok := s.index[l]
	return ok
}

func (s *listenerSet) add(l Listener) bool {
	if s.has(l) {
		return false
	}
	s.index[l] = struct{}{}
	s.order = append(s.order, l)
	return true
}

// remove deletes l, and with wrappers set any once wrapper around l.
func (s *listenerSet) remove(l Listener, wrappers bool) {
	s.order = slices.DeleteFunc(s.order, func(e Listener) bool {
		o, isOnce := e.(*onceListener)
		if e == l || (wrappers && isOnce && o.inner == l) {
			delete(s.index, e)
			return true
		}
		return false
	})
}
