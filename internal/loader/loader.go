// Package loader defers loading of named units of work until a startup phase
// is reached. Each specifier is loaded at most once for the lifetime of a
// Loader, no matter how often or under which phases it is registered.
package loader

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/Duskaraa/Plots-Manager/internal/metrics"
)

const tracerName = "github.com/Duskaraa/Plots-Manager/internal/loader"

// Phase is a startup stage that gates module loading.
type Phase int

const (
	Bootstrap Phase = iota
	Runtime
)

func (p Phase) String() string {
	switch p {
	case Bootstrap:
		return "bootstrap"
	case Runtime:
		return "runtime"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

func (p Phase) valid() bool { return p == Bootstrap || p == Runtime }

// ParsePhase parses "bootstrap" or "runtime" (case-insensitive).
func ParsePhase(s string) (Phase, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bootstrap":
		return Bootstrap, nil
	case "runtime":
		return Runtime, nil
	}
	return 0, &ArgumentError{Op: "parse phase", Field: "phase", Message: fmt.Sprintf("unknown phase %q", s)}
}

// Event names emitted after every performed load when an Emitter is configured.
const (
	EventModuleLoaded = "module.loaded"
	EventModuleFailed = "module.failed"
)

// LoadEvent is the payload of EventModuleLoaded and EventModuleFailed.
type LoadEvent struct {
	Specifier string
	Phase     Phase
	Err       error
}

// LoadFunc performs the actual load of one canonical specifier.
type LoadFunc func(ctx context.Context, specifier string) error

// Emitter publishes load events. *eventbus.Dispatcher satisfies it.
type Emitter interface {
	Emit(ctx context.Context, event string, payload any) error
}

// Entry is a queued module.
type Entry struct {
	Specifier string
	Phase     Phase
}

// Summary describes one phase batch.
type Summary struct {
	Phase     Phase
	RunID     string
	Attempted int // distinct specifiers picked up
	Loaded    int
	Skipped   int // already in the loaded set
	Failed    int
	Errors    map[string]error
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the loader's logger.
func WithLogger(l *slog.Logger) Option {
	return func(ld *Loader) {
		if l != nil {
			ld.logger = l
		}
	}
}

// WithMetrics records load counters on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(ld *Loader) { ld.metrics = c }
}

// WithTracerProvider sets the provider used for phase spans. Defaults to the
// global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(ld *Loader) {
		if tp != nil {
			ld.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithEmitter publishes EventModuleLoaded/EventModuleFailed through e.
func WithEmitter(e Emitter) Option {
	return func(ld *Loader) { ld.emitter = e }
}

// Loader owns the load queue, the loaded set and the phase gates.
type Loader struct {
	mu     sync.Mutex
	queue  []*Registration
	loaded map[string]*loadState
	gates  [2]bool

	load    LoadFunc
	logger  *slog.Logger
	metrics *metrics.Collector
	emitter Emitter
	tracer  trace.Tracer
}

type loadState struct {
	done chan struct{}
	err  error
}

// New creates a Loader that calls load for each specifier it loads.
func New(load LoadFunc, opts ...Option) (*Loader, error) {
	if load == nil {
		return nil, &ArgumentError{Op: "new", Field: "load", Message: "load function must not be nil"}
	}
	ld := &Loader{
		loaded: make(map[string]*loadState),
		load:   load,
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(ld)
	}
	ld.logger = ld.logger.With("component", "loader")
	return ld, nil
}

// RegisterOption configures a single registration.
type RegisterOption func(*registerConfig)

type registerConfig struct {
	base string
}

// WithBase sets the anchor that relative specifiers are resolved against.
func WithBase(base string) RegisterOption {
	return func(c *registerConfig) { c.base = base }
}

// RegisterModule queues specifier for phase. When phase has already run, the
// module is loaded right away instead of being queued.
func (l *Loader) RegisterModule(ctx context.Context, specifier string, phase Phase, opts ...RegisterOption) (*Registration, error) {
	if !phase.valid() {
		return nil, &ArgumentError{Op: "register", Field: "phase", Message: fmt.Sprintf("unknown phase %d", int(phase))}
	}
	var cfg registerConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	resolved, err := Resolve(specifier, cfg.base)
	if err != nil {
		return nil, err
	}

	reg := &Registration{
		entry: Entry{Specifier: resolved, Phase: phase},
		l:     l,
		done:  make(chan struct{}),
	}

	l.mu.Lock()
	if !l.gates[phase] {
		l.queue = append(l.queue, reg)
		l.mu.Unlock()
		return reg, nil
	}
	reg.picked = true
	l.mu.Unlock()

	l.logger.Debug("phase already completed, loading immediately", "specifier", resolved, "phase", phase)
	go func() {
		_, err := l.loadOne(context.WithoutCancel(ctx), resolved, phase)
		reg.settle(err)
	}()
	return reg, nil
}

// RunPhase opens the gate for phase and loads every queued entry of that
// phase concurrently, waiting for all of them. Failures are counted and
// logged; they never stop the rest of the batch.
func (l *Loader) RunPhase(ctx context.Context, phase Phase) Summary {
	runID := uuid.NewString()
	ctx, span := l.tracer.Start(ctx, "loader.RunPhase",
		trace.WithAttributes(attribute.String("phase", phase.String()), attribute.String("run_id", runID)))
	defer span.End()

	l.mu.Lock()
	if phase.valid() {
		l.gates[phase] = true
	}
	var picked []*Registration
	l.queue = slices.DeleteFunc(l.queue, func(r *Registration) bool {
		if r.entry.Phase != phase {
			return false
		}
		r.picked = true
		picked = append(picked, r)
		return true
	})
	l.mu.Unlock()

	var specs []string
	bySpec := make(map[string][]*Registration)
	for _, r := range picked {
		s := r.entry.Specifier
		if _, ok := bySpec[s]; !ok {
			specs = append(specs, s)
		}
		bySpec[s] = append(bySpec[s], r)
	}

	type result struct {
		performed bool
		err       error
	}
	results := make([]result, len(specs))

	var g errgroup.Group
	for i, s := range specs {
		g.Go(func() error {
			performed, err := l.loadOne(ctx, s, phase)
			results[i] = result{performed: performed, err: err}
			for _, r := range bySpec[s] {
				r.settle(err)
			}
			return nil
		})
	}
	_ = g.Wait()

	sum := Summary{Phase: phase, RunID: runID, Attempted: len(specs), Errors: make(map[string]error)}
	for i, res := range results {
		switch {
		case !res.performed:
			sum.Skipped++
		case res.err != nil:
			sum.Failed++
			sum.Errors[specs[i]] = res.err
		default:
			sum.Loaded++
		}
	}

	l.metrics.PhaseRun(phase.String())
	span.SetAttributes(attribute.Int("loaded", sum.Loaded), attribute.Int("failed", sum.Failed))
	attrs := []any{"phase", phase, "run_id", runID,
		"attempted", sum.Attempted, "loaded", sum.Loaded, "skipped", sum.Skipped, "failed", sum.Failed}
	if sum.Failed > 0 {
		l.logger.Warn("phase load finished with failures", attrs...)
	} else {
		l.logger.Info("phase load finished", attrs...)
	}
	return sum
}

// loadOne loads specifier unless it is already in the loaded set. performed
// is true only for the call that ran the load. A duplicate call waits for the
// original load and reports its error.
func (l *Loader) loadOne(ctx context.Context, specifier string, phase Phase) (performed bool, err error) {
	l.mu.Lock()
	st, ok := l.loaded[specifier]
	if ok {
		l.mu.Unlock()
		select {
		case <-st.done:
			return false, st.err
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	st = &loadState{done: make(chan struct{})}
	l.loaded[specifier] = st
	l.mu.Unlock()

	st.err = l.invokeLoad(ctx, specifier)
	close(st.done)

	l.metrics.ModuleLoaded(phase.String(), st.err)
	event := EventModuleLoaded
	if st.err != nil {
		event = EventModuleFailed
		l.logger.Error("module load failed", "specifier", specifier, "phase", phase, "error", st.err)
	} else {
		l.logger.Debug("module loaded", "specifier", specifier, "phase", phase)
	}
	if l.emitter != nil {
		if emitErr := l.emitter.Emit(ctx, event, LoadEvent{Specifier: specifier, Phase: phase, Err: st.err}); emitErr != nil {
			l.logger.Warn("could not publish load event", "event", event, "error", emitErr)
		}
	}
	return true, st.err
}

func (l *Loader) invokeLoad(ctx context.Context, specifier string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			err = &LoadError{Specifier: specifier, Err: err}
		}
	}()
	return l.load(ctx, specifier)
}

// PhaseCompleted reports whether phase's gate is open.
func (l *Loader) PhaseCompleted(phase Phase) bool {
	if !phase.valid() {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gates[phase]
}

// Loaded reports whether specifier (in canonical form) is in the loaded set.
// In-flight loads count as loaded.
func (l *Loader) Loaded(specifier string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.loaded[specifier]
	return ok
}

// LoadedSpecifiers returns the loaded set, sorted.
func (l *Loader) LoadedSpecifiers() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.loaded))
	for spec := range l.loaded {
		out = append(out, spec)
	}
	slices.Sort(out)
	return out
}

// Pending returns the queued entries that have not been picked up yet.
func (l *Loader) Pending() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, 0, len(l.queue))
	for _, r := range l.queue {
		out = append(out, r.entry)
	}
	return out
}

// Registration is the handle returned by RegisterModule.
type Registration struct {
	entry Entry
	l     *Loader

	picked    bool // guarded by l.mu
	cancelled bool // guarded by l.mu

	once sync.Once
	done chan struct{}
	err  error
}

// Entry returns the registered entry with its canonical specifier.
func (r *Registration) Entry() Entry { return r.entry }

// Cancel removes the entry from the queue. It reports false, and does
// nothing, when the entry was already picked up for loading or cancelled.
func (r *Registration) Cancel() bool {
	r.l.mu.Lock()
	if r.picked || r.cancelled {
		r.l.mu.Unlock()
		return false
	}
	r.cancelled = true
	r.l.queue = slices.DeleteFunc(r.l.queue, func(q *Registration) bool { return q == r })
	r.l.mu.Unlock()

	r.settle(ErrCancelled)
	return true
}

// Done is closed once the entry has been loaded, has failed, or was cancelled.
func (r *Registration) Done() <-chan struct{} { return r.done }

// Wait blocks until Done and returns the load error, ErrCancelled, or the
// context error.
func (r *Registration) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registration) settle(err error) {
	r.once.Do(func() {
		r.err = err
		close(r.done)
	})
}
