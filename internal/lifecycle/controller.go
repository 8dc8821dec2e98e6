// Package lifecycle wires the host's readiness and termination signals to the
// event dispatcher and the staged loader. Bootstrap modules load as soon as
// the controller is initialized; runtime modules load after the host reports
// readiness for the first time.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Duskaraa/Plots-Manager/internal/loader"
)

// Synthetic events emitted by the controller.
const (
	EventReady    = "ready"
	EventShutdown = "shutdown"
)

// ShutdownEvent is the payload of EventShutdown.
type ShutdownEvent struct {
	OriginalSignal   FatalSignal
	Timestamp        time.Time
	IsWatchdogOrigin bool
}

// Emitter is the part of the dispatcher the controller needs.
type Emitter interface {
	Emit(ctx context.Context, event string, payload any) error
}

// PhaseRunner is the part of the loader the controller needs.
type PhaseRunner interface {
	RunPhase(ctx context.Context, phase loader.Phase) loader.Summary
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock overrides the time source used for shutdown timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// Controller sequences the two-phase startup.
type Controller struct {
	bus    Emitter
	loader PhaseRunner
	host   Host
	logger *slog.Logger
	now    func() time.Time

	initialized atomic.Bool
	ready       atomic.Bool
	phases      [2]phaseResult
}

type phaseResult struct {
	done    chan struct{}
	summary loader.Summary
}

// New creates a Controller. Nothing happens until Initialize is called.
func New(bus Emitter, ld PhaseRunner, host Host, opts ...Option) *Controller {
	c := &Controller{
		bus:    bus,
		loader: ld,
		host:   host,
		logger: slog.Default(),
		now:    time.Now,
	}
	for i := range c.phases {
		c.phases[i].done = make(chan struct{})
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "lifecycle")
	return c
}

// Initialize installs the fatal-signal guard, starts loading bootstrap
// modules in the background and subscribes to the host readiness signal.
// Calls after the first are ignored.
func (c *Controller) Initialize(ctx context.Context) {
	if !c.initialized.CompareAndSwap(false, true) {
		return
	}
	ctx = context.WithoutCancel(ctx)

	c.installFatalGuard(ctx)
	go c.runPhase(ctx, loader.Bootstrap)

	if c.host.Ready == nil {
		c.logger.Warn("host has no readiness signal; runtime modules will not load")
		return
	}
	err := safely(func() error {
		return c.host.Ready.Subscribe(func(payload any) {
			if !c.ready.CompareAndSwap(false, true) {
				return
			}
			c.onReady(ctx, payload)
		})
	})
	if err != nil {
		c.logger.Error("could not subscribe to readiness signal", "error", err)
	}
}

// Initialized reports whether Initialize has been called.
func (c *Controller) Initialized() bool { return c.initialized.Load() }

// Ready reports whether the host readiness signal has been observed.
func (c *Controller) Ready() bool { return c.ready.Load() }

// Wait blocks until the batch load of phase has finished.
func (c *Controller) Wait(ctx context.Context, phase loader.Phase) (loader.Summary, error) {
	if phase != loader.Bootstrap && phase != loader.Runtime {
		return loader.Summary{}, fmt.Errorf("unknown phase %s", phase)
	}
	p := &c.phases[phase]
	select {
	case <-p.done:
		return p.summary, nil
	case <-ctx.Done():
		return loader.Summary{}, ctx.Err()
	}
}

func (c *Controller) onReady(ctx context.Context, payload any) {
	attached := 0
	for _, b := range c.host.Sources {
		if c.attach(ctx, b) {
			attached++
		}
	}
	c.logger.Info("host ready", "sources_attached", attached, "sources_configured", len(c.host.Sources))

	if err := c.bus.Emit(ctx, EventReady, payload); err != nil {
		c.logger.Error("could not emit readiness event", "error", err)
	}
	go c.runPhase(ctx, loader.Runtime)
}

// attach binds one host source to the dispatcher. Missing or failing
// sources are skipped.
func (c *Controller) attach(ctx context.Context, b SourceBinding) bool {
	if b.Source == nil || b.Event == "" {
		c.logger.Debug("host source unavailable, skipping", "event", b.Event)
		return false
	}
	err := safely(func() error {
		return b.Source.Subscribe(func(payload any) {
			if err := c.bus.Emit(ctx, b.Event, payload); err != nil {
				c.logger.Error("could not forward host event", "event", b.Event, "error", err)
			}
		})
	})
	if err != nil {
		c.logger.Debug("host source not subscribable, skipping", "event", b.Event, "error", err)
		return false
	}
	return true
}

func (c *Controller) runPhase(ctx context.Context, phase loader.Phase) {
	p := &c.phases[phase]
	p.summary = c.loader.RunPhase(ctx, phase)
	close(p.done)
}

func (c *Controller) installFatalGuard(ctx context.Context) {
	if c.host.Fatal == nil {
		return
	}
	err := safely(func() error {
		return c.host.Fatal.SubscribeFatal(func(sig FatalSignal) { c.onFatal(ctx, sig) })
	})
	if err != nil {
		c.logger.Warn("could not install fatal-signal guard", "error", err)
	}
}

// onFatal suppresses the signal, logs it and emits EventShutdown. Each step
// runs even when an earlier one failed.
func (c *Controller) onFatal(ctx context.Context, sig FatalSignal) {
	c.guardStep("suppress", func() error {
		return sig.Cancel()
	})
	c.guardStep("log", func() error {
		c.logger.Warn("host requested termination, suppressed", "reason", sig.Reason())
		return nil
	})
	c.guardStep("emit", func() error {
		return c.bus.Emit(ctx, EventShutdown, ShutdownEvent{
			OriginalSignal:   sig,
			Timestamp:        c.now(),
			IsWatchdogOrigin: true,
		})
	})
}

func (c *Controller) guardStep(step string, fn func() error) {
	err := safely(fn)
	if err == nil {
		return
	}
	defer func() { _ = recover() }()
	c.logger.Error("fatal-signal guard step failed", "step", step, "error", err)
}

// safely runs fn and converts a panic into an error.
func safely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
