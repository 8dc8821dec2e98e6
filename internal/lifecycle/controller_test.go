package lifecycle_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Duskaraa/Plots-Manager/internal/eventbus"
	"github.com/Duskaraa/Plots-Manager/internal/lifecycle"
	"github.com/Duskaraa/Plots-Manager/internal/lifecycle/mocks"
	"github.com/Duskaraa/Plots-Manager/internal/loader"
)

type harness struct {
	bus    *eventbus.Dispatcher
	loader *loader.Loader
	out    *syncWriter

	mu    sync.Mutex
	loads map[string]int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{out: &syncWriter{buf: &bytes.Buffer{}}, loads: make(map[string]int)}
	logger := slog.New(slog.NewTextHandler(h.out, nil))
	h.bus = eventbus.New(eventbus.WithLogger(logger))

	ld, err := loader.New(func(_ context.Context, s string) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.loads[s]++
		return nil
	}, loader.WithLogger(logger))
	require.NoError(t, err)
	h.loader = ld
	return h
}

func (h *harness) Loads(s string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.loads[s]
}

func (h *harness) Logs() string {
	h.out.mu.Lock()
	defer h.out.mu.Unlock()
	return h.out.buf.String()
}

// syncWriter serializes writes from concurrent goroutines.
type syncWriter struct {
	mu  sync.Mutex
	buf *bytes.Buffer
}

func (w *syncWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (h *harness) controller(host lifecycle.Host, opts ...lifecycle.Option) *lifecycle.Controller {
	logger := slog.New(slog.NewTextHandler(h.out, nil))
	return lifecycle.New(h.bus, h.loader, host, append([]lifecycle.Option{lifecycle.WithLogger(logger)}, opts...)...)
}

// captureSource stubs Subscribe and returns a pointer that receives the handler.
func captureSource(src *mocks.MockSource) *func(any) {
	var handler func(any)
	src.On("Subscribe", mock.Anything).Run(func(args mock.Arguments) {
		handler = args.Get(0).(func(any))
	}).Return(nil)
	return &handler
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestInitialize_TwoPhaseStartup(t *testing.T) {
	h := newHarness(t)
	ctx := testCtx(t)

	ready := &mocks.MockSource{}
	fire := captureSource(ready)

	_, err := h.loader.RegisterModule(ctx, "a", loader.Bootstrap)
	require.NoError(t, err)
	_, err = h.loader.RegisterModule(ctx, "b", loader.Runtime)
	require.NoError(t, err)

	var readyPayload any
	_, err = h.bus.On(lifecycle.EventReady, eventbus.Handler(func(d eventbus.Delivery) { readyPayload = d.Payload }))
	require.NoError(t, err)

	c := h.controller(lifecycle.Host{Ready: ready})
	c.Initialize(ctx)
	assert.True(t, c.Initialized())

	boot, err := c.Wait(ctx, loader.Bootstrap)
	require.NoError(t, err)
	assert.Equal(t, 1, boot.Loaded)
	assert.Equal(t, 1, h.Loads("a"))
	assert.Equal(t, 0, h.Loads("b"))
	assert.False(t, c.Ready())

	require.NotNil(t, *fire)
	(*fire)("world")

	rt, err := c.Wait(ctx, loader.Runtime)
	require.NoError(t, err)
	assert.Equal(t, 1, rt.Loaded)
	assert.Equal(t, 1, h.Loads("b"))
	assert.True(t, c.Ready())
	assert.Equal(t, "world", readyPayload)

	again, err := h.loader.RegisterModule(ctx, "a", loader.Bootstrap)
	require.NoError(t, err)
	require.NoError(t, again.Wait(ctx))
	assert.Equal(t, 1, h.Loads("a"))

	late, err := h.loader.RegisterModule(ctx, "late", loader.Runtime)
	require.NoError(t, err)
	require.NoError(t, late.Wait(ctx))
	assert.Equal(t, 1, h.Loads("late"))

	ready.AssertNumberOfCalls(t, "Subscribe", 1)
}

func TestInitialize_Idempotent(t *testing.T) {
	h := newHarness(t)
	ctx := testCtx(t)

	ready := &mocks.MockSource{}
	captureSource(ready)
	fatal := &mocks.MockFatalSource{}
	fatal.On("SubscribeFatal", mock.Anything).Return(nil)

	c := h.controller(lifecycle.Host{Ready: ready, Fatal: fatal})
	c.Initialize(ctx)
	c.Initialize(ctx)

	_, err := c.Wait(ctx, loader.Bootstrap)
	require.NoError(t, err)
	ready.AssertNumberOfCalls(t, "Subscribe", 1)
	fatal.AssertNumberOfCalls(t, "SubscribeFatal", 1)
}

func TestReady_RepeatsAreIgnored(t *testing.T) {
	h := newHarness(t)
	ctx := testCtx(t)

	ready := &mocks.MockSource{}
	fire := captureSource(ready)
	join := &mocks.MockSource{}
	captureSource(join)

	var readyCount int
	_, err := h.bus.On(lifecycle.EventReady, eventbus.Handler(func(eventbus.Delivery) { readyCount++ }))
	require.NoError(t, err)

	c := h.controller(lifecycle.Host{
		Ready:   ready,
		Sources: []lifecycle.SourceBinding{{Event: "player.join", Source: join}},
	})
	c.Initialize(ctx)
	(*fire)(nil)
	(*fire)(nil)

	_, err = c.Wait(ctx, loader.Runtime)
	require.NoError(t, err)
	assert.Equal(t, 1, readyCount)
	join.AssertNumberOfCalls(t, "Subscribe", 1)
}

func TestReady_AttachesSourcesBestEffort(t *testing.T) {
	h := newHarness(t)
	ctx := testCtx(t)

	ready := &mocks.MockSource{}
	fire := captureSource(ready)

	join := &mocks.MockSource{}
	forward := captureSource(join)

	broken := &mocks.MockSource{}
	broken.On("Subscribe", mock.Anything).Return(errors.New("not subscribable"))

	panicky := &mocks.MockSource{}
	panicky.On("Subscribe", mock.Anything).Run(func(mock.Arguments) { panic("half-initialized source") }).Return(nil)

	var got []eventbus.Delivery
	_, err := h.bus.On("player.join", eventbus.Handler(func(d eventbus.Delivery) { got = append(got, d) }))
	require.NoError(t, err)

	c := h.controller(lifecycle.Host{
		Ready: ready,
		Sources: []lifecycle.SourceBinding{
			{Event: "player.leave", Source: nil},
			{Event: "block.break", Source: broken},
			{Event: "item.use", Source: panicky},
			{Event: "player.join", Source: join},
		},
	})
	c.Initialize(ctx)
	(*fire)(nil)

	_, err = c.Wait(ctx, loader.Runtime)
	require.NoError(t, err)

	require.NotNil(t, *forward)
	(*forward)(map[string]string{"player": "steve"})

	require.Len(t, got, 1)
	assert.Equal(t, map[string]string{"player": "steve"}, got[0].Payload)
	assert.Contains(t, h.Logs(), "sources_attached=1")
}

func TestInitialize_WithoutReadinessSignal(t *testing.T) {
	h := newHarness(t)
	ctx := testCtx(t)

	_, err := h.loader.RegisterModule(ctx, "b", loader.Runtime)
	require.NoError(t, err)

	c := h.controller(lifecycle.Host{})
	c.Initialize(ctx)

	_, err = c.Wait(ctx, loader.Bootstrap)
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = c.Wait(short, loader.Runtime)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, h.Loads("b"))
	assert.Contains(t, h.Logs(), "runtime modules will not load")
}

func TestInitialize_ReadinessSubscribeFails(t *testing.T) {
	h := newHarness(t)
	ctx := testCtx(t)

	ready := &mocks.MockSource{}
	ready.On("Subscribe", mock.Anything).Return(errors.New("gone"))

	c := h.controller(lifecycle.Host{Ready: ready})
	c.Initialize(ctx)

	_, err := c.Wait(ctx, loader.Bootstrap)
	require.NoError(t, err)
	assert.Contains(t, h.Logs(), "could not subscribe to readiness signal")
}

func TestFatalGuard_SuppressesAndEmitsShutdown(t *testing.T) {
	h := newHarness(t)
	ctx := testCtx(t)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	fatal := &mocks.MockFatalSource{}
	var onFatal func(lifecycle.FatalSignal)
	fatal.On("SubscribeFatal", mock.Anything).Run(func(args mock.Arguments) {
		onFatal = args.Get(0).(func(lifecycle.FatalSignal))
	}).Return(nil)

	sig := &mocks.MockFatalSignal{}
	sig.On("Cancel").Return(nil).Once()
	sig.On("Reason").Return("hang")

	var shutdown []lifecycle.ShutdownEvent
	_, err := h.bus.On(lifecycle.EventShutdown, eventbus.Handler(func(d eventbus.Delivery) {
		shutdown = append(shutdown, d.Payload.(lifecycle.ShutdownEvent))
	}))
	require.NoError(t, err)

	c := h.controller(lifecycle.Host{Fatal: fatal}, lifecycle.WithClock(func() time.Time { return at }))
	c.Initialize(ctx)

	require.NotNil(t, onFatal)
	onFatal(sig)

	require.Len(t, shutdown, 1)
	assert.Equal(t, lifecycle.ShutdownEvent{OriginalSignal: sig, Timestamp: at, IsWatchdogOrigin: true}, shutdown[0])
	assert.Contains(t, h.Logs(), "reason=hang")
	sig.AssertExpectations(t)
}

func TestFatalGuard_StepsAreIsolated(t *testing.T) {
	h := newHarness(t)
	ctx := testCtx(t)

	fatal := &mocks.MockFatalSource{}
	var onFatal func(lifecycle.FatalSignal)
	fatal.On("SubscribeFatal", mock.Anything).Run(func(args mock.Arguments) {
		onFatal = args.Get(0).(func(lifecycle.FatalSignal))
	}).Return(nil)

	sig := &mocks.MockFatalSignal{}
	sig.On("Cancel").Return(errors.New("read-only signal"))
	sig.On("Reason").Run(func(mock.Arguments) { panic("reason unavailable") }).Return("")

	emitted := 0
	_, err := h.bus.On(lifecycle.EventShutdown, eventbus.Handler(func(eventbus.Delivery) { emitted++ }))
	require.NoError(t, err)

	c := h.controller(lifecycle.Host{Fatal: fatal})
	c.Initialize(ctx)
	onFatal(sig)

	assert.Equal(t, 1, emitted, "shutdown is emitted even when suppress and log fail")
	logs := h.Logs()
	assert.Contains(t, logs, "step=suppress")
	assert.Contains(t, logs, "read-only signal")
	assert.Contains(t, logs, "step=log")
}

func TestFatalGuard_SubscribeFailureIsNotFatal(t *testing.T) {
	h := newHarness(t)
	ctx := testCtx(t)

	fatal := &mocks.MockFatalSource{}
	fatal.On("SubscribeFatal", mock.Anything).Return(errors.New("no watchdog"))

	c := h.controller(lifecycle.Host{Fatal: fatal})
	c.Initialize(ctx)

	_, err := c.Wait(ctx, loader.Bootstrap)
	require.NoError(t, err)
	assert.Contains(t, h.Logs(), "could not install fatal-signal guard")
}
