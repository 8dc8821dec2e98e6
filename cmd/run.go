package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Duskaraa/Plots-Manager/internal/build"
	"github.com/Duskaraa/Plots-Manager/internal/config"
	"github.com/Duskaraa/Plots-Manager/internal/eventbus"
	"github.com/Duskaraa/Plots-Manager/internal/host"
	"github.com/Duskaraa/Plots-Manager/internal/lifecycle"
	"github.com/Duskaraa/Plots-Manager/internal/loader"
	"github.com/Duskaraa/Plots-Manager/internal/logger"
	"github.com/Duskaraa/Plots-Manager/internal/metrics"
	"github.com/Duskaraa/Plots-Manager/internal/server"
	"github.com/Duskaraa/Plots-Manager/internal/telemetry"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the host and load the manifest's modules",
	Args:  cobra.NoArgs,
	RunE:  runHost,
}

func init() {
	runCmd.Flags().String("manifest", "", "Module manifest YAML (overrides STAGEHOST_MANIFEST)")
	runCmd.Flags().String("metrics-addr", "", "Serve /health, /status and /metrics on this address (overrides STAGEHOST_METRICS_ADDR)")
	runCmd.Flags().Duration("ready-delay", 0, "Delay before the host signals readiness (overrides STAGEHOST_READY_DELAY)")
	runCmd.Flags().Bool("stdin", false, "Forward lines read from stdin as chat events")
}

func runHost(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	applyFlags(cmd, cfg)

	log, closer, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = closer.Close() }()

	log.Info("stagehost starting", append(build.Attrs(), slog.String("manifest", cfg.Manifest))...)

	shutdownTracing, err := telemetry.Setup(cmd.Context(), telemetry.Config{
		Endpoint: cfg.OTLPEndpoint,
		Insecure: cfg.OTLPInsecure,
		Version:  build.Version,
	}, log)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			log.Warn("flushing traces failed", "error", err)
		}
	}()

	manifest, err := config.LoadManifest(cfg.Manifest)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	bus := eventbus.New(
		eventbus.WithLogger(log),
		eventbus.WithMaxListeners(cfg.MaxListeners),
		eventbus.WithMetrics(m),
	)

	catalog := host.NewCatalog()
	for name, fn := range builtinModules(bus, log) {
		catalog.Add(name, fn)
	}
	ld, err := loader.New(catalog.Load,
		loader.WithLogger(log),
		loader.WithMetrics(m),
		loader.WithEmitter(bus),
	)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if err := registerManifest(ctx, ld, manifest); err != nil {
		return err
	}

	if _, err := bus.On(eventbus.Wildcard, eventbus.Handler(func(d eventbus.Delivery) {
		log.Debug("event", "event", d.Event)
	})); err != nil {
		return err
	}
	if _, err := bus.On(lifecycle.EventShutdown, eventbus.Handler(func(eventbus.Delivery) {
		cancel()
	})); err != nil {
		return err
	}

	native := host.NewBus()
	ticks, err := host.NewTickSource(cfg.TickInterval)
	if err != nil {
		return err
	}
	defer func() { _ = ticks.Stop() }()
	signals := host.NewSignalSource(os.Interrupt, syscall.SIGTERM)
	defer signals.Close()

	ctrl := lifecycle.New(bus, ld, lifecycle.Host{
		Ready: host.BusSource{Bus: native, Topic: host.TopicReady, Async: true},
		Fatal: signals,
		Sources: []lifecycle.SourceBinding{
			{Event: eventTick, Source: ticks},
			{Event: eventChat, Source: host.BusSource{Bus: native, Topic: host.TopicChat}},
		},
	}, lifecycle.WithLogger(log))
	ctrl.Initialize(ctx)

	g, gctx := errgroup.WithContext(ctx)
	if cfg.MetricsAddr != "" {
		srv := server.New(cfg.MetricsAddr, reg, statusFunc(bus, ld, ctrl), log)
		g.Go(func() error { return srv.Run(gctx) })
	}

	ticks.Start()
	readyTimer := time.AfterFunc(cfg.ReadyDelay, func() {
		native.Publish(host.TopicReady, time.Now())
	})
	defer readyTimer.Stop()

	if stdin, _ := cmd.Flags().GetBool("stdin"); stdin {
		go forwardLines(cmd.InOrStdin(), func(line string) { native.Publish(host.TopicChat, line) })
	}

	<-gctx.Done()
	err = g.Wait()
	log.Info("stagehost stopped")
	return err
}

func applyFlags(cmd *cobra.Command, cfg *config.AppConfig) {
	if cmd.Flags().Changed("manifest") {
		cfg.Manifest, _ = cmd.Flags().GetString("manifest")
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.MetricsAddr, _ = cmd.Flags().GetString("metrics-addr")
	}
	if cmd.Flags().Changed("ready-delay") {
		cfg.ReadyDelay, _ = cmd.Flags().GetDuration("ready-delay")
	}
}

func newLogger(cfg *config.AppConfig) (*slog.Logger, io.Closer, error) {
	if cfg.LogDir == "" {
		return logger.NewConsoleLogger(os.Stderr, cfg.SlogLevel()), io.NopCloser(nil), nil
	}
	return logger.NewSystemLogger(cfg.LogDir, cfg.SlogLevel())
}

func registerManifest(ctx context.Context, ld *loader.Loader, manifest *config.Manifest) error {
	entries, err := manifest.Entries()
	if err != nil {
		return err
	}
	for _, e := range entries {
		if _, err := ld.RegisterModule(ctx, e.Specifier, e.Phase, loader.WithBase(manifest.Base)); err != nil {
			return fmt.Errorf("registering %q: %w", e.Specifier, err)
		}
	}
	return nil
}

func statusFunc(bus *eventbus.Dispatcher, ld *loader.Loader, ctrl *lifecycle.Controller) server.StatusFunc {
	return func() server.Status {
		listeners := make(map[string]int)
		for _, ev := range bus.EventNames() {
			listeners[ev] = bus.ListenerCount(ev)
		}
		pending := make(map[string]int)
		for _, e := range ld.Pending() {
			pending[e.Phase.String()]++
		}
		return server.Status{
			Ready:     ctrl.Ready(),
			Loaded:    ld.LoadedSpecifiers(),
			Pending:   pending,
			Listeners: listeners,
		}
	}
}

func forwardLines(r io.Reader, publish func(string)) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		publish(sc.Text())
	}
}
