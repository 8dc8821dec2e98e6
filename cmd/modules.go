package cmd

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Duskaraa/Plots-Manager/internal/eventbus"
	"github.com/Duskaraa/Plots-Manager/internal/host"
	"github.com/Duskaraa/Plots-Manager/internal/lifecycle"
)

// Host event names bound by the run command.
const (
	eventTick = "tick"
	eventChat = "chat"
)

const heartbeatEvery = 10

// builtinModules returns the modules shipped with the binary. Each one
// subscribes to the dispatcher when loaded.
func builtinModules(bus *eventbus.Dispatcher, log *slog.Logger) map[string]host.ModuleFunc {
	return map[string]host.ModuleFunc{
		"heartbeat": func(context.Context) error {
			_, err := bus.On(eventTick, eventbus.Handler(func(d eventbus.Delivery) {
				if t, ok := d.Payload.(host.Tick); ok && t.Seq%heartbeatEvery == 0 {
					log.Info("heartbeat", "tick", t.Seq)
				}
			}))
			return err
		},
		"chat-log": func(context.Context) error {
			_, err := bus.On(eventChat, eventbus.Handler(func(d eventbus.Delivery) {
				if msg, ok := d.Payload.(string); ok && strings.TrimSpace(msg) != "" {
					log.Info("chat", "message", msg)
				}
			}))
			return err
		},
		"uptime": func(context.Context) error {
			var readyAt atomic.Int64
			if _, err := bus.Once(lifecycle.EventReady, eventbus.Handler(func(eventbus.Delivery) {
				readyAt.Store(time.Now().UnixNano())
			})); err != nil {
				return err
			}
			_, err := bus.On(lifecycle.EventShutdown, eventbus.Handler(func(eventbus.Delivery) {
				if at := readyAt.Load(); at != 0 {
					log.Info("uptime", "since_ready", time.Since(time.Unix(0, at)).Round(time.Millisecond))
				}
			}))
			return err
		},
	}
}
