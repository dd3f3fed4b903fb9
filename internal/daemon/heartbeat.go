package daemon

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/legatehq/legate/pkg/bridge"
	"github.com/legatehq/legate/pkg/gateway"
)

// eventSink receives heartbeat broadcasts. *gateway.Server satisfies it.
type eventSink interface {
	BroadcastTyped(msg gateway.EventMessage)
	ClientCount() int
}

// Heartbeat periodically broadcasts a lifecycle event to connected clients
// so they can tell a quiet agent from a dead one.
type Heartbeat struct {
	schedule  string
	sink      eventSink
	bridge    *bridge.Bridge
	logger    zerolog.Logger
	cron      *cron.Cron
	startedAt time.Time
}

// HeartbeatConfig holds heartbeat configuration
type HeartbeatConfig struct {
	Schedule string
	Sink     eventSink
	Bridge   *bridge.Bridge
	Logger   zerolog.Logger
}

// NewHeartbeat creates a new heartbeat emitter
func NewHeartbeat(cfg HeartbeatConfig) *Heartbeat {
	return &Heartbeat{
		schedule: cfg.Schedule,
		sink:     cfg.Sink,
		bridge:   cfg.Bridge,
		logger:   cfg.Logger,
		cron:     cron.New(),
	}
}

// Start schedules the heartbeat. An invalid schedule expression is a
// configuration error and fails startup.
func (h *Heartbeat) Start() error {
	h.startedAt = time.Now()

	if _, err := h.cron.AddFunc(h.schedule, h.beat); err != nil {
		return fmt.Errorf("invalid heartbeat schedule %q: %w", h.schedule, err)
	}

	h.cron.Start()
	h.logger.Info().Str("schedule", h.schedule).Msg("Heartbeat scheduler started")
	return nil
}

// Stop halts the schedule and waits for an in-flight beat to finish.
func (h *Heartbeat) Stop() {
	ctx := h.cron.Stop()

	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		h.logger.Warn().Msg("Timeout waiting for heartbeat to finish")
	}

	h.logger.Info().Msg("Heartbeat scheduler stopped")
}

// beat broadcasts a single heartbeat event.
func (h *Heartbeat) beat() {
	h.sink.BroadcastTyped(gateway.EventMessage{
		Event:  "agent.heartbeat",
		Stream: gateway.StreamTypeLifecycle,
		Phase:  "tick",
		Data: map[string]interface{}{
			"backend":          h.bridge.Selection().String(),
			"model":            h.bridge.Model(),
			"uptimeMs":         time.Since(h.startedAt).Milliseconds(),
			"connectedClients": h.sink.ClientCount(),
		},
	})

	h.logger.Debug().Msg("Heartbeat broadcast")
}
