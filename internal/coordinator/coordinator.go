// Package coordinator merges printer telemetry into a single device state,
// derives model detection from it, and orchestrates pause/resume commands
// around the firmware's job state.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/buzato/ha-creality-ws/internal/creality"
	"github.com/buzato/ha-creality-ws/internal/logging"
)

// Firmware state codes reported in the "state" telemetry field.
const (
	StateIdle     = 0
	StatePrinting = 1
	StateSelfTest = 2
	StatePaused   = 5
)

// fieldPollInterval is how often WaitForFields re-checks the merged state.
const fieldPollInterval = 50 * time.Millisecond

// PrinterClient is the slice of the creality client the coordinator needs.
type PrinterClient interface {
	SendGet(ctx context.Context, params map[string]any) error
	SendSet(ctx context.Context, params map[string]any) error
	SendSetRetry(ctx context.Context, params map[string]any) error
	LastReceived() time.Time
	IsConnected() bool
}

// PowerStateFunc reports the state of an external power switch feeding the
// printer ("on", "off", "unavailable", ...). ok is false when no state is
// known yet.
type PowerStateFunc func() (state string, ok bool)

// ListenerFunc is notified after every merged telemetry update.
type ListenerFunc func()

// Config holds coordinator tuning.
type Config struct {
	// RefreshInterval is the period of the background "get" poll.
	RefreshInterval time.Duration
	// StaleAfter marks telemetry stale when nothing arrived for this long.
	StaleAfter time.Duration
	// PowerState optionally reports an external power switch; see PowerIsOff.
	PowerState PowerStateFunc
}

// DefaultConfig returns the polling defaults.
func DefaultConfig() Config {
	return Config{
		RefreshInterval: 5 * time.Second,
		StaleAfter:      30 * time.Second,
	}
}

// Coordinator owns the merged telemetry map and the detection derived from
// it. A fresh ModelDetection value is produced on every update so readers
// never observe a half-updated flag set.
type Coordinator struct {
	client PrinterClient
	logger *logging.Logger
	config Config

	mu        sync.RWMutex
	data      creality.TelemetrySnapshot
	detection creality.ModelDetection
	listeners []ListenerFunc

	pausedFlag   bool
	pendingPause *bool // queued desired pause state, applied when the job allows
}

// New creates a coordinator over the given client.
func New(client PrinterClient, logger *logging.Logger, config Config) *Coordinator {
	if logger == nil {
		logger = logging.New(logging.LevelInfo)
	}
	return &Coordinator{
		client:    client,
		logger:    logger,
		config:    config,
		data:      creality.TelemetrySnapshot{},
		detection: creality.Classify(nil),
	}
}

// OnSnapshot merges a telemetry update and refreshes detection. Wire this as
// the client's snapshot callback.
func (c *Coordinator) OnSnapshot(snap creality.TelemetrySnapshot) {
	c.mu.Lock()
	c.data.Merge(snap)
	c.detection = creality.Classify(c.data)
	pending := c.pendingPause
	flushable := pending != nil && c.jobActiveLocked()
	if flushable {
		c.pendingPause = nil
	}
	listeners := make([]ListenerFunc, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	if flushable {
		c.sendPause(context.Background(), *pending)
	}

	for _, fn := range listeners {
		fn()
	}
}

// AddListener registers a callback fired after each telemetry merge.
func (c *Coordinator) AddListener(fn ListenerFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Snapshot returns a copy of the merged telemetry state.
func (c *Coordinator) Snapshot() creality.TelemetrySnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data.Clone()
}

// Detection returns the current model detection value.
func (c *Coordinator) Detection() creality.ModelDetection {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.detection
}

// SetData replaces the merged state wholesale. Test hook.
func (c *Coordinator) SetData(snap creality.TelemetrySnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = snap.Clone()
	c.detection = creality.Classify(c.data)
}

// WaitForFields polls until every named field is present in the merged state
// or the timeout elapses. Returns true when all fields arrived.
func (c *Coordinator) WaitForFields(ctx context.Context, fields []string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(fieldPollInterval)
	defer ticker.Stop()

	for {
		if c.hasFields(fields) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

func (c *Coordinator) hasFields(fields []string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, f := range fields {
		if !c.data.Has(f) {
			return false
		}
	}
	return true
}

// jobActiveLocked reports whether a print job is in a state that accepts
// pause/resume commands: a file loaded, not finished, device not homing.
func (c *Coordinator) jobActiveLocked() bool {
	if c.data.String("printFileName") == "" {
		return false
	}
	if progress, ok := c.data.Int("printProgress"); ok && progress >= 100 {
		return false
	}
	if deviceState, ok := c.data.Int("deviceState"); ok && deviceState != 0 {
		return false
	}
	return true
}

// RequestPause pauses the active job. When no job currently accepts the
// command, the request is queued and flushed on the next telemetry update
// that shows an active job.
func (c *Coordinator) RequestPause(ctx context.Context) error {
	return c.requestPauseState(ctx, true)
}

// RequestResume resumes a paused job, with the same queueing behavior.
func (c *Coordinator) RequestResume(ctx context.Context) error {
	return c.requestPauseState(ctx, false)
}

func (c *Coordinator) requestPauseState(ctx context.Context, paused bool) error {
	c.mu.Lock()
	active := c.jobActiveLocked()
	if !active {
		queued := paused
		c.pendingPause = &queued
		c.mu.Unlock()
		c.logger.Debug("Pause command queued until job is active", "paused", paused)
		return nil
	}
	c.mu.Unlock()
	return c.sendPause(ctx, paused)
}

func (c *Coordinator) sendPause(ctx context.Context, paused bool) error {
	val := 0
	if paused {
		val = 1
	}
	if err := c.client.SendSetRetry(ctx, map[string]any{"pause": val}); err != nil {
		c.logger.Error("Pause command failed", "paused", paused, "error", err)
		return err
	}
	c.MarkPaused(paused)
	return nil
}

// MarkPaused records the acknowledged pause state.
func (c *Coordinator) MarkPaused(paused bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pausedFlag = paused
}

// IsPaused reports the last acknowledged pause state.
func (c *Coordinator) IsPaused() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pausedFlag
}

// PowerIsOff reports whether the printer's external power switch is off.
// Fail-safe: unknown or unavailable power state counts as off, so consumers
// never command hardware that may be unpowered.
func (c *Coordinator) PowerIsOff() bool {
	if c.config.PowerState == nil {
		return true
	}
	state, ok := c.config.PowerState()
	if !ok {
		return true
	}
	return state != "on"
}

// Stale reports whether telemetry stopped flowing.
func (c *Coordinator) Stale() bool {
	last := c.client.LastReceived()
	if last.IsZero() {
		return true
	}
	return time.Since(last) > c.config.StaleAfter
}

// Run polls the printer with periodic "get" queries until ctx ends. Pushed
// telemetry carries most updates; the poll covers fields the firmware only
// reports when asked.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.config.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.client.IsConnected() {
				continue
			}
			if err := c.client.SendGet(ctx, nil); err != nil {
				c.logger.Debug("Refresh query failed", "error", err)
			}
			if c.Stale() {
				c.logger.Warn("Telemetry is stale", "last_received", c.client.LastReceived())
			}
		}
	}
}
