package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/buzato/ha-creality-ws/internal/creality"
	"github.com/buzato/ha-creality-ws/internal/logging"
	"github.com/buzato/ha-creality-ws/internal/mqtt"
)

// Coordinator is the slice of the telemetry coordinator the bridge reads.
type Coordinator interface {
	Snapshot() creality.TelemetrySnapshot
	Detection() creality.ModelDetection
	IsPaused() bool
	RequestPause(ctx context.Context) error
	RequestResume(ctx context.Context) error
}

// Commander sends raw control parameters to the printer.
type Commander interface {
	SendSet(ctx context.Context, params map[string]any) error
}

// Config holds bridge settings.
type Config struct {
	// DiscoveryPrefix is the HA discovery topic root, normally "homeassistant".
	DiscoveryPrefix string
	// DeviceID uniquely identifies this printer in topics and unique_ids.
	DeviceID string
}

// Bridge wires the coordinator's state into Home Assistant over MQTT.
type Bridge struct {
	coord  Coordinator
	cmd    Commander
	broker mqtt.Client
	logger *logging.Logger
	topics topics

	announcedModel string
}

// New creates a bridge. Run starts publishing.
func New(coord Coordinator, cmd Commander, broker mqtt.Client, logger *logging.Logger, config Config) *Bridge {
	if config.DiscoveryPrefix == "" {
		config.DiscoveryPrefix = "homeassistant"
	}
	if logger == nil {
		logger = logging.New(logging.LevelInfo)
	}
	return &Bridge{
		coord:  coord,
		cmd:    cmd,
		broker: broker,
		logger: logger,
		topics: newTopics(config.DiscoveryPrefix, config.DeviceID),
	}
}

// AvailabilityTopic returns the topic the broker's will message targets.
func (b *Bridge) AvailabilityTopic() string {
	return b.topics.availability()
}

// Start subscribes the command topics and announces availability.
func (b *Bridge) Start(ctx context.Context) error {
	for _, object := range []string{"pause", "light", "box_target"} {
		topic := b.topics.command(object)
		if err := b.broker.Subscribe(ctx, topic, b.handleCommand); err != nil {
			return fmt.Errorf("subscribing %s: %w", topic, err)
		}
	}
	if err := b.broker.Publish(ctx, b.topics.availability(), true, []byte(PayloadOnline)); err != nil {
		return fmt.Errorf("publishing availability: %w", err)
	}
	return nil
}

// Stop marks the device offline.
func (b *Bridge) Stop(ctx context.Context) {
	if err := b.broker.Publish(ctx, b.topics.availability(), true, []byte(PayloadOffline)); err != nil {
		b.logger.Warn("Offline publish failed", "error", err)
	}
}

// Refresh publishes discovery (when the detected model changed) and the
// current state. Call it from a coordinator listener.
func (b *Bridge) Refresh(ctx context.Context) {
	d := b.coord.Detection()

	if model := d.ResolvedModel(); model != b.announcedModel {
		if err := b.publishDiscovery(ctx, d); err != nil {
			b.logger.Warn("Discovery publish failed", "error", err)
		} else {
			b.announcedModel = model
			b.logger.Info("Announced printer to Home Assistant",
				"model", model, "entities", len(entitiesFor(d, b.topics)))
		}
	}

	if err := b.publishState(ctx); err != nil {
		b.logger.Debug("State publish failed", "error", err)
	}
}

// publishDiscovery announces the capability-derived entity set, retained.
func (b *Bridge) publishDiscovery(ctx context.Context, d creality.ModelDetection) error {
	for _, e := range entitiesFor(d, b.topics) {
		payload, err := json.Marshal(e.payload)
		if err != nil {
			return fmt.Errorf("marshaling discovery payload for %s: %w", e.objectID, err)
		}
		topic := b.topics.discovery(e.component, e.objectID)
		if err := b.broker.Publish(ctx, topic, true, payload); err != nil {
			return fmt.Errorf("publishing %s: %w", topic, err)
		}
	}
	return nil
}

// statePayload is the single JSON state document all entities template from.
type statePayload struct {
	Model         string  `json:"model"`
	NozzleTemp    float64 `json:"nozzleTemp"`
	BedTemp       float64 `json:"bedTemp0"`
	BoxTemp       float64 `json:"boxTemp,omitempty"`
	TargetBoxTemp float64 `json:"targetBoxTemp,omitempty"`
	PrintProgress int     `json:"printProgress"`
	PrintState    string  `json:"printState"`
	Paused        string  `json:"paused"`
	Light         string  `json:"light"`
}

// printStateName maps firmware state codes to readable states.
func printStateName(code int) string {
	switch code {
	case 1:
		return "printing"
	case 2:
		return "self-test"
	case 5:
		return "paused"
	default:
		return "idle"
	}
}

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}

func (b *Bridge) publishState(ctx context.Context) error {
	snap := b.coord.Snapshot()
	d := b.coord.Detection()

	state := statePayload{
		Model:  d.ResolvedModel(),
		Paused: onOff(b.coord.IsPaused()),
	}
	state.NozzleTemp, _ = snap.Float("nozzleTemp")
	state.BedTemp, _ = snap.Float("bedTemp0")
	if d.HasBoxSensor() {
		state.BoxTemp, _ = snap.Float("boxTemp")
	}
	if d.HasBoxControl() {
		state.TargetBoxTemp, _ = snap.Float("targetBoxTemp")
	}
	state.PrintProgress, _ = snap.Int("printProgress")
	code, _ := snap.Int("state")
	state.PrintState = printStateName(code)
	if light, ok := snap.Int("lightSw"); ok {
		state.Light = onOff(light == 1)
	}

	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}
	return b.broker.Publish(ctx, b.topics.state(), false, payload)
}

// handleCommand dispatches a command topic message to the printer, honoring
// the detected capability flags: commands for absent hardware are dropped.
func (b *Bridge) handleCommand(ctx context.Context, topic string, payload []byte) {
	object := commandObject(topic)
	value := strings.TrimSpace(string(payload))
	d := b.coord.Detection()

	var err error
	switch object {
	case "pause":
		if strings.EqualFold(value, "ON") {
			err = b.coord.RequestPause(ctx)
		} else {
			err = b.coord.RequestResume(ctx)
		}
	case "light":
		if !d.HasLight() {
			b.logger.Warn("Light command for a model without a light", "model", d.ResolvedModel())
			return
		}
		sw := 0
		if strings.EqualFold(value, "ON") {
			sw = 1
		}
		err = b.cmd.SendSet(ctx, map[string]any{"lightSw": sw})
	case "box_target":
		if !d.HasBoxControl() {
			b.logger.Warn("Box target command for a model without box control", "model", d.ResolvedModel())
			return
		}
		var target float64
		if target, err = strconv.ParseFloat(value, 64); err != nil {
			b.logger.Warn("Invalid box target payload", "payload", value)
			return
		}
		err = b.cmd.SendSet(ctx, map[string]any{"boxTempControl": target})
	default:
		b.logger.Debug("Unhandled command topic", "topic", topic)
		return
	}

	if err != nil {
		b.logger.Error("Command failed", "object", object, "error", err)
	}
}

// commandObject extracts the object segment from ".../<object>/set".
func commandObject(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 || parts[len(parts)-1] != "set" {
		return ""
	}
	return parts[len(parts)-2]
}
