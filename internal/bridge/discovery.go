// Package bridge publishes a Creality printer into Home Assistant using MQTT
// discovery. The entity set is derived from the detected model's capability
// flags: only features the hardware actually has are announced.
package bridge

import (
	"fmt"

	"github.com/buzato/ha-creality-ws/internal/creality"
)

// Availability payloads.
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// deviceInfo is the HA discovery device block shared by every entity, so all
// entities group under one device in the UI.
type deviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	SwVersion    string   `json:"sw_version,omitempty"`
}

// discoveryPayload is the HA MQTT discovery config for one entity.
type discoveryPayload struct {
	Name              string     `json:"name"`
	UniqueID          string     `json:"unique_id"`
	ObjectID          string     `json:"object_id,omitempty"`
	StateTopic        string     `json:"state_topic"`
	CommandTopic      string     `json:"command_topic,omitempty"`
	AvailabilityTopic string     `json:"availability_topic,omitempty"`
	DeviceClass       string     `json:"device_class,omitempty"`
	StateClass        string     `json:"state_class,omitempty"`
	UnitOfMeasurement string     `json:"unit_of_measurement,omitempty"`
	ValueTemplate     string     `json:"value_template,omitempty"`
	PayloadOn         string     `json:"payload_on,omitempty"`
	PayloadOff        string     `json:"payload_off,omitempty"`
	Min               float64    `json:"min,omitempty"`
	Max               float64    `json:"max,omitempty"`
	Step              float64    `json:"step,omitempty"`
	Icon              string     `json:"icon,omitempty"`
	Device            deviceInfo `json:"device"`
}

// entity pairs a discovery payload with the HA component it belongs to.
type entity struct {
	component string // sensor, switch, number
	objectID  string
	payload   discoveryPayload
}

// topics centralizes the topic layout of one bridged printer.
type topics struct {
	discoveryPrefix string
	base            string
	deviceID        string
}

// AvailabilityTopicFor returns the availability topic for a device, so the
// MQTT will message can be configured before the bridge exists.
func AvailabilityTopicFor(deviceID string) string {
	return newTopics("", deviceID).availability()
}

func newTopics(discoveryPrefix, deviceID string) topics {
	return topics{
		discoveryPrefix: discoveryPrefix,
		base:            "ha_creality_ws/" + deviceID,
		deviceID:        deviceID,
	}
}

func (t topics) state() string        { return t.base + "/state" }
func (t topics) availability() string { return t.base + "/availability" }
func (t topics) command(object string) string {
	return t.base + "/" + object + "/set"
}
func (t topics) discovery(component, objectID string) string {
	return fmt.Sprintf("%s/%s/%s/%s/config", t.discoveryPrefix, component, t.deviceID, objectID)
}

// entitiesFor builds the discovery entity set for a detected model. Sensors
// for fields every model reports are unconditional; box and light entities
// follow the capability flags.
func entitiesFor(d creality.ModelDetection, tp topics) []entity {
	dev := deviceInfo{
		Identifiers:  []string{tp.deviceID},
		Name:         "Creality " + d.ResolvedModel(),
		Manufacturer: "Creality",
		Model:        d.ResolvedModel(),
	}

	base := func(name, objectID string) discoveryPayload {
		return discoveryPayload{
			Name:              name,
			UniqueID:          tp.deviceID + "_" + objectID,
			StateTopic:        tp.state(),
			AvailabilityTopic: tp.availability(),
			Device:            dev,
		}
	}

	tempSensor := func(name, objectID, field string) entity {
		p := base(name, objectID)
		p.DeviceClass = "temperature"
		p.StateClass = "measurement"
		p.UnitOfMeasurement = "°C"
		p.ValueTemplate = fmt.Sprintf("{{ value_json.%s }}", field)
		return entity{component: "sensor", objectID: objectID, payload: p}
	}

	nozzle := tempSensor("Nozzle Temperature", "nozzle_temp", "nozzleTemp")
	bed := tempSensor("Bed Temperature", "bed_temp", "bedTemp0")

	progress := base("Print Progress", "print_progress")
	progress.UnitOfMeasurement = "%"
	progress.ValueTemplate = "{{ value_json.printProgress }}"
	progress.Icon = "mdi:progress-clock"

	state := base("Print State", "print_state")
	state.ValueTemplate = "{{ value_json.printState }}"

	pause := base("Pause", "pause")
	pause.CommandTopic = tp.command("pause")
	pause.ValueTemplate = "{{ value_json.paused }}"
	pause.PayloadOn = "ON"
	pause.PayloadOff = "OFF"
	pause.Icon = "mdi:pause"

	out := []entity{
		nozzle,
		bed,
		{component: "sensor", objectID: "print_progress", payload: progress},
		{component: "sensor", objectID: "print_state", payload: state},
		{component: "switch", objectID: "pause", payload: pause},
	}

	if d.HasBoxSensor() {
		out = append(out, tempSensor("Box Temperature", "box_temp", "boxTemp"))
	}
	if d.HasBoxControl() {
		target := base("Box Target Temperature", "box_target")
		target.CommandTopic = tp.command("box_target")
		target.DeviceClass = "temperature"
		target.UnitOfMeasurement = "°C"
		target.ValueTemplate = "{{ value_json.targetBoxTemp }}"
		target.Min = 0
		target.Max = 60
		target.Step = 1
		out = append(out, entity{component: "number", objectID: "box_target", payload: target})
	}
	if d.HasLight() {
		light := base("Light", "light")
		light.CommandTopic = tp.command("light")
		light.ValueTemplate = "{{ value_json.light }}"
		light.PayloadOn = "ON"
		light.PayloadOff = "OFF"
		light.Icon = "mdi:lightbulb"
		out = append(out, entity{component: "switch", objectID: "light", payload: light})
	}

	return out
}
