package creality

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Request is the client → printer command envelope. The firmware understands
// two methods: "get" (query state, reply is a full snapshot) and "set"
// (apply control parameters, reply is a fresh snapshot).
type Request struct {
	Method string         `json:"method"`
	Params map[string]any `json:"params"`
}

// Protocol methods.
const (
	MethodGet = "get"
	MethodSet = "set"
)

// NewGetRequest builds a query request. Params may be nil for a plain status
// query; {"boxsInfo": 1} requests the CFS material payload instead.
func NewGetRequest(params map[string]any) Request {
	if params == nil {
		params = map[string]any{"reqGcodeFile": 1}
	}
	return Request{Method: MethodGet, Params: params}
}

// NewSetRequest builds a control request.
func NewSetRequest(params map[string]any) Request {
	return Request{Method: MethodSet, Params: params}
}

// ackPayload is the bare text frame the firmware sends to acknowledge writes.
var ackPayload = []byte("ok")

// IsAck reports whether a frame is the firmware's bare "ok" acknowledgment.
func IsAck(data []byte) bool {
	return bytes.Equal(bytes.TrimSpace(data), ackPayload)
}

// heartbeatModeCode marks the firmware keepalive frame.
const heartbeatModeCode = "heart_beat"

// Heartbeat is the printer keepalive frame, sent roughly every ten seconds.
type Heartbeat struct {
	ModeCode string `json:"ModeCode"`
}

// NewHeartbeat returns the keepalive frame the firmware emits.
func NewHeartbeat() Heartbeat {
	return Heartbeat{ModeCode: heartbeatModeCode}
}

// IsHeartbeat reports whether a frame is the printer keepalive.
func IsHeartbeat(data []byte) bool {
	var hb Heartbeat
	if err := json.Unmarshal(data, &hb); err != nil {
		return false
	}
	return hb.ModeCode == heartbeatModeCode
}

// ParseSnapshot decodes a telemetry frame into a snapshot. Heartbeats and
// acks must be filtered before calling this.
func ParseSnapshot(data []byte) (TelemetrySnapshot, error) {
	var snap TelemetrySnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decoding telemetry frame: %w", err)
	}
	return snap, nil
}

// ParseRequest decodes a client command frame. Used by the simulator.
func ParseRequest(data []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Request{}, fmt.Errorf("decoding request frame: %w", err)
	}
	return req, nil
}
