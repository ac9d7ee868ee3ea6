// Package creality implements the JSON-over-WebSocket protocol spoken by
// Creality K-series printers: telemetry snapshots, model/capability
// detection, and a reconnecting client.
package creality

// TelemetrySnapshot is a read-only view over one merged telemetry payload as
// received from the printer. Values keep the loose typing of the wire format
// (JSON numbers decode as float64); the accessors below absorb missing keys
// and wrong types instead of failing.
type TelemetrySnapshot map[string]any

// Model returns the vendor-reported short model name ("CR-K1", "K1C", ...).
// Empty when the field is absent or not a string.
func (s TelemetrySnapshot) Model() string {
	return s.String("model")
}

// ModelVersion returns the vendor-reported version/build string, which may
// embed a hardware code such as "F012". Empty when absent.
func (s TelemetrySnapshot) ModelVersion() string {
	return s.String("modelVersion")
}

// Has reports whether the key is present in the snapshot.
func (s TelemetrySnapshot) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// String returns the value for key as a string, or "" when the key is absent
// or holds a non-string value.
func (s TelemetrySnapshot) String(key string) string {
	if v, ok := s[key].(string); ok {
		return v
	}
	return ""
}

// Float returns the value for key as a float64. JSON numbers always decode as
// float64, so this covers every numeric telemetry field.
func (s TelemetrySnapshot) Float(key string) (float64, bool) {
	switch v := s[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// Int returns the value for key truncated to an int.
func (s TelemetrySnapshot) Int(key string) (int, bool) {
	f, ok := s.Float(key)
	return int(f), ok
}

// Clone returns a shallow copy of the snapshot.
func (s TelemetrySnapshot) Clone() TelemetrySnapshot {
	out := make(TelemetrySnapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Merge overlays the fields of update onto the snapshot, in place. Creality
// firmware pushes partial snapshots; the merged map is the device state.
func (s TelemetrySnapshot) Merge(update TelemetrySnapshot) {
	for k, v := range update {
		s[k] = v
	}
}
