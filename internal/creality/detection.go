package creality

import "strings"

// Family groups hardware models sharing a firmware lineage and capability
// baseline.
type Family int

// Hardware families.
const (
	FamilyUnknown Family = iota
	FamilyK1
	FamilyK2
	FamilyEnderV3
	FamilyCrealityHi
)

// Variant identifies a specific printer model within a family.
type Variant int

// Known printer variants.
const (
	VariantUnknown Variant = iota
	VariantK1
	VariantK1C
	VariantK1Max
	VariantK1SE
	VariantK2
	VariantK2Pro
	VariantK2Plus
	VariantCrealityHi
	VariantEnderV3
	VariantEnderV3KE
	VariantEnderV3Plus
)

// CameraMode selects the video transport a model exposes.
type CameraMode string

// Video transports. K2-family printers stream over WebRTC, everything else
// serves MJPEG.
const (
	CameraMJPEG  CameraMode = "mjpeg"
	CameraWebRTC CameraMode = "webrtc"
)

// Capabilities holds the boolean feature set of a detected model.
type Capabilities struct {
	BoxSensor  bool
	BoxControl bool
	Light      bool
}

// variantInfo is one row of the capability table: the family umbrella, the
// canonical display name and the feature set of a variant. Keeping this as a
// single table makes the family-consistency and mutual-exclusivity guarantees
// structural rather than tested after the fact.
type variantInfo struct {
	family Family
	name   string
	caps   Capabilities
	camera CameraMode
}

var variantTable = map[Variant]variantInfo{
	VariantK1:          {FamilyK1, "CR-K1", Capabilities{BoxSensor: true, Light: true}, CameraMJPEG},
	VariantK1C:         {FamilyK1, "K1C", Capabilities{BoxSensor: true, Light: true}, CameraMJPEG},
	VariantK1Max:       {FamilyK1, "CR-K1 Max", Capabilities{BoxSensor: true, Light: true}, CameraMJPEG},
	VariantK1SE:        {FamilyK1, "K1 SE", Capabilities{}, CameraMJPEG},
	VariantK2:          {FamilyK2, "K2", Capabilities{BoxSensor: true, BoxControl: true, Light: true}, CameraWebRTC},
	VariantK2Pro:       {FamilyK2, "K2 Pro", Capabilities{BoxSensor: true, BoxControl: true, Light: true}, CameraWebRTC},
	VariantK2Plus:      {FamilyK2, "K2 Plus", Capabilities{BoxSensor: true, BoxControl: true, Light: true}, CameraWebRTC},
	VariantCrealityHi:  {FamilyCrealityHi, "Creality Hi", Capabilities{Light: true}, CameraMJPEG},
	VariantEnderV3:     {FamilyEnderV3, "Ender 3 V3", Capabilities{}, CameraMJPEG},
	VariantEnderV3KE:   {FamilyEnderV3, "Ender 3 V3 KE", Capabilities{}, CameraMJPEG},
	VariantEnderV3Plus: {FamilyEnderV3, "Ender 3 V3 Plus", Capabilities{}, CameraMJPEG},
}

// unknownInfo is the fail-safe fallback: firmware intermittently blanks the
// identity fields during early boot or self-test, so unrecognized input maps
// to the most conservative capability set instead of an error.
var unknownInfo = variantInfo{FamilyUnknown, "Unknown", Capabilities{}, CameraMJPEG}

// modelNames maps the vendor-reported "model" field to a variant. Matches are
// case-sensitive and exact; the field is authoritative when present.
var modelNames = map[string]Variant{
	"CR-K1":     VariantK1,
	"K1C":       VariantK1C,
	"CR-K1 Max": VariantK1Max,
	"K1 SE":     VariantK1SE,
}

// hardwareCodes maps codes embedded in "modelVersion" to a variant. The code
// is matched by substring containment; modelVersion strings look like
// "Printer HW Ver: F012; Printer SW Ver: 1.2.3".
var hardwareCodes = []struct {
	code    string
	variant Variant
}{
	{"F021", VariantK2},
	{"F012", VariantK2Pro},
	{"F008", VariantK2Plus},
	{"F018", VariantCrealityHi},
	{"F005", VariantEnderV3KE},
	{"F002", VariantEnderV3Plus},
	{"F001", VariantEnderV3},
}

// ModelDetection is the classification result for one telemetry snapshot.
// It is a value object: construct a fresh one per telemetry update rather
// than mutating a shared instance.
type ModelDetection struct {
	variant Variant
	info    variantInfo
}

// Classify resolves the hardware family, model and capability set from a
// telemetry snapshot. It is total and pure: the vendor-reported "model"
// string wins when it matches a known name; otherwise "modelVersion" is
// scanned for exactly one embedded hardware code; anything else falls through
// to the Unknown result.
func Classify(snap TelemetrySnapshot) ModelDetection {
	if v, ok := modelNames[snap.Model()]; ok {
		return ModelDetection{variant: v, info: variantTable[v]}
	}

	// A modelVersion containing more than one code is ambiguous vendor
	// garbage; treat it as unknown rather than guessing a precedence.
	matched := VariantUnknown
	matches := 0
	version := snap.ModelVersion()
	if version != "" {
		for _, hc := range hardwareCodes {
			if strings.Contains(version, hc.code) {
				matched = hc.variant
				matches++
			}
		}
	}
	if matches == 1 {
		return ModelDetection{variant: matched, info: variantTable[matched]}
	}

	return ModelDetection{variant: VariantUnknown, info: unknownInfo}
}

// Variant returns the detected variant, VariantUnknown when unresolved.
func (d ModelDetection) Variant() Variant { return d.variant }

// Family returns the detected hardware family.
func (d ModelDetection) Family() Family { return d.info.family }

// ResolvedModel returns the canonical display name of the detected model.
// Never empty; unresolved hardware reports "Unknown".
func (d ModelDetection) ResolvedModel() string { return d.info.name }

// Capabilities returns the feature set of the detected model.
func (d ModelDetection) Capabilities() Capabilities { return d.info.caps }

// CameraMode returns the video transport the detected model exposes.
func (d ModelDetection) CameraMode() CameraMode { return d.info.camera }

// IsK1Family reports membership of the K1 family (CR-K1, K1C, K1 Max, K1 SE).
func (d ModelDetection) IsK1Family() bool { return d.info.family == FamilyK1 }

// IsK1C reports the K1C model specifically.
func (d ModelDetection) IsK1C() bool { return d.variant == VariantK1C }

// IsK2Family reports membership of the K2 family.
func (d ModelDetection) IsK2Family() bool { return d.info.family == FamilyK2 }

// IsK2Base reports the base K2 model.
func (d ModelDetection) IsK2Base() bool { return d.variant == VariantK2 }

// IsK2Pro reports the K2 Pro model.
func (d ModelDetection) IsK2Pro() bool { return d.variant == VariantK2Pro }

// IsK2Plus reports the K2 Plus model.
func (d ModelDetection) IsK2Plus() bool { return d.variant == VariantK2Plus }

// IsEnderV3Family reports membership of the Ender 3 V3 family.
func (d ModelDetection) IsEnderV3Family() bool { return d.info.family == FamilyEnderV3 }

// IsEnderV3 reports the base Ender 3 V3 model.
func (d ModelDetection) IsEnderV3() bool { return d.variant == VariantEnderV3 }

// IsEnderV3KE reports the Ender 3 V3 KE model.
func (d ModelDetection) IsEnderV3KE() bool { return d.variant == VariantEnderV3KE }

// IsEnderV3Plus reports the Ender 3 V3 Plus model.
func (d ModelDetection) IsEnderV3Plus() bool { return d.variant == VariantEnderV3Plus }

// IsCrealityHi reports the Creality Hi model.
func (d ModelDetection) IsCrealityHi() bool { return d.info.family == FamilyCrealityHi }

// HasBoxSensor reports whether the model carries a box temperature sensor.
func (d ModelDetection) HasBoxSensor() bool { return d.info.caps.BoxSensor }

// HasBoxControl reports whether the model accepts a box temperature target.
func (d ModelDetection) HasBoxControl() bool { return d.info.caps.BoxControl }

// HasLight reports whether the model has a controllable light.
func (d ModelDetection) HasLight() bool { return d.info.caps.Light }

// VariantForModelName returns the variant registered for a vendor model name,
// or VariantUnknown. Used by the simulator to pick a hardware profile.
func VariantForModelName(name string) Variant {
	if v, ok := modelNames[name]; ok {
		return v
	}
	return VariantUnknown
}

// HardwareCode returns the "modelVersion" code a variant reports, or "" for
// variants identified by model name only.
func HardwareCode(v Variant) string {
	for _, hc := range hardwareCodes {
		if hc.variant == v {
			return hc.code
		}
	}
	return ""
}

// DisplayName returns the canonical display name for a variant.
func DisplayName(v Variant) string {
	if info, ok := variantTable[v]; ok {
		return info.name
	}
	return unknownInfo.name
}

// CapabilitiesFor returns the capability set for a variant.
func CapabilitiesFor(v Variant) Capabilities {
	if info, ok := variantTable[v]; ok {
		return info.caps
	}
	return unknownInfo.caps
}

// CameraModeFor returns the video transport for a variant.
func CameraModeFor(v Variant) CameraMode {
	if info, ok := variantTable[v]; ok {
		return info.camera
	}
	return unknownInfo.camera
}

// ModelNameFor returns the vendor "model" string a variant reports over the
// wire: the short name for K1-family models, the hardware code for models
// identified by code.
func ModelNameFor(v Variant) string {
	for name, mv := range modelNames {
		if mv == v {
			return name
		}
	}
	return HardwareCode(v)
}
