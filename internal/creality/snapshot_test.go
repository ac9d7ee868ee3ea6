package creality

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestTelemetrySnapshot_Accessors(t *testing.T) {
	t.Parallel()

	snap := TelemetrySnapshot{
		"model":        "K1C",
		"modelVersion": "V5.1.3",
		"nozzleTemp":   210.4,
		"layer":        float64(37),
		"lightSw":      float64(1),
	}

	if got := snap.Model(); got != "K1C" {
		t.Errorf("Model() = %q, want %q", got, "K1C")
	}
	if got := snap.ModelVersion(); got != "V5.1.3" {
		t.Errorf("ModelVersion() = %q, want %q", got, "V5.1.3")
	}
	if !snap.Has("lightSw") || snap.Has("boxTemp") {
		t.Error("Has() misreports key presence")
	}
	if layer, ok := snap.Int("layer"); !ok || layer != 37 {
		t.Errorf("Int(layer) = %v, %v; want 37, true", layer, ok)
	}
	if _, ok := snap.Float("model"); ok {
		t.Error("Float() must reject non-numeric values")
	}
	if got := snap.String("nozzleTemp"); got != "" {
		t.Errorf("String() on numeric field = %q, want empty", got)
	}
}

func TestTelemetrySnapshot_Merge(t *testing.T) {
	t.Parallel()

	base := TelemetrySnapshot{"model": "K1C", "nozzleTemp": 25.0, "state": float64(0)}
	base.Merge(TelemetrySnapshot{"nozzleTemp": 210.0, "printProgress": float64(10)})

	want := TelemetrySnapshot{
		"model":         "K1C",
		"nozzleTemp":    210.0,
		"state":         float64(0),
		"printProgress": float64(10),
	}
	if diff := cmp.Diff(want, base); diff != "" {
		t.Errorf("merged snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestTelemetrySnapshot_CloneIsIndependent(t *testing.T) {
	t.Parallel()

	orig := TelemetrySnapshot{"model": "CR-K1"}
	clone := orig.Clone()
	clone["model"] = "K1C"

	if orig.Model() != "CR-K1" {
		t.Error("mutating a clone must not affect the original")
	}
}
