package simulator

import (
	"testing"
	"time"

	"github.com/buzato/ha-creality-ws/internal/creality"
)

func newTestState(modelKey string, simulatePrint bool) *State {
	opts := DefaultOptions()
	opts.ModelKey = modelKey
	opts.SimulatePrint = simulatePrint
	opts.SelfTestPeriod = 0
	return NewState(opts)
}

func TestVariantForKey(t *testing.T) {
	t.Parallel()

	if v, ok := VariantForKey("k1c"); !ok || v != creality.VariantK1C {
		t.Errorf("VariantForKey(k1c) = %v, %v", v, ok)
	}
	if v, ok := VariantForKey(" K2PRO "); !ok || v != creality.VariantK2Pro {
		t.Errorf("VariantForKey with casing/spacing = %v, %v", v, ok)
	}
	if v, ok := VariantForKey("voron"); ok || v != creality.VariantK2Plus {
		t.Errorf("unknown key = %v, %v; want K2 Plus fallback", v, ok)
	}
}

// Every emulated model must be recognized by the detector from its own
// telemetry, closing the loop between the simulator and the classifier.
func TestSnapshot_RoundTripsThroughClassifier(t *testing.T) {
	t.Parallel()

	for _, key := range ModelKeys() {
		key := key
		t.Run(key, func(t *testing.T) {
			t.Parallel()

			state := newTestState(key, false)
			snap := creality.TelemetrySnapshot(state.Snapshot())
			d := creality.Classify(snap)
			if d.Variant() != state.Variant() {
				t.Errorf("Classify() = %v, emulating %v", d.Variant(), state.Variant())
			}
		})
	}
}

func TestSnapshot_CapabilityGatedFields(t *testing.T) {
	t.Parallel()

	tests := []struct {
		key           string
		wantBoxTemp   bool
		wantBoxTarget bool
		wantLight     bool
	}{
		{"k2plus", true, true, true},
		{"k2", true, true, true},
		{"k1c", true, false, true},
		{"crealityhi", false, false, true},
		{"e3v3ke", false, false, false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.key, func(t *testing.T) {
			t.Parallel()

			snap := newTestState(tt.key, false).Snapshot()
			if _, ok := snap["boxTemp"]; ok != tt.wantBoxTemp {
				t.Errorf("boxTemp present = %v, want %v", ok, tt.wantBoxTemp)
			}
			if _, ok := snap["targetBoxTemp"]; ok != tt.wantBoxTarget {
				t.Errorf("targetBoxTemp present = %v, want %v", ok, tt.wantBoxTarget)
			}
			if _, ok := snap["lightSw"]; ok != tt.wantLight {
				t.Errorf("lightSw present = %v, want %v", ok, tt.wantLight)
			}
		})
	}
}

func TestSnapshot_IdleWithoutSimulatedPrint(t *testing.T) {
	t.Parallel()

	snap := newTestState("k1c", false).Snapshot()
	if snap["printFileName"] != "" {
		t.Errorf("printFileName = %v, want empty", snap["printFileName"])
	}
	if snap["printProgress"] != 0 {
		t.Errorf("printProgress = %v, want 0", snap["printProgress"])
	}
	if snap["state"] != stateIdle {
		t.Errorf("state = %v, want idle", snap["state"])
	}
}

func TestApplySet_Dispatch(t *testing.T) {
	t.Parallel()

	state := newTestState("k2plus", true)

	if !state.ApplySet(map[string]any{"pause": float64(1)}) {
		t.Fatal("pause not handled")
	}
	if !state.Paused() || state.StateCode() != statePaused {
		t.Errorf("after pause: paused=%v state=%d", state.Paused(), state.StateCode())
	}

	if !state.ApplySet(map[string]any{"pause": float64(0)}) {
		t.Fatal("resume not handled")
	}
	if state.Paused() {
		t.Error("still paused after resume")
	}

	if !state.ApplySet(map[string]any{"lightSw": float64(1)}) {
		t.Fatal("lightSw not handled")
	}
	if !state.LightOn() {
		t.Error("light not on")
	}

	if !state.ApplySet(map[string]any{"bedTempControl": map[string]any{"val": float64(65)}}) {
		t.Fatal("bedTempControl not handled")
	}
	if got := state.Snapshot()["targetBedTemp0"]; got != 65.0 {
		t.Errorf("targetBedTemp0 = %v, want 65", got)
	}

	if !state.ApplySet(map[string]any{"boxTempControl": float64(42)}) {
		t.Fatal("boxTempControl not handled")
	}
	if got := state.Snapshot()["targetBoxTemp"]; got != 42.0 {
		t.Errorf("targetBoxTemp = %v, want 42", got)
	}

	if state.ApplySet(map[string]any{"warpSpeed": float64(9)}) {
		t.Error("unknown parameter reported as handled")
	}
}

func TestApplySet_CapabilityGating(t *testing.T) {
	t.Parallel()

	// Ender 3 V3 KE: no light, no box control. Commands are accepted by the
	// protocol but have no effect, like real firmware.
	state := newTestState("e3v3ke", false)

	state.ApplySet(map[string]any{"lightSw": float64(1)})
	if state.LightOn() {
		t.Error("light turned on for a lightless model")
	}

	state.ApplySet(map[string]any{"boxTempControl": float64(50)})
	if _, ok := state.Snapshot()["targetBoxTemp"]; ok {
		t.Error("box target appeared on a model without box control")
	}
}

func TestSetStop_ResetsJob(t *testing.T) {
	t.Parallel()

	opts := DefaultOptions()
	opts.ModelKey = "k2plus"
	opts.SimulatePrint = true
	opts.SelfTestPeriod = 0
	opts.PrintDuration = time.Millisecond
	state := NewState(opts)

	time.Sleep(5 * time.Millisecond)
	state.Tick()
	if snap := state.Snapshot(); snap["printProgress"] == 0 {
		t.Fatal("print did not progress")
	}

	state.SetStop()
	snap := state.Snapshot()
	if snap["printProgress"] != 0 || snap["layer"] != 0 || snap["state"] != stateIdle {
		t.Errorf("after stop: progress=%v layer=%v state=%v",
			snap["printProgress"], snap["layer"], snap["state"])
	}
}

func TestTick_TempsConvergeTowardTargets(t *testing.T) {
	t.Parallel()

	opts := DefaultOptions()
	opts.ModelKey = "k1c"
	opts.TargetNozzle = 200
	opts.TargetBed = 60
	state := NewState(opts)

	for i := 0; i < 100; i++ {
		state.Tick()
	}
	snap := state.Snapshot()

	nozzle := snap["nozzleTemp"].(float64)
	if nozzle < 190 || nozzle > 210 {
		t.Errorf("nozzleTemp = %v, want near 200", nozzle)
	}
	bed := snap["bedTemp0"].(float64)
	if bed < 55 || bed > 65 {
		t.Errorf("bedTemp0 = %v, want near 60", bed)
	}
}

func TestSetAutohome(t *testing.T) {
	t.Parallel()

	state := newTestState("k1c", true)
	for i := 0; i < 20; i++ {
		state.Tick()
	}
	state.SetAutohome("XY")
	snap := state.Snapshot()
	if pos := snap["curPosition"].(string); pos[:12] != "X:0.00 Y:0.0" {
		t.Errorf("curPosition after homing = %q", pos)
	}
}

func TestCFSInfo_Shape(t *testing.T) {
	t.Parallel()

	info := newTestState("k2plus", false).CFSInfo()
	boxsInfo, ok := info["boxsInfo"].(map[string]any)
	if !ok {
		t.Fatal("boxsInfo missing")
	}
	boxes, ok := boxsInfo["materialBoxs"].([]map[string]any)
	if !ok || len(boxes) != 2 {
		t.Fatalf("materialBoxs = %v", boxsInfo["materialBoxs"])
	}
	// box type 0 carries temperature and humidity sensors
	if _, ok := boxes[1]["temp"]; !ok {
		t.Error("CFS box missing temp")
	}
	if _, ok := boxes[1]["humidity"]; !ok {
		t.Error("CFS box missing humidity")
	}
}
