// Package simulator emulates a Creality printer: the WebSocket telemetry
// protocol on one port and the camera HTTP endpoints on another. It exists so
// the bridge can be exercised end to end without hardware.
package simulator

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/buzato/ha-creality-ws/internal/creality"
)

// modelKeys maps the CLI model key to the variant it emulates.
var modelKeys = map[string]creality.Variant{
	"k1":         creality.VariantK1,
	"k1c":        creality.VariantK1C,
	"k1max":      creality.VariantK1Max,
	"k1se":       creality.VariantK1SE,
	"k2":         creality.VariantK2,
	"k2pro":      creality.VariantK2Pro,
	"k2plus":     creality.VariantK2Plus,
	"e3v3":       creality.VariantEnderV3,
	"e3v3ke":     creality.VariantEnderV3KE,
	"e3v3plus":   creality.VariantEnderV3Plus,
	"crealityhi": creality.VariantCrealityHi,
}

// ModelKeys returns the accepted --model values, sorted.
func ModelKeys() []string {
	keys := make([]string, 0, len(modelKeys))
	for k := range modelKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// VariantForKey resolves a CLI model key, defaulting to K2 Plus.
func VariantForKey(key string) (creality.Variant, bool) {
	v, ok := modelKeys[strings.ToLower(strings.TrimSpace(key))]
	if !ok {
		return creality.VariantK2Plus, false
	}
	return v, true
}

// Options configures a simulated print job.
type Options struct {
	ModelKey         string
	SimulatePrint    bool
	PrintDuration    time.Duration
	TotalLayers      int
	TotalObjects     int
	SelfTestPeriod   time.Duration
	TargetNozzle     float64
	TargetBed        float64
	TargetBox        float64
	MaxX, MaxY, MaxZ float64
}

// DefaultOptions mirrors the defaults of the reference device.
func DefaultOptions() Options {
	return Options{
		ModelKey:       "k2plus",
		PrintDuration:  10 * time.Minute,
		TotalLayers:    120,
		TotalObjects:   6,
		SelfTestPeriod: 5 * time.Second,
		TargetNozzle:   250,
		TargetBed:      70,
		TargetBox:      50,
		MaxX:           235,
		MaxY:           235,
		MaxZ:           250,
	}
}

// Firmware state codes reported in the "state" field.
const (
	stateIdle     = 0
	statePrinting = 1
	stateSelfTest = 2
	statePaused   = 5
)

// State is the simulated printer. All methods are safe for concurrent use;
// the WS server ticks it and every connection snapshots it.
type State struct {
	variant creality.Variant
	caps    creality.Capabilities
	camera  creality.CameraMode
	opts    Options

	mu sync.Mutex

	paused    bool
	lightOn   bool
	stateCode int
	// deviceState is 0 idle, 7 homing.
	deviceState int

	progress    int
	printStart  time.Time
	selfTestEnd time.Time

	nozzleTemp, nozzleTarget float64
	bedTemp, bedTarget       float64
	boxTemp, boxTarget       float64

	posX, posY, posZ float64

	printFile      string
	objectCount    int
	curObjectIndex int
	layerTotal     int
	curLayer       int

	usedMaterial float64
	realTimeFlow float64

	feedratePct float64
	flowratePct float64

	caseFan, modelFan, sideFan int

	materialStatus int
	errorCode      int

	rng *rand.Rand
}

// NewState builds a simulated printer for the given options. Unknown model
// keys fall back to K2 Plus, matching the reference device's tolerance.
func NewState(opts Options) *State {
	variant, _ := VariantForKey(opts.ModelKey)
	now := time.Now()

	s := &State{
		variant:     variant,
		caps:        creality.CapabilitiesFor(variant),
		camera:      creality.CameraModeFor(variant),
		opts:        opts,
		nozzleTemp:  25,
		bedTemp:     25,
		boxTemp:     26,
		printFile:   "demo.gcode",
		objectCount: opts.TotalObjects,
		layerTotal:  opts.TotalLayers,
		feedratePct: 100,
		flowratePct: 100,
		rng:         rand.New(rand.NewSource(now.UnixNano())),
	}
	s.nozzleTarget = opts.TargetNozzle
	s.bedTarget = opts.TargetBed
	if s.caps.BoxControl {
		s.boxTarget = opts.TargetBox
	}
	if opts.SimulatePrint {
		s.selfTestEnd = now.Add(opts.SelfTestPeriod)
		if opts.SelfTestPeriod > 0 {
			s.stateCode = stateSelfTest
		} else {
			s.stateCode = statePrinting
			s.printStart = now
		}
	}
	return s
}

// Variant returns the emulated hardware variant.
func (s *State) Variant() creality.Variant { return s.variant }

// CameraMode returns the video transport the emulated model exposes.
func (s *State) CameraMode() creality.CameraMode { return s.camera }

// osc shifts v by a random amount in ±[low, high].
func (s *State) osc(v, low, high float64) float64 {
	span := low + s.rng.Float64()*(high-low)
	return v + (s.rng.Float64()*2-1)*span
}

// SetPause pauses or resumes the simulated job.
func (s *State) SetPause(paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = paused
	if paused {
		s.stateCode = statePaused
	} else if s.progress < 100 {
		s.stateCode = statePrinting
	} else {
		s.stateCode = stateIdle
	}
}

// SetStop aborts the job and resets the print timeline.
func (s *State) SetStop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
	s.progress = 0
	s.curLayer = 0
	s.usedMaterial = 0
	s.realTimeFlow = 0
	s.deviceState = 0
	s.printStart = time.Time{}
	s.stateCode = stateIdle
}

// SetLight switches the chamber light; ignored for models without one.
func (s *State) SetLight(on bool) {
	if !s.caps.Light {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lightOn = on
}

// SetBoxTemp sets the box target; ignored for models without box control.
func (s *State) SetBoxTemp(temp float64) {
	if !s.caps.BoxControl {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.boxTarget = temp
}

// SetNozzleTemp sets the nozzle target temperature.
func (s *State) SetNozzleTemp(temp float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nozzleTarget = temp
}

// SetBedTemp sets the bed target temperature.
func (s *State) SetBedTemp(temp float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bedTarget = temp
}

// SetFeedrate sets the feedrate percentage.
func (s *State) SetFeedrate(pct float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedratePct = pct
}

// SetFlowrate sets the flowrate percentage.
func (s *State) SetFlowrate(pct float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flowratePct = pct
}

// SetAutohome homes the named axes instantly.
func (s *State) SetAutohome(axes string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	upper := strings.ToUpper(axes)
	if strings.Contains(upper, "X") {
		s.posX = 0
	}
	if strings.Contains(upper, "Y") {
		s.posY = 0
	}
	if strings.Contains(upper, "Z") {
		s.posZ = 0
	}
	s.deviceState = 0
}

// SetMaterialStatus records the filament sensor status.
func (s *State) SetMaterialStatus(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.materialStatus = status
}

// Tick advances the simulation one step. Called every 200ms by the server.
func (s *State) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickTemps()
	s.tickPrint()
}

// tickTemps converges temperatures toward their targets with a small
// oscillation, so values never sit perfectly still.
func (s *State) tickTemps() {
	converge := func(cur, target float64) float64 {
		next := cur + (target-cur)*0.10
		return s.osc(next, 0.1, 0.2)
	}
	s.nozzleTemp = converge(s.nozzleTemp, s.nozzleTarget)
	s.bedTemp = converge(s.bedTemp, s.bedTarget)
	if s.caps.BoxSensor {
		target := s.boxTarget
		if !s.caps.BoxControl {
			// Passive chambers warm slightly with the nozzle.
			target = 26.0 + 0.05*max(0, s.nozzleTemp-25.0)
		}
		s.boxTemp = converge(s.boxTemp, target)
	}
}

func (s *State) tickPrint() {
	now := time.Now()
	if !s.opts.SimulatePrint {
		if s.paused {
			s.stateCode = statePaused
		} else {
			s.stateCode = stateIdle
		}
		return
	}

	if now.Before(s.selfTestEnd) {
		s.stateCode = stateSelfTest
		return
	}
	if s.printStart.IsZero() {
		s.printStart = now
	}

	switch {
	case s.paused:
		s.stateCode = statePaused
	case s.progress < 100:
		s.stateCode = statePrinting
	default:
		s.stateCode = stateIdle
	}
	if s.stateCode != statePrinting {
		return
	}

	elapsed := now.Sub(s.printStart)
	pct := int(100 * elapsed / s.opts.PrintDuration)
	if pct > 100 {
		pct = 100
	}
	// progress only moves forward
	if pct > s.progress {
		s.progress = pct
	}
	s.usedMaterial = float64(s.progress) * 10
	s.curLayer = s.progress * s.layerTotal / 100
	if s.objectCount > 0 {
		idx := 1 + s.progress*s.objectCount/100
		if idx > s.objectCount {
			idx = s.objectCount
		}
		s.curObjectIndex = idx
	}
	s.realTimeFlow = 0.5 + float64(s.progress)/100*0.5

	// fan jitter with occasional bridge boosts
	boost := 0.0
	if s.rng.Float64() < 0.1 {
		boost = 20
	}
	s.caseFan = clampPct(s.rng.NormFloat64()*10 + 60)
	s.modelFan = clampPct(s.rng.NormFloat64()*15 + 70 + boost)
	s.sideFan = clampPct(s.rng.NormFloat64()*20 + 50 + boost)

	jitter := func(v, step, limit float64) float64 {
		v += (s.rng.Float64()*2 - 1) * step
		if v < 0 {
			return 0
		}
		if v > limit {
			return limit
		}
		return v
	}
	s.posX = jitter(s.posX, 3, s.opts.MaxX)
	s.posY = jitter(s.posY, 3, s.opts.MaxY)
	s.posZ = jitter(s.posZ, 0.2, s.opts.MaxZ)
}

func clampPct(v float64) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return int(v)
}

// Snapshot renders the telemetry document the printer pushes over WS. The key
// set matches what real firmware reports; box and light fields only appear on
// models with the hardware.
func (s *State) Snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	modelName := creality.ModelNameFor(s.variant)
	now := time.Now()

	objects := make([]map[string]any, 0, s.objectCount)
	for i := 0; i < s.objectCount; i++ {
		objects = append(objects, map[string]any{
			"name":  fmt.Sprintf("obj%d", i+1),
			"index": i + 1,
		})
	}

	var jobTime, leftTime int
	var file string
	progress := 0
	if s.opts.SimulatePrint {
		file = s.printFile
		progress = s.progress
		start := s.printStart
		if start.IsZero() {
			start = now
		}
		jobTime = int(now.Sub(start).Seconds())
		leftTime = int(s.opts.PrintDuration.Seconds()) - jobTime
		if leftTime < 0 {
			leftTime = 0
		}
	}

	d := map[string]any{
		"model":        modelName,
		"hostname":     "creality-" + strings.ToLower(strings.TrimSpace(s.opts.ModelKey)),
		"modelVersion": fmt.Sprintf("Printer HW Ver: %s; Printer SW Ver: sim-1", modelName),

		"nozzleTemp":       round2(s.nozzleTemp),
		"bedTemp0":         round2(s.bedTemp),
		"targetNozzleTemp": round1(s.nozzleTarget),
		"targetBedTemp0":   round1(s.bedTarget),
		"maxNozzleTemp":    300.0,
		"maxBedTemp":       120.0,

		"curPosition": fmt.Sprintf("X:%.2f Y:%.2f Z:%.2f", s.posX, s.posY, s.posZ),
		"deviceState": s.deviceState,

		"state": s.stateCode,
		"err":   map[string]any{"errcode": s.errorCode},

		"objects_list":   objects,
		"curObjectIndex": s.curObjectIndex,
		"printFileName":  file,
		"printProgress":  progress,
		"dProgress":      progress,
		"printJobTime":   jobTime,
		"printLeftTime":  leftTime,

		"usedMaterialLength": round1(s.usedMaterial),
		"realTimeFlow":       round3(s.realTimeFlow),

		"layer":      s.curLayer,
		"TotalLayer": s.layerTotal,

		"feedratePct":    s.feedratePct,
		"flowratePct":    s.flowratePct,
		"curFeedratePct": s.feedratePct,
		"curFlowratePct": s.flowratePct,

		"caseFan":  s.caseFan,
		"modelFan": s.modelFan,
		"sideFan":  s.sideFan,

		"materialStatus": s.materialStatus,
	}

	if s.caps.BoxSensor {
		d["boxTemp"] = round2(s.boxTemp)
		d["maxBoxTemp"] = 80.0
		if s.caps.BoxControl {
			d["targetBoxTemp"] = round1(s.boxTarget)
		}
	}
	if s.caps.Light {
		d["lightSw"] = boolToInt(s.lightOn)
	}
	return d
}

// CFSInfo renders the filament-system status payload returned for
// {"method":"get","params":{"boxsInfo":1}} requests.
func (s *State) CFSInfo() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	material := func(id int, vendor, name, color string, percent, selected int) map[string]any {
		return map[string]any{
			"id":       id,
			"vendor":   vendor,
			"type":     "PLA",
			"name":     name,
			"color":    color,
			"percent":  percent,
			"state":    1,
			"selected": selected,
		}
	}

	spool := material(0, "Generic", "Generic PLA", "#01b04ae", 100, 0)
	spool["minTemp"] = 190
	spool["maxTemp"] = 240

	boxes := []map[string]any{
		{
			"id":        0,
			"state":     0,
			"type":      1,
			"materials": []map[string]any{spool},
		},
		{
			"id":       1,
			"state":    1,
			"type":     0,
			"temp":     round1(s.osc(28, 0.5, 1.0)),
			"humidity": round1(s.osc(40, 1.0, 2.0)),
			"materials": []map[string]any{
				material(0, "Creality", "Hyper PLA", "#0000000", 95, 1),
				material(1, "Creality", "Hyper PLA", "#0ffffff", 80, 0),
				material(2, "Creality", "Hyper PLA", "#0ffa800", 100, 0),
				material(3, "Creality", "Hyper PLA", "#0ff97e1", 75, 0),
			},
		},
	}

	return map[string]any{
		"boxsInfo": map[string]any{
			"same_material": []any{
				[]any{"001001", "0000000", []map[string]any{{"boxId": 1, "materialId": 0}}, "PLA"},
				[]any{"001001", "0ffffff", []map[string]any{{"boxId": 1, "materialId": 1}}, "PLA"},
			},
			"materialBoxs": boxes,
		},
	}
}

// ApplySet handles one "set" request's params, mirroring the firmware's
// first-match dispatch. Returns false when no parameter was recognized.
func (s *State) ApplySet(params map[string]any) bool {
	switch {
	case hasKey(params, "pause"):
		s.SetPause(intValue(params["pause"]) != 0)
	case hasKey(params, "stop"):
		s.SetStop()
	case hasKey(params, "nozzleTempControl"):
		s.SetNozzleTemp(floatValue(params["nozzleTempControl"]))
	case hasKey(params, "bedTempControl"):
		// bedTempControl arrives as {"val": N} or a bare number
		if m, ok := params["bedTempControl"].(map[string]any); ok {
			s.SetBedTemp(floatValue(m["val"]))
		} else {
			s.SetBedTemp(floatValue(params["bedTempControl"]))
		}
	case hasKey(params, "boxTempControl"):
		s.SetBoxTemp(floatValue(params["boxTempControl"]))
	case hasKey(params, "targetBoxTemp"):
		s.SetBoxTemp(floatValue(params["targetBoxTemp"]))
	case hasKey(params, "lightSw"):
		s.SetLight(intValue(params["lightSw"]) != 0)
	case hasKey(params, "light"):
		s.SetLight(intValue(params["light"]) != 0)
	case hasKey(params, "autohome"):
		axes, _ := params["autohome"].(string)
		if axes == "" {
			axes = "XYZ"
		}
		s.SetAutohome(axes)
	case hasKey(params, "setFeedratePct"):
		s.SetFeedrate(floatValue(params["setFeedratePct"]))
	case hasKey(params, "setFlowratePct"):
		s.SetFlowrate(floatValue(params["setFlowratePct"]))
	case hasKey(params, "gcodeCmd"):
		// accepted, no simulated effect
	case hasKey(params, "materialStatus"):
		s.SetMaterialStatus(intValue(params["materialStatus"]))
	default:
		return false
	}
	return true
}

// read accessors for tests and the info page

// Paused reports the pause flag.
func (s *State) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// LightOn reports the light switch state.
func (s *State) LightOn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lightOn
}

// StateCode returns the current firmware state code.
func (s *State) StateCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateCode
}

func hasKey(m map[string]any, key string) bool {
	_, ok := m[key]
	return ok
}

func floatValue(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case string:
		var f float64
		fmt.Sscanf(n, "%f", &f)
		return f
	}
	return 0
}

func intValue(v any) int {
	return int(floatValue(v))
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func round1(v float64) float64 { return roundTo(v, 10) }
func round2(v float64) float64 { return roundTo(v, 100) }
func round3(v float64) float64 { return roundTo(v, 1000) }

func roundTo(v float64, scale float64) float64 {
	if v < 0 {
		return float64(int(v*scale-0.5)) / scale
	}
	return float64(int(v*scale+0.5)) / scale
}
