package sim

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"blesim/geom"
	"blesim/radio"
)

// Scenario describes one simulation run: the scene, the device's path, and
// radio overrides. Optional fields are pointers so a partial JSON file keeps
// the defaults; the Get* accessors apply them.
type Scenario struct {
	Name          string   `json:"name"`
	MetersPerUnit *float64 `json:"meters_per_unit,omitempty"`
	TickMs        *int     `json:"tick_ms,omitempty"`
	StepsPerLeg   *int     `json:"steps_per_leg,omitempty"`
	Seed          *int64   `json:"seed,omitempty"`

	Beacons []ScenarioBeacon `json:"beacons"`
	Walls   []ScenarioWall   `json:"walls"`
	Path    []ScenarioPoint  `json:"path"`

	Radio RadioParams `json:"radio"`
}

type ScenarioPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type ScenarioBeacon struct {
	ID int     `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

type ScenarioWall struct {
	X1     float64 `json:"x1"`
	Y1     float64 `json:"y1"`
	X2     float64 `json:"x2"`
	Y2     float64 `json:"y2"`
	LossDb float64 `json:"loss_db"`
}

// RadioParams overrides the propagation defaults per scenario. Nil fields
// inherit radio.DefaultConfig.
type RadioParams struct {
	TxPowerAt1m         *float64 `json:"tx_power_at_1m,omitempty"`
	PathLossExponent    *float64 `json:"path_loss_exponent,omitempty"`
	WallAttenuation     *bool    `json:"wall_attenuation,omitempty"`
	AngleEffect         *bool    `json:"angle_effect,omitempty"`
	CumulativeEffect    *bool    `json:"cumulative_effect,omitempty"`
	Noise               *bool    `json:"noise,omitempty"`
	NoiseStdDevDb       *float64 `json:"noise_std_dev_db,omitempty"`
	MinDetectionRssiDbm *float64 `json:"min_detection_rssi_dbm,omitempty"`
}

// Config folds the overrides onto the model defaults. The noise source is
// not set here; the runner injects one from the scenario seed.
func (p RadioParams) Config() radio.Config {
	cfg := radio.DefaultConfig()
	if p.TxPowerAt1m != nil {
		cfg.TxPowerAt1m = *p.TxPowerAt1m
	}
	if p.PathLossExponent != nil {
		cfg.PathLossExponent = *p.PathLossExponent
	}
	if p.WallAttenuation != nil {
		cfg.WallAttenuation = *p.WallAttenuation
	}
	if p.AngleEffect != nil {
		cfg.AngleEffect = *p.AngleEffect
	}
	if p.CumulativeEffect != nil {
		cfg.CumulativeEffect = *p.CumulativeEffect
	}
	if p.Noise != nil {
		cfg.Noise = *p.Noise
	}
	if p.NoiseStdDevDb != nil {
		cfg.NoiseStdDevDb = *p.NoiseStdDevDb
	}
	if p.MinDetectionRssiDbm != nil {
		cfg.MinDetectionRssiDbm = *p.MinDetectionRssiDbm
	}
	return cfg
}

// TraceMeta is the config blob embedded in recorded traces, enough to
// replay them without the scenario file at hand.
type TraceMeta struct {
	Scenario      string      `json:"scenario,omitempty"`
	MetersPerUnit float64     `json:"meters_per_unit,omitempty"`
	Radio         RadioParams `json:"radio"`
}

// LoadScenario reads and validates a scenario JSON file. Fields omitted
// from the file keep their defaults, so partial scenarios are safe.
func LoadScenario(path string) (*Scenario, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("scenario file must have .json extension, got %q", ext)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}

	var sc Scenario
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario JSON: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &sc, nil
}

// Validate rejects scenarios the engine cannot evaluate.
func (sc *Scenario) Validate() error {
	if len(sc.Beacons) == 0 {
		return fmt.Errorf("scenario needs at least one beacon")
	}
	seen := make(map[int]bool, len(sc.Beacons))
	for _, b := range sc.Beacons {
		if seen[b.ID] {
			return fmt.Errorf("duplicate beacon id %d", b.ID)
		}
		seen[b.ID] = true
	}
	for i, w := range sc.Walls {
		// Degenerate walls are undefined for the crossing test.
		if w.X1 == w.X2 && w.Y1 == w.Y2 {
			return fmt.Errorf("wall %d is degenerate (start equals end)", i)
		}
	}
	if len(sc.Path) == 0 {
		return fmt.Errorf("scenario needs at least one path waypoint")
	}
	if sc.TickMs != nil && *sc.TickMs <= 0 {
		return fmt.Errorf("tick_ms must be positive, got %d", *sc.TickMs)
	}
	if sc.StepsPerLeg != nil && *sc.StepsPerLeg <= 0 {
		return fmt.Errorf("steps_per_leg must be positive, got %d", *sc.StepsPerLeg)
	}
	if sc.MetersPerUnit != nil && *sc.MetersPerUnit <= 0 {
		return fmt.Errorf("meters_per_unit must be positive, got %v", *sc.MetersPerUnit)
	}
	return nil
}

// GetTick returns the tick period, default 100ms.
func (sc *Scenario) GetTick() time.Duration {
	if sc.TickMs == nil {
		return 100 * time.Millisecond
	}
	return time.Duration(*sc.TickMs) * time.Millisecond
}

// GetStepsPerLeg returns the interpolation steps per path leg, default 20.
func (sc *Scenario) GetStepsPerLeg() int {
	if sc.StepsPerLeg == nil {
		return 20
	}
	return *sc.StepsPerLeg
}

// GetMetersPerUnit returns the scene scale, default 1 (metric scene).
func (sc *Scenario) GetMetersPerUnit() float64 {
	if sc.MetersPerUnit == nil {
		return 1.0
	}
	return *sc.MetersPerUnit
}

// GetSeed returns the noise seed and whether one was pinned.
func (sc *Scenario) GetSeed() (int64, bool) {
	if sc.Seed == nil {
		return 0, false
	}
	return *sc.Seed, true
}

// Scene builds the runtime scene snapshot with the device at the first
// waypoint.
func (sc *Scenario) Scene() *Scene {
	s := &Scene{
		Beacons:       make([]Beacon, len(sc.Beacons)),
		Walls:         make([]geom.Wall, len(sc.Walls)),
		MetersPerUnit: sc.GetMetersPerUnit(),
	}
	for i, b := range sc.Beacons {
		s.Beacons[i] = Beacon{ID: b.ID, At: geom.Point{X: b.X, Y: b.Y}}
	}
	for i, w := range sc.Walls {
		s.Walls[i] = geom.Wall{
			Start:  geom.Point{X: w.X1, Y: w.Y1},
			End:    geom.Point{X: w.X2, Y: w.Y2},
			LossDb: w.LossDb,
		}
	}
	if len(sc.Path) > 0 {
		s.Device = Device{At: geom.Point{X: sc.Path[0].X, Y: sc.Path[0].Y}}
	}
	return s
}

// Meta summarizes the scenario for embedding in a trace.
func (sc *Scenario) Meta() TraceMeta {
	return TraceMeta{
		Scenario:      sc.Name,
		MetersPerUnit: sc.GetMetersPerUnit(),
		Radio:         sc.Radio,
	}
}

// TotalTicks is the number of evaluation steps for the full path.
func (sc *Scenario) TotalTicks() int {
	if len(sc.Path) < 2 {
		return 1
	}
	return (len(sc.Path)-1)*sc.GetStepsPerLeg() + 1
}

// PositionAt interpolates the device position for a tick, clamping past the
// final waypoint.
func (sc *Scenario) PositionAt(tick int) geom.Point {
	if len(sc.Path) == 0 {
		return geom.Point{}
	}
	if tick <= 0 || len(sc.Path) == 1 {
		return geom.Point{X: sc.Path[0].X, Y: sc.Path[0].Y}
	}

	steps := sc.GetStepsPerLeg()
	leg := tick / steps
	if leg >= len(sc.Path)-1 {
		return geom.Point{X: sc.Path[len(sc.Path)-1].X, Y: sc.Path[len(sc.Path)-1].Y}
	}
	frac := float64(tick%steps) / float64(steps)
	a := sc.Path[leg]
	b := sc.Path[leg+1]
	return geom.Point{
		X: a.X + (b.X-a.X)*frac,
		Y: a.Y + (b.Y-a.Y)*frac,
	}
}
