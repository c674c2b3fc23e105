package sim

import (
	"math"
	"testing"

	"blesim/geom"
	"blesim/radio"
)

func quietConfig() radio.Config {
	cfg := radio.DefaultConfig()
	cfg.Noise = false
	cfg.WallAttenuation = false
	cfg.AngleEffect = false
	cfg.CumulativeEffect = false
	cfg.MinDetectionRssiDbm = -110
	return cfg
}

func squareScene() *Scene {
	return &Scene{
		Beacons: []Beacon{
			{ID: 1, At: geom.Point{X: 0, Y: 0}},
			{ID: 2, At: geom.Point{X: 40, Y: 0}},
			{ID: 3, At: geom.Point{X: 40, Y: 40}},
			{ID: 4, At: geom.Point{X: 0, Y: 40}},
		},
		Device: Device{At: geom.Point{X: 12, Y: 20}},
	}
}

func TestSweepMeasurements(t *testing.T) {
	s := squareScene()
	cfg := quietConfig()
	ms := Sweep(s, cfg)
	if len(ms) != 4 {
		t.Fatalf("got %d measurements, want 4", len(ms))
	}
	for i, m := range ms {
		b := s.Beacons[i]
		wantDist := geom.Dist(s.Device.At, b.At)
		if m.BeaconID != b.ID {
			t.Errorf("measurement %d has beacon %d, want %d", i, m.BeaconID, b.ID)
		}
		if math.Abs(m.TrueDist-wantDist) > 1e-9 {
			t.Errorf("beacon %d TrueDist = %v, want %v", b.ID, m.TrueDist, wantDist)
		}
		// Without walls or noise the estimated distance is the true one.
		if math.Abs(m.EstDist-m.TrueDist) > 1e-9*m.TrueDist {
			t.Errorf("beacon %d EstDist = %v, want %v", b.ID, m.EstDist, m.TrueDist)
		}
	}
}

func TestSweepFiltersWeakBeacons(t *testing.T) {
	s := squareScene()
	s.Beacons = append(s.Beacons, Beacon{ID: 9, At: geom.Point{X: 4000, Y: 4000}})
	cfg := quietConfig()

	ms := Sweep(s, cfg)
	for _, m := range ms {
		if m.BeaconID == 9 {
			t.Fatal("out-of-range beacon survived the detection filter")
		}
		if m.Rssi < cfg.MinDetectionRssiDbm {
			t.Errorf("beacon %d below threshold kept: %v dBm", m.BeaconID, m.Rssi)
		}
	}
	if len(ms) != 4 {
		t.Errorf("got %d detections, want the 4 near beacons", len(ms))
	}
}

func TestSweepSceneScale(t *testing.T) {
	// 20 scene units per meter: a beacon 100 units away is 5 m away.
	s := &Scene{
		Beacons:       []Beacon{{ID: 1, At: geom.Point{X: 100, Y: 0}}},
		Device:        Device{At: geom.Point{X: 0, Y: 0}},
		MetersPerUnit: 0.05,
	}
	cfg := quietConfig()
	ms := Sweep(s, cfg)
	if len(ms) != 1 {
		t.Fatalf("got %d measurements, want 1", len(ms))
	}
	if math.Abs(ms[0].TrueDist-5) > 1e-9 {
		t.Errorf("TrueDist = %v m, want 5", ms[0].TrueDist)
	}
	want := cfg.TxPowerAt1m - 10*cfg.PathLossExponent*math.Log10(5)
	if math.Abs(ms[0].Rssi-want) > 1e-9 {
		t.Errorf("Rssi = %v, want %v", ms[0].Rssi, want)
	}
}

func TestLocateRoundTrip(t *testing.T) {
	s := squareScene()
	cfg := quietConfig()
	ms := Sweep(s, cfg)
	fix, ok := Locate(s, ms)
	if !ok {
		t.Fatal("expected a fix")
	}
	if d := geom.Dist(fix, s.Device.At); d > 0.5 {
		t.Errorf("fix %.3f units from truth (%v), want < 0.5", d, s.Device.At)
	}
}

func TestLocateRoundTripScaled(t *testing.T) {
	s := squareScene()
	s.MetersPerUnit = 0.05
	cfg := quietConfig()
	ms := Sweep(s, cfg)
	fix, ok := Locate(s, ms)
	if !ok {
		t.Fatal("expected a fix")
	}
	if d := geom.Dist(fix, s.Device.At); d > 0.5 {
		t.Errorf("fix %.3f units from truth, want < 0.5", d)
	}
}

func TestLocateTooFewDetections(t *testing.T) {
	s := squareScene()
	ms := []Measurement{
		{BeaconID: 1, EstDist: 23.3},
		{BeaconID: 2, EstDist: 34.4},
	}
	if _, ok := Locate(s, ms); ok {
		t.Error("two detections produced a fix")
	}
}

func TestLocateSkipsUnknownBeacons(t *testing.T) {
	s := squareScene()
	ms := []Measurement{
		{BeaconID: 1, EstDist: 23.3},
		{BeaconID: 2, EstDist: 34.4},
		{BeaconID: 77, EstDist: 10}, // not in the scene
	}
	if _, ok := Locate(s, ms); ok {
		t.Error("fix produced from fewer than 3 known beacons")
	}
}
