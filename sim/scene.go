// Package sim assembles scenes out of beacons, walls, and a device, runs
// the propagation model over them, and feeds detected measurements to the
// position solver. It owns the per-tick evaluation loop used by the offline
// simulator and the scenario files that describe a run.
package sim

import (
	"blesim/geom"
	"blesim/locate"
	"blesim/radio"
)

// Beacon is a stationary radio source in the scene.
type Beacon struct {
	ID int
	At geom.Point
}

// Device is the mobile target whose position gets estimated. Its true
// position feeds synthesis only; the solver never sees it.
type Device struct {
	At geom.Point
}

// Measurement is one beacon's evaluation for the current device position.
// Distances are meters; measurements are recomputed every cycle and never
// persist across cycles.
type Measurement struct {
	BeaconID int
	TrueDist float64
	Rssi     float64
	EstDist  float64
}

// Scene is a caller-owned snapshot of the world. Positions and walls are in
// scene units; MetersPerUnit converts them to physical meters (zero means
// the scene is already metric). The evaluation functions treat the scene as
// read-only and retain nothing.
type Scene struct {
	Beacons       []Beacon
	Walls         []geom.Wall
	Device        Device
	MetersPerUnit float64
}

func (s *Scene) scale() float64 {
	if s.MetersPerUnit <= 0 {
		return 1.0
	}
	return s.MetersPerUnit
}

// Sweep evaluates every beacon against the device: true distance, synthetic
// RSSI through the wall set, and the estimated distance recovered from that
// RSSI. Beacons whose RSSI falls below cfg.MinDetectionRssiDbm are dropped
// here, before the solver ever sees them.
func Sweep(s *Scene, cfg radio.Config) []Measurement {
	scale := s.scale()
	out := make([]Measurement, 0, len(s.Beacons))
	for _, b := range s.Beacons {
		trueM := geom.Dist(s.Device.At, b.At) * scale
		rssi := radio.SynthesizeRSSI(trueM, b.At, s.Device.At, s.Walls, cfg)
		if rssi < cfg.MinDetectionRssiDbm {
			continue
		}
		out = append(out, Measurement{
			BeaconID: b.ID,
			TrueDist: trueM,
			Rssi:     rssi,
			EstDist:  radio.EstimateDistance(rssi, cfg),
		})
	}
	return out
}

// Locate pairs the detected measurements with their beacon positions and
// runs the Gauss-Newton solver in scene units. Fewer than three detections
// cannot produce a fix.
func Locate(s *Scene, ms []Measurement) (geom.Point, bool) {
	byID := make(map[int]geom.Point, len(s.Beacons))
	for _, b := range s.Beacons {
		byID[b.ID] = b.At
	}

	scale := s.scale()
	ranges := make([]locate.Range, 0, len(ms))
	for _, m := range ms {
		at, ok := byID[m.BeaconID]
		if !ok {
			continue
		}
		ranges = append(ranges, locate.Range{At: at, Dist: m.EstDist / scale})
	}
	return locate.Solve(ranges)
}
