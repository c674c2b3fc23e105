// Package radio synthesizes per-beacon RSSI from scene geometry and inverts
// the log-distance law back to an estimated range. The model composes
// distance-based path loss with optional wall attenuation, incidence-angle
// scaling, a cumulative multi-wall penalty, and Gaussian noise, then clamps
// to the sensor's dynamic range.
package radio

import (
	"math"

	"blesim/geom"
)

// Config carries the propagation options. The zero value disables every
// optional term; DefaultConfig enables them with the usual calibration.
type Config struct {
	TxPowerAt1m      float64 // dBm measured at 1 m
	PathLossExponent float64 // unitless, typically 2.0-4.0

	WallAttenuation  bool
	AngleEffect      bool
	CumulativeEffect bool
	Noise            bool

	NoiseStdDevDb       float64
	MinDetectionRssiDbm float64 // assembly-side filter, not applied here

	// Rand feeds the noise term. Nil uses the process-wide generator;
	// inject a seeded Source for reproducible runs.
	Rand Source
}

// DefaultConfig returns the model with every term enabled.
func DefaultConfig() Config {
	return Config{
		TxPowerAt1m:         DefaultTxPowerAt1m,
		PathLossExponent:    DefaultPathLossExponent,
		WallAttenuation:     true,
		AngleEffect:         true,
		CumulativeEffect:    true,
		Noise:               true,
		NoiseStdDevDb:       DefaultNoiseStdDevDb,
		MinDetectionRssiDbm: DefaultMinDetectionRssiDbm,
	}
}

// SynthesizeRSSI computes the received signal strength at rx for a
// transmitter at tx over trueDistM meters, crossing the supplied walls.
// Zero or negative distance short-circuits to the strong-signal sentinel.
// The result is always within [MinRssiDbm, MaxRssiDbm].
func SynthesizeRSSI(trueDistM float64, tx, rx geom.Point, walls []geom.Wall, cfg Config) float64 {
	if trueDistM <= 0 {
		return StrongSignalDbm
	}

	rssi := cfg.TxPowerAt1m - 10.0*cfg.PathLossExponent*math.Log10(trueDistM)

	if cfg.WallAttenuation {
		var loss float64
		for i, hit := range geom.Crossings(tx, rx, walls) {
			l := hit.Wall.LossDb
			if cfg.AngleEffect {
				l *= AngleMultiplier(tx, rx, hit.Wall)
			}
			if cfg.CumulativeEffect && i > 0 {
				// Discovery order, not geometric order along the path.
				l *= math.Pow(CumulativeBase, float64(i))
			}
			loss += l
		}
		rssi -= loss
	}

	if cfg.Noise {
		src := cfg.Rand
		if src == nil {
			src = processSource{}
		}
		rssi += Gaussian(src) * cfg.NoiseStdDevDb
	}

	return clamp(rssi, MinRssiDbm, MaxRssiDbm)
}

// EstimateDistance inverts the log-distance law. Wall and noise effects are
// folded into the input rssi and are not reversed.
func EstimateDistance(rssiDbm float64, cfg Config) float64 {
	return math.Pow(10, (cfg.TxPowerAt1m-rssiDbm)/(10.0*cfg.PathLossExponent))
}

// AngleMultiplier scales a wall's loss by incidence angle: head-on paths
// (parallel to the wall normal) keep the full coefficient, grazing paths
// floor at half. Returns 0.5 + 0.5*|cos theta| in [0.5, 1.0]; any
// zero-magnitude vector yields the neutral 1.0.
func AngleMultiplier(tx, rx geom.Point, w geom.Wall) float64 {
	dx := rx.X - tx.X
	dy := rx.Y - tx.Y
	n := w.Normal()
	dm := math.Hypot(dx, dy)
	nm := math.Hypot(n.X, n.Y)
	if dm == 0 || nm == 0 {
		return 1.0
	}
	cos := math.Abs((dx*n.X + dy*n.Y) / (dm * nm))
	if cos > 1 {
		cos = 1
	}
	return 0.5 + 0.5*cos
}
