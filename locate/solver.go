// Package locate estimates a 2D position from beacon distance measurements
// by nonlinear least squares. The primary solver is a bounded Gauss-Newton
// iteration with defined degenerate-input behavior: it never panics and
// never returns a fake zero position in place of "no fix".
package locate

import (
	"math"

	"blesim/geom"
)

// Solver contract values.
const (
	MaxIterations   = 50   // refinement step bound
	ConvergeNorm    = 0.1  // step norm below which iteration stops
	MinGradientDist = 1e-6 // rows closer than this to the estimate are skipped
	SingularDetEps  = 1e-9 // normal-equations determinant cutoff
)

// Range pairs a beacon position with its estimated distance, in the same
// length units as the scene. Distances come from radio.EstimateDistance and
// are therefore strictly positive.
type Range struct {
	At   geom.Point
	Dist float64
}

// Solve runs Gauss-Newton over the ranges and reports the estimate. Fewer
// than three ranges cannot fix a 2D position and yield ok=false. Ill
// conditioning mid-iteration (near-singular normal equations, or fewer than
// two usable gradient rows) terminates early with the best estimate so far,
// still ok=true.
func Solve(ranges []Range) (geom.Point, bool) {
	if len(ranges) < 3 {
		return geom.Point{}, false
	}

	pos := initialGuess(ranges)

	for iter := 0; iter < MaxIterations; iter++ {
		// Accumulate the 2x2 normal equations JtJ and the vector Jtr from
		// the per-range residual rows.
		var a, b, c, g0, g1 float64
		rows := 0
		for _, m := range ranges {
			dx := pos.X - m.At.X
			dy := pos.Y - m.At.Y
			dist := math.Hypot(dx, dy)
			if dist < MinGradientDist {
				// Zero-length gradient; the row carries no direction.
				continue
			}
			r := dist - m.Dist
			gx := dx / dist
			gy := dy / dist
			a += gx * gx
			b += gx * gy
			c += gy * gy
			g0 += gx * r
			g1 += gy * r
			rows++
		}
		if rows < 2 {
			return pos, true
		}

		det := a*c - b*b
		if math.Abs(det) < SingularDetEps {
			return pos, true
		}

		// delta = -(JtJ)^-1 * Jtr, closed form for the 2x2 system.
		stepX := -(c*g0 - b*g1) / det
		stepY := -(a*g1 - b*g0) / det
		pos.X += stepX
		pos.Y += stepY

		if math.Hypot(stepX, stepY) < ConvergeNorm {
			break
		}
	}
	return pos, true
}

// initialGuess seeds the iteration at the inverse-distance-weighted centroid
// of the beacon positions, pulling the start toward beacons that report
// short ranges.
func initialGuess(ranges []Range) geom.Point {
	var x, y, wsum float64
	for _, m := range ranges {
		w := 1.0 / m.Dist
		x += w * m.At.X
		y += w * m.At.Y
		wsum += w
	}
	return geom.Point{X: x / wsum, Y: y / wsum}
}
