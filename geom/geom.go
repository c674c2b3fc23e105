// Package geom holds the 2D primitives shared by the propagation model and
// the position solver: points, attenuating wall segments, and the
// segment-segment crossing test that feeds wall attenuation.
package geom

import "math"

// Point is a location in the shared scene space. Scene units are
// pixel-scaled; a fixed scale factor converts to meters (see sim.Scene).
type Point struct {
	X float64
	Y float64
}

// Wall is a finite segment with a per-crossing signal loss in dB.
// Start must differ from End; degenerate walls are a caller bug and are
// undefined for the crossing test.
type Wall struct {
	Start  Point
	End    Point
	LossDb float64
}

// Intersection is one path/wall crossing, consumed by the propagation model
// and discarded.
type Intersection struct {
	At   Point
	Wall Wall
}

// Dist returns the Euclidean distance between a and b.
func Dist(a, b Point) float64 {
	return math.Hypot(b.X-a.X, b.Y-a.Y)
}

// Normal returns the wall's perpendicular vector, unnormalized.
func (w Wall) Normal() Point {
	return Point{X: -(w.End.Y - w.Start.Y), Y: w.End.X - w.Start.X}
}

// Cross tests whether the open segment p1->p2 crosses the open wall segment.
// Both parametric values must fall strictly inside (0,1): endpoint touches do
// not count. A zero denominator (parallel or colinear segments) is no
// crossing for this model, overlap included.
func Cross(p1, p2 Point, w Wall) (Intersection, bool) {
	dx := p2.X - p1.X
	dy := p2.Y - p1.Y
	wx := w.End.X - w.Start.X
	wy := w.End.Y - w.Start.Y

	den := dx*wy - dy*wx
	if den == 0 {
		return Intersection{}, false
	}

	ex := w.Start.X - p1.X
	ey := w.Start.Y - p1.Y
	t := (ex*wy - ey*wx) / den
	u := (ex*dy - ey*dx) / den
	if t <= 0 || t >= 1 || u <= 0 || u >= 1 {
		return Intersection{}, false
	}
	return Intersection{
		At:   Point{X: p1.X + t*dx, Y: p1.Y + t*dy},
		Wall: w,
	}, true
}

// Crossings collects every wall crossed by the open segment p1->p2, in the
// order the walls are supplied. Crossings are not re-sorted by distance
// along the path; downstream terms that depend on ordering see supply order.
func Crossings(p1, p2 Point, walls []Wall) []Intersection {
	var hits []Intersection
	for _, w := range walls {
		if x, ok := Cross(p1, p2, w); ok {
			hits = append(hits, x)
		}
	}
	return hits
}
