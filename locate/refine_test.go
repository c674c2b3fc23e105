package locate

import (
	"errors"
	"testing"

	"blesim/geom"
)

func TestReferenceSolversInsufficient(t *testing.T) {
	short := []Range{
		{At: geom.Point{X: 0, Y: 0}, Dist: 3},
		{At: geom.Point{X: 10, Y: 0}, Dist: 8},
	}
	if _, err := SolveNelderMead(short); !errors.Is(err, ErrInsufficientRanges) {
		t.Errorf("SolveNelderMead error = %v, want ErrInsufficientRanges", err)
	}
	if _, err := SolveLinear(short); !errors.Is(err, ErrInsufficientRanges) {
		t.Errorf("SolveLinear error = %v, want ErrInsufficientRanges", err)
	}
}

func TestSolveLinearExact(t *testing.T) {
	truth := geom.Point{X: 30, Y: 40}
	ranges := rangesFromTruth(truth,
		geom.Point{X: 0, Y: 0},
		geom.Point{X: 100, Y: 0},
		geom.Point{X: 100, Y: 100},
		geom.Point{X: 0, Y: 100},
	)
	pos, err := SolveLinear(ranges)
	if err != nil {
		t.Fatalf("SolveLinear: %v", err)
	}
	// The linearized system is consistent on noise-free ranges.
	if geom.Dist(pos, truth) > 1e-6 {
		t.Errorf("fix at (%v, %v), want (30, 40)", pos.X, pos.Y)
	}
}

func TestSolversAgree(t *testing.T) {
	scenes := []struct {
		name    string
		truth   geom.Point
		beacons []geom.Point
	}{
		{
			"square",
			geom.Point{X: 30, Y: 40},
			[]geom.Point{{X: 0, Y: 0}, {X: 100, Y: 0}, {X: 100, Y: 100}, {X: 0, Y: 100}},
		},
		{
			"triangle",
			geom.Point{X: 50, Y: 30},
			[]geom.Point{{X: 0, Y: 0}, {X: 100, Y: 0}, {X: 50, Y: 86.6}},
		},
		{
			"offset cluster",
			geom.Point{X: 12, Y: 61},
			[]geom.Point{{X: 0, Y: 0}, {X: 80, Y: 10}, {X: 70, Y: 90}, {X: -10, Y: 70}},
		},
	}
	for _, sc := range scenes {
		t.Run(sc.name, func(t *testing.T) {
			ranges := rangesFromTruth(sc.truth, sc.beacons...)

			gn, ok := Solve(ranges)
			if !ok {
				t.Fatal("Gauss-Newton returned no fix")
			}
			nm, err := SolveNelderMead(ranges)
			if err != nil {
				t.Fatalf("SolveNelderMead: %v", err)
			}
			lin, err := SolveLinear(ranges)
			if err != nil {
				t.Fatalf("SolveLinear: %v", err)
			}

			if d := geom.Dist(gn, nm); d > 0.5 {
				t.Errorf("GN and Nelder-Mead disagree by %.3f", d)
			}
			if d := geom.Dist(gn, lin); d > 0.5 {
				t.Errorf("GN and linear LS disagree by %.3f", d)
			}
			if d := geom.Dist(gn, sc.truth); d > 0.2 {
				t.Errorf("GN %.3f from truth", d)
			}
		})
	}
}
