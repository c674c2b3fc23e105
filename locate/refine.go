package locate

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"blesim/geom"
)

// ErrInsufficientRanges is returned by the reference solvers when fewer than
// three ranges are supplied.
var ErrInsufficientRanges = errors.New("locate: need at least 3 ranges")

// SolveNelderMead is a derivative-free reference solver used to cross-check
// the Gauss-Newton path. It minimizes the summed squared range residuals
// from the same weighted-centroid seed.
func SolveNelderMead(ranges []Range) (geom.Point, error) {
	if len(ranges) < 3 {
		return geom.Point{}, ErrInsufficientRanges
	}

	objective := func(x []float64) float64 {
		var sum float64
		for _, m := range ranges {
			d := math.Hypot(x[0]-m.At.X, x[1]-m.At.Y)
			sum += (d - m.Dist) * (d - m.Dist)
		}
		return sum
	}

	seed := initialGuess(ranges)
	result, err := optimize.Minimize(optimize.Problem{Func: objective},
		[]float64{seed.X, seed.Y}, nil, nil)
	if err != nil {
		return geom.Point{}, fmt.Errorf("minimize: %w", err)
	}
	return geom.Point{X: result.X[0], Y: result.X[1]}, nil
}

// SolveLinear is the classic linearized multilateration: subtracting the
// first range equation from the rest leaves a linear system in (x, y),
// solved least-squares by QR. Exact on noise-free ranges, less robust than
// Gauss-Newton once ranges disagree.
func SolveLinear(ranges []Range) (geom.Point, error) {
	n := len(ranges)
	if n < 3 {
		return geom.Point{}, ErrInsufficientRanges
	}

	ref := ranges[0]
	rows := n - 1
	aData := make([]float64, 0, rows*2)
	bData := make([]float64, 0, rows)
	for _, m := range ranges[1:] {
		aData = append(aData, 2*(ref.At.X-m.At.X), 2*(ref.At.Y-m.At.Y))
		bData = append(bData,
			m.Dist*m.Dist-ref.Dist*ref.Dist+
				ref.At.X*ref.At.X-m.At.X*m.At.X+
				ref.At.Y*ref.At.Y-m.At.Y*m.At.Y)
	}

	A := mat.NewDense(rows, 2, aData)
	b := mat.NewVecDense(rows, bData)

	var qr mat.QR
	qr.Factorize(A)
	var x mat.VecDense
	if err := qr.SolveVecTo(&x, false, b); err != nil {
		return geom.Point{}, fmt.Errorf("least squares: %w", err)
	}
	return geom.Point{X: x.AtVec(0), Y: x.AtVec(1)}, nil
}
