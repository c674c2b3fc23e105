package radio

import (
	"math"
	"math/rand"
)

// Source yields uniform samples in [0,1) for the noise term. Inject a
// seeded Source for reproducible runs; a nil Source in Config falls back to
// the process-wide generator.
type Source interface {
	Uniform() float64
}

// NewSource returns a Source seeded for reproducible noise. Not safe for
// concurrent use; give each goroutine its own.
func NewSource(seed int64) Source {
	return &seededSource{r: rand.New(rand.NewSource(seed))}
}

type seededSource struct {
	r *rand.Rand
}

func (s *seededSource) Uniform() float64 { return s.r.Float64() }

// processSource draws from the shared math/rand generator.
type processSource struct{}

func (processSource) Uniform() float64 { return rand.Float64() }

// Gaussian draws a zero-mean unit-variance sample from src via the
// Box-Muller transform. A zero first uniform is redrawn to keep the log
// finite.
func Gaussian(src Source) float64 {
	u1 := src.Uniform()
	for u1 == 0 {
		u1 = src.Uniform()
	}
	u2 := src.Uniform()
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}
