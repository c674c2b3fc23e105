// Package report turns recorded runs into numbers and pictures: error
// statistics, browseable scatter charts, and PNG time-series plots.
package report

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"

	"blesim/store"
)

// Stats aggregates the positioning error of one run.
type Stats struct {
	Steps     int     `json:"steps"`
	Fixes     int     `json:"fixes"`
	FixRate   float64 `json:"fix_rate"`
	MeanErr   float64 `json:"mean_err_m"`
	MedianErr float64 `json:"median_err_m"`
	P95Err    float64 `json:"p95_err_m"`
	RmseErr   float64 `json:"rmse_err_m"`
	MaxErr    float64 `json:"max_err_m"`
}

// Compute derives error statistics from the step rows of a run. Steps
// without a fix count toward Steps but not toward the error quantiles.
func Compute(steps []store.StepRec) Stats {
	st := Stats{Steps: len(steps)}

	errs := make([]float64, 0, len(steps))
	var sumSq float64
	for _, s := range steps {
		if !s.HasFix {
			continue
		}
		errs = append(errs, s.ErrM)
		sumSq += s.ErrM * s.ErrM
	}
	st.Fixes = len(errs)
	if st.Steps > 0 {
		st.FixRate = float64(st.Fixes) / float64(st.Steps)
	}
	if st.Fixes == 0 {
		return st
	}

	sort.Float64s(errs)
	st.MeanErr = stat.Mean(errs, nil)
	st.MedianErr = stat.Quantile(0.5, stat.Empirical, errs, nil)
	st.P95Err = stat.Quantile(0.95, stat.Empirical, errs, nil)
	st.RmseErr = math.Sqrt(sumSq / float64(st.Fixes))
	st.MaxErr = errs[len(errs)-1]
	return st
}

// Text formats a run and its statistics for terminal output.
func Text(run store.RunRec, st Stats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "run      %s (%s)\n", run.ID, run.Scenario)
	fmt.Fprintf(&b, "started  %s\n", time.UnixMilli(run.StartedAtMs).Format(time.RFC3339))
	if run.Seed.Valid {
		fmt.Fprintf(&b, "seed     %d\n", run.Seed.Int64)
	}
	fmt.Fprintf(&b, "steps    %d, fixes %d (%.1f%%)\n", st.Steps, st.Fixes, st.FixRate*100)
	if st.Fixes > 0 {
		fmt.Fprintf(&b, "error    mean %.2f m, median %.2f m, p95 %.2f m, max %.2f m\n",
			st.MeanErr, st.MedianErr, st.P95Err, st.MaxErr)
		fmt.Fprintf(&b, "rmse     %.2f m\n", st.RmseErr)
	}
	return b.String()
}
