package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"time"

	"blesim/geom"
	"blesim/locate"
	"blesim/radio"
)

type solver struct {
	name  string
	solve func([]locate.Range) (geom.Point, bool)
}

type trialCase struct {
	truth  geom.Point
	ranges []locate.Range
}

func main() {
	trials := flag.Int("trials", 1000, "Random layouts to evaluate")
	nBeacons := flag.Int("beacons", 4, "Beacons per layout")
	noise := flag.Float64("noise", 0.05, "Relative range noise (0.05 = 5%)")
	size := flag.Float64("size", 50, "Scene side length in meters")
	seed := flag.Int64("seed", 1, "RNG seed")
	viaRssi := flag.Bool("via-rssi", false, "Derive ranges through the RSSI model instead of direct noise")
	flag.Parse()

	if *nBeacons < 3 {
		log.Fatal("--beacons must be at least 3")
	}

	rng := rand.New(rand.NewSource(*seed))
	cfg := radio.DefaultConfig()
	cfg.Rand = radio.NewSource(*seed)

	// Every solver gets the identical trial set.
	cases := make([]trialCase, *trials)
	for i := range cases {
		truth := geom.Point{X: rng.Float64() * *size, Y: rng.Float64() * *size}
		ranges := make([]locate.Range, 0, *nBeacons)
		for b := 0; b < *nBeacons; b++ {
			at := geom.Point{X: rng.Float64() * *size, Y: rng.Float64() * *size}
			d := geom.Dist(truth, at)
			var est float64
			if *viaRssi {
				rssi := radio.SynthesizeRSSI(d, at, truth, nil, cfg)
				if rssi < cfg.MinDetectionRssiDbm {
					continue
				}
				est = radio.EstimateDistance(rssi, cfg)
			} else {
				est = d * (1 + *noise*(2*rng.Float64()-1))
			}
			ranges = append(ranges, locate.Range{At: at, Dist: est})
		}
		cases[i] = trialCase{truth: truth, ranges: ranges}
	}

	solvers := []solver{
		{"gauss-newton", locate.Solve},
		{"linear", func(r []locate.Range) (geom.Point, bool) {
			p, err := locate.SolveLinear(r)
			return p, err == nil
		}},
		{"nelder-mead", func(r []locate.Range) (geom.Point, bool) {
			p, err := locate.SolveNelderMead(r)
			return p, err == nil
		}},
	}

	mode := fmt.Sprintf("%.0f%% range noise", *noise*100)
	if *viaRssi {
		mode = fmt.Sprintf("RSSI model noise (%.1f dB)", cfg.NoiseStdDevDb)
	}
	fmt.Printf("%d layouts, %d beacons on a %.0fm scene, %s\n", *trials, *nBeacons, *size, mode)

	for _, s := range solvers {
		var sumErr, sumSq, maxErr float64
		fixes := 0
		start := time.Now()
		for _, c := range cases {
			p, ok := s.solve(c.ranges)
			if !ok {
				continue
			}
			e := geom.Dist(p, c.truth)
			sumErr += e
			sumSq += e * e
			if e > maxErr {
				maxErr = e
			}
			fixes++
		}
		elapsed := time.Since(start)
		if fixes == 0 {
			fmt.Printf("%-14s no fixes\n", s.name)
			continue
		}
		perSolve := float64(elapsed.Microseconds()) / float64(len(cases))
		fmt.Printf("%-14s mean %7.3f m   rmse %7.3f m   max %8.3f m   fixes %d/%d   %.1f us/solve\n",
			s.name, sumErr/float64(fixes), math.Sqrt(sumSq/float64(fixes)), maxErr, fixes, len(cases), perSolve)
	}
}
