package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"blesim/report"
	"blesim/sim"
	"blesim/store"
)

func main() {
	dbPath := flag.String("db", "runs.db", "SQLite run database")
	runID := flag.String("run", "", "Run ID (default: most recent)")
	outDir := flag.String("out", "", "Write charts and plots into this directory (optional)")
	list := flag.Bool("list", false, "List recorded runs and exit")
	flag.Parse()

	st, err := store.Open(*dbPath)
	if err != nil {
		log.Fatalf("Open database failed: %v", err)
	}
	defer st.Close()

	runs, err := st.Runs()
	if err != nil {
		log.Fatalf("List runs failed: %v", err)
	}
	if len(runs) == 0 {
		log.Fatalf("No recorded runs in %s", *dbPath)
	}

	if *list {
		for _, r := range runs {
			seed := "-"
			if r.Seed.Valid {
				seed = fmt.Sprintf("%d", r.Seed.Int64)
			}
			started := time.UnixMilli(r.StartedAtMs).Format(time.RFC3339)
			fmt.Printf("%s  %-20s %s  seed=%s\n", r.ID, r.Scenario, started, seed)
		}
		return
	}

	run := runs[0]
	if *runID != "" {
		found := false
		for _, r := range runs {
			if r.ID == *runID {
				run = r
				found = true
				break
			}
		}
		if !found {
			log.Fatalf("Run %q not found", *runID)
		}
	}

	steps, err := st.Steps(run.ID)
	if err != nil {
		log.Fatalf("Load steps failed: %v", err)
	}

	stats := report.Compute(steps)
	fmt.Print(report.Text(run, stats))

	if *outDir == "" {
		return
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatalf("Create output dir failed: %v", err)
	}

	ms, err := st.Measurements(run.ID)
	if err != nil {
		log.Printf("Load measurements failed: %v", err)
	}

	// The run row carries the recorded scenario; the scatter chart takes
	// its beacon positions from there.
	var sc sim.Scenario
	if err := json.Unmarshal([]byte(run.Config), &sc); err != nil {
		log.Printf("Bad run config, scatter gets no beacons: %v", err)
	}

	writeChart(filepath.Join(*outDir, "scatter.html"), func(w io.Writer) error {
		return report.ScatterHTML(w, "run "+run.Scenario, steps, sc.Beacons)
	})
	writeChart(filepath.Join(*outDir, "rssi.html"), func(w io.Writer) error {
		return report.RssiHTML(w, "run "+run.Scenario, ms)
	})

	errPath := filepath.Join(*outDir, "error.png")
	if err := report.ErrorPlotPNG(steps, run.Scenario+" error", errPath); err != nil {
		log.Printf("Render %s failed: %v", errPath, err)
	} else {
		fmt.Printf("Wrote %s\n", errPath)
	}

	rangePath := filepath.Join(*outDir, "ranging.png")
	if err := report.RangingPlotPNG(ms, run.Scenario+" ranging", rangePath); err != nil {
		log.Printf("Render %s failed: %v", rangePath, err)
	} else {
		fmt.Printf("Wrote %s\n", rangePath)
	}
}

func writeChart(path string, render func(io.Writer) error) {
	f, err := os.Create(path)
	if err != nil {
		log.Printf("Create %s failed: %v", path, err)
		return
	}
	defer f.Close()
	if err := render(f); err != nil {
		log.Printf("Render %s failed: %v", path, err)
		return
	}
	fmt.Printf("Wrote %s\n", path)
}
