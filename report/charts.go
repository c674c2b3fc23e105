package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"blesim/sim"
	"blesim/store"
)

// viridisColors is the perceptually uniform ramp used by the visual maps.
var viridisColors = []string{
	"#440154", "#482777", "#3e4989", "#31688e", "#26828e",
	"#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725",
}

// bounds tracks the extent of everything drawn so both axes can share one
// padded range and the scene stays square.
type bounds struct {
	lo, hi float64
	any    bool
}

func (b *bounds) add(x, y float64) {
	if !b.any {
		b.lo, b.hi = math.Min(x, y), math.Max(x, y)
		b.any = true
		return
	}
	b.lo = math.Min(b.lo, math.Min(x, y))
	b.hi = math.Max(b.hi, math.Max(x, y))
}

func (b *bounds) padded() (float64, float64) {
	if !b.any {
		return -1, 1
	}
	pad := (b.hi - b.lo) * 0.05
	if pad == 0 {
		pad = 1
	}
	return b.lo - pad, b.hi + pad
}

// ScatterHTML renders the truth path, the estimated positions and the
// beacon layout of a run as a self-contained HTML page.
func ScatterHTML(w io.Writer, title string, steps []store.StepRec, beacons []sim.ScenarioBeacon) error {
	truth := make([]opts.ScatterData, 0, len(steps))
	est := make([]opts.ScatterData, 0, len(steps))
	var ext bounds
	for _, s := range steps {
		ext.add(s.Truth.X, s.Truth.Y)
		truth = append(truth, opts.ScatterData{Value: []interface{}{s.Truth.X, s.Truth.Y}})
		if s.HasFix {
			ext.add(s.Est.X, s.Est.Y)
			est = append(est, opts.ScatterData{Value: []interface{}{s.Est.X, s.Est.Y}})
		}
	}
	bpts := make([]opts.ScatterData, 0, len(beacons))
	for _, b := range beacons {
		ext.add(b.X, b.Y)
		bpts = append(bpts, opts.ScatterData{Value: []interface{}{b.X, b.Y}})
	}
	lo, hi := ext.padded()

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("steps=%d fixes=%d beacons=%d", len(steps), len(est), len(beacons))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: lo, Max: hi, Name: "X", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: lo, Max: hi, Name: "Y", NameLocation: "middle", NameGap: 30}),
	)

	scatter.AddSeries("truth", truth, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}), charts.WithItemStyleOpts(opts.ItemStyle{Color: "#9e9e9e"}))
	scatter.AddSeries("estimate", est, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}), charts.WithItemStyleOpts(opts.ItemStyle{Color: "#ff5252"}))
	scatter.AddSeries("beacons", bpts, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 14}), charts.WithItemStyleOpts(opts.ItemStyle{Color: "#2962ff"}))

	return scatter.Render(w)
}

// RssiHTML renders every beacon observation of a run as RSSI over true
// distance, colored by the distance the ranging model estimated back.
func RssiHTML(w io.Writer, title string, ms []store.MeasurementRec) error {
	pts := make([]opts.ScatterData, 0, len(ms))
	var maxDist, maxEst float64
	minRssi, maxRssi := math.Inf(1), math.Inf(-1)
	for _, m := range ms {
		if m.TrueDist > maxDist {
			maxDist = m.TrueDist
		}
		if m.EstDist > maxEst {
			maxEst = m.EstDist
		}
		if m.Rssi < minRssi {
			minRssi = m.Rssi
		}
		if m.Rssi > maxRssi {
			maxRssi = m.Rssi
		}
		pts = append(pts, opts.ScatterData{Value: []interface{}{m.TrueDist, m.Rssi, m.EstDist}})
	}
	if len(ms) == 0 {
		minRssi, maxRssi = -120, -30
	}
	if maxDist == 0 {
		maxDist = 1
	}
	if maxEst == 0 {
		maxEst = 1
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "900px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("observations=%d", len(ms))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: 0, Max: maxDist * 1.05, Name: "True distance (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: math.Floor(minRssi) - 3, Max: math.Ceil(maxRssi) + 3, Name: "RSSI (dBm)", NameLocation: "middle", NameGap: 35}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxEst),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: viridisColors},
		}),
	)
	scatter.AddSeries("observations", pts, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 5}))

	return scatter.Render(w)
}

// ChartServer serves run charts over HTTP. The routes are plain handlers
// so the viewer can mount them under its own mux.
type ChartServer struct {
	Store *store.Store
}

// resolveRun picks the run named by the ?run= query parameter, or the
// most recent one when absent.
func (cs *ChartServer) resolveRun(r *http.Request) (store.RunRec, error) {
	runs, err := cs.Store.Runs()
	if err != nil {
		return store.RunRec{}, err
	}
	if len(runs) == 0 {
		return store.RunRec{}, fmt.Errorf("no recorded runs")
	}
	id := r.URL.Query().Get("run")
	if id == "" {
		return runs[0], nil
	}
	for _, run := range runs {
		if run.ID == id {
			return run, nil
		}
	}
	return store.RunRec{}, fmt.Errorf("unknown run %q", id)
}

// ScatterHandler renders the truth/estimate overlay for one run.
func (cs *ChartServer) ScatterHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, err := cs.resolveRun(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		steps, err := cs.Store.Steps(run.ID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		// The run row carries the scenario it was recorded from; beacon
		// positions come from there.
		var sc sim.Scenario
		_ = json.Unmarshal([]byte(run.Config), &sc)

		var buf bytes.Buffer
		if err := ScatterHTML(&buf, "run "+run.Scenario, steps, sc.Beacons); err != nil {
			http.Error(w, fmt.Sprintf("render chart: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(buf.Bytes())
	}
}

// RssiHandler renders the RSSI-over-distance cloud for one run.
func (cs *ChartServer) RssiHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, err := cs.resolveRun(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		ms, err := cs.Store.Measurements(run.ID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		var buf bytes.Buffer
		if err := RssiHTML(&buf, "rssi "+run.Scenario, ms); err != nil {
			http.Error(w, fmt.Sprintf("render chart: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(buf.Bytes())
	}
}

// StatsHandler reports the error statistics of one run as JSON.
func (cs *ChartServer) StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, err := cs.resolveRun(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		steps, err := cs.Store.Steps(run.ID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		resp := struct {
			ID       string `json:"id"`
			Scenario string `json:"scenario"`
			Stats    Stats  `json:"stats"`
		}{run.ID, run.Scenario, Compute(steps)}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// RunsHandler lists recorded runs as JSON, newest first.
func (cs *ChartServer) RunsHandler() http.HandlerFunc {
	type runRow struct {
		ID            string  `json:"id"`
		Scenario      string  `json:"scenario"`
		StartedAtMs   int64   `json:"started_at_ms"`
		MetersPerUnit float64 `json:"meters_per_unit"`
		Seed          *int64  `json:"seed,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		runs, err := cs.Store.Runs()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		rows := make([]runRow, 0, len(runs))
		for _, run := range runs {
			row := runRow{
				ID:            run.ID,
				Scenario:      run.Scenario,
				StartedAtMs:   run.StartedAtMs,
				MetersPerUnit: run.MetersPerUnit,
			}
			if run.Seed.Valid {
				seed := run.Seed.Int64
				row.Seed = &seed
			}
			rows = append(rows, row)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(rows)
	}
}
