package report

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blesim/geom"
	"blesim/sim"
	"blesim/store"
)

func stepsFixture() []store.StepRec {
	return []store.StepRec{
		{Tick: 0, Truth: geom.Point{X: 0, Y: 0}, Est: geom.Point{X: 1, Y: 0}, HasFix: true, ErrM: 1},
		{Tick: 1, Truth: geom.Point{X: 1, Y: 0}, Est: geom.Point{X: 3, Y: 0}, HasFix: true, ErrM: 2},
		{Tick: 2, Truth: geom.Point{X: 2, Y: 0}},
		{Tick: 3, Truth: geom.Point{X: 3, Y: 0}, Est: geom.Point{X: 6, Y: 0}, HasFix: true, ErrM: 3},
		{Tick: 4, Truth: geom.Point{X: 4, Y: 0}, Est: geom.Point{X: 8, Y: 0}, HasFix: true, ErrM: 4},
	}
}

func TestComputeStats(t *testing.T) {
	st := Compute(stepsFixture())

	require.Equal(t, 5, st.Steps)
	require.Equal(t, 4, st.Fixes)
	assert.InDelta(t, 0.8, st.FixRate, 1e-9)
	assert.InDelta(t, 2.5, st.MeanErr, 1e-9)
	assert.InDelta(t, 2.0, st.MedianErr, 1e-9)
	assert.InDelta(t, 4.0, st.P95Err, 1e-9)
	assert.InDelta(t, math.Sqrt(7.5), st.RmseErr, 1e-9)
	assert.Equal(t, 4.0, st.MaxErr)
}

func TestComputeNoFixes(t *testing.T) {
	st := Compute([]store.StepRec{{Tick: 0}, {Tick: 1}})

	assert.Equal(t, 2, st.Steps)
	assert.Equal(t, 0, st.Fixes)
	assert.Zero(t, st.MeanErr)
	assert.Zero(t, st.RmseErr)
	assert.Zero(t, st.MaxErr)
}

func TestComputeEmpty(t *testing.T) {
	assert.Equal(t, Stats{}, Compute(nil))
}

func TestText(t *testing.T) {
	run := store.RunRec{ID: "abc", Scenario: "office-walk", StartedAtMs: time.Now().UnixMilli()}
	out := Text(run, Compute(stepsFixture()))

	assert.Contains(t, out, "office-walk")
	assert.Contains(t, out, "rmse")
	assert.Contains(t, out, "fixes 4")
}

func TestScatterHTML(t *testing.T) {
	beacons := []sim.ScenarioBeacon{{ID: 1, X: 0, Y: 0}, {ID: 2, X: 10, Y: 0}}
	var buf bytes.Buffer
	require.NoError(t, ScatterHTML(&buf, "unit-test", stepsFixture(), beacons))

	page := buf.String()
	assert.Contains(t, page, "unit-test")
	assert.Contains(t, page, "estimate")
	assert.Contains(t, page, "beacons")
	assert.Contains(t, page, "echarts")
}

func TestRssiHTMLEmptyInput(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RssiHTML(&buf, "empty", nil))
	assert.NotZero(t, buf.Len(), "rendered page is empty")
}

func TestErrorPlotPNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "err.png")
	require.NoError(t, ErrorPlotPNG(stepsFixture(), "unit-test", path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.NotZero(t, info.Size(), "plot file is empty")
}

func TestErrorPlotPNGNoFixes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "err.png")
	require.Error(t, ErrorPlotPNG([]store.StepRec{{Tick: 0}}, "unit-test", path))
}

func TestRangingPlotPNG(t *testing.T) {
	ms := []store.MeasurementRec{
		{Tick: 0, BeaconID: 1, TrueDist: 10, Rssi: -75, EstDist: 10.5},
		{Tick: 0, BeaconID: 2, TrueDist: 20, Rssi: -83, EstDist: 19.1},
		{Tick: 1, BeaconID: 1, TrueDist: 11, Rssi: -76, EstDist: 11.2},
		{Tick: 1, BeaconID: 2, TrueDist: 19, Rssi: -82, EstDist: 18.8},
	}
	path := filepath.Join(t.TempDir(), "ranging.png")
	require.NoError(t, RangingPlotPNG(ms, "unit-test", path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.NotZero(t, info.Size(), "plot file is empty")
}

func chartFixture(t *testing.T) (*ChartServer, string) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	sc := sim.Scenario{
		Name:    "chart-test",
		Beacons: []sim.ScenarioBeacon{{ID: 1, X: 0, Y: 0}, {ID: 2, X: 20, Y: 0}, {ID: 3, X: 0, Y: 20}},
		Path:    []sim.ScenarioPoint{{X: 5, Y: 5}},
	}
	cfg, err := json.Marshal(sc)
	require.NoError(t, err)
	id, err := s.CreateRun("chart-test", time.Now(), 1.0, nil, string(cfg))
	require.NoError(t, err)

	for tick := 0; tick < 3; tick++ {
		step := sim.Step{
			Tick:        tick,
			TimestampMs: int64(1000 * tick),
			Truth:       geom.Point{X: float64(tick), Y: 5},
			Fix:         geom.Point{X: float64(tick) + 0.5, Y: 5},
			HasFix:      true,
			ErrM:        0.5,
			Measurements: []sim.Measurement{
				{BeaconID: 1, TrueDist: 7, Rssi: -70, EstDist: 7.2},
				{BeaconID: 2, TrueDist: 15, Rssi: -80, EstDist: 14.6},
			},
		}
		require.NoError(t, s.RecordStep(id, step), "record step %d", tick)
	}
	return &ChartServer{Store: s}, id
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestChartHandlers(t *testing.T) {
	cs, id := chartFixture(t)

	mux := http.NewServeMux()
	mux.Handle("/report/scatter", cs.ScatterHandler())
	mux.Handle("/report/rssi", cs.RssiHandler())
	mux.Handle("/report/stats", cs.StatsHandler())
	mux.Handle("/report/runs", cs.RunsHandler())
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/report/scatter?run=" + id)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html"))
	assert.Contains(t, readBody(t, resp), "chart-test")

	resp, err = http.Get(srv.URL + "/report/rssi")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "observations")

	// Without ?run= the handlers fall back to the newest run.
	resp, err = http.Get(srv.URL + "/report/stats")
	require.NoError(t, err)
	var stats struct {
		ID    string `json:"id"`
		Stats Stats  `json:"stats"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	resp.Body.Close()
	assert.Equal(t, id, stats.ID)
	assert.Equal(t, 3, stats.Stats.Steps)
	assert.Equal(t, 3, stats.Stats.Fixes)

	resp, err = http.Get(srv.URL + "/report/runs")
	require.NoError(t, err)
	var rows []struct {
		ID       string `json:"id"`
		Scenario string `json:"scenario"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rows))
	resp.Body.Close()
	require.Len(t, rows, 1)
	assert.Equal(t, id, rows[0].ID)
	assert.Equal(t, "chart-test", rows[0].Scenario)

	resp, err = http.Get(srv.URL + "/report/scatter?run=nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
