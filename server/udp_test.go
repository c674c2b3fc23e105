package server

import (
	"math"
	"net"
	"path/filepath"
	"testing"

	"blesim/binlog"
	"blesim/geom"
	"blesim/radio"
	"blesim/sim"
)

func testConfig() radio.Config {
	cfg := radio.DefaultConfig()
	cfg.TxPowerAt1m = -50
	cfg.PathLossExponent = 2.0
	cfg.WallAttenuation = false
	cfg.AngleEffect = false
	cfg.CumulativeEffect = false
	cfg.Noise = false
	return cfg
}

func newTestServer(cfg radio.Config) *UdpServer {
	return &UdpServer{
		cfg:      cfg,
		scale:    1.0,
		beacons:  make(map[uint16]geom.Point),
		lastGw:   make(map[uint32]*net.UDPAddr),
		devState: make(map[uint32]Fix),
	}
}

// samplesAt synthesizes quantized report samples for a device position.
func samplesAt(cfg radio.Config, dev geom.Point, beacons map[uint16]geom.Point, scale float64) []Sample {
	samples := make([]Sample, 0, len(beacons))
	for id := uint16(1); int(id) <= len(beacons); id++ {
		at := beacons[id]
		rssi := radio.SynthesizeRSSI(geom.Dist(dev, at)*scale, at, dev, nil, cfg)
		samples = append(samples, Sample{BeaconID: id, RssiDbm: int8(math.Round(rssi))})
	}
	return samples
}

func squareBeacons() map[uint16]geom.Point {
	return map[uint16]geom.Point{
		1: {X: 0, Y: 0},
		2: {X: 40, Y: 0},
		3: {X: 0, Y: 40},
		4: {X: 40, Y: 40},
	}
}

func TestHandlePacketComputesFix(t *testing.T) {
	cfg := testConfig()
	s := newTestServer(cfg)
	s.SetBeacons(squareBeacons())

	var fixes []Fix
	s.SetFixFunc(func(f Fix) { fixes = append(fixes, f) })

	dev := geom.Point{X: 12, Y: 20}
	pkt, err := BuildReportFrame(0xB001, 0, samplesAt(cfg, dev, squareBeacons(), 1.0))
	if err != nil {
		t.Fatal(err)
	}

	src := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5000}
	s.handlePacket(pkt, src, 123456)

	if len(fixes) != 1 {
		t.Fatalf("fixes = %d, want 1", len(fixes))
	}
	f := fixes[0]
	if f.Addr != 0xB001 || f.TS != 123456 || f.Beacons != 4 {
		t.Errorf("fix = %+v", f)
	}
	// RSSI quantization costs accuracy, the solve should still land close.
	if d := geom.Dist(geom.Point{X: f.X, Y: f.Y}, dev); d > 2.0 {
		t.Errorf("fix at (%.2f, %.2f), %.2f units from truth", f.X, f.Y, d)
	}

	if st := s.GetStats(); st.Frames != 1 || st.Fixes != 1 {
		t.Errorf("stats = %+v", st)
	}
	if gw := s.lastGw[0xB001]; gw == nil || gw.Port != 5000 {
		t.Errorf("lastGw = %v", s.lastGw)
	}
	if devs := s.GetDevices(); len(devs) != 1 || devs[0].Addr != 0xB001 {
		t.Errorf("devices = %+v", devs)
	}
}

func TestHandlePacketConcatenatedFrames(t *testing.T) {
	cfg := testConfig()
	s := newTestServer(cfg)
	s.SetBeacons(squareBeacons())

	var fixes []Fix
	s.SetFixFunc(func(f Fix) { fixes = append(fixes, f) })

	samples := samplesAt(cfg, geom.Point{X: 12, Y: 20}, squareBeacons(), 1.0)
	a, _ := BuildReportFrame(0xB001, 0, samples)
	b, _ := BuildReportFrame(0xB002, 0, samples)
	s.handlePacket(append(a, b...), nil, 1)

	if len(fixes) != 2 {
		t.Fatalf("fixes = %d, want 2", len(fixes))
	}
	if fixes[0].Addr != 0xB001 || fixes[1].Addr != 0xB002 {
		t.Errorf("fix addrs = %X, %X", fixes[0].Addr, fixes[1].Addr)
	}
}

func TestHandlePacketResync(t *testing.T) {
	cfg := testConfig()
	s := newTestServer(cfg)
	s.SetBeacons(squareBeacons())

	var fixes []Fix
	s.SetFixFunc(func(f Fix) { fixes = append(fixes, f) })

	good, err := BuildReportFrame(0xB001, 0, samplesAt(cfg, geom.Point{X: 12, Y: 20}, squareBeacons(), 1.0))
	if err != nil {
		t.Fatal(err)
	}
	corrupt := append([]byte(nil), good...)
	corrupt[HdrLen] ^= 0xFF

	data := append([]byte{0x00, 0x01, 0x02}, corrupt...)
	data = append(data, good...)
	s.handlePacket(data, nil, 1)

	if len(fixes) != 1 {
		t.Fatalf("fixes = %d, want 1 (good frame after resync)", len(fixes))
	}
	if st := s.GetStats(); st.BadFrames == 0 {
		t.Errorf("stats = %+v, want bad frame counted", st)
	}
}

func TestHandlePacketTooFewKnownBeacons(t *testing.T) {
	cfg := testConfig()
	s := newTestServer(cfg)
	s.SetBeacons(map[uint16]geom.Point{
		1: {X: 0, Y: 0},
		2: {X: 40, Y: 0},
	})

	var fixes []Fix
	s.SetFixFunc(func(f Fix) { fixes = append(fixes, f) })

	pkt, err := BuildReportFrame(0xB001, 0, []Sample{
		{BeaconID: 1, RssiDbm: -70},
		{BeaconID: 2, RssiDbm: -70},
		{BeaconID: 99, RssiDbm: -70},
	})
	if err != nil {
		t.Fatal(err)
	}
	s.handlePacket(pkt, nil, 1)

	if len(fixes) != 0 {
		t.Fatalf("fixes = %d, want none with two usable ranges", len(fixes))
	}
	if st := s.GetStats(); st.NoFix != 1 {
		t.Errorf("stats = %+v, want NoFix = 1", st)
	}
}

func TestReplaySelfContainedTrace(t *testing.T) {
	cfg := testConfig()
	beacons := squareBeacons()
	dev := geom.Point{X: 12, Y: 20}
	const scale = 0.5 // meters per scene unit

	path := filepath.Join(t.TempDir(), "run.blt")
	w, err := binlog.NewWriter(path)
	if err != nil {
		t.Fatal(err)
	}
	base := int64(1_700_000_000_000)
	infos := make([]binlog.BeaconInfo, 0, len(beacons))
	for id := uint16(1); int(id) <= len(beacons); id++ {
		at := beacons[id]
		infos = append(infos, binlog.BeaconInfo{ID: uint64(id), X: at.X, Y: at.Y})
	}
	if err := w.WriteBeacons(base, infos); err != nil {
		t.Fatal(err)
	}
	tx, exp := -50.0, 2.0
	meta := sim.TraceMeta{
		Scenario:      "replay-test",
		MetersPerUnit: scale,
		Radio:         sim.RadioParams{TxPowerAt1m: &tx, PathLossExponent: &exp},
	}
	if err := w.WriteConfig(base, meta); err != nil {
		t.Fatal(err)
	}
	src := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 9), Port: 6001}
	for i := 0; i < 3; i++ {
		pkt, err := BuildReportFrame(0xB001, uint8(i), samplesAt(cfg, dev, beacons, scale))
		if err != nil {
			t.Fatal(err)
		}
		if err := w.WriteFrame(base+int64(i)*1000, src, pkt); err != nil {
			t.Fatal(err)
		}
	}
	w.Close()

	// Fresh server with no scene knowledge: everything comes from the
	// trace itself.
	s := newTestServer(radio.DefaultConfig())
	var fixes []Fix
	s.SetFixFunc(func(f Fix) { fixes = append(fixes, f) })

	if err := s.Replay(path, 0); err != nil {
		t.Fatalf("Replay: %v", err)
	}

	if len(fixes) != 3 {
		t.Fatalf("fixes = %d, want 3", len(fixes))
	}
	if fixes[0].TS != base {
		t.Errorf("first fix ts = %d, want %d", fixes[0].TS, base)
	}
	for _, f := range fixes {
		if d := geom.Dist(geom.Point{X: f.X, Y: f.Y}, dev); d > 2.0 {
			t.Errorf("fix at (%.2f, %.2f), %.2f units off", f.X, f.Y, d)
		}
	}
	if s.scale != scale {
		t.Errorf("scale = %v, want %v from config record", s.scale, scale)
	}
}
