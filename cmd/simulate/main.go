package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"blesim/binlog"
	"blesim/bridge"
	"blesim/feed"
	"blesim/report"
	"blesim/server"
	"blesim/sim"
	"blesim/store"
)

func main() {
	scenarioPath := flag.String("scenario", "", "Scenario JSON file")
	outPath := flag.String("out", "", "Output CSV path (optional)")
	tracePath := flag.String("trace", "", "Record the run as a replayable trace (optional)")
	dbPath := flag.String("db", "", "Record the run into a SQLite database (optional)")
	dest := flag.String("dest", "", "Stream report frames to a UDP server, e.g. 127.0.0.1:44333 (optional)")
	mqttBroker := flag.String("mqtt", "", "Mirror steps onto an MQTT broker, e.g. tcp://localhost:1883 (optional)")
	feedUDP := flag.String("feed-udp", "", "Send display lines to a UDP consumer (optional)")
	deviceHex := flag.String("device", "B001", "Device address in hex used in emitted frames")
	realtime := flag.Bool("realtime", false, "Pace ticks at scenario speed instead of running flat out")
	seedOverride := flag.Int64("seed", 0, "Override the scenario noise seed (0 keeps the scenario's)")
	flag.Parse()

	if *scenarioPath == "" {
		log.Fatal("--scenario required")
	}
	devAddr, err := parseAddrHex(*deviceHex)
	if err != nil {
		log.Fatalf("Invalid device address: %v", err)
	}

	sc, err := sim.LoadScenario(*scenarioPath)
	if err != nil {
		log.Fatalf("Load scenario failed: %v", err)
	}
	if *seedOverride != 0 {
		sc.Seed = seedOverride
	}

	runner := sim.NewRunner(sc)
	if *realtime {
		runner.Every = sc.GetTick()
	}

	// Every sink below sees the same steps; the collector feeds the CSV
	// and the closing summary.
	var steps []store.StepRec
	runner.AddSink(sim.SinkFunc(func(st sim.Step) error {
		steps = append(steps, store.StepRec{
			Tick: st.Tick, TsMs: st.TimestampMs,
			Truth: st.Truth, Est: st.Fix, HasFix: st.HasFix, ErrM: st.ErrM,
		})
		return nil
	}))

	if *tracePath != "" {
		tw, err := binlog.NewWriter(*tracePath)
		if err != nil {
			log.Fatalf("Create trace failed: %v", err)
		}
		defer tw.Close()

		// Tables first so the trace replays without the scenario file.
		if err := tw.WriteBeacons(0, beaconInfos(sc)); err != nil {
			log.Fatalf("Write beacon table failed: %v", err)
		}
		if err := tw.WriteDevices(0, []binlog.DeviceInfo{{Addr: uint64(devAddr)}}); err != nil {
			log.Fatalf("Write device table failed: %v", err)
		}
		if err := tw.WriteConfig(0, sc.Meta()); err != nil {
			log.Fatalf("Write config failed: %v", err)
		}

		src := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 44000}
		var seq uint8
		runner.AddSink(sim.SinkFunc(func(st sim.Step) error {
			frames, err := reportFrames(devAddr, &seq, st.Measurements)
			if err != nil {
				return err
			}
			for _, frame := range frames {
				if err := tw.WriteFrame(st.TimestampMs, src, frame); err != nil {
					return err
				}
			}
			return nil
		}))
		log.Printf("Recording trace to %s", *tracePath)
	}

	if *dest != "" {
		raddr, err := net.ResolveUDPAddr("udp", *dest)
		if err != nil {
			log.Fatalf("Invalid dest address: %v", err)
		}
		conn, err := net.DialUDP("udp", nil, raddr)
		if err != nil {
			log.Fatalf("Dial failed: %v", err)
		}
		defer conn.Close()

		var seq uint8
		runner.AddSink(sim.SinkFunc(func(st sim.Step) error {
			frames, err := reportFrames(devAddr, &seq, st.Measurements)
			if err != nil {
				return err
			}
			for _, frame := range frames {
				if _, err := conn.Write(frame); err != nil {
					log.Printf("Write to %s failed: %v", *dest, err)
				}
			}
			return nil
		}))
		log.Printf("Streaming frames to %s", *dest)
	}

	if *dbPath != "" {
		st, err := store.Open(*dbPath)
		if err != nil {
			log.Fatalf("Open database failed: %v", err)
		}
		defer st.Close()

		cfgJSON, err := json.Marshal(sc)
		if err != nil {
			log.Fatalf("Marshal scenario failed: %v", err)
		}
		var seedPtr *int64
		if s, ok := sc.GetSeed(); ok {
			seedPtr = &s
		}
		runID, err := st.CreateRun(sc.Name, time.Now(), sc.GetMetersPerUnit(), seedPtr, string(cfgJSON))
		if err != nil {
			log.Fatalf("Create run failed: %v", err)
		}
		runner.AddSink(st.StepSink(runID))
		log.Printf("Recording run %s to %s", runID, *dbPath)
	}

	var snd *feed.Sender
	if *feedUDP != "" {
		snd = feed.NewSender()
		if err := snd.AddUDPTarget(*feedUDP, feed.FlagAll); err != nil {
			log.Fatalf("Bad feed target: %v", err)
		}
		if err := snd.Start(); err != nil {
			log.Fatalf("Start feed sender failed: %v", err)
		}
		defer snd.Stop()

		runner.AddSink(sim.SinkFunc(func(st sim.Step) error {
			if st.HasFix {
				snd.Send(feed.FormatPosition(int64(devAddr), st.TimestampMs, uint16(st.Tick), st.Fix.X, st.Fix.Y), feed.FlagPosition)
			}
			for _, m := range st.Measurements {
				snd.Send(feed.FormatRssi(int64(devAddr), st.TimestampMs, m.BeaconID, m.Rssi), feed.FlagRssi)
			}
			return nil
		}))
		log.Printf("Feeding display lines to %s", *feedUDP)
	}

	if *mqttBroker != "" {
		br, err := bridge.Connect(bridge.Config{Broker: *mqttBroker})
		if err != nil {
			log.Fatalf("MQTT connect failed: %v", err)
		}
		defer br.Close()
		if err := br.PublishScene(sc); err != nil {
			log.Printf("Scene publish failed: %v", err)
		}
		runner.AddSink(br.StepSink())
		log.Printf("Mirroring steps to %s", *mqttBroker)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		cancel()
	}()

	log.Printf("Running %s: %d ticks", sc.Name, sc.TotalTicks())
	start := time.Now()
	if err := runner.Run(ctx); err != nil {
		log.Fatalf("Run failed: %v", err)
	}
	elapsed := time.Since(start)

	if *outPath != "" {
		if err := writeCSV(*outPath, steps); err != nil {
			log.Fatalf("Write CSV failed: %v", err)
		}
		log.Printf("Wrote %d rows to %s", len(steps), *outPath)
	}

	stats := report.Compute(steps)
	if snd != nil {
		snd.Send(feed.FormatSummary(int64(devAddr), time.Now().UnixMilli(), stats.Steps, stats.Fixes, stats.RmseErr), feed.FlagSummary)
	}
	fmt.Printf("Done in %.2fs: %d ticks, %d fixes (%.1f%%)\n",
		elapsed.Seconds(), stats.Steps, stats.Fixes, stats.FixRate*100)
	if stats.Fixes > 0 {
		fmt.Printf("Error mean %.3f m, median %.3f m, p95 %.3f m, max %.3f m\n",
			stats.MeanErr, stats.MedianErr, stats.P95Err, stats.MaxErr)
		fmt.Printf("RMSE %.3f m\n", stats.RmseErr)
	}
}

func parseAddrHex(s string) (uint32, error) {
	s = strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(s)), "0X")
	v, err := strconv.ParseUint(s, 16, 32)
	return uint32(v), err
}

func beaconInfos(sc *sim.Scenario) []binlog.BeaconInfo {
	out := make([]binlog.BeaconInfo, len(sc.Beacons))
	for i, b := range sc.Beacons {
		out[i] = binlog.BeaconInfo{ID: uint64(b.ID), X: b.X, Y: b.Y}
	}
	return out
}

// reportFrames packs measurements into report frames, splitting across
// frames when a tick saw more beacons than one frame can carry. An empty
// tick still emits one frame so the device stays visible downstream.
func reportFrames(addr uint32, seq *uint8, ms []sim.Measurement) ([][]byte, error) {
	samples := make([]server.Sample, len(ms))
	for i, m := range ms {
		samples[i] = server.Sample{
			BeaconID: uint16(m.BeaconID),
			RssiDbm:  int8(math.Round(m.Rssi)),
		}
	}

	var frames [][]byte
	for {
		n := len(samples)
		if n > server.MaxReportSamples {
			n = server.MaxReportSamples
		}
		frame, err := server.BuildReportFrame(addr, *seq, samples[:n])
		if err != nil {
			return nil, err
		}
		*seq++
		frames = append(frames, frame)
		samples = samples[n:]
		if len(samples) == 0 {
			return frames, nil
		}
	}
}

func writeCSV(path string, steps []store.StepRec) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	rows := [][]string{{"tick", "ts_ms", "truth_x", "truth_y", "est_x", "est_y", "err_m"}}
	for _, st := range steps {
		row := []string{
			strconv.Itoa(st.Tick),
			strconv.FormatInt(st.TsMs, 10),
			fmt.Sprintf("%.4f", st.Truth.X),
			fmt.Sprintf("%.4f", st.Truth.Y),
			"", "", "",
		}
		if st.HasFix {
			row[4] = fmt.Sprintf("%.4f", st.Est.X)
			row[5] = fmt.Sprintf("%.4f", st.Est.Y)
			row[6] = fmt.Sprintf("%.4f", st.ErrM)
		}
		rows = append(rows, row)
	}
	if err := w.WriteAll(rows); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}
