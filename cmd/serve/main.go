package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"blesim/binlog"
	"blesim/bridge"
	"blesim/feed"
	"blesim/geom"
	"blesim/radio"
	"blesim/report"
	"blesim/server"
	"blesim/sim"
	"blesim/store"
	"blesim/web"
)

func main() {
	port := flag.Int("port", server.DefaultPort, "UDP port to listen on")
	httpPort := flag.Int("http", 0, "HTTP/WebSocket viewer port (0 disables)")
	scenarioPath := flag.String("scenario", "", "Scenario JSON with the beacon layout")
	distDir := flag.String("dist", "", "Static viewer assets directory (optional)")
	tracePath := flag.String("trace", "", "Record received frames to a trace file or directory (optional)")
	replayPath := flag.String("replay", "", "Feed a recorded trace through the solver on startup (optional)")
	replaySpeed := flag.Float64("speed", 1.0, "Replay speed multiplier (0 for max speed)")
	dbPath := flag.String("db", "", "SQLite run database to serve charts from (optional)")
	feedUDP := flag.String("feed-udp", "", "Forward display lines to a UDP consumer (optional)")
	feedTCP := flag.String("feed-tcp", "", "Forward display lines to a TCP consumer (optional)")
	feedHdr := flag.String("feed-hdr", "", "Header token prepended to display lines")
	mqttBroker := flag.String("mqtt", "", "MQTT broker for live mirroring (optional)")
	flag.Parse()

	if *scenarioPath == "" && *replayPath == "" {
		log.Fatal("--scenario or --replay required (the solver needs a beacon layout)")
	}

	var sc *sim.Scenario
	if *scenarioPath != "" {
		var err error
		sc, err = sim.LoadScenario(*scenarioPath)
		if err != nil {
			log.Fatalf("Load scenario failed: %v", err)
		}
	}

	cfg := radio.DefaultConfig()
	if sc != nil {
		cfg = sc.Radio.Config()
	}
	udpSvr, err := server.NewUdpServer(*port, cfg)
	if err != nil {
		log.Fatalf("Failed to create UDP server: %v", err)
	}
	if sc != nil {
		beacons := make(map[uint16]geom.Point, len(sc.Beacons))
		for _, b := range sc.Beacons {
			beacons[uint16(b.ID)] = geom.Point{X: b.X, Y: b.Y}
		}
		udpSvr.SetBeacons(beacons)
		udpSvr.SetMetersPerUnit(sc.GetMetersPerUnit())
		log.Printf("Loaded %d beacons from %s", len(beacons), *scenarioPath)
	}

	var st *store.Store
	if *dbPath != "" {
		st, err = store.Open(*dbPath)
		if err != nil {
			log.Fatalf("Open database failed: %v", err)
		}
		defer st.Close()
	}

	if *httpPort > 0 {
		webSvr := web.NewServer()
		webSvr.Devices = func() interface{} { return udpSvr.GetDevices() }
		webSvr.Stats = func() interface{} { return udpSvr.GetStats() }
		if sc != nil {
			webSvr.Scene = func() interface{} { return sc }
		}
		if st != nil {
			cs := &report.ChartServer{Store: st}
			webSvr.Extra = map[string]http.Handler{
				"/report/runs":    cs.RunsHandler(),
				"/report/stats":   cs.StatsHandler(),
				"/report/scatter": cs.ScatterHandler(),
				"/report/rssi":    cs.RssiHandler(),
			}
		}
		go webSvr.Start(*httpPort, *distDir)
		udpSvr.SetWebHub(webSvr.Hub)
	}

	if *feedUDP != "" || *feedTCP != "" {
		snd := feed.NewSender()
		snd.SetHeader(*feedHdr)
		if *feedUDP != "" {
			if err := snd.AddUDPTarget(*feedUDP, feed.FlagAll); err != nil {
				log.Fatalf("Bad feed UDP target: %v", err)
			}
			log.Printf("Feed UDP target %s", *feedUDP)
		}
		if *feedTCP != "" {
			snd.AddTCPTarget(*feedTCP, feed.FlagAll)
			log.Printf("Feed TCP target %s", *feedTCP)
		}
		if err := snd.Start(); err != nil {
			log.Fatalf("Failed to start feed sender: %v", err)
		}
		udpSvr.SetFeedSender(snd)
		defer snd.Stop()
	}

	if *tracePath != "" {
		// Auto-generate name if directory
		path := *tracePath
		if fi, err := os.Stat(path); err == nil && fi.IsDir() {
			path = filepath.Join(path, fmt.Sprintf("trace_%s.blt", time.Now().Format("20060102150405")))
		}
		tw, err := binlog.NewWriter(path)
		if err != nil {
			log.Fatalf("Failed to create trace writer: %v", err)
		}
		defer tw.Close()
		// Tables first so the trace replays without the scenario file.
		if sc != nil {
			if err := tw.WriteBeacons(0, beaconInfos(sc)); err != nil {
				log.Fatalf("Write beacon table failed: %v", err)
			}
			if err := tw.WriteConfig(0, sc.Meta()); err != nil {
				log.Fatalf("Write config failed: %v", err)
			}
		}
		udpSvr.SetTraceWriter(tw)
		log.Printf("Logging frames to %s", path)
	}

	if *mqttBroker != "" {
		br, err := bridge.Connect(bridge.Config{Broker: *mqttBroker})
		if err != nil {
			log.Fatalf("MQTT connect failed: %v", err)
		}
		defer br.Close()
		br.SetCommandFunc(func(addr uint32, cmd uint8, payload []byte) {
			if err := udpSvr.SendCommand(addr, cmd, payload); err != nil {
				log.Printf("Command relay to %08X failed: %v", addr, err)
			}
		})
		udpSvr.SetFixFunc(br.PublishFix)
		if sc != nil {
			if err := br.PublishScene(sc); err != nil {
				log.Printf("Scene publish failed: %v", err)
			}
		}
		go func() {
			t := time.NewTicker(10 * time.Second)
			defer t.Stop()
			for range t.C {
				br.PublishStats(udpSvr.GetStats())
			}
		}()
		log.Printf("MQTT bridge on %s", *mqttBroker)
	}

	go udpSvr.Start()

	if *replayPath != "" {
		go func() {
			if err := udpSvr.Replay(*replayPath, *replaySpeed); err != nil {
				log.Printf("Replay failed: %v", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")
	udpSvr.Stop()
}

func beaconInfos(sc *sim.Scenario) []binlog.BeaconInfo {
	out := make([]binlog.BeaconInfo, len(sc.Beacons))
	for i, b := range sc.Beacons {
		out[i] = binlog.BeaconInfo{ID: uint64(b.ID), X: b.X, Y: b.Y}
	}
	return out
}
