package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"

	"blesim/binlog"
	"blesim/server"
	"blesim/sim"
)

type devTally struct {
	frames   int
	reports  int
	commands int
	other    int
	samples  int
	minRssi  int8
	maxRssi  int8
}

func main() {
	tracePath := flag.String("trace", "", "Input trace file")
	flag.Parse()

	if *tracePath == "" {
		fmt.Println("--trace required")
		os.Exit(1)
	}

	tr, err := binlog.Parse(*tracePath)
	if err != nil {
		fmt.Printf("parse trace failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Trace %s\n", *tracePath)

	if len(tr.Config) > 0 {
		var meta sim.TraceMeta
		if err := json.Unmarshal(tr.Config, &meta); err == nil {
			if meta.Scenario != "" {
				fmt.Printf("Scenario: %s\n", meta.Scenario)
			}
			fmt.Printf("Scale:    %.2f m/unit\n", meta.MetersPerUnit)
			cfg := meta.Radio.Config()
			fmt.Printf("Radio:    tx %.1f dBm at 1m, path loss n=%.2f\n",
				cfg.TxPowerAt1m, cfg.PathLossExponent)
		}
	}

	fmt.Printf("Beacons:  %d\n", len(tr.Beacons))
	for _, b := range tr.Beacons {
		fmt.Printf("  %04X at (%.2f, %.2f)\n", b.ID, b.X, b.Y)
	}

	fmt.Printf("Devices:  %d\n", len(tr.Devices))
	for _, d := range tr.Devices {
		fmt.Printf("  %08X\n", d.Addr)
	}

	span := tr.LastTs() - tr.EarliestTs()
	fmt.Printf("Events:   %d", len(tr.Events))
	if span > 0 {
		fmt.Printf(" over %.1fs (%.1f pkt/s)", span, float64(len(tr.Events))/span)
	}
	fmt.Println()

	// Tally frames per source device
	tallies := make(map[uint32]*devTally)
	unparsable := 0
	for _, evt := range tr.Events {
		frame, _, err := server.ParseFrame(evt.Frame)
		if err != nil {
			unparsable++
			continue
		}
		t := tallies[frame.Addr]
		if t == nil {
			t = &devTally{minRssi: 127, maxRssi: -128}
			tallies[frame.Addr] = t
		}
		t.frames++
		switch frame.Type {
		case server.TypeReport:
			t.reports++
			if _, samples, err := server.ParseReportFrame(frame.Body); err == nil {
				for _, smp := range samples {
					t.samples++
					if smp.RssiDbm < t.minRssi {
						t.minRssi = smp.RssiDbm
					}
					if smp.RssiDbm > t.maxRssi {
						t.maxRssi = smp.RssiDbm
					}
				}
			}
		case server.TypeCommand:
			t.commands++
		default:
			t.other++
		}
	}

	addrs := make([]uint32, 0, len(tallies))
	for addr := range tallies {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	for _, addr := range addrs {
		t := tallies[addr]
		line := fmt.Sprintf("Device %08X: %d frames (%d reports, %d commands, %d other)",
			addr, t.frames, t.reports, t.commands, t.other)
		if t.samples > 0 {
			line += fmt.Sprintf(", %d samples, rssi [%d..%d] dBm", t.samples, t.minRssi, t.maxRssi)
		}
		fmt.Println(line)
	}
	if unparsable > 0 {
		fmt.Printf("Unparsable frames: %d\n", unparsable)
	}
}
