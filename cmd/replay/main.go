package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"time"

	"blesim/binlog"
)

func main() {
	tracePath := flag.String("trace", "", "Input trace file")
	destAddr := flag.String("dest", "127.0.0.1:44333", "Destination UDP address")
	speed := flag.Float64("speed", 1.0, "Replay speed multiplier (0 for max speed)")
	flag.Parse()

	if *tracePath == "" {
		log.Fatal("--trace required")
	}

	// Resolve destination
	raddr, err := net.ResolveUDPAddr("udp", *destAddr)
	if err != nil {
		log.Fatalf("Invalid dest address: %v", err)
	}

	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		log.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	var firstTs float64
	var startReal time.Time

	count := 0

	log.Printf("Replaying %s to %s...", *tracePath, *destAddr)

	err = binlog.Scan(*tracePath, func(rec binlog.Record) error {
		if rec.Kind != binlog.KindData {
			// Tables don't go on the wire.
			return nil
		}

		// Timing logic
		if firstTs == 0 {
			firstTs = rec.Ts
			startReal = time.Now()
		} else if *speed > 0 {
			targetDelay := time.Duration((rec.Ts - firstTs) / *speed * float64(time.Second))
			elapsed := time.Since(startReal)
			if targetDelay > elapsed {
				time.Sleep(targetDelay - elapsed)
			}
		}

		// Send
		if _, err := conn.Write(rec.Payload); err != nil {
			log.Printf("Write error: %v", err)
		}
		count++
		if count%1000 == 0 {
			fmt.Printf("\rSent %d packets...", count)
		}
		return nil
	})
	if err != nil {
		log.Fatalf("Read trace failed: %v", err)
	}
	fmt.Printf("\nDone. Sent %d packets.\n", count)
}
