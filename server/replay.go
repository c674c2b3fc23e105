package server

import (
	"encoding/json"
	"errors"
	"log"
	"time"

	"blesim/binlog"
	"blesim/geom"
	"blesim/sim"
)

var errReplayStopped = errors.New("replay stopped")

// Replay feeds a recorded trace through the server as if it were live
// traffic. Table and config records reconfigure the server mid-stream,
// so a trace is self-contained. speed scales wall-clock pacing relative
// to the recorded timestamps; zero or negative replays at full speed.
func (s *UdpServer) Replay(path string, speed float64) error {
	s.running = true
	log.Printf("Replaying %s at %.1fx speed...", path, speed)

	var firstTs float64
	startReal := time.Now()
	pktCount := 0

	err := binlog.Scan(path, func(rec binlog.Record) error {
		if !s.running {
			return errReplayStopped
		}

		switch rec.Kind {
		case binlog.KindBeacons:
			m := make(map[uint16]geom.Point, rec.Count)
			for _, b := range binlog.DecodeBeacons(rec) {
				m[uint16(b.ID)] = geom.Point{X: b.X, Y: b.Y}
			}
			s.SetBeacons(m)
			return nil
		case binlog.KindDevices:
			// Device addresses are learned from the frames themselves.
			return nil
		case binlog.KindConfig:
			var meta sim.TraceMeta
			if err := json.Unmarshal(rec.Payload, &meta); err != nil {
				log.Printf("Bad config record: %v", err)
				return nil
			}
			s.SetMetersPerUnit(meta.MetersPerUnit)
			s.SetRadioConfig(meta.Radio.Config())
			return nil
		}

		pktCount++
		if pktCount <= 10 {
			log.Printf("Replay pkt #%d: ts=%.3f len=%d src=%v",
				pktCount, rec.Ts, len(rec.Payload), rec.Src())
		}

		if firstTs == 0 {
			firstTs = rec.Ts
			startReal = time.Now()
		} else if speed > 0 {
			targetDelay := time.Duration((rec.Ts - firstTs) / speed * float64(time.Second))
			if elapsed := time.Since(startReal); targetDelay > elapsed {
				time.Sleep(targetDelay - elapsed)
			}
		}

		s.handlePacket(rec.Payload, rec.Src(), int64(rec.Ts*1000))
		return nil
	})
	if errors.Is(err, errReplayStopped) {
		err = nil
	}
	log.Printf("Replay ended: %d packets", pktCount)
	return err
}
