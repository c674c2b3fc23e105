package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"blesim/binlog"
	"blesim/feed"
	"blesim/geom"
	"blesim/locate"
	"blesim/radio"
	"blesim/web"
)

const (
	DefaultPort   = 44333
	MaxPacketSize = 65535
)

// Fix is one computed device position, in scene units.
type Fix struct {
	Addr    uint32  `json:"id"`
	TS      int64   `json:"ts"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Beacons int     `json:"beacons"`
}

// Stats counts what the server has seen since start.
type Stats struct {
	Frames    uint64 `json:"frames"`
	Fixes     uint64 `json:"fixes"`
	NoFix     uint64 `json:"no_fix"`
	BadFrames uint64 `json:"bad_frames"`
}

// UdpServer ingests report frames over UDP, estimates a distance per
// detected beacon and solves for the device position.
type UdpServer struct {
	conn  *net.UDPConn
	cfg   radio.Config
	scale float64

	trace  *binlog.Writer
	sender *feed.Sender
	webHub *web.Hub
	onFix  func(Fix)

	running bool

	mu       sync.Mutex
	beacons  map[uint16]geom.Point
	lastGw   map[uint32]*net.UDPAddr
	devState map[uint32]Fix
	stats    Stats
}

func NewUdpServer(port int, cfg radio.Config) (*UdpServer, error) {
	if port == 0 {
		port = DefaultPort
	}
	addr := net.UDPAddr{
		Port: port,
		IP:   net.ParseIP("0.0.0.0"),
	}
	conn, err := net.ListenUDP("udp", &addr)
	if err != nil {
		return nil, err
	}

	conn.SetReadBuffer(256 * 1024)

	return &UdpServer{
		conn:     conn,
		cfg:      cfg,
		scale:    1.0,
		beacons:  make(map[uint16]geom.Point),
		lastGw:   make(map[uint32]*net.UDPAddr),
		devState: make(map[uint32]Fix),
	}, nil
}

// SetBeacons replaces the beacon map. Positions are scene units.
func (s *UdpServer) SetBeacons(m map[uint16]geom.Point) {
	s.mu.Lock()
	s.beacons = m
	s.mu.Unlock()
}

// SetMetersPerUnit sets the scene scale used to convert estimated
// distances back into scene units.
func (s *UdpServer) SetMetersPerUnit(v float64) {
	if v <= 0 {
		v = 1.0
	}
	s.mu.Lock()
	s.scale = v
	s.mu.Unlock()
}

// SetRadioConfig replaces the propagation parameters used for distance
// estimation.
func (s *UdpServer) SetRadioConfig(cfg radio.Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *UdpServer) SetTraceWriter(w *binlog.Writer) {
	s.trace = w
}

func (s *UdpServer) SetFeedSender(snd *feed.Sender) {
	s.sender = snd
}

func (s *UdpServer) SetWebHub(h *web.Hub) {
	s.webHub = h
}

// SetFixFunc attaches an extra sink called for every computed fix.
func (s *UdpServer) SetFixFunc(fn func(Fix)) {
	s.onFix = fn
}

// GetDevices returns the last known fix for every device seen so far.
func (s *UdpServer) GetDevices() []Fix {
	s.mu.Lock()
	defer s.mu.Unlock()
	devices := make([]Fix, 0, len(s.devState))
	for _, d := range s.devState {
		devices = append(devices, d)
	}
	return devices
}

// GetStats returns a snapshot of the ingest counters.
func (s *UdpServer) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *UdpServer) Start() {
	s.running = true
	buf := make([]byte, MaxPacketSize)
	log.Printf("UDP server listening on %s", s.conn.LocalAddr().String())

	for s.running {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if s.running {
				log.Printf("Read error: %v", err)
			}
			continue
		}

		// Copy before parsing, the frame may outlive this iteration.
		data := make([]byte, n)
		copy(data, buf[:n])

		s.handlePacket(data, addr, time.Now().UnixMilli())
	}
}

func (s *UdpServer) Stop() {
	s.running = false
	s.conn.Close()
}

// SendCommand builds a command frame and sends it back to the address
// the device last reported from.
func (s *UdpServer) SendCommand(addr uint32, cmd uint8, payload []byte) error {
	s.mu.Lock()
	gw, ok := s.lastGw[addr]
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("no known source for device %08X", addr)
	}

	pkt, err := BuildCommandFrame(addr, cmd, payload)
	if err != nil {
		return err
	}
	_, err = s.conn.WriteToUDP(pkt, gw)
	return err
}

// handlePacket scans a datagram for frames. A bad byte advances the
// scan by one to resynchronize on the next magic.
func (s *UdpServer) handlePacket(data []byte, addr *net.UDPAddr, ts int64) {
	offset := 0
	for offset < len(data) {
		if len(data)-offset < HdrLen {
			break
		}

		hdr, err := ParseHeader(data[offset:])
		if err != nil {
			offset++
			continue
		}
		total := WrapLen + hdr.BodyLen
		if offset+total > len(data) {
			break
		}

		frame, _, err := ParseFrame(data[offset:])
		if err != nil {
			s.mu.Lock()
			s.stats.BadFrames++
			s.mu.Unlock()
			offset++
			continue
		}

		if s.trace != nil {
			_ = s.trace.WriteFrame(ts, addr, data[offset:offset+total])
		}

		s.mu.Lock()
		s.lastGw[frame.Addr] = addr
		s.mu.Unlock()

		s.processFrame(frame, ts)

		offset += total
	}
}

func (s *UdpServer) processFrame(f *Frame, ts int64) {
	if f.Type != TypeReport {
		return
	}
	_, samples, err := ParseReportFrame(f.Body)
	if err != nil {
		log.Printf("ParseReportFrame error: %v", err)
		return
	}
	s.feedReport(f.Addr, ts, samples)
}

// feedReport converts beacon observations into ranges and solves.
// Samples from beacons missing from the map are dropped.
func (s *UdpServer) feedReport(addr uint32, ts int64, samples []Sample) {
	s.mu.Lock()
	s.stats.Frames++
	cfg, scale := s.cfg, s.scale
	ranges := make([]locate.Range, 0, len(samples))
	for _, smp := range samples {
		at, ok := s.beacons[smp.BeaconID]
		if !ok {
			continue
		}
		distM := radio.EstimateDistance(float64(smp.RssiDbm), cfg)
		ranges = append(ranges, locate.Range{At: at, Dist: distM / scale})
	}
	s.mu.Unlock()

	pos, ok := locate.Solve(ranges)
	if !ok {
		s.mu.Lock()
		s.stats.NoFix++
		s.mu.Unlock()
		return
	}

	s.sendResult(Fix{Addr: addr, TS: ts, X: pos.X, Y: pos.Y, Beacons: len(ranges)})
}

func (s *UdpServer) sendResult(fix Fix) {
	s.mu.Lock()
	s.stats.Fixes++
	s.devState[fix.Addr] = fix
	s.mu.Unlock()

	if s.sender != nil {
		msg := feed.FormatPosition(int64(fix.Addr), fix.TS, 0, fix.X, fix.Y)
		s.sender.Send(msg, feed.FlagPosition)
	}

	if s.webHub != nil {
		b, _ := json.Marshal(fix)
		s.webHub.Broadcast(b)
	}

	if s.onFix != nil {
		s.onFix(fix)
	}
}
