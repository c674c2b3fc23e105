package binlog

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
)

// Record is one trace record as stored on disk. For table and config
// records Count is the item count and Word the little-endian item size.
// For data records Count is the source UDP port and Word the IPv4 source
// address in network order.
type Record struct {
	Ts      float64 // seconds since epoch
	Kind    uint16
	Count   uint16
	Word    [4]byte
	Payload []byte
}

// Src reconstructs the wire source address of a data record.
func (r Record) Src() *net.UDPAddr {
	ip := make(net.IP, 4)
	copy(ip, r.Word[:])
	return &net.UDPAddr{IP: ip, Port: int(r.Count)}
}

// Frame returns a copy of the payload for callers that retain it past
// the Scan callback.
func (r Record) Frame() []byte {
	return append([]byte(nil), r.Payload...)
}

// Scan reads the trace at path and calls fn for every well-formed record
// in file order. Records too short to carry a meta header are skipped;
// a truncated tail ends the scan without error. An error from fn aborts
// the scan and is returned as-is.
func Scan(path string, fn func(Record) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	br := bufio.NewReader(f)

	gh := make([]byte, pcapGlobalLen)
	if _, err := io.ReadFull(br, gh); err != nil {
		return fmt.Errorf("global header: %w", err)
	}
	if magic := binary.LittleEndian.Uint32(gh[0:4]); magic != PcapMagic {
		return fmt.Errorf("bad magic 0x%08X", magic)
	}

	hdr := make([]byte, pcapRecordLen)
	for {
		if _, err := io.ReadFull(br, hdr); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return fmt.Errorf("record header: %w", err)
		}
		tsSec := binary.LittleEndian.Uint32(hdr[0:4])
		tsUsec := binary.LittleEndian.Uint32(hdr[4:8])
		inclLen := binary.LittleEndian.Uint32(hdr[8:12])

		if inclLen < metaLen {
			// malformed record, skip the stated length
			if _, err := io.CopyN(io.Discard, br, int64(inclLen)); err != nil {
				break
			}
			continue
		}

		body := make([]byte, inclLen)
		if _, err := io.ReadFull(br, body); err != nil {
			break
		}

		rec := Record{
			Ts:      float64(tsSec) + float64(tsUsec)/1e6,
			Kind:    binary.LittleEndian.Uint16(body[0:2]),
			Count:   binary.LittleEndian.Uint16(body[2:4]),
			Payload: body[metaLen:],
		}
		copy(rec.Word[:], body[4:8])

		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// DecodeBeacons unpacks a beacon-table record. Items that run past the
// payload are dropped.
func DecodeBeacons(r Record) []BeaconInfo {
	size := int(binary.LittleEndian.Uint32(r.Word[:]))
	if size < beaconItemLen {
		return nil
	}
	beacons := make([]BeaconInfo, 0, r.Count)
	for i := 0; i < int(r.Count); i++ {
		start := i * size
		if start+size > len(r.Payload) {
			break
		}
		chunk := r.Payload[start:]
		beacons = append(beacons, BeaconInfo{
			ID: binary.LittleEndian.Uint64(chunk[0:8]),
			X:  float64(int32(binary.LittleEndian.Uint32(chunk[8:12]))) / 100.0,
			Y:  float64(int32(binary.LittleEndian.Uint32(chunk[12:16]))) / 100.0,
		})
	}
	return beacons
}

// DecodeDevices unpacks a device-table record.
func DecodeDevices(r Record) []DeviceInfo {
	size := int(binary.LittleEndian.Uint32(r.Word[:]))
	if size < deviceItemLen {
		return nil
	}
	devices := make([]DeviceInfo, 0, r.Count)
	for i := 0; i < int(r.Count); i++ {
		start := i * size
		if start+size > len(r.Payload) {
			break
		}
		devices = append(devices, DeviceInfo{
			Addr: binary.LittleEndian.Uint64(r.Payload[start : start+8]),
		})
	}
	return devices
}

// Event is one data record lifted out of a trace.
type Event struct {
	Ts    float64
	Src   *net.UDPAddr
	Frame []byte
}

// Trace is a fully loaded trace file. Later table records replace
// earlier ones.
type Trace struct {
	Beacons []BeaconInfo
	Devices []DeviceInfo
	Config  json.RawMessage
	Events  []Event
}

// Parse loads the whole trace at path into memory.
func Parse(path string) (*Trace, error) {
	t := &Trace{}
	err := Scan(path, func(r Record) error {
		switch r.Kind {
		case KindBeacons:
			t.Beacons = DecodeBeacons(r)
		case KindDevices:
			t.Devices = DecodeDevices(r)
		case KindConfig:
			t.Config = append(json.RawMessage(nil), r.Payload...)
		default:
			t.Events = append(t.Events, Event{Ts: r.Ts, Src: r.Src(), Frame: r.Frame()})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// EarliestTs returns the timestamp of the first data record, or 0 when
// the trace carries none.
func (t *Trace) EarliestTs() float64 {
	if len(t.Events) == 0 {
		return 0
	}
	return t.Events[0].Ts
}

// LastTs returns the timestamp of the final data record, or 0.
func (t *Trace) LastTs() float64 {
	if len(t.Events) == 0 {
		return 0
	}
	return t.Events[len(t.Events)-1].Ts
}
