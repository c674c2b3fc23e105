// Package binlog reads and writes simulation traces. The container is a
// pcap-style file: a 24-byte global header, then per record a 16-byte
// timestamped header followed by an 8-byte meta header (kind, count, item
// size or source address) and the payload. Metadata records carry the
// beacon/device tables and the radio configuration; data records carry raw
// report frames exactly as they would cross the wire, so a trace can be
// replayed into the live server byte for byte.
package binlog

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"net"
	"os"
	"sync"
	"time"
)

const (
	PcapMagic = 0xA1B2C3D4

	pcapGlobalLen = 24 // magic, version, zone, sigfigs, snaplen, linktype
	pcapRecordLen = 16 // ts_sec, ts_usec, incl_len, orig_len
	metaLen       = 8  // kind(2), count(2), addr-or-size(4)

	// Record kinds. Anything else is a data record carrying a report frame.
	KindBeacons = 0x04
	KindDevices = 0x08
	KindConfig  = 0x10
	KindData    = 0x00

	beaconItemLen = 16 // id(8), x_cm(4), y_cm(4)
	deviceItemLen = 8  // addr(8)
)

// BeaconInfo is one beacon-table entry. Coordinates are scene units,
// stored on disk in centi-units.
type BeaconInfo struct {
	ID uint64
	X  float64
	Y  float64
}

// DeviceInfo is one device-table entry.
type DeviceInfo struct {
	Addr uint64
}

// Writer appends records to a trace file. Safe for concurrent use.
type Writer struct {
	mu  sync.Mutex
	w   io.WriteCloser
	buf []byte
}

// NewWriter creates the trace file and writes the global header.
func NewWriter(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := &Writer{w: f, buf: make([]byte, 32)}
	if err := w.writeGlobalHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

func (w *Writer) writeGlobalHeader() error {
	b := make([]byte, pcapGlobalLen)
	binary.LittleEndian.PutUint32(b[0:], PcapMagic)
	binary.LittleEndian.PutUint16(b[4:], 2) // major
	binary.LittleEndian.PutUint16(b[6:], 4) // minor
	binary.LittleEndian.PutUint32(b[16:], 65535)
	binary.LittleEndian.PutUint32(b[20:], 1)
	_, err := w.w.Write(b)
	return err
}

// writeRecord emits one record header + meta header + payload. The meta
// word pair is kind-specific: item count and size for tables, source port
// and IPv4 for data records.
func (w *Writer) writeRecord(tsMs int64, kind, count uint16, word [4]byte, payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if tsMs == 0 {
		tsMs = time.Now().UnixMilli()
	}
	total := uint32(len(payload) + metaLen)

	binary.LittleEndian.PutUint32(w.buf[0:], uint32(tsMs/1000))
	binary.LittleEndian.PutUint32(w.buf[4:], uint32(tsMs%1000)*1000)
	binary.LittleEndian.PutUint32(w.buf[8:], total)
	binary.LittleEndian.PutUint32(w.buf[12:], total)
	if _, err := w.w.Write(w.buf[:pcapRecordLen]); err != nil {
		return err
	}

	binary.LittleEndian.PutUint16(w.buf[0:], kind)
	binary.LittleEndian.PutUint16(w.buf[2:], count)
	copy(w.buf[4:8], word[:])
	if _, err := w.w.Write(w.buf[:metaLen]); err != nil {
		return err
	}

	_, err := w.w.Write(payload)
	return err
}

func sizeWord(n uint32) [4]byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], n)
	return b
}

// WriteBeacons records the beacon table.
func (w *Writer) WriteBeacons(tsMs int64, beacons []BeaconInfo) error {
	payload := make([]byte, 0, len(beacons)*beaconItemLen)
	var item [beaconItemLen]byte
	for _, b := range beacons {
		binary.LittleEndian.PutUint64(item[0:], b.ID)
		binary.LittleEndian.PutUint32(item[8:], uint32(int32(b.X*100)))
		binary.LittleEndian.PutUint32(item[12:], uint32(int32(b.Y*100)))
		payload = append(payload, item[:]...)
	}
	return w.writeRecord(tsMs, KindBeacons, uint16(len(beacons)), sizeWord(beaconItemLen), payload)
}

// WriteDevices records the device table.
func (w *Writer) WriteDevices(tsMs int64, devices []DeviceInfo) error {
	payload := make([]byte, 0, len(devices)*deviceItemLen)
	var item [deviceItemLen]byte
	for _, d := range devices {
		binary.LittleEndian.PutUint64(item[0:], d.Addr)
		payload = append(payload, item[:]...)
	}
	return w.writeRecord(tsMs, KindDevices, uint16(len(devices)), sizeWord(deviceItemLen), payload)
}

// WriteConfig records an arbitrary JSON blob describing the run, typically
// the radio configuration and scenario name.
func (w *Writer) WriteConfig(tsMs int64, v interface{}) error {
	blob, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return w.writeRecord(tsMs, KindConfig, 1, sizeWord(uint32(len(blob))), blob)
}

// WriteFrame records one raw report frame with its wire source address.
func (w *Writer) WriteFrame(tsMs int64, src *net.UDPAddr, frame []byte) error {
	var word [4]byte
	var port uint16
	if src != nil {
		port = uint16(src.Port)
		if ip4 := src.IP.To4(); ip4 != nil {
			// Network byte order, matching what downstream tools expect.
			copy(word[:], ip4)
		}
	}
	return w.writeRecord(tsMs, KindData, port, word, frame)
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Close()
}
