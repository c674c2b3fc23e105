// Package server hosts the live side of the simulator: a UDP listener
// that decodes report frames, turns them into position fixes and fans
// the results out to the web hub, the display feed, the trace writer
// and any attached sinks.
package server

import (
	"encoding/binary"
	"fmt"
)

const (
	FrameMagic = 0x7857 // 'W' 'x' little endian
	HdrLen     = 9
	WrapLen    = 11 // header + trailing crc16

	TypeReport  = 0x61
	TypeCommand = 0x30

	// The sample count rides in the high nibble of the meta byte.
	MaxReportSamples = 15

	maxBodyLen = 0x7FF // 3+8 bit split length field
)

// Header is the decoded frame header. The 10-bit type and 11-bit body
// length are bit-packed across bytes 6..8 together with the 3 flag bits.
type Header struct {
	Addr    uint32
	Flags   uint8
	Type    uint16
	BodyLen int
}

// Frame is one decoded, CRC-checked frame.
type Frame struct {
	Addr  uint32
	Flags uint8
	Type  uint16
	Body  []byte
}

// Sample is one beacon observation inside a report frame.
type Sample struct {
	BeaconID uint16
	RssiDbm  int8
}

// ParseHeader decodes the frame header at the start of data.
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HdrLen {
		return nil, fmt.Errorf("packet too short")
	}
	if binary.LittleEndian.Uint16(data[0:2]) != FrameMagic {
		return nil, fmt.Errorf("invalid magic: 0x%x", binary.LittleEndian.Uint16(data[0:2]))
	}

	addr := binary.LittleEndian.Uint32(data[2:6])

	b6 := data[6]
	flags := b6 & 0x7
	typLow := uint16(b6 >> 3)

	b7 := data[7]
	typHigh := uint16(b7 & 0x1F)
	lenLow := int(b7 >> 5)
	lenHigh := int(data[8])

	return &Header{
		Addr:    addr,
		Flags:   flags,
		Type:    typLow + typHigh<<5,
		BodyLen: lenLow + lenHigh<<3,
	}, nil
}

// ParseFrame decodes and CRC-checks one frame at the start of data. It
// returns the frame and the number of bytes consumed.
func ParseFrame(data []byte) (*Frame, int, error) {
	hdr, err := ParseHeader(data)
	if err != nil {
		return nil, 0, err
	}
	total := WrapLen + hdr.BodyLen
	if len(data) < total {
		return nil, 0, fmt.Errorf("frame truncated: have %d, want %d", len(data), total)
	}
	bodyEnd := HdrLen + hdr.BodyLen
	crcRead := binary.LittleEndian.Uint16(data[bodyEnd : bodyEnd+2])
	if crc := crc16(data[:bodyEnd]); crc != crcRead {
		return nil, 0, fmt.Errorf("crc mismatch: 0x%04X != 0x%04X", crc, crcRead)
	}
	return &Frame{
		Addr:  hdr.Addr,
		Flags: hdr.Flags,
		Type:  hdr.Type,
		Body:  data[HdrLen:bodyEnd],
	}, total, nil
}

// buildFrame wraps body in a header and trailing CRC.
func buildFrame(addr uint32, typ uint16, flags uint8, body []byte) []byte {
	buf := make([]byte, WrapLen+len(body))
	binary.LittleEndian.PutUint16(buf[0:2], FrameMagic)
	binary.LittleEndian.PutUint32(buf[2:6], addr)
	buf[6] = flags&0x7 | uint8(typ&0x1F)<<3
	buf[7] = uint8(typ>>5)&0x1F | uint8(len(body)&0x7)<<5
	buf[8] = uint8(len(body) >> 3)
	copy(buf[HdrLen:], body)
	bodyEnd := HdrLen + len(body)
	binary.LittleEndian.PutUint16(buf[bodyEnd:], crc16(buf[:bodyEnd]))
	return buf
}

// BuildReportFrame encodes one report frame for a device. At most
// MaxReportSamples samples fit in a frame; callers split larger sweeps
// across consecutive sequence numbers.
func BuildReportFrame(addr uint32, seq uint8, samples []Sample) ([]byte, error) {
	if len(samples) > MaxReportSamples {
		return nil, fmt.Errorf("too many samples: %d > %d", len(samples), MaxReportSamples)
	}
	body := make([]byte, 2+3*len(samples))
	body[0] = seq
	body[1] = uint8(len(samples)) << 4
	for i, s := range samples {
		base := 2 + 3*i
		binary.LittleEndian.PutUint16(body[base:base+2], s.BeaconID)
		body[base+2] = byte(s.RssiDbm)
	}
	return buildFrame(addr, TypeReport, 0, body), nil
}

// ParseReportFrame decodes a report frame body.
func ParseReportFrame(body []byte) (uint8, []Sample, error) {
	if len(body) < 2 {
		return 0, nil, fmt.Errorf("report frame too short")
	}
	seq := body[0]
	num := int(body[1] >> 4)

	base := 2
	samples := make([]Sample, 0, num)
	for i := 0; i < num; i++ {
		if base+3 > len(body) {
			return seq, nil, fmt.Errorf("report sample truncated")
		}
		samples = append(samples, Sample{
			BeaconID: binary.LittleEndian.Uint16(body[base : base+2]),
			RssiDbm:  int8(body[base+2]),
		})
		base += 3
	}
	return seq, samples, nil
}

// BuildCommandFrame encodes a downlink command for a device.
func BuildCommandFrame(addr uint32, cmd uint8, payload []byte) ([]byte, error) {
	if 1+len(payload) > maxBodyLen {
		return nil, fmt.Errorf("command payload too long: %d", len(payload))
	}
	body := make([]byte, 1+len(payload))
	body[0] = cmd
	copy(body[1:], payload)
	return buildFrame(addr, TypeCommand, 0, body), nil
}

// ParseCommandFrame decodes a command frame body.
func ParseCommandFrame(body []byte) (uint8, []byte, error) {
	if len(body) < 1 {
		return 0, nil, fmt.Errorf("command frame too short")
	}
	return body[0], body[1:], nil
}

// crc16 is CCITT with polynomial 0x1021 and zero seed, computed over the
// header and body.
func crc16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
