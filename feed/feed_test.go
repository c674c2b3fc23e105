package feed

import (
	"fmt"
	"net"
	"strings"
	"testing"
	"time"
)

func lineLen(b []byte) int {
	n := 0
	for _, c := range b[8:11] {
		if c == ' ' {
			continue
		}
		n = n*10 + int(c-'0')
	}
	return n
}

func TestFormatPosition(t *testing.T) {
	ts := int64(1_700_000_000_000)
	line := FormatPosition(0xB001, ts, 3, 12.25, -7.5)
	s := string(line)

	if !strings.HasPrefix(s, "display:") {
		t.Fatalf("line = %q", s)
	}
	if !strings.HasSuffix(s, "\r\n") {
		t.Fatalf("line not CRLF terminated: %q", s)
	}
	if lineLen(line) != len(line) {
		t.Errorf("patched length = %d, actual %d", lineLen(line), len(line))
	}

	wantTime := time.UnixMilli(ts).Format("20060102150405.000")
	fields := strings.Split(strings.TrimSuffix(s, "\r\n"), ",")
	if len(fields) != 6 {
		t.Fatalf("fields = %d: %q", len(fields), fields)
	}
	if fields[1] != fmt.Sprintf("%016X", 0xB001) {
		t.Errorf("id field = %q", fields[1])
	}
	if fields[2] != "3" {
		t.Errorf("seq field = %q", fields[2])
	}
	if fields[3] != wantTime {
		t.Errorf("time field = %q, want %q", fields[3], wantTime)
	}
	if fields[4] != "12.25" || fields[5] != "-7.50" {
		t.Errorf("coord fields = %q, %q", fields[4], fields[5])
	}
}

func TestFormatRssiAndSummary(t *testing.T) {
	ts := int64(1_700_000_000_000)

	rssi := FormatRssi(7, ts, 42, -81.25)
	if !strings.HasPrefix(string(rssi), "rssidat:") || lineLen(rssi) != len(rssi) {
		t.Errorf("rssi line = %q", rssi)
	}
	if !strings.Contains(string(rssi), ",42,-81.2\r\n") {
		t.Errorf("rssi line = %q", rssi)
	}

	sum := FormatSummary(7, ts, 120, 118, 1.234)
	if !strings.HasPrefix(string(sum), "summary:") || lineLen(sum) != len(sum) {
		t.Errorf("summary line = %q", sum)
	}
	if !strings.HasSuffix(string(sum), ",120,118,1.234\r\n") {
		t.Errorf("summary line = %q", sum)
	}
}

func TestSenderUDPFanout(t *testing.T) {
	recv, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	defer recv.Close()

	s := NewSender()
	if err := s.AddUDPTarget(recv.LocalAddr().String(), FlagPosition); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	// Masked out: summary flag is not in the target mask.
	s.Send(FormatSummary(1, 0, 1, 1, 0), FlagSummary)
	want := FormatPosition(1, 0, 0, 1, 2)
	s.Send(want, FlagPosition)

	recv.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 512)
	n, _, err := recv.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf[:n]) != string(want) {
		t.Errorf("got %q, want position line only", buf[:n])
	}
}

func TestSenderTCPDelivery(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	got := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 512)
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		got <- buf[:n]
	}()

	s := NewSender()
	s.SetHeader("sim")
	s.AddTCPTarget(ln.Addr().String(), FlagAll)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	s.Send(FormatPosition(2, 0, 0, 3, 4), FlagPosition)

	select {
	case line := <-got:
		if !strings.HasPrefix(string(line), "sim:display:") {
			t.Errorf("line = %q, want sim: header prefix", line)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no TCP line received")
	}
}
