package bridge

import (
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"

	"blesim/geom"
	"blesim/sim"
)

// fakeMessage stands in for a broker delivery in handler tests.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func TestHandleCommand(t *testing.T) {
	b := &Bridge{}

	var gotAddr uint32
	var gotCmd uint8
	var gotPayload []byte
	b.SetCommandFunc(func(addr uint32, cmd uint8, payload []byte) {
		gotAddr, gotCmd, gotPayload = addr, cmd, payload
	})

	body, err := json.Marshal(Command{Addr: 0xB001, Cmd: 0x11, Payload: []byte{0xDE, 0xAD}})
	if err != nil {
		t.Fatalf("marshal command: %v", err)
	}
	b.handleCommand(nil, fakeMessage{topic: "blesim/command", payload: body})

	if gotAddr != 0xB001 || gotCmd != 0x11 {
		t.Fatalf("callback got addr=%08X cmd=%02X, want B001/11", gotAddr, gotCmd)
	}
	if len(gotPayload) != 2 || gotPayload[0] != 0xDE || gotPayload[1] != 0xAD {
		t.Fatalf("callback payload = %v", gotPayload)
	}
}

func TestHandleCommandBadJSON(t *testing.T) {
	b := &Bridge{}
	called := false
	b.SetCommandFunc(func(uint32, uint8, []byte) { called = true })

	b.handleCommand(nil, fakeMessage{topic: "blesim/command", payload: []byte("{nope")})

	if called {
		t.Fatal("callback ran on malformed command")
	}
}

func TestCommandPayloadRidesAsBase64(t *testing.T) {
	data, err := json.Marshal(Command{Addr: 1, Cmd: 2, Payload: []byte{0xDE, 0xAD}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"payload":"3q0="`) {
		t.Errorf("unexpected wire form: %s", data)
	}

	var back Command
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Addr != 1 || back.Cmd != 2 || len(back.Payload) != 2 {
		t.Errorf("round trip = %+v", back)
	}
}

func TestFixTopic(t *testing.T) {
	if got := fixTopic("blesim", 0xB001); got != "blesim/position/0000B001" {
		t.Errorf("fixTopic = %q", got)
	}
}

func TestEncodeStep(t *testing.T) {
	st := sim.Step{Tick: 3, TimestampMs: 12345, Truth: geom.Point{X: 1.5, Y: 2.5}}

	var noFix map[string]interface{}
	if err := json.Unmarshal(encodeStep(st), &noFix); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if noFix["tick"].(float64) != 3 || noFix["truth_x"].(float64) != 1.5 {
		t.Errorf("step body = %v", noFix)
	}
	if _, ok := noFix["est_x"]; ok {
		t.Error("est_x present without a fix")
	}

	st.HasFix = true
	st.Fix = geom.Point{X: 2, Y: 3}
	st.ErrM = 0.7
	var withFix map[string]interface{}
	if err := json.Unmarshal(encodeStep(st), &withFix); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if withFix["est_x"].(float64) != 2 || withFix["err_m"].(float64) != 0.7 {
		t.Errorf("step body = %v", withFix)
	}
}

func TestEncodeRssi(t *testing.T) {
	st := sim.Step{
		Tick:        7,
		TimestampMs: 500,
		Measurements: []sim.Measurement{
			{BeaconID: 1, TrueDist: 4, Rssi: -71.2, EstDist: 4.3},
			{BeaconID: 2, TrueDist: 9, Rssi: -84.0, EstDist: 8.1},
		},
	}

	var msg rssiMsg
	if err := json.Unmarshal(encodeRssi(st), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Tick != 7 || len(msg.Beacons) != 2 {
		t.Fatalf("rssi body = %+v", msg)
	}
	if msg.Beacons[1].Beacon != 2 || msg.Beacons[1].Rssi != -84.0 {
		t.Errorf("second entry = %+v", msg.Beacons[1])
	}
}

func TestConnectRefused(t *testing.T) {
	// Grab a port the kernel just released so nothing is listening on it.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	l.Close()

	if _, err := Connect(Config{Broker: "tcp://" + addr, ConnectTimeout: 2 * time.Second}); err == nil {
		t.Fatal("expected connection error")
	}
}
