// Package bridge mirrors live positioning output onto an MQTT broker and
// feeds remote commands from the broker back to the gateway link.
//
// Topics hang under one base (default "blesim"): position/<device> and
// stats carry retained JSON snapshots, sim/step and sim/rssi stream
// evaluated simulation ticks, and command accepts Command JSON for
// downlink.
package bridge

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"blesim/server"
	"blesim/sim"
)

// Config selects the broker and the topic namespace.
type Config struct {
	Broker         string // e.g. tcp://localhost:1883
	ClientID       string
	Username       string
	Password       string
	TopicBase      string        // defaults to "blesim"
	ConnectTimeout time.Duration // defaults to 10s
}

// Command is the JSON body accepted on the command topic. Payload rides
// as base64, the JSON encoding of []byte.
type Command struct {
	Addr    uint32 `json:"addr"`
	Cmd     uint8  `json:"cmd"`
	Payload []byte `json:"payload,omitempty"`
}

// Bridge is a connected MQTT client bound to one topic namespace.
type Bridge struct {
	cfg    Config
	client mqtt.Client

	mu        sync.Mutex
	onCommand func(addr uint32, cmd uint8, payload []byte)
}

// Connect dials the broker and subscribes the command topic. The
// subscription is re-established on every reconnect.
func Connect(cfg Config) (*Bridge, error) {
	if cfg.TopicBase == "" {
		cfg.TopicBase = "blesim"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "blesim-bridge"
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	b := &Bridge{cfg: cfg}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("MQTT connection lost: %v", err)
	})
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		topic := cfg.TopicBase + "/command"
		if t := c.Subscribe(topic, 1, b.handleCommand); t.Wait() && t.Error() != nil {
			log.Printf("MQTT subscribe %s: %v", topic, t.Error())
		}
	})

	b.client = mqtt.NewClient(opts)
	token := b.client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		return nil, fmt.Errorf("connect to %s: timeout", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Broker, err)
	}
	return b, nil
}

// SetCommandFunc registers the downlink callback invoked for each parsed
// Command received on the command topic.
func (b *Bridge) SetCommandFunc(fn func(addr uint32, cmd uint8, payload []byte)) {
	b.mu.Lock()
	b.onCommand = fn
	b.mu.Unlock()
}

func (b *Bridge) handleCommand(_ mqtt.Client, msg mqtt.Message) {
	var cmd Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		log.Printf("Bad command on %s: %v", msg.Topic(), err)
		return
	}
	b.mu.Lock()
	fn := b.onCommand
	b.mu.Unlock()
	if fn != nil {
		fn(cmd.Addr, cmd.Cmd, cmd.Payload)
	}
}

// PublishFix mirrors one fix onto position/<device>, retained so late
// subscribers see the last known position.
func (b *Bridge) PublishFix(fix server.Fix) {
	data, err := json.Marshal(fix)
	if err != nil {
		return
	}
	b.client.Publish(fixTopic(b.cfg.TopicBase, fix.Addr), 0, true, data)
}

// PublishStats mirrors the server counters onto the stats topic.
func (b *Bridge) PublishStats(st server.Stats) {
	data, err := json.Marshal(st)
	if err != nil {
		return
	}
	b.client.Publish(b.cfg.TopicBase+"/stats", 0, true, data)
}

// PublishScene publishes the scenario layout retained on the scene topic,
// so dashboards can draw beacons and walls without the scenario file.
func (b *Bridge) PublishScene(sc *sim.Scenario) error {
	data, err := json.Marshal(sc)
	if err != nil {
		return err
	}
	t := b.client.Publish(b.cfg.TopicBase+"/scene", 1, true, data)
	t.Wait()
	return t.Error()
}

// StepSink adapts the bridge into a runner sink, streaming each evaluated
// step onto sim/step and its beacon observations onto sim/rssi.
func (b *Bridge) StepSink() sim.SinkFunc {
	stepTopic := b.cfg.TopicBase + "/sim/step"
	rssiTopic := b.cfg.TopicBase + "/sim/rssi"
	return func(st sim.Step) error {
		b.client.Publish(stepTopic, 0, false, encodeStep(st))
		if len(st.Measurements) > 0 {
			b.client.Publish(rssiTopic, 0, false, encodeRssi(st))
		}
		return nil
	}
}

// Close disconnects from the broker after letting in-flight messages
// drain briefly.
func (b *Bridge) Close() {
	b.client.Disconnect(250)
}

func fixTopic(base string, addr uint32) string {
	return fmt.Sprintf("%s/position/%08X", base, addr)
}

type stepMsg struct {
	Tick   int      `json:"tick"`
	TsMs   int64    `json:"ts"`
	TruthX float64  `json:"truth_x"`
	TruthY float64  `json:"truth_y"`
	EstX   *float64 `json:"est_x,omitempty"`
	EstY   *float64 `json:"est_y,omitempty"`
	ErrM   *float64 `json:"err_m,omitempty"`
}

func encodeStep(st sim.Step) []byte {
	msg := stepMsg{
		Tick:   st.Tick,
		TsMs:   st.TimestampMs,
		TruthX: st.Truth.X,
		TruthY: st.Truth.Y,
	}
	if st.HasFix {
		msg.EstX, msg.EstY, msg.ErrM = &st.Fix.X, &st.Fix.Y, &st.ErrM
	}
	data, _ := json.Marshal(msg)
	return data
}

type rssiMsg struct {
	Tick    int         `json:"tick"`
	TsMs    int64       `json:"ts"`
	Beacons []rssiEntry `json:"beacons"`
}

type rssiEntry struct {
	Beacon int     `json:"beacon"`
	Rssi   float64 `json:"rssi_dbm"`
	EstM   float64 `json:"est_m"`
}

func encodeRssi(st sim.Step) []byte {
	msg := rssiMsg{
		Tick:    st.Tick,
		TsMs:    st.TimestampMs,
		Beacons: make([]rssiEntry, len(st.Measurements)),
	}
	for i, m := range st.Measurements {
		msg.Beacons[i] = rssiEntry{Beacon: m.BeaconID, Rssi: m.Rssi, EstM: m.EstDist}
	}
	data, _ := json.Marshal(msg)
	return data
}
