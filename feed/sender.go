package feed

import (
	"log"
	"net"
	"sync"
	"time"
)

type message struct {
	data []byte
	flag uint32
}

type udpTarget struct {
	addr *net.UDPAddr
	flag uint32
}

type tcpClient struct {
	addr    string
	flag    uint32
	queue   chan *message
	running bool
	wg      sync.WaitGroup
}

// Sender fans display lines out to a set of UDP and TCP targets, each
// filtered by a flag mask. UDP sends are fire-and-forget; TCP clients
// queue and reconnect, dropping lines when the queue backs up.
type Sender struct {
	udpTargets []*udpTarget
	tcpClients []*tcpClient
	connUDP    *net.UDPConn
	header     []byte
	running    bool
}

func NewSender() *Sender {
	return &Sender{}
}

// SetHeader prepends "hdr:" to every line, for consumers that multiplex
// several sources on one port.
func (s *Sender) SetHeader(hdr string) {
	if hdr == "" {
		s.header = nil
	} else {
		s.header = []byte(hdr + ":")
	}
}

func (s *Sender) AddUDPTarget(addr string, flag uint32) error {
	uaddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	s.udpTargets = append(s.udpTargets, &udpTarget{addr: uaddr, flag: flag})
	return nil
}

func (s *Sender) AddTCPTarget(addr string, flag uint32) {
	s.tcpClients = append(s.tcpClients, &tcpClient{
		addr:  addr,
		flag:  flag,
		queue: make(chan *message, 1000),
	})
}

func (s *Sender) Start() error {
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return err
	}
	s.connUDP = conn
	s.running = true

	for _, c := range s.tcpClients {
		c.start()
	}
	return nil
}

func (s *Sender) Stop() {
	s.running = false
	if s.connUDP != nil {
		s.connUDP.Close()
	}
	for _, c := range s.tcpClients {
		c.stop()
	}
}

// Send delivers data to every target whose mask covers flag.
func (s *Sender) Send(data []byte, flag uint32) {
	if !s.running {
		return
	}

	msgData := data
	if len(s.header) > 0 {
		msgData = make([]byte, len(s.header)+len(data))
		copy(msgData, s.header)
		copy(msgData[len(s.header):], data)
	}

	msg := &message{data: msgData, flag: flag}

	for _, t := range s.udpTargets {
		if t.flag&flag == flag {
			_, _ = s.connUDP.WriteToUDP(msgData, t.addr)
		}
	}

	for _, c := range s.tcpClients {
		if c.flag&flag == flag {
			select {
			case c.queue <- msg:
			default:
				// queue full, drop
			}
		}
	}
}

func (c *tcpClient) start() {
	c.running = true
	c.wg.Add(1)
	go c.loop()
}

func (c *tcpClient) stop() {
	c.running = false
	close(c.queue)
	c.wg.Wait()
}

func (c *tcpClient) loop() {
	defer c.wg.Done()
	var conn net.Conn
	var err error

	connect := func() bool {
		if conn != nil {
			return true
		}
		conn, err = net.DialTimeout("tcp", c.addr, 2*time.Second)
		return err == nil
	}

	for msg := range c.queue {
		if !c.running {
			break
		}

		if !connect() {
			time.Sleep(500 * time.Millisecond)
			if !connect() {
				continue // drop this line
			}
		}

		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if _, err = conn.Write(msg.data); err != nil {
			log.Printf("TCP write to %s failed: %v", c.addr, err)
			conn.Close()
			conn = nil
			time.Sleep(100 * time.Millisecond)
		}
	}
	if conn != nil {
		conn.Close()
	}
}
