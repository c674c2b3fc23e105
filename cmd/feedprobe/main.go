package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
)

// feedprobe stands in for a display consumer: it listens where the feed
// sender delivers and prints every line with its source address.
func main() {
	udpAddr := flag.String("udp", ":5555", "UDP listen address (empty disables)")
	tcpAddr := flag.String("tcp", ":6666", "TCP listen address (empty disables)")
	flag.Parse()

	if *udpAddr == "" && *tcpAddr == "" {
		log.Fatal("Nothing to listen on, set --udp or --tcp")
	}

	if *udpAddr != "" {
		pc, err := net.ListenPacket("udp", *udpAddr)
		if err != nil {
			log.Fatalf("UDP listen failed: %v", err)
		}
		log.Printf("UDP listening on %s", pc.LocalAddr())
		go func() {
			buf := make([]byte, 2048)
			for {
				n, src, err := pc.ReadFrom(buf)
				if err != nil {
					log.Printf("UDP read error: %v", err)
					return
				}
				for _, line := range splitLines(buf[:n]) {
					fmt.Printf("[udp %s] %s\n", src, line)
				}
			}
		}()
	}

	if *tcpAddr != "" {
		ln, err := net.Listen("tcp", *tcpAddr)
		if err != nil {
			log.Fatalf("TCP listen failed: %v", err)
		}
		log.Printf("TCP listening on %s", ln.Addr())
		go func() {
			for {
				conn, err := ln.Accept()
				if err != nil {
					log.Printf("Accept error: %v", err)
					return
				}
				go handleConn(conn)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
}

func handleConn(conn net.Conn) {
	defer conn.Close()
	log.Printf("TCP consumer from %s", conn.RemoteAddr())
	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		fmt.Printf("[tcp %s] %s\n", conn.RemoteAddr(), sc.Text())
	}
	log.Printf("TCP %s closed", conn.RemoteAddr())
}

// splitLines breaks one datagram into display lines. A datagram can carry
// several when the sender batches.
func splitLines(b []byte) []string {
	var out []string
	for _, ln := range strings.Split(string(b), "\n") {
		ln = strings.TrimRight(ln, "\r")
		if ln != "" {
			out = append(out, ln)
		}
	}
	return out
}
