package netio

import (
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/StonyBoy/termswx/internal/switchcore"
)

func TestServerFansBackendBytesToConnectedClient(t *testing.T) {
	sw := switchcore.New(true, zerolog.Nop())
	srv := NewServer(sw, 2, zerolog.Nop())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := uint16(ln.Addr().(*net.TCPAddr).Port)
	ln.Close()

	go srv.Run(port)
	time.Sleep(50 * time.Millisecond) // let the listener come up

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Wait for the Add/Added handshake to complete.
	deadline := time.Now().Add(2 * time.Second)
	for sw.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if sw.ClientCount() != 1 {
		t.Fatalf("expected one connected client, got %d", sw.ClientCount())
	}

	sw.Tx().Send(switchcore.MsgSerial('Z'))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	n, err := conn.Read(buf)
	if err != nil || n != 1 || buf[0] != 'Z' {
		t.Fatalf("expected to read 'Z', got %q err=%v", buf[:n], err)
	}
}

func TestServerRefusesOverMaxClients(t *testing.T) {
	sw := switchcore.New(true, zerolog.Nop())
	srv := NewServer(sw, 1, zerolog.Nop())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := uint16(ln.Addr().(*net.TCPAddr).Port)
	addr := ln.Addr().String()
	ln.Close()

	go srv.Run(port)
	time.Sleep(50 * time.Millisecond)

	first, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial 1: %v", err)
	}
	defer first.Close()

	deadline := time.Now().Add(2 * time.Second)
	for sw.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	second, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial 2: %v", err)
	}
	defer second.Close()

	second.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1)
	_, err = second.Read(buf)
	if err == nil {
		t.Fatalf("expected the second connection to be refused (closed), read succeeded")
	}
}
