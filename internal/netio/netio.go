/*
 * termswx: serial terminal switch
 * Copyright 2019 Daniel Selifonov
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package netio implements the two network-facing endpoint shapes: an
// outbound TCP client standing in for the serial backend, and an inbound
// listener fanning the backend stream out to a capped fleet of clients.
package netio

import (
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"

	"github.com/StonyBoy/termswx/internal/switchcore"
)

const banner = "2006-01-02 15:04:05"

func timestamp() string { return time.Now().Local().Format(banner) }

// DialBackend connects to host:port and bridges it to the switch's
// serial queue, in place of a local serial device. A read or write
// failure on either direction triggers global shutdown.
func DialBackend(sw *switchcore.Switch, hostport string, log zerolog.Logger) error {
	log = log.With().Str("component", "network_service").Logger()
	conn, err := net.Dial("tcp", hostport)
	if err != nil {
		return fmt.Errorf("dialing backend %s: %w", hostport, err)
	}
	log.Info().Str("addr", hostport).Msg("backend connected")

	go func() {
		ch := sw.SerialChan()
		for m := range ch {
			switch m.Kind {
			case switchcore.Serial:
				if _, err := conn.Write([]byte{m.Byte}); err != nil {
					log.Error().Err(err).Msg("backend write failed")
					sw.Tx().Send(switchcore.MsgExit())
					return
				}
			case switchcore.SerialClose:
				return
			}
		}
	}()

	tx := sw.Tx()
	buf := make([]byte, 1024)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			log.Warn().Err(err).Msg("backend connection lost")
			tx.Send(switchcore.MsgExit())
			return nil
		}
		for i := 0; i < n; i++ {
			tx.Send(switchcore.MsgConsole(buf[i]))
		}
	}
}

// Server listens on port and fans the backend stream out to up to
// maxClients simultaneously-connected sockets, per the Add/Added
// single-receiver handoff the switch requires.
type Server struct {
	log        zerolog.Logger
	sw         *switchcore.Switch
	maxClients int
}

// NewServer builds an inbound fleet listener bound to sw.
func NewServer(sw *switchcore.Switch, maxClients int, log zerolog.Logger) *Server {
	return &Server{
		log:        log.With().Str("component", "network_service").Logger(),
		sw:         sw,
		maxClients: maxClients,
	}
}

// Run accepts connections on port until the listener errors or the
// process shuts down.
func (s *Server) Run(port uint16) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("listening on port %d: %w", port, err)
	}
	defer ln.Close()
	s.log.Info().Uint16("port", port).Msg("listening for clients")

	// Run's own goroutine is the network channel's one and only reader:
	// it sends Add, blocks for the matching Added reply, and only then
	// hands the freshly allocated per-client channel off to a dedicated
	// writer/reader pair — never touching the shared channel again. This
	// is what keeps exactly one receiver bound to it at a time, per the
	// switch's single-consumer contract.
	var live atomic.Int32
	networkChan := s.sw.NetworkChan()
	tx := s.sw.Tx()
	for {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("accept failed: %w", err)
		}
		addr := conn.RemoteAddr()
		if int(live.Load()) >= s.maxClients {
			color.New(color.FgRed).Printf("[%s] client %s refused: fleet is full (%d/%d)\n",
				timestamp(), addr, live.Load(), s.maxClients)
			s.log.Warn().Stringer("addr", addr).Msg("client refused, fleet full")
			conn.Close()
			continue
		}
		live.Add(1)

		tx.Send(switchcore.MsgAdd(addr))
		added := <-networkChan // the switch always replies Added before the next Add is processed

		color.New(color.FgGreen).Printf("[%s] client %s connected\n", timestamp(), addr)
		s.log.Info().Stringer("addr", addr).Msg("client connected")

		go s.serve(conn, addr, added.Added, &live)
	}
}

func (s *Server) serve(conn net.Conn, addr net.Addr, inbound <-chan switchcore.Msg, live *atomic.Int32) {
	defer func() {
		conn.Close()
		live.Add(-1)
	}()
	tx := s.sw.Tx()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for m := range inbound {
			if m.Kind == switchcore.Exit {
				return
			}
			if m.Kind == switchcore.Console {
				if _, err := conn.Write([]byte{m.Byte}); err != nil {
					return
				}
			}
		}
	}()

	buf := make([]byte, 1024)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			color.New(color.FgYellow).Printf("[%s] client %s disconnected\n", timestamp(), addr)
			s.log.Info().Stringer("addr", addr).Msg("client disconnected")
			tx.Send(switchcore.MsgNetClientExit(addr))
			break
		}
		for i := 0; i < n; i++ {
			tx.Send(switchcore.MsgConsole(buf[i]))
		}
	}
	<-writerDone
}
