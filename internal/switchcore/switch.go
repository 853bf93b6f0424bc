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

// Package switchcore implements the TermSwitch: the concurrent
// message-routing hub that multiplexes the console, backend, network
// fleet, and script helper byte streams.
package switchcore

import (
	"net"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Sender is a handle endpoints use to publish Msg values into a queue
// without blocking. Every endpoint holds exactly one: its own sender into
// the switch, or (for a net client) the switch's sender into that
// client's private outbound queue.
type Sender struct{ q *msgQueue }

// Send enqueues msg without blocking the caller.
func (s Sender) Send(msg Msg) { s.q.Send(msg) }

// netClient is an entry in the switch's privately-owned client table.
type netClient struct {
	addr net.Addr
	tx   *msgQueue
}

// Switch is the sole owner of the routing table and mode flags. Endpoints
// only ever hold their own sender/receiver handles into it; no endpoint
// references another endpoint directly.
type Switch struct {
	log zerolog.Logger

	serverMode bool

	in      *msgQueue
	console *msgQueue
	serial  *msgQueue
	network *msgQueue
	script  *msgQueue

	scriptPID  atomic.Uint32
	binaryMode atomic.Bool
	clients    atomic.Int32

	stop atomic.Bool
}

// New starts the switch's routing goroutine and returns a handle. Set
// serverMode when the process is fanning the backend stream out to a
// fleet of network clients (i.e. -p was given).
func New(serverMode bool, log zerolog.Logger) *Switch {
	sw := &Switch{
		log:        log.With().Str("component", "term_switch").Logger(),
		serverMode: serverMode,
		in:         newMsgQueue(),
		console:    newMsgQueue(),
		serial:     newMsgQueue(),
		network:    newMsgQueue(),
		script:     newMsgQueue(),
	}
	go sw.run()
	return sw
}

// Tx returns the switch's single inbound sender. Every endpoint publishes
// into it.
func (sw *Switch) Tx() Sender { return Sender{sw.in} }

// ConsoleChan/SerialChan/NetworkChan/ScriptChan return this switch's
// per-endpoint outbound receive channels. Each must have exactly one
// reader for the lifetime of the switch (see spec §4.5/§4.6 on the
// single-receiver-per-channel rule).
func (sw *Switch) ConsoleChan() <-chan Msg { return sw.console.Chan() }
func (sw *Switch) SerialChan() <-chan Msg  { return sw.serial.Chan() }
func (sw *Switch) NetworkChan() <-chan Msg { return sw.network.Chan() }
func (sw *Switch) ScriptChan() <-chan Msg  { return sw.script.Chan() }

// ScriptPID, BinaryMode and ClientCount expose the cross-thread atomics
// documented in spec §5: read on hot paths, written rarely, so plain
// atomics are used rather than a mutex.
func (sw *Switch) ScriptPID() uint32       { return sw.scriptPID.Load() }
func (sw *Switch) SetScriptPID(pid uint32) { sw.scriptPID.Store(pid) }
func (sw *Switch) BinaryMode() bool        { return sw.binaryMode.Load() }
func (sw *Switch) SetBinaryMode(v bool)    { sw.binaryMode.Store(v) }
func (sw *Switch) ClientCount() int32      { return sw.clients.Load() }

// Stop requests the routing goroutine exit at its next loop iteration.
// This is the belt-and-braces forced-teardown path; normal shutdown
// flows through Msg values (Exit, SerialClose, ScriptDone).
func (sw *Switch) Stop() { sw.stop.Store(true) }

func (sw *Switch) run() {
	var clients []netClient

	netClientsSend := func(prefix string, msg Msg) {
		sw.log.Info().Str("op", prefix).Str("kind", msg.Kind.String()).Msg("fan out")
		for _, c := range clients {
			c.tx.Send(msg)
		}
	}

	// netClientSend delivers msg to exactly the client at addr, then
	// drops that client's table entry (used for Remove/NetClientExit,
	// both of which are terminal for the addressed client).
	netClientSend := func(prefix string, addr net.Addr, msg Msg) {
		for i, c := range clients {
			if sameAddr(c.addr, addr) {
				c.tx.Send(msg)
				clients = append(clients[:i], clients[i+1:]...)
				sw.clients.Store(int32(len(clients)))
				sw.log.Info().Str("op", prefix).Stringer("addr", addrStringer{addr}).Msg("client removed")
				return
			}
		}
	}

	for m := range sw.in.Chan() {
		if sw.stop.Load() {
			return
		}
		switch m.Kind {
		case Add:
			cq := newMsgQueue()
			clients = append(clients, netClient{addr: m.Addr, tx: cq})
			sw.clients.Store(int32(len(clients)))
			sw.log.Info().Str("op", "Add").Stringer("addr", addrStringer{m.Addr}).Msg("client added")
			sw.network.Send(MsgAdded(cq.Chan()))

		case Added:
			// Added only ever flows outbound on the network queue; it never
			// arrives on the switch's inbound queue.

		case Console:
			sw.log.Trace().Uint8("byte", m.Byte).Msg("console")
			sw.serial.Send(MsgSerial(m.Byte))

		case SerialClose:
			sw.log.Trace().Msg("serial close")
			sw.serial.Send(MsgSerialClose())

		case SerialBreak:
			sw.log.Trace().Msg("serial break")
			sw.serial.Send(MsgSerialBreak())

		case Serial:
			sw.log.Trace().Uint8("byte", m.Byte).Msg("serial")
			if sw.serverMode {
				netClientsSend("Serial", MsgConsole(m.Byte))
			}
			if sw.scriptPID.Load() != 0 {
				sw.script.Send(MsgConsole(m.Byte))
				if !sw.binaryMode.Load() {
					sw.console.Send(MsgConsole(m.Byte))
				}
			} else {
				sw.console.Send(MsgConsole(m.Byte))
			}

		case Remove:
			netClientSend("Remove", m.Addr, MsgExit())

		case NetClientExit:
			netClientSend("NetClientExit", m.Addr, MsgExit())

		case Exit:
			sw.log.Info().Msg("exit")
			if sw.serverMode {
				netClientsSend("Exit", MsgExit())
			} else {
				sw.log.Info().Msg("send exit to console service")
				sw.console.Send(MsgExit())
			}

		case ScriptAlertResponse:
			sw.log.Trace().Uint8("byte", m.Byte).Msg("script alert response")
			sw.script.Send(MsgScriptAlertResponse(m.Byte))

		case ScriptDone:
			sw.log.Info().Msg("send done to script client")
			sw.script.Send(MsgScriptDone())
		}
	}
}

func sameAddr(a, b net.Addr) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.String() == b.String()
}

// addrStringer adapts a possibly-nil net.Addr for zerolog's Stringer
// field without panicking on a nil interface value.
type addrStringer struct{ addr net.Addr }

func (a addrStringer) String() string {
	if a.addr == nil {
		return "<nil>"
	}
	return a.addr.String()
}
