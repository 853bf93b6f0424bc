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

package switchcore

import "net"

// Kind tags the variant carried by a Msg.
type Kind int

const (
	Add Kind = iota
	Added
	Remove
	NetClientExit
	Console
	Serial
	SerialBreak
	SerialClose
	ScriptAlertResponse
	ScriptDone
	Exit
)

func (k Kind) String() string {
	switch k {
	case Add:
		return "Add"
	case Added:
		return "Added"
	case Remove:
		return "Remove"
	case NetClientExit:
		return "NetClientExit"
	case Console:
		return "Console"
	case Serial:
		return "Serial"
	case SerialBreak:
		return "SerialBreak"
	case SerialClose:
		return "SerialClose"
	case ScriptAlertResponse:
		return "ScriptAlertResponse"
	case ScriptDone:
		return "ScriptDone"
	case Exit:
		return "Exit"
	default:
		return "Unknown"
	}
}

// Msg is the single event type carried on every channel in the switch.
// Only the fields relevant to Kind are populated; see the MsgXxx
// constructors below.
type Msg struct {
	Kind  Kind
	Addr  net.Addr
	Byte  byte
	Added <-chan Msg
}

func MsgAdd(addr net.Addr) Msg           { return Msg{Kind: Add, Addr: addr} }
func MsgAdded(ch <-chan Msg) Msg         { return Msg{Kind: Added, Added: ch} }
func MsgRemove(addr net.Addr) Msg        { return Msg{Kind: Remove, Addr: addr} }
func MsgNetClientExit(addr net.Addr) Msg { return Msg{Kind: NetClientExit, Addr: addr} }
func MsgConsole(b byte) Msg              { return Msg{Kind: Console, Byte: b} }
func MsgSerial(b byte) Msg               { return Msg{Kind: Serial, Byte: b} }
func MsgSerialBreak() Msg                { return Msg{Kind: SerialBreak} }
func MsgSerialClose() Msg                { return Msg{Kind: SerialClose} }
func MsgScriptAlertResponse(b byte) Msg  { return Msg{Kind: ScriptAlertResponse, Byte: b} }
func MsgScriptDone() Msg                 { return Msg{Kind: ScriptDone} }
func MsgExit() Msg                       { return Msg{Kind: Exit} }
