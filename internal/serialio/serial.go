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

// Package serialio owns the backend serial device: opening it at a given
// baud rate, pumping bytes in both directions against the switch, and
// (optionally) looping to reconnect on disconnect.
package serialio

import (
	"errors"
	"fmt"
	"path/filepath"
	"syscall"
	"time"

	serial "github.com/daedaluz/goserial"
	"github.com/rs/zerolog"

	"github.com/StonyBoy/termswx/internal/switchcore"
)

const (
	readChunk     = 1024
	readTimeout   = 100 * time.Millisecond
	breakDuration = 100 * time.Millisecond
	reconnectWait = time.Second
)

// Endpoint owns the serial device and feeds/drains the switch's serial
// queue for as long as Run is active.
type Endpoint struct {
	log         zerolog.Logger
	sw          *switchcore.Switch
	device      string
	baudRate    uint32
	keepRunning bool
}

// New builds a serial endpoint bound to device at baudRate. When
// keepRunning is set, a lost connection is not fatal: Run loops trying to
// reopen the device at a fixed interval instead of returning.
func New(sw *switchcore.Switch, device string, baudRate uint32, keepRunning bool, log zerolog.Logger) *Endpoint {
	return &Endpoint{
		log:         log.With().Str("component", "serial_service").Logger(),
		sw:          sw,
		device:      device,
		baudRate:    baudRate,
		keepRunning: keepRunning,
	}
}

// Run opens the device and pumps bytes until the connection is lost. If
// keepRunning was set, it then loops reconnecting; otherwise it returns
// once after the first disconnect.
func (e *Endpoint) Run() {
	for {
		err := e.runOnce()
		if !e.keepRunning {
			if err != nil {
				e.log.Error().Err(err).Msg("serial connection ended")
			}
			return
		}
		e.log.Warn().Err(err).Dur("retry_in", reconnectWait).Msg("serial disconnected, will retry")
		time.Sleep(reconnectWait)
	}
}

func (e *Endpoint) runOnce() error {
	port, err := e.open()
	if err != nil {
		return fmt.Errorf("opening serial device %s: %w", e.device, err)
	}
	defer port.Close()

	e.log.Info().Str("device", e.device).Uint32("baud", e.baudRate).Msg("serial connected")

	done := make(chan struct{})
	go e.writer(port, done)
	e.reader(port)
	close(done)
	return errReaderExited
}

var errReaderExited = errors.New("serial reader exited")

func (e *Endpoint) open() (*serial.Port, error) {
	opts := serial.NewOptions()
	opts.SetReadTimeout(readTimeout)
	port, err := serial.Open(e.device, opts)
	if err != nil {
		return nil, err
	}
	if err := port.MakeRaw(); err != nil {
		port.Close()
		return nil, fmt.Errorf("setting raw mode: %w", err)
	}
	attrs, err := port.GetAttr2()
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("reading termios: %w", err)
	}
	attrs.SetCustomSpeed(e.baudRate)
	if err := port.SetAttr2(serial.TCSANOW, attrs); err != nil {
		port.Close()
		return nil, fmt.Errorf("setting baud rate: %w", err)
	}
	return port, nil
}

// writer consumes the switch's serial-outbound queue, writing Serial
// bytes to the device, pulsing the break line on SerialBreak, and
// returning on SerialClose or on the reader side closing done.
func (e *Endpoint) writer(port *serial.Port, done <-chan struct{}) {
	ch := e.sw.SerialChan()
	for {
		select {
		case <-done:
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			switch m.Kind {
			case switchcore.Serial:
				if _, err := port.Write([]byte{m.Byte}); err != nil {
					e.log.Error().Err(err).Msg("serial write failed")
					return
				}
			case switchcore.SerialBreak:
				if err := port.SetBreak(); err != nil {
					e.log.Error().Err(err).Msg("set break failed")
					continue
				}
				time.Sleep(breakDuration)
				if err := port.ClearBreak(); err != nil {
					e.log.Error().Err(err).Msg("clear break failed")
				}
			case switchcore.SerialClose:
				return
			}
		}
	}
}

// reader pumps bytes from the device to the switch's Serial events until
// a non-timeout read error occurs, publishing SerialClose on exit.
func (e *Endpoint) reader(port *serial.Port) {
	buf := make([]byte, readChunk)
	tx := e.sw.Tx()
	for {
		n, err := port.Read(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			e.log.Warn().Err(err).Msg("serial read error")
			tx.Send(switchcore.MsgSerialClose())
			return
		}
		for i := 0; i < n; i++ {
			tx.Send(switchcore.MsgSerial(buf[i]))
		}
	}
}

// isTimeout reports whether err represents a read-timeout, which the
// device writer/reader contract treats as a no-op rather than a fatal
// condition. goserial's poll.WaitInput surfaces the underlying
// ETIMEDOUT/EAGAIN through a type satisfying the net.Error-style
// Timeout() method, so that is what is probed for here instead of a
// concrete error value.
func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	if errors.As(err, &t) {
		return t.Timeout()
	}
	return errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.ETIMEDOUT)
}

// Enumerate lists candidate serial device paths for the -e/--enumerate
// flag. No library in the retrieval pack exposes port discovery
// (goserial only opens a path the caller already knows), so this walks
// the conventional /dev/tty{S,USB,ACM}* globs directly — a thin
// filesystem listing, not a driver concern, so stdlib path/filepath is
// sufficient on its own.
func Enumerate() ([]string, error) {
	var out []string
	for _, pattern := range []string{"/dev/ttyS*", "/dev/ttyUSB*", "/dev/ttyACM*"} {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, err
		}
		out = append(out, matches...)
	}
	return out, nil
}
