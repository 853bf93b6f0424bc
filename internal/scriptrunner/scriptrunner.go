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

// Package scriptrunner spawns the helper script process and bridges its
// stdin/stdout/stderr to the switch, including the stderr control-byte
// protocol and CSI/echo-suppressed stdin feeding.
package scriptrunner

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"

	"github.com/StonyBoy/termswx/internal/ansifilter"
	"github.com/StonyBoy/termswx/internal/switchcore"
)

const (
	alertByte      = 0x11
	menuTitleByte  = 0x12
	menuItemByte   = 0x13
	promptByte     = 0x14
	userTextByte   = 0x15
	binaryOnByte   = 0x16
	binaryOffByte  = 0x17
	menuTitleDelay = 200 * time.Millisecond
)

// InPrompt is shared with the console endpoint: it is set by the stderr
// loop on a PROMPT line and cleared by the console on CR, so the console
// read loop knows to route keystrokes to ScriptAlertResponse instead of
// Console.
type InPrompt struct{ flag atomic.Bool }

func (p *InPrompt) Set(v bool) { p.flag.Store(v) }
func (p *InPrompt) Get() bool  { return p.flag.Load() }

// Start spawns argline (split on spaces) with the configured environment
// plus TERMSWX_SIZE/TERMSWX_DEV/TERMSWX_BAUDRATE, and launches the three
// bridge loops. It returns once the script has exited and been reaped.
func Start(sw *switchcore.Switch, python, argline string, env map[string]string,
	size, device string, baudRate uint32, inPrompt *InPrompt, withoutRaw func(func()), log zerolog.Logger) {

	log = log.With().Str("component", "script_runner").Logger()
	fields := strings.Fields(argline)
	if len(fields) == 0 {
		return
	}

	args := append([]string{"-u"}, fields...)
	cmd := exec.Command(python, args...)
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = append(cmd.Env,
		"TERMSWX_SIZE="+size,
		"TERMSWX_DEV="+device,
		fmt.Sprintf("TERMSWX_BAUDRATE=%d", baudRate),
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		reportSpawnFailure(withoutRaw, fields[0], err)
		return
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		reportSpawnFailure(withoutRaw, fields[0], err)
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		reportSpawnFailure(withoutRaw, fields[0], err)
		return
	}

	if err := cmd.Start(); err != nil {
		reportSpawnFailure(withoutRaw, fields[0], err)
		return
	}

	pid := uint32(cmd.Process.Pid)
	sw.SetScriptPID(pid)
	withoutRaw(func() {
		color.New(color.FgGreen).Printf("Start %s as process id %d\n", argline, pid)
	})
	log.Info().Str("argline", argline).Uint32("pid", pid).Msg("script started")

	echo := make(chan byte, 256)
	stdoutDone := make(chan struct{})

	go stdinFeeder(sw, stdin, echo, log)
	go stdoutPump(sw, stdout, echo, stdoutDone, log)
	stderrLoop(stderr, inPrompt, sw, withoutRaw, log)

	<-stdoutDone
	_ = cmd.Wait()
	sw.SetScriptPID(0)
	sw.SetBinaryMode(false)
	withoutRaw(func() {
		color.New(color.FgGreen).Printf("End %s with process id %d\n", argline, pid)
	})
	log.Info().Str("argline", argline).Uint32("pid", pid).Msg("script ended")
}

func reportSpawnFailure(withoutRaw func(func()), name string, err error) {
	withoutRaw(func() {
		color.New(color.FgRed).Printf("Failed to start %s: %v\n", name, err)
	})
}

// stdinFeeder drains the switch's script queue, writing Console bytes to
// the child's stdin (verbatim in binary mode, otherwise echo-suppressed,
// CR-dropped and CSI-filtered) and ScriptAlertResponse bytes verbatim.
// It exits on ScriptDone.
func stdinFeeder(sw *switchcore.Switch, stdin io.WriteCloser, echo <-chan byte, log zerolog.Logger) {
	defer stdin.Close()
	filter := ansifilter.NewPull()
	ch := sw.ScriptChan()

	write := func(b byte) {
		for {
			n, err := stdin.Write([]byte{b})
			if err != nil {
				log.Warn().Err(err).Msg("stdin write failed")
				return
			}
			if n == 0 {
				time.Sleep(6 * time.Millisecond)
				continue
			}
			time.Sleep(100 * time.Microsecond)
			return
		}
	}

	for m := range ch {
		switch m.Kind {
		case switchcore.Console:
			b := m.Byte
			if sw.BinaryMode() {
				write(b)
				continue
			}
			if pendingEchoMatches(echo, b) {
				continue
			}
			if b == '\r' {
				continue
			}
			out, ok := filter.Input(b)
			for ok {
				write(out)
				out, ok = drainFilter(filter)
			}

		case switchcore.ScriptAlertResponse:
			write(m.Byte)

		case switchcore.ScriptDone:
			return
		}
	}
}

// drainFilter releases any bytes still queued by a mismatched CSI
// sequence, feeding a zero byte through Input since a pending release
// never consults its argument.
func drainFilter(filter *ansifilter.PullFilter) (byte, bool) {
	if !filter.Pending() {
		return 0, false
	}
	return filter.Input(0)
}

// pendingEchoMatches drains at most one byte already published by the
// stdout pump and reports whether it matched b, suppressing the script's
// own command echo from reaching the script's own stdin a second time.
func pendingEchoMatches(echo <-chan byte, b byte) bool {
	select {
	case e := <-echo:
		return e == b
	default:
		return false
	}
}

// stdoutPump reads the child's stdout, forwarding bytes to the switch as
// Console events (verbatim in binary mode; CR-dropped and echo-published
// otherwise), and publishes ScriptDone on EOF.
func stdoutPump(sw *switchcore.Switch, stdout io.ReadCloser, echo chan<- byte, done chan<- struct{}, log zerolog.Logger) {
	defer close(done)
	tx := sw.Tx()
	buf := make([]byte, 1024)
	for {
		n, err := stdout.Read(buf)
		for i := 0; i < n; i++ {
			b := buf[i]
			if sw.BinaryMode() {
				tx.Send(switchcore.MsgConsole(b))
				continue
			}
			if b == '\r' {
				continue
			}
			tx.Send(switchcore.MsgConsole(b))
			select {
			case echo <- b:
			default:
			}
		}
		if err != nil {
			if err != io.EOF {
				log.Warn().Err(err).Msg("stdout read error")
			}
			tx.Send(switchcore.MsgScriptDone())
			return
		}
	}
}

// stderrLoop reads the child's stderr line by line, dispatching each
// line's leading control byte per the script protocol.
func stderrLoop(stderr io.ReadCloser, inPrompt *InPrompt, sw *switchcore.Switch, withoutRaw func(func()), log zerolog.Logger) {
	r := bufio.NewReader(stderr)
	for {
		line, err := r.ReadString('\n')
		if len(line) > 0 {
			dispatchStderrLine(line, inPrompt, sw, withoutRaw)
		}
		if err != nil {
			return
		}
	}
}

func dispatchStderrLine(line string, inPrompt *InPrompt, sw *switchcore.Switch, withoutRaw func(func())) {
	line = strings.TrimSuffix(line, "\n")
	if line == "" {
		return
	}
	prefix, rest := line[0], line[1:]
	emit := func(c *color.Color, text string, newline bool) {
		withoutRaw(func() {
			if newline {
				c.Println(text)
			} else {
				c.Print(text)
				os.Stdout.Sync()
			}
		})
	}

	switch prefix {
	case alertByte:
		emit(color.New(color.FgMagenta), rest, true)
	case menuTitleByte:
		time.Sleep(menuTitleDelay)
		emit(color.New(color.FgGreen), rest, true)
	case menuItemByte:
		emit(color.New(color.FgYellow), rest, true)
	case promptByte:
		emit(color.New(color.FgWhite), rest, false)
		inPrompt.Set(true)
	case userTextByte:
		emit(color.New(color.FgBlue), rest, true)
	case binaryOnByte:
		sw.SetBinaryMode(true)
	case binaryOffByte:
		sw.SetBinaryMode(false)
	default:
		emit(color.New(color.Reset), line, true)
	}
}

// Signal sends SIGTERM to pid, the disposition preserved from the newer
// of two historical script-runner variants (see the Open Question
// record for the rationale).
func Signal(pid uint32) error {
	if pid == 0 {
		return nil
	}
	proc, err := os.FindProcess(int(pid))
	if err != nil {
		return err
	}
	return proc.Signal(syscall.SIGTERM)
}
