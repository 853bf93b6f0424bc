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

// Package console owns the local terminal: raw-mode stdin reading,
// shortcut dispatch, the help screen, and the stdout echo loop.
package console

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/StonyBoy/termswx/internal/config"
	"github.com/StonyBoy/termswx/internal/scriptrunner"
	"github.com/StonyBoy/termswx/internal/switchcore"
)

const shortcutBufSize = 16

// Info carries the startup facts the console endpoint has no other way
// to learn (they're resolved once in cmd/termswx) but needs for the
// banner and the help screen: program version, listen port, backend
// device/host, fleet cap, trace/config file paths, and process start
// time.
type Info struct {
	Version    string
	Port       uint16
	Device     string
	MaxClients int
	TracePath  string
	ConfigPath string
	Start      time.Time
}

// Endpoint is the local console: a raw-mode reader/dispatcher loop and a
// stdout echo loop, both talking to the switch through its console
// queue.
type Endpoint struct {
	log      zerolog.Logger
	sw       *switchcore.Switch
	cfg      *config.FileConfig
	info     Info
	inPrompt scriptrunner.InPrompt

	mu       sync.Mutex // serializes raw-mode enter/exit around styled output
	oldState *term.State
	rawOn    bool

	serverMode bool

	// RunScript is supplied by cmd/termswx: it has the device/baud/size
	// details console doesn't otherwise own.
	RunScript func(argline string, withoutRaw func(func()))
}

// New builds a console endpoint. serverMode enables the silent-server
// read loop (§4.3): only the Quit shortcut is ever acted on.
func New(sw *switchcore.Switch, cfg *config.FileConfig, serverMode bool, info Info, log zerolog.Logger) *Endpoint {
	return &Endpoint{
		log:        log.With().Str("component", "console_service").Logger(),
		sw:         sw,
		cfg:        cfg,
		info:       info,
		serverMode: serverMode,
	}
}

// Banner prints the one-line startup banner: "=== Welcome to TermSWX =>
// Listening on port N => Connected to D => Use {helpkey} to get help
// ===". It is never shown in silent-server mode.
func (e *Endpoint) Banner() {
	if e.serverMode {
		return
	}
	helpKey := "?"
	if key, ok := e.cfg.FindCommandKey(config.CmdHelpMenu); ok {
		helpKey = key
	}
	var listening string
	if e.info.Port != 0 {
		listening = fmt.Sprintf(" => Listening on port %d", e.info.Port)
	}
	e.WithoutRaw(func() {
		color.New(color.FgCyan, color.Bold).Printf(
			"=== Welcome to TermSWX%s => Connected to %s => Use %s to get help ===\n",
			listening, e.info.Device, helpKey)
	})
}

// EnterRaw switches stdin to raw mode; restore it with Restore. Safe to
// call once at startup.
func (e *Endpoint) EnterRaw() error {
	state, err := term.MakeRaw(int(os.Stdin.Fd()))
	if err != nil {
		return fmt.Errorf("entering raw mode: %w", err)
	}
	e.oldState = state
	e.rawOn = true
	return nil
}

// Restore returns the terminal to cooked mode. Safe to call multiple
// times and from any exit path.
func (e *Endpoint) Restore() {
	if e.oldState == nil || !e.rawOn {
		return
	}
	_ = term.Restore(int(os.Stdin.Fd()), e.oldState)
	e.rawOn = false
}

// WithoutRaw suspends raw mode, runs fn, and restores raw mode
// afterward. Scripts and the help screen use this to print styled
// output without corrupting the live stream.
func (e *Endpoint) WithoutRaw(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	wasRaw := e.rawOn
	if wasRaw {
		_ = term.Restore(int(os.Stdin.Fd()), e.oldState)
		e.rawOn = false
	}
	fn()
	if wasRaw {
		state, err := term.MakeRaw(int(os.Stdin.Fd()))
		if err == nil {
			e.oldState = state
			e.rawOn = true
		}
	}
}

// InPromptFlag exposes the shared in-prompt state for the script runner
// to set from its stderr loop.
func (e *Endpoint) InPromptFlag() *scriptrunner.InPrompt { return &e.inPrompt }

// ReadLoop reads one chunk per stdin read() and matches it against the
// shortcut table via matchTail: the whole chunk first, then its shorter
// suffixes. A chunk whose tail matches dispatches that shortcut, and the
// bytes before the match are not forwarded; only when no suffix matches
// are the chunk's bytes forwarded individually. This relies on raw mode's
// terminal driver behaviour of delivering a multi-byte escape sequence
// (an F-key, a configured shortcut) from a single keypress in one read(),
// which is the only way a multi-byte shortcut can ever be recognized —
// matching one buffered byte at a time can never see more than a single
// byte of context. ReadLoop returns when Quit is dispatched or stdin is
// closed.
func (e *Endpoint) ReadLoop() {
	tx := e.sw.Tx()
	buf := make([]byte, shortcutBufSize)

	for {
		n, err := os.Stdin.Read(buf)
		if err != nil || n == 0 {
			return
		}

		if cmd, ok := e.matchTail(buf, n); ok {
			if e.serverMode {
				if cmd.Kind == config.CmdQuit {
					tx.Send(switchcore.MsgExit())
					return
				}
				continue
			}
			if e.dispatch(cmd, tx) {
				return
			}
			continue
		}

		if e.serverMode {
			continue
		}

		for i := 0; i < n; i++ {
			b := buf[i]
			if e.inPrompt.Get() {
				e.echoByte(b)
				tx.Send(switchcore.MsgScriptAlertResponse(b))
				if b == '\r' {
					e.inPrompt.Set(false)
				}
				continue
			}
			tx.Send(switchcore.MsgConsole(b))
		}
	}
}

// matchTail tries progressively shorter suffixes of buf[:n] against the
// shortcut table, longest first, since a shortcut's byte sequence may be
// shorter than the chunk that was read.
func (e *Endpoint) matchTail(buf []byte, n int) (config.TermCommand, bool) {
	for length := n; length > 0; length-- {
		start := n - length
		if cmd, ok := e.cfg.FindShortcut(buf[start:n], length); ok {
			return cmd, true
		}
	}
	return config.TermCommand{}, false
}

// dispatch executes cmd and reports whether the read loop should exit
// (Quit only).
func (e *Endpoint) dispatch(cmd config.TermCommand, tx switchcore.Sender) bool {
	switch cmd.Kind {
	case config.CmdHelpMenu:
		e.showHelp()
	case config.CmdNop:
	case config.CmdQuit:
		tx.Send(switchcore.MsgExit())
		return true
	case config.CmdStopScript:
		if pid := e.sw.ScriptPID(); pid != 0 {
			if err := scriptrunner.Signal(pid); err != nil {
				e.log.Warn().Err(err).Msg("failed to signal script")
			}
		}
	case config.CmdSerialBreak:
		tx.Send(switchcore.MsgSerialBreak())
	case config.CmdInject:
		for _, b := range []byte(cmd.Arg) {
			tx.Send(switchcore.MsgConsole(b))
		}
	case config.CmdPrompt:
		e.WithoutRaw(func() {
			color.New(color.FgCyan, color.Bold).Println(cmd.Arg)
		})
	case config.CmdFileInject:
		e.fileInject(cmd.Arg, tx)
	case config.CmdRunScript:
		if e.sw.ScriptPID() != 0 {
			e.WithoutRaw(func() {
				color.New(color.FgRed).Println("a script is already running")
			})
			return false
		}
		if e.RunScript != nil {
			e.RunScript(cmd.Arg, e.WithoutRaw)
		}
	case config.CmdSttySize:
		e.sttySize(tx)
	case config.CmdEnvironment:
		for k, v := range e.cfg.Environment() {
			for _, b := range []byte(fmt.Sprintf("export %s=%s\r", k, v)) {
				tx.Send(switchcore.MsgConsole(b))
			}
		}
	}
	return false
}

func (e *Endpoint) fileInject(path string, tx switchcore.Sender) {
	if e.sw.ScriptPID() != 0 {
		e.WithoutRaw(func() {
			color.New(color.FgRed).Println("a script is already running; refusing file injection")
		})
		return
	}
	data, err := os.ReadFile(config.SubstHome(path))
	if err != nil {
		e.WithoutRaw(func() {
			color.New(color.FgRed).Printf("could not read %s: %v\n", path, err)
		})
		return
	}
	for _, b := range data {
		tx.Send(switchcore.MsgConsole(b))
		if b == '\n' {
			time.Sleep(250 * time.Millisecond)
		}
	}
}

func (e *Endpoint) sttySize(tx switchcore.Sender) {
	w, h, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return
	}
	cmd := fmt.Sprintf("stty cols %d rows %d\r", w-1, h-1)
	for _, b := range []byte(cmd) {
		tx.Send(switchcore.MsgConsole(b))
	}
}

// showHelp renders the alternate-screen help listing every configured
// shortcut; ESC or the Help shortcut itself exits back to the live
// session.
func (e *Endpoint) showHelp() {
	defer fmt.Print("\x1b[?1049l") // leave alternate screen once dismissed
	e.WithoutRaw(func() {
		fmt.Print("\x1b[?1049h\x1b[H") // enter alternate screen

		w, h, err := term.GetSize(int(os.Stdout.Fd()))
		if err != nil {
			w, h = 0, 0
		}

		fmt.Printf("%s — shortcut help\n", e.info.Version)
		if e.info.Port != 0 {
			fmt.Printf("listen port: %d\n", e.info.Port)
		}
		fmt.Printf("device/host: %s\n", e.info.Device)
		fmt.Printf("clients: %d/%d\n", e.sw.ClientCount(), e.info.MaxClients)
		fmt.Printf("trace file: %s\n", e.info.TracePath)
		fmt.Printf("config file: %s\n", e.info.ConfigPath)
		fmt.Printf("terminal size: %dx%d\n", w, h)
		fmt.Printf("elapsed: %.0fs\n", time.Since(e.info.Start).Seconds())
		fmt.Println()
		for _, sc := range e.cfg.Shortcuts {
			fmt.Printf("  %-10s %-14s %s\n", sc.KeyName, sc.Command.Kind.String(), config.DumpKeySeq(sc.KeySeq))
		}
		fmt.Println()
		fmt.Println("press ESC or the Help shortcut again to return")
	})

	one := make([]byte, 1)
	for {
		n, err := os.Stdin.Read(one)
		if err != nil || n == 0 {
			return
		}
		if one[0] == 0x1b {
			return
		}
		if cmd, ok := e.cfg.FindShortcut(one, 1); ok && cmd.Kind == config.CmdHelpMenu {
			return
		}
	}
}

func (e *Endpoint) echoByte(b byte) {
	if b >= 0x80 {
		return
	}
	os.Stdout.Write([]byte{b})
}

// OutputLoop receives Console bytes from the switch's console queue and
// writes each to stdout, dropping bytes ≥ 0x80 the local terminal can't
// render (forwarding upstream is unaffected — only display is skipped).
func (e *Endpoint) OutputLoop() {
	ch := e.sw.ConsoleChan()
	for m := range ch {
		switch m.Kind {
		case switchcore.Console:
			if m.Byte >= 0x80 {
				continue
			}
			os.Stdout.Write([]byte{m.Byte})
		case switchcore.Exit:
			return
		}
	}
}
