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

// Package config loads termswx's TOML configuration file and builds the
// keyboard-shortcut table out of it.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Version is the configuration schema version. Bump it whenever the
// schema changes; a mismatch between this and a config file's
// [general].version is fatal.
const Version = 7

// TermCommand is one of the keyboard-shortcut actions a ShortCut can
// trigger.
type TermCommand struct {
	Kind CommandKind
	Arg  string // Inject (as raw string of bytes), FileInject path, RunScript argline, Prompt text
}

type CommandKind int

const (
	CmdHelpMenu CommandKind = iota
	CmdNop
	CmdQuit
	CmdStopScript
	CmdSerialBreak
	CmdInject
	CmdFileInject
	CmdRunScript
	CmdSttySize
	CmdEnvironment
	CmdPrompt
)

func (k CommandKind) String() string {
	switch k {
	case CmdHelpMenu:
		return "HelpMenu"
	case CmdNop:
		return "Nop"
	case CmdQuit:
		return "Quit"
	case CmdStopScript:
		return "StopScript"
	case CmdSerialBreak:
		return "SerialBreak"
	case CmdInject:
		return "Inject"
	case CmdFileInject:
		return "FileInject"
	case CmdRunScript:
		return "RunScript"
	case CmdSttySize:
		return "SttySize"
	case CmdEnvironment:
		return "Environment"
	case CmdPrompt:
		return "Prompt"
	default:
		return "Unknown"
	}
}

// ShortCut binds a logical key name and its literal byte sequence to a
// TermCommand.
type ShortCut struct {
	KeyName string
	KeySeq  []byte
	Command TermCommand
}

type fileSchema struct {
	General struct {
		Version int64 `toml:"version"`
	} `toml:"general"`
	Environment map[string]string `toml:"environment"`
	Scripting   struct {
		Python string `toml:"python"`
	} `toml:"scripting"`
	KeyNames map[string]string `toml:"keynames"`
	KeyMap   map[string]string `toml:"keymap"`
}

// FileConfig is the parsed configuration: the shortcut table plus the
// raw sections callers need (environment, scripting).
type FileConfig struct {
	Shortcuts []ShortCut
	raw       fileSchema
}

// Load reads path, creating a versioned default file if it doesn't
// exist. terminate is called (and Load does not return) on a version
// mismatch or a malformed file — mirroring the original's fatal
// validate_version behaviour.
func Load(path string, terminate func(msg string)) *FileConfig {
	content, err := os.ReadFile(path)
	if err != nil {
		return createDefault(path, terminate)
	}

	var raw fileSchema
	if err := toml.Unmarshal(content, &raw); err != nil {
		terminate(fmt.Sprintf("Error in the configuration file %s: %v", path, err))
		return nil
	}
	if raw.General.Version != Version {
		terminate(fmt.Sprintf("Incorrect configuration file version: %d, expected: %d in %s",
			raw.General.Version, Version, path))
		return nil
	}
	return &FileConfig{Shortcuts: buildKeymap(raw), raw: raw}
}

func createDefault(path string, terminate func(msg string)) *FileConfig {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		terminate(fmt.Sprintf("Could not create configuration directory for %s: %v", path, err))
		return nil
	}
	raw := defaultSchema()
	out, err := toml.Marshal(raw)
	if err != nil {
		terminate(fmt.Sprintf("Could not render default configuration: %v", err))
		return nil
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		terminate(fmt.Sprintf("Could not write default configuration to %s: %v", path, err))
		return nil
	}
	fmt.Printf("Creating config file %s\n", path)
	return &FileConfig{Shortcuts: buildKeymap(raw), raw: raw}
}

func defaultSchema() fileSchema {
	raw := fileSchema{
		Environment: map[string]string{"TERM": "xterm"},
		KeyNames: map[string]string{
			"F1": "\x1bOP", "F2": "\x1bOQ", "F3": "\x1bOR", "F4": "\x1bOS",
			"F5": "\x1b[15~", "F6": "\x1b[17~", "F7": "\x1b[18~", "F8": "\x1b[19~",
			"F9": "\x1b[20~", "F10": "\x1b[21~", "F11": "\x1b[23~", "F12": "\x1b[24~",
			"Print": "\x1b[57361u", "Scroll": "\x1b[57359u", "Pause": "\x1b[57362u",
			"Del": "\x7f",
		},
		KeyMap: map[string]string{
			"Ctrl+q": "quit",
			"Ctrl+x": "stop",
			"Ctrl+b": "break",
			"Del":    "inject \x08",
			"Ctrl+w": "help",
			"Ctrl+t": "sttysize",
			"Ctrl+e": "environment",
			"Ctrl+o": "inject cat /proc/meminfo\n",
			"Ctrl+p": "run test.py --count 2 username password",
			"Ctrl+f": "file test.sh",
			"Ctrl+r": "prompt ---------- New Session ----------",
			"Print":  "nop",
			"Scroll": "nop",
			"Pause":  "break",
		},
	}
	raw.General.Version = Version
	raw.Scripting.Python = "python3"
	for k := byte('a'); k <= 'z'; k++ {
		ctrlByte := k - 'a' + 1
		raw.KeyNames[fmt.Sprintf("Ctrl+%c", k)] = string([]byte{ctrlByte})
	}
	return raw
}

func buildKeymap(raw fileSchema) []ShortCut {
	var out []ShortCut
	for key, cmdstr := range raw.KeyMap {
		seq, ok := raw.KeyNames[key]
		if !ok {
			continue
		}
		cmd, ok := parseCommand(cmdstr)
		if !ok {
			continue
		}
		out = append(out, ShortCut{KeyName: key, KeySeq: []byte(seq), Command: cmd})
	}
	return out
}

func parseCommand(cmdstr string) (TermCommand, bool) {
	switch cmdstr {
	case "help":
		return TermCommand{Kind: CmdHelpMenu}, true
	case "nop":
		return TermCommand{Kind: CmdNop}, true
	case "stop":
		return TermCommand{Kind: CmdStopScript}, true
	case "break":
		return TermCommand{Kind: CmdSerialBreak}, true
	case "sttysize":
		return TermCommand{Kind: CmdSttySize}, true
	case "environment":
		return TermCommand{Kind: CmdEnvironment}, true
	case "quit":
		return TermCommand{Kind: CmdQuit}, true
	}
	word, arg, found := strings.Cut(cmdstr, " ")
	if !found {
		return TermCommand{}, false
	}
	switch word {
	case "prompt":
		return TermCommand{Kind: CmdPrompt, Arg: arg}, true
	case "inject":
		return TermCommand{Kind: CmdInject, Arg: arg}, true
	case "file":
		return TermCommand{Kind: CmdFileInject, Arg: arg}, true
	case "run":
		return TermCommand{Kind: CmdRunScript, Arg: arg}, true
	}
	return TermCommand{}, false
}

// FindShortcut matches buf[:n] against every shortcut whose byte
// sequence has exactly that length, first hit wins (in the non-
// deterministic order Go gives map iteration during buildKeymap; see
// DESIGN.md for why this matches the original's semantics in practice).
func (fc *FileConfig) FindShortcut(buf []byte, n int) (TermCommand, bool) {
	for _, sc := range fc.Shortcuts {
		if len(sc.KeySeq) != n {
			continue
		}
		if string(sc.KeySeq) == string(buf[:n]) {
			return sc.Command, true
		}
	}
	return TermCommand{}, false
}

// FindCommandKey returns the key name bound to the given command kind,
// used to render "press Ctrl+w for help" banners.
func (fc *FileConfig) FindCommandKey(kind CommandKind) (string, bool) {
	for _, sc := range fc.Shortcuts {
		if sc.Command.Kind == kind {
			return sc.KeyName, true
		}
	}
	return "", false
}

// Environment returns the configured [environment] key/value pairs.
func (fc *FileConfig) Environment() map[string]string {
	return fc.raw.Environment
}

// Python returns the configured interpreter path, defaulting to
// /usr/bin/python3 per the original.
func (fc *FileConfig) Python() string {
	if fc.raw.Scripting.Python != "" {
		return fc.raw.Scripting.Python
	}
	return "/usr/bin/python3"
}

// DumpKeySeq renders a byte slice as a mixed hex/ASCII debug string,
// e.g. ['a', 0x1b, 'Q'].
func DumpKeySeq(seq []byte) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range seq {
		ch := rune(v)
		switch {
		case (ch >= '0' && ch <= '9') || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || strings.ContainsRune("!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~", ch):
			fmt.Fprintf(&b, "'%c'", ch)
		default:
			fmt.Fprintf(&b, "%#02x", v)
		}
		if i != len(seq)-1 {
			b.WriteString(", ")
		}
	}
	b.WriteByte(']')
	return b.String()
}

// SubstHome replaces every "~" in arg with the user's home directory,
// using HOME on unix and USERPROFILE on Windows.
func SubstHome(arg string) string {
	home := os.Getenv("HOME")
	if home == "" {
		home = os.Getenv("USERPROFILE")
	}
	return strings.ReplaceAll(arg, "~", home)
}

// DefaultConfigPath returns ${XDG_CONFIG_HOME}/termswx/config.toml (unix)
// or %APPDATA%\termswx\config.toml (windows).
func DefaultConfigPath() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = os.Getenv("APPDATA")
	}
	if base == "" {
		return "", fmt.Errorf("neither XDG_CONFIG_HOME nor APPDATA is set")
	}
	return filepath.Join(base, "termswx", "config.toml"), nil
}
