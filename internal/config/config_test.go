package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCreateDefaultThenReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	var fatal string
	terminate := func(msg string) { fatal = msg }

	fc := Load(path, terminate)
	if fatal != "" {
		t.Fatalf("unexpected terminate on fresh create: %s", fatal)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config file to be written: %v", err)
	}
	if len(fc.Shortcuts) == 0 {
		t.Fatalf("expected default shortcuts to be populated")
	}

	fc2 := Load(path, terminate)
	if fatal != "" {
		t.Fatalf("unexpected terminate on reload: %s", fatal)
	}
	if len(fc2.Shortcuts) != len(fc.Shortcuts) {
		t.Fatalf("reload shortcut count mismatch: %d vs %d", len(fc2.Shortcuts), len(fc.Shortcuts))
	}
}

func TestVersionMismatchIsFatal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("[general]\nversion = 1\n"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	var fatal string
	Load(path, func(msg string) { fatal = msg })
	if fatal == "" {
		t.Fatalf("expected terminate to be called on version mismatch")
	}
}

func TestFindShortcutQuit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	fc := Load(path, func(msg string) { t.Fatalf("terminate: %s", msg) })

	seq := []byte{0x11} // Ctrl+q
	cmd, ok := fc.FindShortcut(seq, len(seq))
	if !ok || cmd.Kind != CmdQuit {
		t.Fatalf("expected Quit, got %+v ok=%v", cmd, ok)
	}
}

func TestFindShortcutNoMatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	fc := Load(path, func(msg string) { t.Fatalf("terminate: %s", msg) })

	seq := []byte{'z', 'z', 'z'}
	_, ok := fc.FindShortcut(seq, len(seq))
	if ok {
		t.Fatalf("expected no match for an unbound sequence")
	}
}

func TestFindShortcutLengthDiscriminates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	fc := Load(path, func(msg string) { t.Fatalf("terminate: %s", msg) })

	// Del is a single 0x7f byte bound to "inject \x08"; a longer buffer
	// sharing the same first byte must not match it.
	_, ok := fc.FindShortcut([]byte{0x7f, 'X'}, 2)
	if ok {
		t.Fatalf("expected length mismatch to prevent a match")
	}
	cmd, ok := fc.FindShortcut([]byte{0x7f}, 1)
	if !ok || cmd.Kind != CmdInject {
		t.Fatalf("expected Inject for Del, got %+v ok=%v", cmd, ok)
	}
}

func TestParseCommandVariants(t *testing.T) {
	cases := []struct {
		in   string
		kind CommandKind
		arg  string
	}{
		{"help", CmdHelpMenu, ""},
		{"nop", CmdNop, ""},
		{"quit", CmdQuit, ""},
		{"stop", CmdStopScript, ""},
		{"break", CmdSerialBreak, ""},
		{"sttysize", CmdSttySize, ""},
		{"environment", CmdEnvironment, ""},
		{"inject echo hi", CmdInject, "echo hi"},
		{"file test.sh", CmdFileInject, "test.sh"},
		{"run test.py --count 2", CmdRunScript, "test.py --count 2"},
		{"prompt hello there", CmdPrompt, "hello there"},
	}
	for _, c := range cases {
		t.Run(c.in, func(t *testing.T) {
			cmd, ok := parseCommand(c.in)
			if !ok {
				t.Fatalf("expected %q to parse", c.in)
			}
			if cmd.Kind != c.kind || cmd.Arg != c.arg {
				t.Fatalf("got %+v, want kind=%v arg=%q", cmd, c.kind, c.arg)
			}
		})
	}
}

func TestParseCommandUnknownRejected(t *testing.T) {
	if _, ok := parseCommand("bogus"); ok {
		t.Fatalf("expected unknown command word to be rejected")
	}
}

func TestSubstHomeExpandsTilde(t *testing.T) {
	t.Setenv("HOME", "/home/operator")
	got := SubstHome("~/scripts/test.sh")
	want := "/home/operator/scripts/test.sh"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestDumpKeySeq(t *testing.T) {
	got := DumpKeySeq([]byte{'a', 0x1b, 'Q'})
	want := "['a', 0x1b, 'Q']"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
