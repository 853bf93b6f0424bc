package scriptrunner

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/StonyBoy/termswx/internal/ansifilter"
	"github.com/StonyBoy/termswx/internal/switchcore"
)

func TestPendingEchoMatchesConsumesOneMatchingByte(t *testing.T) {
	echo := make(chan byte, 4)
	echo <- 'x'
	if !pendingEchoMatches(echo, 'x') {
		t.Fatalf("expected matching echo byte to be consumed")
	}
	select {
	case b := <-echo:
		t.Fatalf("echo channel should be drained, got %q", b)
	default:
	}
}

func TestPendingEchoMatchesRejectsDifferentByte(t *testing.T) {
	echo := make(chan byte, 4)
	echo <- 'x'
	if pendingEchoMatches(echo, 'y') {
		t.Fatalf("expected mismatched echo byte not to suppress the incoming byte")
	}
}

func TestPendingEchoMatchesFalseWhenEmpty(t *testing.T) {
	echo := make(chan byte, 4)
	if pendingEchoMatches(echo, 'z') {
		t.Fatalf("expected no match against an empty echo channel")
	}
}

func TestDrainFilterReleasesQueuedBytes(t *testing.T) {
	f := ansifilter.NewPull()
	// ESC then a non-'[' byte queues a release of ESC followed by 'Q'.
	if _, ok := f.Input(0x1b); ok {
		t.Fatalf("ESC alone must not emit yet")
	}
	out, ok := f.Input('Q')
	if !ok || out != 0x1b {
		t.Fatalf("expected released ESC first, got %q ok=%v", out, ok)
	}
	out, ok = drainFilter(f)
	if !ok || out != 'Q' {
		t.Fatalf("expected drained 'Q', got %q ok=%v", out, ok)
	}
	if _, ok := drainFilter(f); ok {
		t.Fatalf("expected nothing left to drain")
	}
}

func TestDispatchStderrLineTogglesBinaryMode(t *testing.T) {
	sw := switchcore.New(false, zerolog.Nop())
	var prompt InPrompt
	noop := func(fn func()) { fn() }

	dispatchStderrLine(string([]byte{binaryOnByte}), &prompt, sw, noop)
	if !sw.BinaryMode() {
		t.Fatalf("expected binary mode on after 0x16 line")
	}
	dispatchStderrLine(string([]byte{binaryOffByte}), &prompt, sw, noop)
	if sw.BinaryMode() {
		t.Fatalf("expected binary mode off after 0x17 line")
	}
}

func TestDispatchStderrLineSetsInPromptOnPromptByte(t *testing.T) {
	sw := switchcore.New(false, zerolog.Nop())
	var prompt InPrompt
	noop := func(fn func()) { fn() }

	dispatchStderrLine(string([]byte{promptByte})+"login: ", &prompt, sw, noop)
	if !prompt.Get() {
		t.Fatalf("expected in-prompt to be set after a PROMPT line")
	}
}

func TestDispatchStderrLineIgnoresEmptyLine(t *testing.T) {
	sw := switchcore.New(false, zerolog.Nop())
	var prompt InPrompt
	noop := func(fn func()) { fn() }

	// Must not panic on a blank line.
	dispatchStderrLine("", &prompt, sw, noop)
}
