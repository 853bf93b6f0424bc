package ansifilter

import (
	"bytes"
	"testing"
)

func run(t *testing.T, in []byte) []byte {
	t.Helper()
	f := New()
	var out []byte
	for _, b := range in {
		out = append(out, f.Put(b)...)
	}
	return out
}

func TestPureASCIIFilter(t *testing.T) {
	in := []byte{0x41, 0x42, 0x43, 0x51, 0x52, 0x53}
	got := run(t, in)
	if !bytes.Equal(got, in) {
		t.Fatalf("got %x want %x", got, in)
	}
}

func TestColorSequenceElided(t *testing.T) {
	in := []byte{0x41, 0x42, 0x43, 0x1b, 0x5b, 0x30, 0x3b, 0x33, 0x32, 0x6d, 0x51, 0x52, 0x53}
	want := []byte{0x41, 0x42, 0x43, 0x51, 0x52, 0x53}
	got := run(t, in)
	if !bytes.Equal(got, want) {
		t.Fatalf("got %x want %x", got, want)
	}
}

func TestLoneEscapePassesThrough(t *testing.T) {
	in := []byte{0x41, 0x42, 0x43, 0x1b, 0x51, 0x52, 0x53}
	want := []byte{0x41, 0x42, 0x43, 0x1b, 0x51, 0x52, 0x53}
	got := run(t, in)
	if !bytes.Equal(got, want) {
		t.Fatalf("got %x want %x", got, want)
	}
}

func TestNonCSIEscapePassesThrough(t *testing.T) {
	in := []byte{0x41, 0x42, 0x43, 0x1b, 0x45, 0x30, 0x3b, 0x33, 0x32, 0x6d, 0x51, 0x52, 0x53}
	got := run(t, in)
	if !bytes.Equal(got, in) {
		t.Fatalf("got %x want %x", got, in)
	}
}

func TestResetSequence(t *testing.T) {
	in := []byte{0x41, 0x42, 0x43, 0x1b, 0x5b, 0x30, 0x6d, 0x51, 0x52, 0x53}
	want := []byte{0x41, 0x42, 0x43, 0x51, 0x52, 0x53}
	got := run(t, in)
	if !bytes.Equal(got, want) {
		t.Fatalf("got %x want %x", got, want)
	}
}

// PasteDigitGoesToScreen documents spec.md §9 Open Question (b): a Paste
// sequence that contains a digit is accepted as a Screen sequence instead
// of staying in Paste. This is preserved as-specified, not "fixed".
// The letter 'h' ends that Screen sequence, so the 'm' after it is plain
// text and is emitted together with the trailing 'X'.
func TestPasteDigitGoesToScreenNotFixed(t *testing.T) {
	in := []byte{0x1b, 0x5b, '?', '1', 'h', 'm', 'X'}
	got := run(t, in)
	if !bytes.Equal(got, []byte{'m', 'X'}) {
		t.Fatalf("got %x, want trailing mX only", got)
	}
}

func drainPull(t *testing.T, f *PullFilter, val byte) []byte {
	t.Helper()
	var out []byte
	b, ok := f.Input(val)
	for ok {
		out = append(out, b)
		if !f.Pending() {
			break
		}
		b, ok = f.Input(val)
	}
	return out
}

func TestPullFilterMismatchReleasesBufferedEscAcrossCalls(t *testing.T) {
	f := NewPull()
	var out []byte
	for _, b := range []byte{0x41, 0x1b} {
		out = append(out, drainPull(t, f, b)...)
	}
	// ESC is buffered, nothing released yet
	if !bytes.Equal(out, []byte{0x41}) {
		t.Fatalf("got %x", out)
	}
	out = append(out, drainPull(t, f, 0x51)...)
	if !bytes.Equal(out, []byte{0x41, 0x1b, 0x51}) {
		t.Fatalf("got %x", out)
	}
}

func TestWellFormedCSISequencesElided(t *testing.T) {
	// Property 2: any well-formed CSI sequence ESC [ P* F elides entirely.
	seqs := [][]byte{
		{0x1b, '[', '0', 'm'},
		{0x1b, '[', '3', '1', ';', '4', '2', 'm'},
		{0x1b, '[', 'K'},
	}
	for _, seq := range seqs {
		got := run(t, seq)
		if len(got) != 0 {
			t.Fatalf("sequence %x: expected full elision, got %x", seq, got)
		}
	}
}
