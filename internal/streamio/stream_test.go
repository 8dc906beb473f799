package streamio

import (
	"bytes"
	"testing"

	"github.com/nio-labs/reactor/internal/filestore"
	"github.com/nio-labs/reactor/internal/membuf"
)

// collectingWriter accumulates everything written to it and never blocks.
type collectingWriter struct{ bytes.Buffer }

func (w *collectingWriter) Write(p []byte) (int, error) { return w.Buffer.Write(p) }

func newRoundTripDeps(t *testing.T) (membuf.Pool, *filestore.Store) {
	t.Helper()
	pool, err := membuf.NewHeapPool(256, 256*64)
	if err != nil {
		t.Fatalf("NewHeapPool: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	store, err := filestore.New(t.TempDir(), 256, 256*64)
	if err != nil {
		t.Fatalf("filestore.New: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return pool, store
}

// TestOutputInputRoundTrip writes a payload through an OutputStream
// configured with a small maxWriteBuffers, forcing a spill to the file
// store partway through, then drains it back out through DrainTo and
// confirms the bytes are identical regardless of the spill boundary.
func TestOutputInputRoundTrip(t *testing.T) {
	pool, store := newRoundTripDeps(t)

	out := NewOutputStream(pool, store, 2)
	payload := bytes.Repeat([]byte("reactor-round-trip-"), 100) // > 4 buffers worth

	if _, err := out.Write(payload); err != nil {
		t.Fatalf("Write: %v", err)
	}

	w := &collectingWriter{}
	for !out.Empty() {
		_, _, err := out.DrainTo(w, 64)
		if err != nil {
			t.Fatalf("DrainTo: %v", err)
		}
	}

	if !bytes.Equal(w.Bytes(), payload) {
		t.Fatalf("round-tripped %d bytes, want %d; mismatch", w.Len(), len(payload))
	}
}

// TestOutputStream_SpillsPastMaxWriteBuffers confirms appends beyond
// maxWriteBuffers resident memory Buffers land in the file store rather
// than growing the memory-resident count further.
func TestOutputStream_SpillsPastMaxWriteBuffers(t *testing.T) {
	pool, store := newRoundTripDeps(t)
	out := NewOutputStream(pool, store, 1)

	chunk := bytes.Repeat([]byte{0x42}, 256)
	for i := 0; i < 5; i++ {
		if _, err := out.Write(chunk); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
	}

	if out.memCount > 1 {
		t.Fatalf("memCount = %d, want <= 1 after spill threshold", out.memCount)
	}
	if out.Len() <= 1 {
		t.Fatalf("expected multiple queued segments once spilling, got %d", out.Len())
	}

	if got := store.Size(); got == 0 {
		t.Fatal("expected file store to carry spilled bytes")
	}
}

// TestInputStream_ReadAcrossSegmentBoundaries confirms Read transparently
// crosses multiple queued Buffers, releasing drained ones as it goes.
func TestInputStream_ReadAcrossSegmentBoundaries(t *testing.T) {
	pool, err := membuf.NewHeapPool(8, 8*8)
	if err != nil {
		t.Fatalf("NewHeapPool: %v", err)
	}
	defer pool.Close()

	in := NewInputStream()
	want := []byte("abcdefghijklmnopqrstuvwxyz")
	for i := 0; i < len(want); {
		b, err := pool.Allocate()
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		end := i + 8
		if end > len(want) {
			end = len(want)
		}
		b.Append(want[i:end])
		in.AppendBuffer(b)
		i = end
	}

	if got := in.Available(); got != len(want) {
		t.Fatalf("Available = %d, want %d", got, len(want))
	}

	got := make([]byte, len(want))
	n := in.Read(got)
	if n != len(want) {
		t.Fatalf("Read n = %d, want %d", n, len(want))
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("Read = %q, want %q", got, want)
	}
	if in.Available() != 0 {
		t.Fatal("expected stream drained")
	}
	if in.MemoryBuffers() != 0 {
		t.Fatal("expected all memory buffers released")
	}
}

// TestInputStream_Skip confirms Skip discards bytes without copying them
// out, releasing drained elements the same way Read does.
func TestInputStream_Skip(t *testing.T) {
	pool, err := membuf.NewHeapPool(16, 16*4)
	if err != nil {
		t.Fatalf("NewHeapPool: %v", err)
	}
	defer pool.Close()

	in := NewInputStream()
	b, _ := pool.Allocate()
	b.Append([]byte("0123456789abcdef"))
	in.AppendBuffer(b)

	skipped := in.Skip(10)
	if skipped != 10 {
		t.Fatalf("Skip = %d, want 10", skipped)
	}

	rest := make([]byte, 6)
	n := in.Read(rest)
	if n != 6 || string(rest) != "abcdef" {
		t.Fatalf("Read after skip = %q (n=%d), want \"abcdef\"", rest, n)
	}
}

// TestOutputStream_DrainHonorsShortWrite confirms a short write from the
// sink is not treated as an error: the unwritten remainder stays queued
// for the next DrainTo call.
func TestOutputStream_DrainHonorsShortWrite(t *testing.T) {
	pool, store := newRoundTripDeps(t)
	out := NewOutputStream(pool, store, 4)

	payload := bytes.Repeat([]byte{0x7}, 64)
	if _, err := out.Write(payload); err != nil {
		t.Fatalf("Write: %v", err)
	}

	sw := &shortWriter{limit: 10}
	spins, becameEmpty, err := out.DrainTo(sw, 4)
	if err != nil {
		t.Fatalf("DrainTo: %v", err)
	}
	if becameEmpty {
		t.Fatal("stream should not be empty after a short write")
	}
	if spins == 0 {
		t.Fatal("expected at least one spin")
	}

	full := &collectingWriter{}
	for !out.Empty() {
		if _, _, err := out.DrainTo(full, 64); err != nil {
			t.Fatalf("DrainTo: %v", err)
		}
	}
	total := append(append([]byte(nil), sw.got...), full.Bytes()...)
	if !bytes.Equal(total, payload) {
		t.Fatal("bytes lost across a short write")
	}
}

// shortWriter accepts at most limit bytes per call, simulating a socket
// that isn't ready for the full payload.
type shortWriter struct {
	limit int
	got   []byte
}

func (w *shortWriter) Write(p []byte) (int, error) {
	n := len(p)
	if n > w.limit {
		n = w.limit
	}
	w.got = append(w.got, p[:n]...)
	return n, nil
}
