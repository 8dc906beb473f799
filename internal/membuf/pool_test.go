package membuf

import "testing"

func TestSlabPool_ConservesBytes(t *testing.T) {
	pool, err := NewSlabPool(4096, 4096*4)
	if err != nil {
		t.Fatalf("NewSlabPool: %v", err)
	}

	var bufs []*Buffer
	for i := 0; i < 4; i++ {
		b, err := pool.Allocate()
		if err != nil {
			t.Fatalf("Allocate %d: %v", i, err)
		}
		bufs = append(bufs, b)
	}
	if got, want := pool.CurrentBytes(), int64(4096*4); got != want {
		t.Fatalf("CurrentBytes = %d, want %d", got, want)
	}

	if _, err := pool.Allocate(); err != ErrPoolExhausted {
		t.Fatalf("expected ErrPoolExhausted, got %v", err)
	}

	for _, b := range bufs {
		b.Release()
	}
	if got := pool.CurrentBytes(); got != 0 {
		t.Fatalf("CurrentBytes after release = %d, want 0", got)
	}

	// The freed slots must be reusable.
	b, err := pool.Allocate()
	if err != nil {
		t.Fatalf("Allocate after release: %v", err)
	}
	if pool.CurrentBytes() != 4096 {
		t.Fatalf("CurrentBytes = %d, want %d", pool.CurrentBytes(), 4096)
	}
	b.Release()
}

func TestSlabPool_RejectsNonPowerOfTwo(t *testing.T) {
	if _, err := NewSlabPool(100, 1000); err == nil {
		t.Fatal("expected error for non power-of-two bufferSize")
	}
}

func TestHeapPool_ConservesBytes(t *testing.T) {
	pool, err := NewHeapPool(1024, 1024*2)
	if err != nil {
		t.Fatalf("NewHeapPool: %v", err)
	}

	b1, err := pool.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	b2, err := pool.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if _, err := pool.Allocate(); err != ErrPoolExhausted {
		t.Fatalf("expected ErrPoolExhausted, got %v", err)
	}

	b1.Release()
	if pool.CurrentBytes() != 1024 {
		t.Fatalf("CurrentBytes = %d, want 1024", pool.CurrentBytes())
	}
	b2.Release()
	if pool.CurrentBytes() != 0 {
		t.Fatalf("CurrentBytes = %d, want 0", pool.CurrentBytes())
	}
}

func TestPool_ReleaseForeignBufferIsNoop(t *testing.T) {
	poolA, _ := NewSlabPool(1024, 1024*2)
	poolB, _ := NewSlabPool(1024, 1024*2)

	bufA, _ := poolA.Allocate()
	poolB.Release(bufA)

	if poolA.CurrentBytes() != 1024 {
		t.Fatalf("poolA CurrentBytes = %d, want 1024 (release from wrong pool must be a no-op)", poolA.CurrentBytes())
	}
	if poolB.CurrentBytes() != 0 {
		t.Fatalf("poolB CurrentBytes = %d, want 0", poolB.CurrentBytes())
	}
}

func TestPool_ClosedRejectsAllocate(t *testing.T) {
	pool, _ := NewHeapPool(1024, 1024*4)
	pool.Close()
	if _, err := pool.Allocate(); err != ErrPoolClosed {
		t.Fatalf("expected ErrPoolClosed, got %v", err)
	}
}

func TestBuffer_RetainReleaseShares(t *testing.T) {
	pool, _ := NewHeapPool(64, 64*2)
	b, _ := pool.Allocate()
	b.Retain() // now shared by two owners

	b.Release() // first owner done
	if pool.CurrentBytes() == 0 {
		t.Fatal("buffer released back to pool while still retained")
	}
	b.Release() // second owner done
	if pool.CurrentBytes() != 0 {
		t.Fatal("buffer not released back to pool after final release")
	}
}
