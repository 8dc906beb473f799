// Package membuf implements the fixed-size pooled memory buffers that back
// the reactor's read and write paths: a capped byte budget sliced into
// power-of-two blocks, handed out as reference-counted Buffers.
package membuf

import (
	"errors"
	"fmt"
	"math/bits"
	"sync/atomic"
)

// ErrPoolExhausted is returned by Allocate when the pool's byte budget is used up.
var ErrPoolExhausted = errors.New("membuf: pool exhausted")

// ErrPoolClosed is returned by Allocate once the pool has been closed.
var ErrPoolClosed = errors.New("membuf: pool closed")

// Pool is the trait shared by the slab-backed and heap-backed allocators.
// There is no shared base-class state: each implementation owns its own
// free list and byte accounting, and both satisfy this single interface —
// callers never need to know which one they were given.
type Pool interface {
	// Allocate returns a fresh Buffer or ErrPoolExhausted/ErrPoolClosed.
	Allocate() (*Buffer, error)
	// Release returns a Buffer's storage to the pool. A Buffer that does
	// not belong to this pool is a no-op (the caller should log a warning).
	Release(b *Buffer)
	// BufferSize is the fixed block size in bytes, a power of two.
	BufferSize() int
	// BufferSizeShift is log2(BufferSize()).
	BufferSizeShift() uint
	// CurrentBytes is the number of bytes currently checked out.
	CurrentBytes() int64
	// PoolSize is the hard byte budget.
	PoolSize() int64
	// Close releases the pool's backing storage. Buffers outstanding at
	// close time become invalid.
	Close() error
}

func validateBufferSize(bufferSize int) (uint, error) {
	if bufferSize <= 0 || bufferSize&(bufferSize-1) != 0 {
		return 0, fmt.Errorf("membuf: bufferSize %d is not a power of two", bufferSize)
	}
	return uint(bits.TrailingZeros(uint(bufferSize))), nil
}

// accounting is the byte-budget tracker shared by both pool implementations.
// currentBytes is atomic so Stats-style callers on other goroutines can read
// it without going through the loop; only the event loop thread mutates it.
type accounting struct {
	poolSize     int64
	bufferSize   int
	bufferShift  uint
	currentBytes atomic.Int64
	closed       atomic.Bool
}

func (a *accounting) reserve() error {
	if a.closed.Load() {
		return ErrPoolClosed
	}
	if a.currentBytes.Load()+int64(a.bufferSize) > a.poolSize {
		return ErrPoolExhausted
	}
	a.currentBytes.Add(int64(a.bufferSize))
	return nil
}

func (a *accounting) unreserve() {
	a.currentBytes.Add(-int64(a.bufferSize))
}

func (a *accounting) BufferSize() int        { return a.bufferSize }
func (a *accounting) BufferSizeShift() uint  { return a.bufferShift }
func (a *accounting) CurrentBytes() int64    { return a.currentBytes.Load() }
func (a *accounting) PoolSize() int64        { return a.poolSize }
