package membuf

// Buffer is one contiguous fixed-size byte region handed out by a Pool.
// All mutation happens on the event loop thread — refCount is a plain int,
// not atomic, because the single-threaded cooperative model guarantees
// there is never a concurrent writer.
type Buffer struct {
	pool       Pool
	data       []byte
	readIndex  int
	writeIndex int
	refCount   int
	slabIndex  int // valid only when pool is a *SlabPool
}

// newBuffer wraps data (len(data) == pool.BufferSize()) with refCount 1.
func newBuffer(pool Pool, data []byte) *Buffer {
	return &Buffer{pool: pool, data: data, refCount: 1}
}

// Pool returns the owning pool, used by Release to reject foreign buffers.
func (b *Buffer) Pool() Pool { return b.pool }

// Cap is the buffer's fixed capacity.
func (b *Buffer) Cap() int { return len(b.data) }

// ReadIndex is the next unread offset.
func (b *Buffer) ReadIndex() int { return b.readIndex }

// WriteIndex is the next write offset.
func (b *Buffer) WriteIndex() int { return b.writeIndex }

// Readable is writeIndex - readIndex: unread bytes resident in this block.
func (b *Buffer) Readable() int { return b.writeIndex - b.readIndex }

// Writable is cap - writeIndex: remaining room for appends.
func (b *Buffer) Writable() int { return len(b.data) - b.writeIndex }

// Bytes exposes the unread slice [readIndex:writeIndex). Callers must not
// retain it past the next mutation — it aliases the pool's backing storage.
func (b *Buffer) Bytes() []byte { return b.data[b.readIndex:b.writeIndex] }

// Append copies p into the writable tail and advances writeIndex. Returns
// the number of bytes copied, which is less than len(p) when the buffer
// doesn't have room for all of it.
func (b *Buffer) Append(p []byte) int {
	n := copy(b.data[b.writeIndex:], p)
	b.writeIndex += n
	return n
}

// WriteSlice exposes the writable tail directly, so a caller performing
// its own I/O (a non-blocking socket read) can fill the buffer without an
// intermediate copy. Pair with CommitWrite to advance the write index by
// however many bytes were actually placed.
func (b *Buffer) WriteSlice() []byte { return b.data[b.writeIndex:] }

// CommitWrite advances writeIndex by n after bytes were placed directly
// into the slice returned by WriteSlice.
func (b *Buffer) CommitWrite(n int) { b.writeIndex += n }

// Skip advances readIndex by n, discarding n bytes without copying them out.
func (b *Buffer) Skip(n int) {
	b.readIndex += n
}

// Read copies unread bytes into dst, advancing readIndex. Returns the
// number of bytes copied.
func (b *Buffer) Read(dst []byte) int {
	n := copy(dst, b.data[b.readIndex:b.writeIndex])
	b.readIndex += n
	return n
}

// Retain increments the refcount: the buffer is now shared by one more
// stream (e.g. handed from the input stream directly into the output
// stream without copying, for a zero-copy echo handler).
func (b *Buffer) Retain() {
	b.refCount++
}

// Release decrements the refcount. At zero the buffer is returned to its
// pool and must not be touched again.
func (b *Buffer) Release() {
	b.refCount--
	if b.refCount <= 0 {
		b.pool.Release(b)
	}
}

// Reset clears indices so the backing storage can be reused by a pool's
// free list without reallocating the slice.
func (b *Buffer) reset() {
	b.readIndex = 0
	b.writeIndex = 0
	b.refCount = 1
}
