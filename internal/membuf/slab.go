package membuf

// SlabPool backs its Buffers with index-slices into one contiguous
// direct-memory allocation, sliced into bufferSize blocks up front — the
// "direct" pool variant from the spec's configuration surface
// (bufferDirect=true). Free blocks are tracked by index in a stack-like
// free list, adapted from the circular free-space bookkeeping the teacher
// used for its streaming ring buffer, minus the blocking semantics: a
// single-threaded non-blocking reactor may never park its own thread, so
// exhaustion returns ErrPoolExhausted instead of waiting for space.
type SlabPool struct {
	accounting
	slab      []byte
	freeIndex []int // indices of free blocks within slab, LIFO
	numBlocks int
}

// NewSlabPool allocates one poolSize-rounded-down slab up front and slices
// it into bufferSize blocks.
func NewSlabPool(bufferSize int, poolSize int64) (*SlabPool, error) {
	shift, err := validateBufferSize(bufferSize)
	if err != nil {
		return nil, err
	}
	numBlocks := int(poolSize / int64(bufferSize))
	if numBlocks < 1 {
		numBlocks = 1
	}
	slabBytes := int64(numBlocks) * int64(bufferSize)

	p := &SlabPool{
		slab:      make([]byte, slabBytes),
		numBlocks: numBlocks,
	}
	p.poolSize = slabBytes
	p.bufferSize = bufferSize
	p.bufferShift = shift
	p.freeIndex = make([]int, numBlocks)
	for i := range p.freeIndex {
		p.freeIndex[i] = numBlocks - 1 - i
	}
	return p, nil
}

func (p *SlabPool) Allocate() (*Buffer, error) {
	if err := p.reserve(); err != nil {
		return nil, err
	}
	idx := p.freeIndex[len(p.freeIndex)-1]
	p.freeIndex = p.freeIndex[:len(p.freeIndex)-1]
	start := idx * p.bufferSize
	data := p.slab[start : start+p.bufferSize : start+p.bufferSize]
	buf := newBuffer(p, data)
	buf.slabIndex = idx
	return buf, nil
}

func (p *SlabPool) Release(b *Buffer) {
	if b.pool != p {
		// Foreign buffer: the caller is expected to log this as a warning.
		return
	}
	b.reset()
	p.freeIndex = append(p.freeIndex, b.slabIndex)
	p.unreserve()
}

func (p *SlabPool) Close() error {
	p.closed.Store(true)
	p.slab = nil
	p.freeIndex = nil
	return nil
}
