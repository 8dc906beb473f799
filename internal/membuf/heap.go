package membuf

// HeapPool backs each Buffer with its own freshly allocated block — the
// non-direct pool variant (bufferDirect=false). It shares the Pool trait
// with SlabPool but carries no slab and no free-list indices: a released
// block is simply dropped and garbage collected, since there's no slab
// slot to return it to.
type HeapPool struct {
	accounting
}

// NewHeapPool creates a HeapPool with the given fixed block size and byte budget.
func NewHeapPool(bufferSize int, poolSize int64) (*HeapPool, error) {
	shift, err := validateBufferSize(bufferSize)
	if err != nil {
		return nil, err
	}
	p := &HeapPool{}
	p.poolSize = poolSize
	p.bufferSize = bufferSize
	p.bufferShift = shift
	return p, nil
}

func (p *HeapPool) Allocate() (*Buffer, error) {
	if err := p.reserve(); err != nil {
		return nil, err
	}
	return newBuffer(p, make([]byte, p.bufferSize)), nil
}

func (p *HeapPool) Release(b *Buffer) {
	if b.pool != p {
		return
	}
	p.unreserve()
	// No free list to return to: the block is dropped for GC.
}

func (p *HeapPool) Close() error {
	p.closed.Store(true)
	return nil
}
