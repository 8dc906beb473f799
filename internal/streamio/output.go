package streamio

import (
	"github.com/nio-labs/reactor/internal/filestore"
	"github.com/nio-labs/reactor/internal/membuf"
)

// OutputStream is an ordered sequence of Buffers and Regions appended at
// the tail and drained from the head toward the socket. While the count of
// resident memory Buffers is below maxWriteBuffers, appends allocate from
// the pool; past that threshold, appends spill into Regions from store.
type OutputStream struct {
	pool            membuf.Pool
	store           *filestore.Store
	maxWriteBuffers int

	segments []segment
	memCount int
}

// NewOutputStream builds an output stream that spills to store once
// maxWriteBuffers resident memory Buffers are in flight.
func NewOutputStream(pool membuf.Pool, store *filestore.Store, maxWriteBuffers int) *OutputStream {
	return &OutputStream{pool: pool, store: store, maxWriteBuffers: maxWriteBuffers}
}

// Empty reports whether every queued element has been fully drained.
func (s *OutputStream) Empty() bool { return len(s.segments) == 0 }

// Len is the number of queued (possibly partially drained) elements.
func (s *OutputStream) Len() int { return len(s.segments) }

// Write appends p to the tail of the stream, spilling to the file store
// once maxWriteBuffers memory Buffers are already resident.
func (s *OutputStream) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		n, err := s.appendChunk(p)
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
		p = p[n:]
	}
	return total, nil
}

func (s *OutputStream) appendChunk(p []byte) (int, error) {
	if tail, ok := s.tailBufferWithRoom(); ok {
		n := tail.Append(p)
		return n, nil
	}

	if s.memCount < s.maxWriteBuffers {
		b, err := s.pool.Allocate()
		if err != nil {
			return 0, err
		}
		s.segments = append(s.segments, bufferSegment{b})
		s.memCount++
		return b.Append(p), nil
	}

	region, err := s.store.Allocate()
	if err != nil {
		return 0, err
	}
	s.segments = append(s.segments, regionSegment{region})
	max := region.Remaining()
	if int64(len(p)) < max {
		max = int64(len(p))
	}
	n, werr := region.Write(p[:max])
	return n, werr
}

func (s *OutputStream) tailBufferWithRoom() (*membuf.Buffer, bool) {
	if len(s.segments) == 0 {
		return nil, false
	}
	bs, ok := s.segments[len(s.segments)-1].(bufferSegment)
	if !ok {
		return nil, false
	}
	if bs.b.Writable() == 0 {
		return nil, false
	}
	return bs.b, true
}

// DrainTo writes the head element positionally to w, up to spinCount
// consecutive successful writes, regardless of medium (memory or file).
// Returns the number of spins consumed and whether the stream emptied out
// (the caller uses that to fire onFlushed on a non-empty -> empty edge).
func (s *OutputStream) DrainTo(w Writer, spinCount int) (spins int, becameEmpty bool, err error) {
	wasEmpty := s.Empty()
	for spins = 0; spins < spinCount && len(s.segments) > 0; spins++ {
		head := s.segments[0]
		chunk := head.Available()
		if chunk == 0 {
			s.popHead()
			continue
		}
		buf := make([]byte, chunk)
		n, rerr := head.Read(buf)
		if rerr != nil {
			return spins, false, rerr
		}
		written, werr := w.Write(buf[:n])
		if head.Drained() {
			s.popHead()
		}
		if written < n {
			s.pushBackUnwritten(buf[written:n])
		}
		if werr != nil {
			return spins, false, werr
		}
	}
	becameEmpty = !wasEmpty && s.Empty()
	return spins, becameEmpty, nil
}

// pushBackUnwritten restores bytes read out of the head segment but not
// accepted by the writer (a short/zero write) onto the front of the queue
// as a synthetic segment so no data is lost.
func (s *OutputStream) pushBackUnwritten(remainder []byte) {
	if len(remainder) == 0 {
		return
	}
	cp := append([]byte(nil), remainder...)
	s.segments = append([]segment{&rawSegment{data: cp}}, s.segments...)
}

func (s *OutputStream) popHead() {
	if len(s.segments) == 0 {
		return
	}
	head := s.segments[0]
	if head.isMemory() {
		s.memCount--
	}
	head.Release()
	s.segments = s.segments[1:]
}

// Close releases every queued element, e.g. when the session is closing
// with unflushed data still buffered.
func (s *OutputStream) Close() {
	for _, seg := range s.segments {
		seg.Release()
	}
	s.segments = nil
	s.memCount = 0
}

// rawSegment holds bytes read out of a pooled segment by DrainTo but
// rejected (fully or partially) by a non-blocking Writer. It owns no pool
// resource, so Release is a no-op. Methods take a pointer receiver: Read
// must mutate the same instance queued in segments, not a copy, or
// Drained would never observe the shrink and the segment would never pop.
type rawSegment struct{ data []byte }

func (s *rawSegment) Read(dst []byte) (int, error) {
	n := copy(dst, s.data)
	s.data = s.data[n:]
	return n, nil
}
func (s *rawSegment) Available() int { return len(s.data) }
func (s *rawSegment) Drained() bool  { return len(s.data) == 0 }
func (s *rawSegment) Release()       {}
func (s *rawSegment) isMemory() bool { return false }
