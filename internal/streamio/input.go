package streamio

import "github.com/nio-labs/reactor/internal/membuf"

// InputStream is an ordered sequence of pooled Buffers read from the head.
// Elements are queued only through AppendBuffer; no method queues a file
// Region. Consuming from the head advances the current element's read
// index; a drained element is released to its pool and dequeued
// automatically.
type InputStream struct {
	segments  []segment
	available int
	memCount  int
}

// NewInputStream returns an empty input stream.
func NewInputStream() *InputStream { return &InputStream{} }

// AppendBuffer queues a Buffer that has just been filled by a socket read.
func (s *InputStream) AppendBuffer(b *membuf.Buffer) {
	s.segments = append(s.segments, bufferSegment{b})
	s.available += b.Readable()
	s.memCount++
}

// TailBuffer returns the most recently queued element if it is a memory
// Buffer, so a caller performing its own socket read can keep filling it
// directly via Buffer.WriteSlice/CommitWrite instead of allocating a new
// block for every partial read.
func (s *InputStream) TailBuffer() (*membuf.Buffer, bool) {
	if len(s.segments) == 0 {
		return nil, false
	}
	bs, ok := s.segments[len(s.segments)-1].(bufferSegment)
	if !ok {
		return nil, false
	}
	return bs.b, true
}

// GrowTail records n additional bytes written directly into the tail
// buffer returned by TailBuffer, keeping Available in sync.
func (s *InputStream) GrowTail(n int) { s.available += n }

// Available is the total unread byte count across all queued elements.
func (s *InputStream) Available() int { return s.available }

// MemoryBuffers is the count of resident pooled-memory elements — the
// quantity backpressure (maxReadBuffers) is measured against.
func (s *InputStream) MemoryBuffers() int { return s.memCount }

// Read copies up to len(dst) bytes from the head of the stream, draining
// and releasing fully-consumed elements in order. Returns the number of
// bytes copied, which may be less than len(dst) if the stream runs dry.
func (s *InputStream) Read(dst []byte) int {
	total := 0
	for total < len(dst) && len(s.segments) > 0 {
		head := s.segments[0]
		n, _ := head.Read(dst[total:])
		total += n
		s.available -= n
		if head.Drained() {
			if head.isMemory() {
				s.memCount--
			}
			head.Release()
			s.segments = s.segments[1:]
		}
	}
	return total
}

// Skip discards up to n unread bytes from the head, releasing drained
// elements the same way Read does.
func (s *InputStream) Skip(n int) int {
	var scratch [4096]byte
	discarded := 0
	for discarded < n {
		chunk := n - discarded
		if chunk > len(scratch) {
			chunk = len(scratch)
		}
		got := s.Read(scratch[:chunk])
		discarded += got
		if got == 0 {
			break
		}
	}
	return discarded
}

// Close releases every queued element, e.g. when the session is closing
// with unread data still buffered.
func (s *InputStream) Close() {
	for _, seg := range s.segments {
		seg.Release()
	}
	s.segments = nil
	s.available = 0
	s.memCount = 0
}
