// Package streamio stitches pooled memory Buffers and file-backed Regions
// into the contiguous logical byte streams the session read and write
// paths operate on: InputStream on the read side, OutputStream on the
// write side.
package streamio

import (
	"errors"

	"github.com/nio-labs/reactor/internal/filestore"
	"github.com/nio-labs/reactor/internal/membuf"
)

// ErrWouldBlock is returned by a Writer when the underlying descriptor
// isn't ready for more data right now — not a failure, just "try later".
var ErrWouldBlock = errors.New("streamio: write would block")

// Writer is the non-blocking write sink DrainTo writes into. Unlike
// io.Writer, a partial write is not an error by itself: only ErrWouldBlock
// and genuine I/O errors stop the drain loop early.
type Writer interface {
	Write(p []byte) (n int, err error)
}

// segment is the common shape of a queued element, whether it's backed by
// a pooled Buffer or a spilled file Region.
type segment interface {
	Read(dst []byte) (int, error)
	Available() int
	Drained() bool
	Release()
	isMemory() bool
}

type bufferSegment struct{ b *membuf.Buffer }

func (s bufferSegment) Read(dst []byte) (int, error) { return s.b.Read(dst), nil }
func (s bufferSegment) Available() int               { return s.b.Readable() }
func (s bufferSegment) Drained() bool                { return s.b.Readable() == 0 }
func (s bufferSegment) Release()                     { s.b.Release() }
func (s bufferSegment) isMemory() bool               { return true }

type regionSegment struct{ r *filestore.Region }

func (s regionSegment) Read(dst []byte) (int, error) { return s.r.Read(dst) }
func (s regionSegment) Available() int               { return int(s.r.Available()) }
func (s regionSegment) Drained() bool                { return s.r.Drained() }
func (s regionSegment) Release()                     { s.r.Release() }
func (s regionSegment) isMemory() bool               { return false }
