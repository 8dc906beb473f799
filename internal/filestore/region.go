package filestore

import (
	"fmt"
	"io"
)

// Region is a logical fixed-size slice of the store's backing file:
// region id occupies file bytes [id*regionSize, (id+1)*regionSize).
type Region struct {
	store      *Store
	id         int64
	readIndex  int64
	writeIndex int64
}

// ID is the region's slot number within the backing file.
func (r *Region) ID() int64 { return r.id }

// Available is the number of unread bytes remaining in this region.
func (r *Region) Available() int64 { return r.writeIndex - r.readIndex }

// Remaining is the number of bytes of write capacity left in this region.
func (r *Region) Remaining() int64 { return r.store.regionSize - r.writeIndex }

// Full reports whether the region has no write capacity left.
func (r *Region) Full() bool { return r.Remaining() == 0 }

// Drained reports whether every written byte has been read back out.
func (r *Region) Drained() bool { return r.Available() == 0 }

// Read reads unread bytes from the region into dst.
func (r *Region) Read(dst []byte) (int, error) { return r.store.Read(r, dst) }

// Write appends src into the region's remaining capacity.
func (r *Region) Write(src []byte) (int, error) { return r.store.Write(r, src) }

// TransferFrom reads up to max bytes from src directly into the region's
// backing file, without an intermediate buffer.
func (r *Region) TransferFrom(src io.Reader, max int64) (int64, error) {
	remaining := r.Remaining()
	if max > 0 && max < remaining {
		remaining = max
	}
	if remaining <= 0 {
		return 0, nil
	}
	buf := make([]byte, remaining)
	n, err := io.ReadFull(src, buf)
	if n > 0 {
		if _, werr := r.store.Write(r, buf[:n]); werr != nil {
			return int64(n), werr
		}
	}
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		return int64(n), err
	}
	if err != nil {
		return int64(n), fmt.Errorf("filestore: transferFrom region %d: %w", r.id, err)
	}
	return int64(n), nil
}

// TransferTo writes the region's unread bytes directly to dst, draining
// the region as it goes.
func (r *Region) TransferTo(dst io.Writer) (int64, error) {
	buf := make([]byte, r.Available())
	n, err := r.store.Read(r, buf)
	if err != nil && err != ErrTruncated {
		return int64(n), err
	}
	if n == 0 {
		return 0, nil
	}
	if _, werr := dst.Write(buf[:n]); werr != nil {
		return 0, werr
	}
	return int64(n), nil
}

// Release returns the region to its store.
func (r *Region) Release() { r.store.Release(r) }
