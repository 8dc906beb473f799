// Package filestore implements the file-backed spill region pool: a single
// temporary file sliced into fixed-size logical regions, used once the
// memory buffer pool's write-side budget is exhausted.
package filestore

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"
)

// ErrStoreExhausted is returned by Allocate when storeSize would be exceeded.
var ErrStoreExhausted = errors.New("filestore: store exhausted")

// ErrTruncated is returned when a positional read comes back short (EOF
// where a full region read was expected).
var ErrTruncated = errors.New("filestore: truncated read")

// Store owns the single backing file and the region free list. Like the
// memory pools, it is exclusively owned and mutated by the event loop
// thread; liveBytes is atomic only so Stats-style monitoring from other
// goroutines doesn't need to go through the loop.
type Store struct {
	file       *os.File
	path       string
	regionSize int64
	storeSize  int64
	maxID      int64 // -1 when empty
	free       []int64
	liveBytes  atomic.Int64
}

// New creates the backing temporary file under dir (os.TempDir() if dir is
// empty) and returns a Store capped at storeSize bytes, sliced into
// regionSize regions.
func New(dir string, regionSize, storeSize int64) (*Store, error) {
	if regionSize <= 0 {
		return nil, fmt.Errorf("filestore: regionSize must be positive")
	}
	f, err := os.CreateTemp(dir, "nio-filestore-*.bin")
	if err != nil {
		return nil, fmt.Errorf("filestore: creating backing file: %w", err)
	}
	return &Store{
		file:       f,
		path:       f.Name(),
		regionSize: regionSize,
		storeSize:  storeSize,
		maxID:      -1,
	}, nil
}

// Path is the backing file's path, removed on Close.
func (s *Store) Path() string { return s.path }

// RegionSize is the fixed size of each region in bytes.
func (s *Store) RegionSize() int64 { return s.regionSize }

// Size is the sum of (writeIndex - readIndex) over all live regions.
func (s *Store) Size() int64 { return s.liveBytes.Load() }

// Allocate returns an unused Region, reused from the free list or by
// extending maxID. Fails with ErrStoreExhausted once storeSize would be
// exceeded by growing past maxID.
func (s *Store) Allocate() (*Region, error) {
	if n := len(s.free); n > 0 {
		id := s.free[n-1]
		s.free = s.free[:n-1]
		return &Region{store: s, id: id}, nil
	}

	nextID := s.maxID + 1
	if (nextID+1)*s.regionSize > s.storeSize {
		return nil, ErrStoreExhausted
	}
	// Extend the file to cover the new top region, so its length tracks
	// (maxID+1)*regionSize regardless of how much of the region is written.
	if err := s.file.Truncate((nextID + 1) * s.regionSize); err != nil {
		return nil, fmt.Errorf("filestore: extending backing file: %w", err)
	}
	s.maxID = nextID
	return &Region{store: s, id: nextID}, nil
}

// Release returns a region to the free list. If it happens to be the
// highest-numbered live region, the file is truncated by regionSize and
// maxID decremented — but only then: releasing an interior region leaves
// the file at its current length, exactly as the original truncate-on-top
// policy does. This can leak file bytes until the top region is freed;
// that is preserved behavior, not a bug (see design notes).
func (s *Store) Release(r *Region) {
	if r.store != s {
		return
	}
	s.liveBytes.Add(-(r.writeIndex - r.readIndex))
	r.readIndex = 0
	r.writeIndex = 0

	if r.id == s.maxID {
		newLen := s.maxID * s.regionSize
		// Truncation is best-effort: correctness doesn't depend on it.
		_ = s.file.Truncate(newLen)
		s.maxID--
		return
	}
	s.free = append(s.free, r.id)
}

// Read performs a positional read from region starting at its readIndex,
// bounded by the region's unread byte count, advancing readIndex.
func (s *Store) Read(r *Region, dst []byte) (int, error) {
	avail := r.writeIndex - r.readIndex
	if avail <= 0 {
		return 0, nil
	}
	if int64(len(dst)) > avail {
		dst = dst[:avail]
	}
	off := r.id*s.regionSize + r.readIndex
	n, err := s.file.ReadAt(dst, off)
	if n > 0 {
		r.readIndex += int64(n)
		s.liveBytes.Add(-int64(n))
	}
	if err != nil && n == 0 {
		return 0, fmt.Errorf("filestore: read region %d: %w", r.id, err)
	}
	if n < len(dst) {
		return n, ErrTruncated
	}
	return n, nil
}

// Write performs a positional write into region starting at its
// writeIndex, bounded by remaining region capacity, advancing writeIndex.
func (s *Store) Write(r *Region, src []byte) (int, error) {
	remaining := s.regionSize - r.writeIndex
	if int64(len(src)) > remaining {
		src = src[:remaining]
	}
	if len(src) == 0 {
		return 0, nil
	}
	off := r.id*s.regionSize + r.writeIndex
	n, err := s.file.WriteAt(src, off)
	if n > 0 {
		r.writeIndex += int64(n)
		s.liveBytes.Add(int64(n))
	}
	if err != nil {
		return n, fmt.Errorf("filestore: write region %d: %w", r.id, err)
	}
	return n, nil
}

// Close closes and removes the backing file.
func (s *Store) Close() error {
	err := s.file.Close()
	_ = os.Remove(s.path)
	return err
}
