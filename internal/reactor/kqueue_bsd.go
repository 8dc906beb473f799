//go:build darwin || freebsd

package reactor

import (
	"sync"

	"golang.org/x/sys/unix"
)

// kqueueSelector implements Selector over raw kqueue. Wakeup uses a
// self-pipe rather than eventfd, which kqueue platforms don't have.
type kqueueSelector struct {
	kq int

	wakeupRead  int
	wakeupWrite int

	mu       sync.Mutex
	interest map[int]Op
}

// NewSelector opens a fresh kqueue instance for the calling loop thread.
func NewSelector() (Selector, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		unix.Close(kq)
		return nil, err
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		unix.Close(kq)
		return nil, err
	}
	if err := unix.SetNonblock(fds[1], true); err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		unix.Close(kq)
		return nil, err
	}
	s := &kqueueSelector{
		kq:          kq,
		wakeupRead:  fds[0],
		wakeupWrite: fds[1],
		interest:    make(map[int]Op),
	}
	changes := []unix.Kevent_t{{
		Ident:  uint64(s.wakeupRead),
		Filter: unix.EVFILT_READ,
		Flags:  unix.EV_ADD,
	}}
	if _, err := unix.Kevent(kq, changes, nil, nil); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *kqueueSelector) changesFor(fd int, interest Op) []unix.Kevent_t {
	var changes []unix.Kevent_t
	readFlags := uint16(unix.EV_DELETE)
	if interest&(OpRead|OpAccept) != 0 {
		readFlags = unix.EV_ADD
	}
	changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: readFlags})

	writeFlags := uint16(unix.EV_DELETE)
	if interest&(OpWrite|OpConnect) != 0 {
		writeFlags = unix.EV_ADD
	}
	changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: writeFlags})
	return changes
}

func (s *kqueueSelector) Register(fd int, interest Op) error {
	s.mu.Lock()
	s.interest[fd] = interest
	s.mu.Unlock()
	changes := s.changesFor(fd, interest)
	filtered := changes[:0]
	for _, c := range changes {
		if c.Flags == unix.EV_ADD {
			filtered = append(filtered, c)
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	_, err := unix.Kevent(s.kq, filtered, nil, nil)
	return err
}

func (s *kqueueSelector) Modify(fd int, interest Op) error {
	s.mu.Lock()
	s.interest[fd] = interest
	s.mu.Unlock()
	_, err := unix.Kevent(s.kq, s.changesFor(fd, interest), nil, nil)
	return err
}

func (s *kqueueSelector) Deregister(fd int) error {
	s.mu.Lock()
	delete(s.interest, fd)
	s.mu.Unlock()
	changes := []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE},
	}
	// Errors here are expected when only one of the two filters was
	// registered (ENOENT) or the fd is already closed (EBADF).
	unix.Kevent(s.kq, changes, nil, nil)
	return nil
}

func (s *kqueueSelector) Wait(dst []Event, timeoutMillis int) ([]Event, error) {
	raw := make([]unix.Kevent_t, 128)
	var ts *unix.Timespec
	if timeoutMillis >= 0 {
		t := unix.NsecToTimespec(int64(timeoutMillis) * int64(1e6))
		ts = &t
	}
	n, err := unix.Kevent(s.kq, nil, raw, ts)
	if err == unix.EINTR {
		return dst, nil
	}
	if err != nil {
		return dst, err
	}
	for i := 0; i < n; i++ {
		fd := int(raw[i].Ident)
		if fd == s.wakeupRead {
			s.drainWakeup()
			continue
		}
		var ops Op
		switch raw[i].Filter {
		case unix.EVFILT_READ:
			ops = OpRead
		case unix.EVFILT_WRITE:
			ops = OpWrite
		}
		dst = append(dst, Event{FD: fd, Ops: ops})
	}
	return dst, nil
}

func (s *kqueueSelector) drainWakeup() {
	var buf [64]byte
	for {
		_, err := unix.Read(s.wakeupRead, buf[:])
		if err != nil {
			return
		}
	}
}

func (s *kqueueSelector) Wakeup() {
	one := [1]byte{1}
	unix.Write(s.wakeupWrite, one[:])
}

func (s *kqueueSelector) Close() error {
	unix.Close(s.wakeupRead)
	unix.Close(s.wakeupWrite)
	return unix.Close(s.kq)
}
