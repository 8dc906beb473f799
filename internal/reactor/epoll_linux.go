//go:build linux

package reactor

import (
	"sync"

	"golang.org/x/sys/unix"
)

// epollSelector implements Selector over raw epoll, with an eventfd used
// purely to interrupt a blocked EpollWait from another goroutine.
type epollSelector struct {
	epfd     int
	wakeupFD int

	mu       sync.Mutex
	interest map[int]Op
}

// NewSelector opens a fresh epoll instance for the calling loop thread.
func NewSelector() (Selector, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}
	s := &epollSelector{epfd: epfd, wakeupFD: efd, interest: make(map[int]Op)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, efd, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(efd),
	}); err != nil {
		unix.Close(efd)
		unix.Close(epfd)
		return nil, err
	}
	return s, nil
}

func toEpollEvents(interest Op) uint32 {
	var ev uint32
	if interest&(OpRead|OpAccept) != 0 {
		ev |= unix.EPOLLIN
	}
	if interest&(OpWrite|OpConnect) != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func fromEpollEvents(ev uint32) Op {
	var ops Op
	if ev&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
		ops |= OpRead
	}
	if ev&(unix.EPOLLOUT|unix.EPOLLERR) != 0 {
		ops |= OpWrite
	}
	return ops
}

func (s *epollSelector) Register(fd int, interest Op) error {
	s.mu.Lock()
	s.interest[fd] = interest
	s.mu.Unlock()
	return unix.EpollCtl(s.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: toEpollEvents(interest),
		Fd:     int32(fd),
	})
}

func (s *epollSelector) Modify(fd int, interest Op) error {
	s.mu.Lock()
	s.interest[fd] = interest
	s.mu.Unlock()
	return unix.EpollCtl(s.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{
		Events: toEpollEvents(interest),
		Fd:     int32(fd),
	})
}

func (s *epollSelector) Deregister(fd int) error {
	s.mu.Lock()
	delete(s.interest, fd)
	s.mu.Unlock()
	err := unix.EpollCtl(s.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == unix.ENOENT || err == unix.EBADF {
		return nil
	}
	return err
}

func (s *epollSelector) Wait(dst []Event, timeoutMillis int) ([]Event, error) {
	raw := make([]unix.EpollEvent, 128)
	n, err := unix.EpollWait(s.epfd, raw, timeoutMillis)
	if err == unix.EINTR {
		return dst, nil
	}
	if err != nil {
		return dst, err
	}
	for i := 0; i < n; i++ {
		fd := int(raw[i].Fd)
		if fd == s.wakeupFD {
			s.drainWakeup()
			continue
		}
		dst = append(dst, Event{FD: fd, Ops: fromEpollEvents(raw[i].Events)})
	}
	return dst, nil
}

func (s *epollSelector) drainWakeup() {
	var buf [8]byte
	for {
		_, err := unix.Read(s.wakeupFD, buf[:])
		if err != nil {
			return
		}
	}
}

func (s *epollSelector) Wakeup() {
	one := [8]byte{0, 0, 0, 0, 0, 0, 0, 1}
	unix.Write(s.wakeupFD, one[:])
}

func (s *epollSelector) Close() error {
	unix.Close(s.wakeupFD)
	return unix.Close(s.epfd)
}
