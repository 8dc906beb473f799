// Package reactor provides the raw readiness-selection primitive the event
// loop polls: a non-blocking, single-threaded wrapper over epoll (Linux) or
// kqueue (BSD/Darwin), deliberately bypassing the Go runtime netpoller so
// the loop controls exactly when and how long it parks.
package reactor

// Op is a bitmask of the interest set registered for one file descriptor,
// mirroring the selector's OP_ACCEPT/OP_CONNECT/OP_READ/OP_WRITE vocabulary.
type Op uint32

const (
	OpRead Op = 1 << iota
	OpWrite
	// OpAccept and OpConnect share the readable/writable edges at the
	// kernel level (a listening socket becomes "readable" on a pending
	// accept; a connecting socket becomes "writable" on completion) but
	// are kept as distinct bits so callers can express intent clearly.
	OpAccept
	OpConnect
)

// Event is one readiness notification for a registered file descriptor.
type Event struct {
	FD  int
	Ops Op
}

// Selector is the minimal readiness-polling contract the event loop needs.
// Implementations are not safe for concurrent use — exactly one goroutine,
// the loop thread, may call Wait, Register, Modify, Deregister.
type Selector interface {
	// Register begins watching fd for the given interest set.
	Register(fd int, interest Op) error
	// Modify changes the interest set for an already-registered fd.
	Modify(fd int, interest Op) error
	// Deregister stops watching fd. Safe to call after the fd is closed.
	Deregister(fd int) error
	// Wait blocks until at least one fd is ready, the timeout elapses, or
	// Wakeup is called, appending ready events to dst and returning the
	// extended slice. timeoutMillis < 0 blocks indefinitely; 0 returns
	// immediately (selectNow semantics).
	Wait(dst []Event, timeoutMillis int) ([]Event, error)
	// Wakeup interrupts a blocked Wait from any goroutine.
	Wakeup()
	// Close releases the underlying kernel selector resource.
	Close() error
}
