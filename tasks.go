package nio

import (
	"sync"
	"time"
)

// ConnRequest is a pending dial. It doubles as its own one-shot timer
// task: if the timeout fires before the socket reports connectable, the
// loop closes the channel and routes a ConnectTimeout error to the
// session manager via a transient session created just to fire onCause.
type ConnRequest struct {
	host    string
	port    int
	timeout time.Duration

	fd      int
	manager *SessionManager

	timeoutTask *TimeTask
	done        bool
}

// connectQueue is the multi-producer/single-consumer mailbox connect()
// appends to; ordering between two dials from different threads follows
// enqueue order, preserved by the mutex-guarded slice.
type connectQueue struct {
	mu      sync.Mutex
	pending []*ConnRequest
}

func (q *connectQueue) enqueue(r *ConnRequest) {
	q.mu.Lock()
	q.pending = append(q.pending, r)
	q.mu.Unlock()
}

func (q *connectQueue) drain() []*ConnRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	drained := q.pending
	q.pending = nil
	return drained
}

// taskQueue is the mailbox execute() appends to when called off the loop
// thread. Submission order is preserved.
type taskQueue struct {
	mu      sync.Mutex
	pending []func()
}

func (q *taskQueue) enqueue(fn func()) {
	q.mu.Lock()
	q.pending = append(q.pending, fn)
	q.mu.Unlock()
}

func (q *taskQueue) drain() []func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	drained := q.pending
	q.pending = nil
	return drained
}

// Connect enqueues a dial to host:port, using the client session manager
// and client initializer. Safe to call from any goroutine.
func (l *EventLoop) Connect(host string, port int) {
	req := &ConnRequest{host: host, port: port, timeout: l.cfg.ConnectTimeout, manager: l.clients}
	l.connectQ.enqueue(req)
	l.wakeIfForeign()
}

// Schedule enqueues a one-shot timer task firing at loop time now+after.
// Resolution is "next loop turn after deadline."
func (l *EventLoop) Schedule(after time.Duration, run func()) *TimeTask {
	t := newOneShotTask(l.clock.Now().Add(after), run)
	l.timers.queue.enqueue(t)
	l.wakeIfForeign()
	return t
}

// ScheduleEvery enqueues a periodic timer task, first firing at
// now+after and every period thereafter.
func (l *EventLoop) ScheduleEvery(after, period time.Duration, run func()) *TimeTask {
	t := newPeriodicTask(l.clock.Now().Add(after), period, run)
	l.timers.queue.enqueue(t)
	l.wakeIfForeign()
	return t
}

// Execute runs fn on the loop thread. Called from the loop thread itself,
// it runs inline before returning; otherwise it is enqueued and the
// selector is woken. Submission order is preserved either way.
func (l *EventLoop) Execute(fn func()) {
	if l.onLoopThread() {
		fn()
		return
	}
	l.tasks.enqueue(fn)
	l.wakeIfForeign()
}

// Shutdown requests graceful termination: the loop stops accepting new
// connections, lets in-flight flushes finish, then joins. Idempotent.
func (l *EventLoop) Shutdown() {
	l.shutdownRequested.Store(true)
	l.wakeIfForeign()
}

func (l *EventLoop) onLoopThread() bool {
	return l.loopGoroutineID.Load() == currentGoroutineID()
}

// wakeIfForeign wakes the selector unless the caller is already the loop
// thread, matching the spec's "unless invoked from the loop thread" rule.
func (l *EventLoop) wakeIfForeign() {
	if !l.onLoopThread() {
		l.selector.Wakeup()
	}
}
