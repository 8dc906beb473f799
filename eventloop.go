// Package nio implements a single-threaded, non-blocking TCP networking
// runtime: a readiness-driven event loop, a tiered buffering system with
// memory-pool and file-backed spillover, and a session-scoped handler
// pipeline.
package nio

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nio-labs/reactor/internal/filestore"
	"github.com/nio-labs/reactor/internal/logging"
	"github.com/nio-labs/reactor/internal/membuf"
	"github.com/nio-labs/reactor/internal/reactor"
)

// idleCheckInterval is how often the loop scans sessions for read/write
// timeout violations. Not exposed in Config: the spec names the
// behavior (a periodic check) but not its cadence, and a fixed small
// interval keeps timeout detection responsive without a config knob
// nobody asked for.
const idleCheckInterval = 250 * time.Millisecond

// EventLoop is the selector-driven run loop: it exclusively owns the
// selector, the connect/timer/task queues, and both session managers.
type EventLoop struct {
	cfg   *Config
	clock Clock

	selector reactor.Selector
	pool     membuf.Pool
	store    *filestore.Store

	servers *SessionManager
	clients *SessionManager

	connectQ connectQueue
	tasks    taskQueue
	timers   *timerWheel

	pendingConnects map[int]*ConnRequest

	logger    *slog.Logger
	logCloser io.Closer

	listenFD            int
	shutdownRequested   atomic.Bool
	serverClosed        bool
	sessionsCloseBegun  bool
	loopGoroutineID     atomic.Uint64
	done                chan struct{}
}

// NewEventLoop builds the pools, selector, and session managers from cfg
// but does not start accepting connections; call Run for that.
func NewEventLoop(cfg *Config) (*EventLoop, error) {
	return NewEventLoopWithClock(cfg, systemClock{})
}

// NewEventLoopWithClock is NewEventLoop with an injectable Clock, used by
// tests driving timer and idle-timeout properties deterministically.
func NewEventLoopWithClock(cfg *Config, clock Clock) (*EventLoop, error) {
	logger, closer := logging.NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)

	sel, err := reactor.NewSelector()
	if err != nil {
		return nil, fmt.Errorf("nio: opening selector: %w", err)
	}

	var pool membuf.Pool
	if cfg.BufferDirect {
		pool, err = membuf.NewSlabPool(int(cfg.BufferSize), cfg.PoolSize)
	} else {
		pool, err = membuf.NewHeapPool(int(cfg.BufferSize), cfg.PoolSize)
	}
	if err != nil {
		sel.Close()
		return nil, fmt.Errorf("nio: building memory pool: %w", err)
	}

	store, err := filestore.New("", int64(cfg.BufferSize), cfg.StoreSize)
	if err != nil {
		sel.Close()
		pool.Close()
		return nil, fmt.Errorf("nio: building file store: %w", err)
	}

	return &EventLoop{
		cfg:             cfg,
		clock:           clock,
		selector:        sel,
		pool:            pool,
		store:           store,
		servers:         newSessionManager("server", cfg.MaxServerConns),
		clients:         newSessionManager("client", cfg.MaxClientConns),
		timers:          newTimerWheel(),
		pendingConnects: make(map[int]*ConnRequest),
		logger:          logger,
		logCloser:       closer,
		listenFD:        -1,
		done:            make(chan struct{}),
	}, nil
}

// Run starts the listening socket (if a ServerInitializer was configured)
// and drives the event loop until Shutdown completes. It blocks the
// calling goroutine, which becomes the loop thread for the rest of the
// EventLoop's life.
func (l *EventLoop) Run() error {
	l.loopGoroutineID.Store(currentGoroutineID())
	defer close(l.done)
	defer l.teardown()

	if l.cfg.ServerInitializer != nil {
		fd, err := reactor.ListenTCP(l.cfg.Host, l.cfg.Port, l.cfg.Backlog)
		if err != nil {
			return fmt.Errorf("nio: listen: %w", err)
		}
		l.listenFD = fd
		if err := l.selector.Register(l.listenFD, reactor.OpAccept); err != nil {
			return fmt.Errorf("nio: register listener: %w", err)
		}
		l.logger.Info("listening", "host", l.cfg.Host, "port", l.cfg.Port)
	}

	l.ScheduleEvery(idleCheckInterval, idleCheckInterval, l.checkIdleTimeouts)

	events := make([]reactor.Event, 0, 128)
	for {
		if l.shutdownRequested.Load() {
			l.closeListenerOnce()
			l.beginSessionsCloseOnce()
			if l.servers.isCompleted() && l.clients.isCompleted() {
				break
			}
		} else {
			for _, req := range l.connectQ.drain() {
				l.beginConnect(req)
			}
		}

		l.timers.absorb()
		now := l.clock.Now()
		timeoutMillis := -1
		if deadline, ok := l.timers.nextDeadline(now); ok {
			if !deadline.After(now) {
				timeoutMillis = 0
			} else {
				timeoutMillis = int(deadline.Sub(now) / time.Millisecond)
				if timeoutMillis == 0 {
					timeoutMillis = 1
				}
			}
		}

		var err error
		events, err = l.selector.Wait(events[:0], timeoutMillis)
		if err != nil {
			l.logger.Error("selector wait failed", "error", err)
			return fmt.Errorf("nio: selector wait: %w", err)
		}

		for _, ev := range events {
			l.dispatchEvent(ev)
		}

		l.timers.absorb()
		l.timers.runDue(l.clock.Now())

		for _, fn := range l.tasks.drain() {
			fn()
		}
	}

	return nil
}

func (l *EventLoop) closeListenerOnce() {
	if l.serverClosed || l.listenFD < 0 {
		return
	}
	l.serverClosed = true
	l.selector.Deregister(l.listenFD)
	reactor.Close(l.listenFD)
}

// beginSessionsCloseOnce starts a graceful Close on every open session the
// first time shutdown is observed, so Shutdown does not wait forever on a
// peer that never hangs up: pending writes still drain (Session.Close only
// force-closes once its output stream is empty), but no new work is
// accepted from the session's handlers after this point.
func (l *EventLoop) beginSessionsCloseOnce() {
	if l.sessionsCloseBegun {
		return
	}
	l.sessionsCloseBegun = true
	l.servers.forEach(func(s *Session) { s.Close() })
	l.clients.forEach(func(s *Session) { s.Close() })
}

func (l *EventLoop) teardown() {
	l.servers.closeAll()
	l.clients.closeAll()
	l.closeListenerOnce()
	l.pool.Close()
	l.store.Close()
	l.selector.Close()
	if l.logCloser != nil {
		l.logCloser.Close()
	}
	if l.cfg.EventLoopListener != nil {
		l.cfg.EventLoopListener.Destroy()
	}
}

func (l *EventLoop) dispatchEvent(ev reactor.Event) {
	if ev.FD == l.listenFD {
		l.acceptLoop()
		return
	}
	if req, ok := l.pendingConnects[ev.FD]; ok && ev.Ops&reactor.OpWrite != 0 {
		l.finishConnect(req)
		return
	}

	session := l.sessionForFD(ev.FD)
	if session == nil {
		return
	}
	if ev.Ops&reactor.OpRead != 0 {
		session.handleReadable()
	}
	if ev.Ops&reactor.OpWrite != 0 && session.state != stateClosed {
		session.handleWritable()
	}
}

func (l *EventLoop) sessionForFD(fd int) *Session {
	var found *Session
	visit := func(s *Session) {
		if s.fd == fd {
			found = s
		}
	}
	l.servers.forEach(visit)
	if found == nil {
		l.clients.forEach(visit)
	}
	return found
}

func (l *EventLoop) acceptLoop() {
	for {
		fd, remote, err := reactor.Accept(l.listenFD)
		if err != nil {
			l.logger.Warn("accept failed", "error", err)
			return
		}
		if fd < 0 {
			return
		}

		session := newSession(l, fd, l.servers, remote, false)
		if err := l.servers.allocate(session); err != nil {
			l.failSessionAllocate(session, l.cfg.ServerInitializer, err)
			continue
		}
		if err := session.open(l.cfg.ServerInitializer); err != nil {
			l.logger.Warn("server session open failed", "error", err)
			session.closeHard()
		}
	}
}

// failSessionAllocate runs initializer against session's pipeline (so a
// handler that cares about allocation failures can observe one) and fires
// onCause(SessionAllocateFailed) before tearing the session down. The
// session was never placed in a manager slot, so closeHard's release is a
// harmless no-op; it still deregisters and closes the fd.
func (l *EventLoop) failSessionAllocate(session *Session, initializer SessionInitializer, cause error) {
	if initializer != nil {
		if err := initializer(session.pipeline); err != nil {
			l.logger.Warn("session initializer failed during allocation failure", "error", err)
		}
	}
	session.fireCause(newError(KindSessionAllocateFailed, cause))
	session.closeHard()
}

func (l *EventLoop) beginConnect(req *ConnRequest) {
	fd, err := reactor.DialTCP(req.host, req.port)
	if err != nil {
		l.logger.Warn("dial failed", "host", req.host, "port", req.port, "error", err)
		return
	}
	req.fd = fd
	if err := l.selector.Register(fd, reactor.OpConnect); err != nil {
		l.logger.Warn("register connecting fd failed", "error", err)
		reactor.Close(fd)
		return
	}
	l.pendingConnects[fd] = req
	if req.timeout > 0 {
		req.timeoutTask = l.Schedule(req.timeout, func() { l.connectTimedOut(req) })
	}
}

func (l *EventLoop) finishConnect(req *ConnRequest) {
	if req.done {
		return
	}
	req.done = true
	if req.timeoutTask != nil {
		req.timeoutTask.Cancel()
	}
	delete(l.pendingConnects, req.fd)

	if err := reactor.FinishConnect(req.fd); err != nil {
		l.logger.Warn("connect failed", "host", req.host, "port", req.port, "error", err)
		l.selector.Deregister(req.fd)
		reactor.Close(req.fd)
		return
	}

	session := newSession(l, req.fd, req.manager, nil, true)
	if err := req.manager.allocate(session); err != nil {
		l.selector.Deregister(req.fd)
		l.failSessionAllocate(session, l.cfg.ClientInitializer, err)
		return
	}

	// Drop the OP_CONNECT registration; session.open registers the fd anew.
	l.selector.Deregister(req.fd)
	if err := session.open(l.cfg.ClientInitializer); err != nil {
		l.logger.Warn("client session open failed", "error", err)
		session.closeHard()
	}
}

func (l *EventLoop) connectTimedOut(req *ConnRequest) {
	if req.done {
		return
	}
	req.done = true
	delete(l.pendingConnects, req.fd)
	l.selector.Deregister(req.fd)
	reactor.Close(req.fd)

	transient := newSession(l, -1, req.manager, nil, true)
	if l.cfg.ClientInitializer != nil {
		if err := l.cfg.ClientInitializer(transient.pipeline); err != nil {
			l.logger.Warn("client initializer failed for transient connect-timeout session", "error", err)
		}
	}
	transient.fireCause(newError(KindConnectTimeout, errors.New("connection timed out")))
}

// checkIdleTimeouts fires onCause(IdleTimeout) for any session whose
// asserted read or write interest has gone unserviced past its bound.
func (l *EventLoop) checkIdleTimeouts() {
	now := l.clock.Now()
	check := func(s *Session) {
		if s.state != stateOpen {
			return
		}
		if s.interest&reactor.OpRead != 0 && now.Sub(s.lastRead) > l.cfg.ReadTimeout {
			s.dispatch(func() error { return newError(KindIdleTimeout, errors.New("read timeout")) })
			return
		}
		if s.interest&reactor.OpWrite != 0 && now.Sub(s.lastWrite) > l.cfg.WriteTimeout {
			s.dispatch(func() error { return newError(KindIdleTimeout, errors.New("write timeout")) })
		}
	}
	l.servers.forEach(check)
	l.clients.forEach(check)
}

// Done returns a channel closed once Run returns.
func (l *EventLoop) Done() <-chan struct{} { return l.done }
