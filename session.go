package nio

import (
	"fmt"
	"net"
	"time"

	"github.com/nio-labs/reactor/internal/reactor"
	"github.com/nio-labs/reactor/internal/streamio"
)

type sessionState int

const (
	stateConnecting sessionState = iota
	stateOpen
	stateClosing
	stateClosed
)

// Session is one TCP connection: it exclusively owns its selection key,
// pipeline, input stream, and output stream. Every method here runs on
// the event loop thread.
type Session struct {
	id      uint64
	loop    *EventLoop
	manager *SessionManager
	slot    int
	fd      int
	remote  net.Addr
	isClient bool

	state    sessionState
	interest reactor.Op

	pipeline *HandlerPipeline
	in       *streamio.InputStream
	out      *streamio.OutputStream
	sink     streamWriter

	lastRead  time.Time
	lastWrite time.Time

	inOnCause bool
}

func newSession(loop *EventLoop, fd int, manager *SessionManager, remote net.Addr, isClient bool) *Session {
	s := &Session{
		loop:     loop,
		fd:       fd,
		manager:  manager,
		remote:   remote,
		isClient: isClient,
		state:    stateConnecting,
		in:       streamio.NewInputStream(),
		out:      streamio.NewOutputStream(loop.pool, loop.store, loop.cfg.MaxWriteBuffers),
	}
	s.pipeline = newHandlerPipeline(s)
	s.sink = newRateShapedWriter(fdWriter{fd: fd}, loop.cfg.WriteBytesPerSec, loop.clock)
	return s
}

// fdWriter adapts a raw non-blocking fd to streamWriter.
type fdWriter struct{ fd int }

func (w fdWriter) Write(p []byte) (int, error) {
	n, err := reactor.Write(w.fd, p)
	if n < 0 {
		return 0, nil
	}
	return n, err
}

// open transitions CONNECTING -> OPEN (or sets OPEN directly for a freshly
// accepted server session), applies socket options, registers interest,
// and fires onConnected through the pipeline.
func (s *Session) open(initializer SessionInitializer) error {
	if err := applySessionSocketOptions(s.fd); err != nil {
		return err
	}
	if initializer != nil {
		if err := initializer(s.pipeline); err != nil {
			return fmt.Errorf("nio: session initializer: %w", err)
		}
	}

	s.state = stateOpen
	now := s.loop.clock.Now()
	s.lastRead = now
	s.lastWrite = now

	if s.loop.cfg.AutoRead {
		s.interest = reactor.OpRead
	}
	if err := s.loop.selector.Register(s.fd, s.interest); err != nil {
		return fmt.Errorf("nio: register session fd: %w", err)
	}

	return s.dispatch(func() error { return s.pipeline.fireConnectedFromHead() })
}

// dispatch runs fn, routing any error through onCause unless the error
// originated from within onCause itself (in which case the session is
// force-closed without re-entering the handler), per the spec's
// reentrancy-detection design note.
func (s *Session) dispatch(fn func() error) error {
	err := fn()
	if err == nil {
		return nil
	}
	if s.inOnCause {
		s.closeHard()
		return err
	}
	return s.fireCause(err)
}

func (s *Session) fireCause(cause error) error {
	s.inOnCause = true
	err := s.pipeline.fireCauseFromHead(cause)
	s.inOnCause = false
	if err != nil {
		s.closeHard()
	}
	return err
}

// handleReadable runs one read attempt for OP_READ readiness. Unlike the
// Java NIO convention the spec describes (0 = would-block, -1 = EOF),
// this follows POSIX read(2) semantics matching reactor.Read's contract:
// n < 0 means EAGAIN (would block, interest stays asserted), n == 0 means
// EOF (close), n > 0 means data arrived.
func (s *Session) handleReadable() error {
	if s.state != stateOpen {
		return nil
	}

	buf, ok := s.in.TailBuffer()
	if !ok || buf.Writable() == 0 {
		allocated, err := s.loop.pool.Allocate()
		if err != nil {
			return s.dispatch(func() error { return newError(KindAllocationFailed, err) })
		}
		buf = allocated
		s.in.AppendBuffer(buf)
	}

	n, err := reactor.Read(s.fd, buf.WriteSlice())
	if err != nil {
		return s.dispatch(func() error { return newError(KindChannelClosed, err) })
	}
	if n < 0 {
		return nil // EAGAIN: stay asserted, nothing to deliver this turn
	}
	if n == 0 {
		return s.dispatch(func() error { return newError(KindChannelClosed, nil) })
	}

	buf.CommitWrite(n)
	s.in.GrowTail(n)
	s.lastRead = s.loop.clock.Now()

	if s.in.MemoryBuffers() >= s.loop.cfg.MaxReadBuffers {
		if err := s.setReadEnabled(false); err != nil {
			return err
		}
	}

	if err := s.dispatch(func() error { return s.pipeline.fireReadFromHead(s.in) }); err != nil {
		return err
	}

	// The handler may have consumed enough of the input stream during
	// fireReadFromHead to drop back under the backpressure threshold; if so
	// re-assert OP_READ here, since nothing else ever turns it back on once
	// the handler stops calling SetReadEnabled itself.
	if s.state == stateOpen && s.interest&reactor.OpRead == 0 && s.in.MemoryBuffers() < s.loop.cfg.MaxReadBuffers {
		return s.setReadEnabled(true)
	}
	return nil
}

// handleWritable drains the output stream up to writeSpinCount successful
// writes, deasserting OP_WRITE and firing onFlushed once the stream empties.
func (s *Session) handleWritable() error {
	if s.state != stateOpen && s.state != stateClosing {
		return nil
	}

	_, becameEmpty, err := s.out.DrainTo(s.sink, s.loop.cfg.WriteSpinCount)
	if err != nil {
		return s.dispatch(func() error { return newError(KindChannelClosed, err) })
	}
	s.lastWrite = s.loop.clock.Now()

	if s.out.Empty() {
		if err := s.setInterest(s.interest &^ reactor.OpWrite); err != nil {
			return err
		}
		if becameEmpty {
			if err := s.dispatch(func() error { return s.pipeline.fireFlushedFromHead() }); err != nil {
				return err
			}
		}
		if s.state == stateClosing {
			return s.closeHard()
		}
	}
	return nil
}

// appendOutput is the terminal sink the pipeline's head sentinel appends
// byte payloads into.
func (s *Session) appendOutput(b []byte) error {
	_, err := s.out.Write(b)
	return err
}

// flush asserts OP_WRITE and attempts an immediate drain.
func (s *Session) flush() error {
	if s.state != stateOpen {
		return nil
	}
	if err := s.setInterest(s.interest | reactor.OpWrite); err != nil {
		return err
	}
	return s.handleWritable()
}

func (s *Session) setReadEnabled(enabled bool) error {
	if enabled {
		return s.setInterest(s.interest | reactor.OpRead)
	}
	return s.setInterest(s.interest &^ reactor.OpRead)
}

func (s *Session) setInterest(interest reactor.Op) error {
	if interest == s.interest {
		return nil
	}
	s.interest = interest
	if s.state != stateOpen && s.state != stateClosing {
		return nil
	}
	return s.loop.selector.Modify(s.fd, interest)
}

// Close begins a graceful close: if output is still pending it finishes
// draining first (CLOSING), otherwise resources are released immediately.
func (s *Session) Close() error {
	if s.state == stateClosed || s.state == stateClosing {
		return nil
	}
	if s.out.Empty() {
		return s.closeHard()
	}
	s.state = stateClosing
	if err := s.setInterest(s.interest | reactor.OpWrite); err != nil {
		return err
	}
	return s.handleWritable()
}

// closeHard releases resources immediately regardless of pending output.
func (s *Session) closeHard() error {
	if s.state == stateClosed {
		return nil
	}
	s.state = stateClosed
	s.loop.selector.Deregister(s.fd)
	reactor.Close(s.fd)
	s.in.Close()
	s.out.Close()
	s.manager.release(s)
	return nil
}

// ID returns the session's manager-scoped monotonically increasing id.
func (s *Session) ID() uint64 { return s.id }

// RemoteAddr returns the peer address.
func (s *Session) RemoteAddr() net.Addr { return s.remote }

// IsClient reports whether this session originated from a local dial
// rather than an accepted inbound connection.
func (s *Session) IsClient() bool { return s.isClient }
