package nio

import (
	"fmt"

	"github.com/nio-labs/reactor/internal/membuf"
	"github.com/nio-labs/reactor/internal/streamio"
)

// headIndex and tailIndex are the fixed sentinel slots of every pipeline's
// node arena. Using integer indices instead of pointers for prev/next
// avoids cyclic references between nodes and their owning session.
const (
	headIndex = 0
	tailIndex = 1
)

type pipelineNode struct {
	name    string
	handler Handler
	prev    int
	next    int
}

// sentinelHandler implements Handler as pure propagation: inbound events
// reaching the tail, or an outbound write reaching the head, fall through
// to it. Head and tail each get their own instance so FireWrite at the
// head can special-case appending to the output stream.
type sentinelHandler struct{ isHead bool }

func (s sentinelHandler) OnConnected(ctx *HandlerContext) error { return nil }

func (s sentinelHandler) OnRead(ctx *HandlerContext, in *streamio.InputStream) error { return nil }

func (s sentinelHandler) OnWrite(ctx *HandlerContext, payload any) error {
	if !s.isHead {
		return nil
	}
	b, ok := payload.([]byte)
	if !ok {
		return fmt.Errorf("nio: pipeline write reached head with non-byte payload %T", payload)
	}
	return ctx.session.appendOutput(b)
}

func (s sentinelHandler) OnFlushed(ctx *HandlerContext) error { return nil }

func (s sentinelHandler) OnCause(ctx *HandlerContext, cause error) error { return nil }

// HandlerPipeline is the per-session doubly-linked chain of handler
// contexts. Inbound events (OnConnected, OnRead, OnFlushed, OnCause)
// propagate head to tail; OnWrite propagates tail to head.
type HandlerPipeline struct {
	session *Session
	nodes   []pipelineNode
}

// newHandlerPipeline builds an empty pipeline with just the head and tail
// sentinels, owned by session.
func newHandlerPipeline(session *Session) *HandlerPipeline {
	p := &HandlerPipeline{session: session}
	p.nodes = []pipelineNode{
		{name: "head", handler: sentinelHandler{isHead: true}, prev: -1, next: tailIndex},
		{name: "tail", handler: sentinelHandler{isHead: false}, prev: headIndex, next: -1},
	}
	return p
}

// AddLast appends a named handler immediately before the tail sentinel.
func (p *HandlerPipeline) AddLast(name string, h Handler) {
	newIdx := len(p.nodes)
	tailPrev := p.nodes[tailIndex].prev
	p.nodes = append(p.nodes, pipelineNode{name: name, handler: h, prev: tailPrev, next: tailIndex})
	p.nodes[tailPrev].next = newIdx
	p.nodes[tailIndex].prev = newIdx
}

func (p *HandlerPipeline) context(idx int) *HandlerContext {
	return &HandlerContext{pipeline: p, session: p.session, idx: idx}
}

// fireConnectedFromHead starts OnConnected propagation at the first real
// handler after the head sentinel.
func (p *HandlerPipeline) fireConnectedFromHead() error {
	return p.context(p.nodes[headIndex].next).invokeConnected()
}

func (p *HandlerPipeline) fireReadFromHead(in *streamio.InputStream) error {
	return p.context(p.nodes[headIndex].next).invokeRead(in)
}

func (p *HandlerPipeline) fireFlushedFromHead() error {
	return p.context(p.nodes[headIndex].next).invokeFlushed()
}

func (p *HandlerPipeline) fireCauseFromHead(cause error) error {
	return p.context(p.nodes[headIndex].next).invokeCause(cause)
}

// fireWriteFromTail starts OnWrite propagation at the last real handler
// before the tail sentinel — the first to see the outbound payload.
func (p *HandlerPipeline) fireWriteFromTail(payload any) error {
	return p.context(p.nodes[tailIndex].prev).invokeWrite(payload)
}

// HandlerContext is a node handle passed into every Handler callback. It
// exposes Fire* helpers that continue propagation to the neighboring node,
// plus convenience accessors onto the owning session.
type HandlerContext struct {
	pipeline *HandlerPipeline
	session  *Session
	idx      int
}

func (ctx *HandlerContext) node() *pipelineNode { return &ctx.pipeline.nodes[ctx.idx] }

// Name is the handler's registered name.
func (ctx *HandlerContext) Name() string { return ctx.node().name }

// Session returns the owning session.
func (ctx *HandlerContext) Session() *Session { return ctx.session }

func (ctx *HandlerContext) invokeConnected() error {
	return ctx.node().handler.OnConnected(ctx)
}

func (ctx *HandlerContext) invokeRead(in *streamio.InputStream) error {
	return ctx.node().handler.OnRead(ctx, in)
}

func (ctx *HandlerContext) invokeWrite(payload any) error {
	return ctx.node().handler.OnWrite(ctx, payload)
}

func (ctx *HandlerContext) invokeFlushed() error {
	return ctx.node().handler.OnFlushed(ctx)
}

func (ctx *HandlerContext) invokeCause(cause error) error {
	return ctx.node().handler.OnCause(ctx, cause)
}

// FireConnected continues OnConnected propagation toward the tail.
func (ctx *HandlerContext) FireConnected() error {
	next := ctx.node().next
	if next == -1 {
		return nil
	}
	return ctx.pipeline.context(next).invokeConnected()
}

// FireRead continues OnRead propagation toward the tail.
func (ctx *HandlerContext) FireRead(in *streamio.InputStream) error {
	next := ctx.node().next
	if next == -1 {
		return nil
	}
	return ctx.pipeline.context(next).invokeRead(in)
}

// FireWrite continues OnWrite propagation toward the head. Reaching the
// head sentinel with a non-[]byte payload is a programming error: some
// handler in the chain must transform the application object into bytes
// before it falls off the front.
func (ctx *HandlerContext) FireWrite(payload any) error {
	prev := ctx.node().prev
	if prev == -1 {
		return nil
	}
	return ctx.pipeline.context(prev).invokeWrite(payload)
}

// FireFlushed continues OnFlushed propagation toward the tail.
func (ctx *HandlerContext) FireFlushed() error {
	next := ctx.node().next
	if next == -1 {
		return nil
	}
	return ctx.pipeline.context(next).invokeFlushed()
}

// FireCause continues OnCause propagation toward the tail.
func (ctx *HandlerContext) FireCause(cause error) error {
	next := ctx.node().next
	if next == -1 {
		return nil
	}
	return ctx.pipeline.context(next).invokeCause(cause)
}

// Write starts an outbound write at the tail, propagating payload
// backward through every handler until one turns it into bytes appended
// to the session's output stream.
func (ctx *HandlerContext) Write(payload any) error {
	return ctx.pipeline.fireWriteFromTail(payload)
}

// Flush asserts OP_WRITE and attempts an immediate drain of the output
// stream toward the socket.
func (ctx *HandlerContext) Flush() error {
	return ctx.session.flush()
}

// SetReadEnabled toggles OP_READ interest for the owning session.
func (ctx *HandlerContext) SetReadEnabled(enabled bool) error {
	return ctx.session.setReadEnabled(enabled)
}

// Close closes the owning session.
func (ctx *HandlerContext) Close() error { return ctx.session.Close() }

// AllocateBuffer draws one fixed-size block from the owning loop's memory
// pool. The caller owns the returned Buffer and must Release it, directly
// or by handing it to an InputStream/OutputStream that releases it for
// them; it is not freed automatically.
func (ctx *HandlerContext) AllocateBuffer() (*membuf.Buffer, error) {
	return ctx.session.loop.pool.Allocate()
}
