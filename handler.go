package nio

import "github.com/nio-labs/reactor/internal/streamio"

// Handler is the capability set a pipeline participant may implement. A
// handler need not implement every method; HandlerContext supplies
// pass-through defaults for whichever are absent, via the embeddable
// NoopHandler.
type Handler interface {
	OnConnected(ctx *HandlerContext) error
	OnRead(ctx *HandlerContext, in *streamio.InputStream) error
	OnWrite(ctx *HandlerContext, payload any) error
	OnFlushed(ctx *HandlerContext) error
	OnCause(ctx *HandlerContext, cause error) error
}

// NoopHandler implements Handler with pass-through defaults. Embed it and
// override only the methods a concrete handler cares about.
type NoopHandler struct{}

func (NoopHandler) OnConnected(ctx *HandlerContext) error { return ctx.FireConnected() }

func (NoopHandler) OnRead(ctx *HandlerContext, in *streamio.InputStream) error {
	return ctx.FireRead(in)
}

func (NoopHandler) OnWrite(ctx *HandlerContext, payload any) error {
	return ctx.FireWrite(payload)
}

func (NoopHandler) OnFlushed(ctx *HandlerContext) error { return ctx.FireFlushed() }

func (NoopHandler) OnCause(ctx *HandlerContext, cause error) error {
	return ctx.FireCause(cause)
}
