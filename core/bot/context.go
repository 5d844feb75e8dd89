package bot

import (
	"context"

	"github.com/m3rciful/paybot/core/identity"
)

// HandlerFunc processes one inbound event.
type HandlerFunc func(c *Context) error

// MiddlewareFunc wraps a handler with cross-cutting behaviour.
type MiddlewareFunc func(next HandlerFunc) HandlerFunc

// Context carries one inbound event through middleware and its handler.
// A context is owned by a single dispatch lane goroutine and is not safe
// for use after the handler returns.
type Context struct {
	ctx   context.Context
	event InboundEvent
	out   *Sender
	args  []string
	vals  map[string]any
}

// NewContext builds a handler context for one event.
func NewContext(ctx context.Context, ev InboundEvent, out *Sender) *Context {
	return &Context{ctx: ctx, event: ev, out: out}
}

// Ctx returns the request-scoped context, carrying rid and log metadata.
func (c *Context) Ctx() context.Context { return c.ctx }

// WithCtx replaces the request-scoped context.
func (c *Context) WithCtx(ctx context.Context) { c.ctx = ctx }

// Event returns the inbound event being handled.
func (c *Context) Event() InboundEvent { return c.event }

// Sender returns the identity of the message author.
func (c *Context) Sender() identity.Identity { return c.event.Sender }

// Text returns the raw message body.
func (c *Context) Text() string { return c.event.Text }

// Args returns the whitespace-split arguments following the command word.
func (c *Context) Args() []string { return c.args }

// SetArgs stores parsed command arguments for the handler.
func (c *Context) SetArgs(args []string) { c.args = args }

// Reply queues a text message back to the sender.
func (c *Context) Reply(text string) error {
	return c.out.Send(c.ctx, OutboundMessage{Recipient: c.event.Sender, Text: text})
}

// ReplyImage queues a message with an image attachment back to the sender.
func (c *Context) ReplyImage(caption string, img []byte) error {
	return c.out.Send(c.ctx, OutboundMessage{Recipient: c.event.Sender, Text: caption, Image: img})
}

// Message queues a message to an arbitrary recipient.
func (c *Context) Message(to identity.Identity, text string) error {
	return c.out.Send(c.ctx, OutboundMessage{Recipient: to, Text: text})
}

// Set stores a request-scoped value.
func (c *Context) Set(key string, v any) {
	if c.vals == nil {
		c.vals = make(map[string]any)
	}
	c.vals[key] = v
}

// Get returns a request-scoped value.
func (c *Context) Get(key string) (any, bool) {
	v, ok := c.vals[key]
	return v, ok
}
