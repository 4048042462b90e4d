// Package lpc ("local procedure call") pairs a request handed to a long-running goroutine with the single reply that
// goroutine sends back.
package lpc

import (
	"context"
	"errors"

	"github.com/alanbriolat/video-fetcher/generic"
	"github.com/alanbriolat/video-fetcher/internal/sync_"
)

var (
	ErrClosed     = errors.New("command response already sent")
	ErrNoResponse = errors.New("no response")
)

type Command[Arg any, Response any] struct {
	initialized bool
	arg         Arg
	response    generic.Result[Response]
	done        sync_.Event
}

// New is called through a typed nil, e.g. (*Command[Job, Result])(nil).New(job), so that type aliases can construct.
func (*Command[Arg, Response]) New(arg Arg) *Command[Arg, Response] {
	return &Command[Arg, Response]{
		initialized: true,
		arg:         arg,
		response:    generic.Err[Response](ErrNoResponse),
	}
}

func (c *Command[Arg, Response]) mustInit(method string) {
	if c == nil || !c.initialized {
		panic("lpc: " + method + " called on a Command not created with New")
	}
}

func (c *Command[Arg, Response]) Arg() Arg {
	return c.arg
}

func (c *Command[Arg, Response]) Respond(response Response) error {
	c.mustInit("Respond")
	return c.complete(generic.Ok(response))
}

func (c *Command[Arg, Response]) RespondError(err error) error {
	c.mustInit("RespondError")
	return c.complete(generic.Err[Response](err))
}

// complete stores the first response only. Only the worker goroutine responds, so the check and store don't race.
func (c *Command[Arg, Response]) complete(r generic.Result[Response]) error {
	if c.done.IsSet() {
		return ErrClosed
	}
	c.response = r
	c.done.Set()
	return nil
}

// Wait blocks until there is a response. A Command closed without one yields ErrNoResponse.
func (c *Command[Arg, Response]) Wait() (Response, error) {
	c.mustInit("Wait")
	<-c.done.Wait()
	return c.response.Parts()
}

func (c *Command[Arg, Response]) WaitContext(ctx context.Context) (Response, error) {
	select {
	case <-c.Done():
		return c.Wait()
	case <-ctx.Done():
		var zero Response
		return zero, ctx.Err()
	}
}

func (c *Command[Arg, Response]) Done() <-chan struct{} {
	c.mustInit("Done")
	return c.done.Wait()
}

func (c *Command[Arg, Response]) Close() {
	c.mustInit("Close")
	c.done.Set()
}
