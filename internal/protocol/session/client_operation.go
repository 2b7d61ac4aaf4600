package session

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/danmuck/obexgo/internal/protocol"
	"github.com/danmuck/obexgo/internal/protocol/header"
	"github.com/rs/zerolog/log"
)

// ClientOperation streams one PUT or GET body.
//
// PUT bodies are buffered until more than one chunk is pending; every full
// chunk followed by more data goes out as a non-final PUT, and Close sends
// the remainder as the final packet. GET bodies are pulled one response
// packet at a time as Read drains them.
//
// An operation is used by one goroutine. Closing the session unblocks it.
type ClientOperation struct {
	c      *Client
	ctx    context.Context
	opcode protocol.Opcode
	first  header.Set
	chunk  int

	sent     bool
	pending  []byte
	finished bool
	aborted  bool
	err      error

	code    protocol.ResponseCode
	headers header.Set
	packets int
	bytes   int64
	start   time.Time
}

// ChunkSize is the body bytes carried per PUT packet.
func (o *ClientOperation) ChunkSize() int { return o.chunk }

// Write buffers p and sends every full chunk that has data after it.
func (o *ClientOperation) Write(p []byte) (int, error) {
	if err := o.usable(); err != nil {
		return 0, err
	}
	if o.opcode != protocol.OpPut {
		return 0, ErrWrongDirection
	}
	o.pending = append(o.pending, p...)
	for len(o.pending) > o.chunk {
		if err := o.sendPut(false, o.pending[:o.chunk]); err != nil {
			return 0, err
		}
		o.pending = o.pending[o.chunk:]
		if o.finished {
			// server answered a non-final PUT with a final status
			if err := o.refusal(); err != nil {
				return 0, err
			}
			return 0, ErrOperationDone
		}
	}
	return len(p), nil
}

// Read returns GET body bytes; io.EOF after the final response.
func (o *ClientOperation) Read(p []byte) (int, error) {
	if o.aborted {
		return 0, protocol.ErrOperationAborted
	}
	if o.err != nil {
		return 0, protocol.ErrConnectionClosed
	}
	if o.opcode != protocol.OpGet {
		return 0, ErrWrongDirection
	}
	for len(o.pending) == 0 {
		if o.finished {
			if err := o.refusal(); err != nil {
				return 0, err
			}
			return 0, io.EOF
		}
		if err := o.sendGet(); err != nil {
			return 0, err
		}
	}
	n := copy(p, o.pending)
	o.pending = o.pending[n:]
	return n, nil
}

// Close completes the operation. For PUT it sends the final packet and
// returns a *protocol.RefusedError if the server declined. An unfinished
// GET is aborted.
func (o *ClientOperation) Close() error {
	if o.aborted {
		return nil
	}
	if o.err != nil {
		return protocol.ErrConnectionClosed
	}
	if o.finished {
		return o.refusal()
	}
	if o.opcode == protocol.OpPut {
		if err := o.sendPut(true, o.pending); err != nil {
			return err
		}
		o.pending = nil
		return o.refusal()
	}
	if !o.sent {
		o.finish(nil)
		return nil
	}
	return o.Abort()
}

// Abort cancels the operation with an ABORT request. Later reads and
// writes fail with protocol.ErrOperationAborted. Aborting a finished
// operation does nothing.
func (o *ClientOperation) Abort() error {
	if o.finished || o.aborted || o.err != nil {
		return nil
	}
	o.aborted = true
	if !o.sent {
		o.finish(protocol.ErrOperationAborted)
		return nil
	}
	c := o.c
	raw, err := c.build(uint8(protocol.OpAbort), nil, c.withConnID(nil))
	if err != nil {
		return o.fatal(err)
	}
	in, err := c.roundTrip(o.ctx, raw)
	if err != nil {
		return o.fatal(err)
	}
	resp, err := parseResponse(in, 0)
	if err != nil {
		return o.fatal(c.fail(err))
	}
	o.packets++
	o.code = resp.Code
	if !resp.Code.Success() {
		log.Debug().Str("remote", c.RemoteAddr()).Stringer("code", resp.Code).Msg("obex_abort_declined")
	}
	o.finish(protocol.ErrOperationAborted)
	return nil
}

// ResponseCode returns the final status. It completes a pending PUT and
// starts a GET that has not been sent yet.
func (o *ClientOperation) ResponseCode() (protocol.ResponseCode, error) {
	if err := o.settle(); err != nil {
		return 0, err
	}
	return o.code, nil
}

// ResponseHeaders returns the non-body headers received so far.
func (o *ClientOperation) ResponseHeaders() (header.Set, error) {
	if err := o.settle(); err != nil {
		return nil, err
	}
	return o.headers, nil
}

func (o *ClientOperation) settle() error {
	if o.err != nil {
		return protocol.ErrConnectionClosed
	}
	if o.finished || o.aborted {
		return nil
	}
	if o.opcode == protocol.OpPut {
		if err := o.Close(); err != nil && !errors.Is(err, protocol.ErrRemoteRefused) {
			return err
		}
		return nil
	}
	if !o.sent {
		return o.sendGet()
	}
	return nil
}

func (o *ClientOperation) usable() error {
	switch {
	case o.aborted:
		return protocol.ErrOperationAborted
	case o.err != nil:
		return protocol.ErrConnectionClosed
	case o.finished:
		if err := o.refusal(); err != nil {
			return err
		}
		return ErrOperationDone
	}
	return nil
}

func (o *ClientOperation) refusal() error {
	if o.finished && !o.aborted && !o.code.Success() {
		return protocol.Refused(o.opcode.WithFinal(true), o.code)
	}
	return nil
}

func (o *ClientOperation) sendPut(final bool, data []byte) error {
	hs := header.Set{}
	if !o.sent {
		hs = append(hs, o.first...)
	}
	if final {
		hs.Add(header.Bytes(header.EndOfBody, data))
	} else {
		hs.Add(header.Bytes(header.Body, data))
	}
	c := o.c
	raw, err := c.build(uint8(protocol.OpPut.WithFinal(final)), nil, hs)
	if err != nil {
		return err
	}
	in, err := c.roundTrip(o.ctx, raw)
	if err != nil {
		return o.fatal(err)
	}
	o.sent = true
	o.packets++
	o.bytes += int64(len(data))
	resp, err := parseResponse(in, 0)
	if err != nil {
		return o.fatal(c.fail(err))
	}
	o.merge(resp.Headers)
	o.code = resp.Code
	switch {
	case resp.Code.Continue() && !final:
		return nil
	case resp.Code.Continue():
		return o.fatal(c.fail(protocol.Protocolf("session: CONTINUE answering final PUT")))
	}
	o.finish(nil)
	return nil
}

func (o *ClientOperation) sendGet() error {
	var hs header.Set
	if !o.sent {
		hs = o.first
	}
	c := o.c
	raw, err := c.build(uint8(protocol.OpGetFinal), nil, hs)
	if err != nil {
		return err
	}
	in, err := c.roundTrip(o.ctx, raw)
	if err != nil {
		return o.fatal(err)
	}
	o.sent = true
	o.packets++
	resp, err := parseResponse(in, 0)
	if err != nil {
		return o.fatal(c.fail(err))
	}
	if data, _, ok := resp.Headers.Body(); ok {
		o.pending = append(o.pending, data...)
		o.bytes += int64(len(data))
	}
	o.merge(resp.Headers)
	o.code = resp.Code
	if !resp.Code.Continue() {
		o.finish(nil)
	}
	return nil
}

func (o *ClientOperation) merge(hs header.Set) {
	for _, h := range hs.Without(header.Body, header.EndOfBody) {
		o.headers.Put(h)
	}
}

func (o *ClientOperation) fatal(err error) error {
	o.err = err
	o.finish(err)
	return err
}

func (o *ClientOperation) finish(err error) {
	if o.finished {
		return
	}
	o.finished = true
	c := o.c
	if o.err == nil {
		c.release(StateConnected)
	}
	c.report(Report{
		Role:     RoleClient,
		Op:       o.opcode.WithFinal(true),
		Code:     o.code,
		Packets:  o.packets,
		Bytes:    o.bytes,
		Duration: time.Since(o.start),
		Aborted:  o.aborted,
		Err:      err,
	})
}
