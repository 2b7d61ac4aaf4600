package session

import (
	"io"
	"time"

	"github.com/danmuck/obexgo/internal/protocol"
	"github.com/danmuck/obexgo/internal/protocol/header"
	"github.com/danmuck/obexgo/internal/protocol/packet"
)

// ServerOperation is the server view of one PUT or GET.
//
// For PUT, Read pulls body packets from the client, answering each with
// CONTINUE. For GET, Write streams body chunks in CONTINUE responses; the
// remainder travels with the final status once the handler returns.
type ServerOperation struct {
	s      *Server
	opcode protocol.Opcode
	req    header.Set
	reply  header.Set

	pending []byte
	end     bool
	replied bool
	aborted bool
	err     error
	packets int
	bytes   int64
}

func newServerOperation(s *Server, op protocol.Opcode, req header.Set) *ServerOperation {
	return &ServerOperation{
		s:       s,
		opcode:  op,
		req:     req.Without(header.Body, header.EndOfBody),
		packets: 1,
	}
}

// RequestHeaders returns the non-body headers received so far.
func (o *ServerOperation) RequestHeaders() header.Set { return o.req }

// ReplyHeaders is sent with the first response packet of the operation.
func (o *ServerOperation) ReplyHeaders() *header.Set { return &o.reply }

// Aborted reports whether the client aborted the operation.
func (o *ServerOperation) Aborted() bool { return o.aborted }

// Read returns PUT body bytes and io.EOF after the final packet.
func (o *ServerOperation) Read(p []byte) (int, error) {
	if o.opcode != protocol.OpPut {
		return 0, ErrWrongDirection
	}
	for len(o.pending) == 0 {
		if o.aborted {
			return 0, protocol.ErrOperationAborted
		}
		if o.err != nil {
			return 0, protocol.ErrConnectionClosed
		}
		if o.end {
			return 0, io.EOF
		}
		if err := o.pull(); err != nil {
			return 0, err
		}
	}
	n := copy(p, o.pending)
	o.pending = o.pending[n:]
	return n, nil
}

// Write buffers GET body bytes, sending full chunks as CONTINUE responses.
func (o *ServerOperation) Write(p []byte) (int, error) {
	if o.opcode != protocol.OpGet {
		return 0, ErrWrongDirection
	}
	if o.aborted {
		return 0, protocol.ErrOperationAborted
	}
	if o.err != nil {
		return 0, protocol.ErrConnectionClosed
	}
	o.pending = append(o.pending, p...)
	if err := o.flush(); err != nil {
		return 0, err
	}
	return len(p), nil
}

// chunkSize is the body room in the next response packet.
func (o *ServerOperation) chunkSize() int {
	n := o.s.MaxPacketSize() - packet.HeaderSize - 3
	if !o.replied {
		n -= o.reply.EncodedLen()
	}
	return n
}

// flush sends CONTINUE chunks while the pending body exceeds one chunk.
func (o *ServerOperation) flush() error {
	for {
		chunk := o.chunkSize()
		if chunk < 1 {
			return ErrHeadersTooLarge
		}
		if len(o.pending) <= chunk {
			return nil
		}
		var hs header.Set
		if !o.replied {
			hs = append(hs, o.reply...)
		}
		hs.Add(header.Bytes(header.Body, o.pending[:chunk]))
		if err := o.exchange(hs); err != nil {
			return err
		}
		o.replied = true
		o.bytes += int64(chunk)
		o.pending = o.pending[chunk:]
	}
}

// exchange answers the outstanding request with CONTINUE and reads the next
// one, which must continue this operation or abort it.
func (o *ServerOperation) exchange(hs header.Set) error {
	s := o.s
	if err := s.respond(protocol.RespContinue, nil, hs); err != nil {
		o.err = err
		return err
	}
	raw, err := s.recv(0)
	if err != nil {
		o.err = err
		return err
	}
	op := protocol.Opcode(raw[0])
	if op == protocol.OpAbort {
		o.aborted = true
		o.pending = nil
		if err := s.respondReport(protocol.OpAbort, protocol.RespSuccess, nil, nil, time.Now()); err != nil {
			o.err = err
			return err
		}
		return protocol.ErrOperationAborted
	}
	if op.Base() != o.opcode {
		o.err = s.fail(protocol.Protocolf("session: %s during %s", op, o.opcode))
		return o.err
	}
	_, hs, err = s.decode(raw, 0)
	if err != nil {
		o.err = err
		return err
	}
	o.packets++
	if o.opcode == protocol.OpPut {
		if data, _, ok := hs.Body(); ok {
			o.pending = append(o.pending, data...)
			o.bytes += int64(len(data))
		}
		o.end = op.Final()
	}
	for _, h := range hs.Without(header.Body, header.EndOfBody) {
		o.req.Put(h)
	}
	return nil
}

// pull requests the next PUT packet.
func (o *ServerOperation) pull() error {
	return o.exchange(nil)
}

func (o *ServerOperation) report(code protocol.ResponseCode, start time.Time) {
	o.s.report(Report{
		Role:     RoleServer,
		Op:       o.opcode.WithFinal(true),
		Code:     code,
		Packets:  o.packets,
		Bytes:    o.bytes,
		Duration: time.Since(start),
		Aborted:  o.aborted,
		Err:      o.err,
	})
}
