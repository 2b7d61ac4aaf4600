package session

import (
	"context"
	"errors"
	"time"

	"github.com/danmuck/obexgo/internal/protocol"
	"github.com/danmuck/obexgo/internal/protocol/header"
	"github.com/danmuck/obexgo/internal/protocol/packet"
	"github.com/danmuck/obexgo/internal/transport"
	"github.com/rs/zerolog/log"
)

// Server is the responding side of an OBEX session over one transport.
type Server struct {
	*conn
	h         Handler
	connected bool
}

// NewServer binds a server session to t. The session owns t from here on.
func NewServer(t transport.Transport, h Handler, cfg Config) *Server {
	if h == nil {
		h = BaseHandler{}
	}
	return &Server{conn: newConn(t, cfg), h: h}
}

// Connected reports whether a CONNECT has been accepted and not yet
// followed by DISCONNECT.
func (s *Server) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Serve reads requests and dispatches them until DISCONNECT, ctx
// cancellation, or a fatal error. DISCONNECT and cancellation return nil.
// A peer that hangs up returns an error wrapping protocol.ErrConnectionClosed.
func (s *Server) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()
	for {
		raw, err := s.recv(0)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		done, err := s.dispatch(ctx, raw)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if done {
			return nil
		}
	}
}

func (s *Server) dispatch(ctx context.Context, raw []byte) (bool, error) {
	op := protocol.Opcode(raw[0])
	start := time.Now()
	switch op {
	case protocol.OpConnect:
		return false, s.handleConnect(ctx, raw, start)
	case protocol.OpDisconnect:
		return true, s.handleSimple(ctx, op, raw, 0, start)
	case protocol.OpSetPath:
		return false, s.handleSimple(ctx, op, raw, packet.SetPathPrefixSize, start)
	case protocol.OpPut, protocol.OpPutFinal:
		return false, s.handlePut(ctx, op, raw, start)
	case protocol.OpGet, protocol.OpGetFinal:
		return false, s.handleGet(ctx, op, raw, start)
	case protocol.OpAbort:
		// nothing in flight
		return false, s.respondReport(op, protocol.RespSuccess, nil, nil, start)
	default:
		log.Debug().Str("remote", s.RemoteAddr()).Stringer("op", op).Msg("obex_request_not_implemented")
		return false, s.respondReport(op, protocol.RespNotImplemented, nil, nil, start)
	}
}

func (s *Server) decode(raw []byte, prefixSize int) (packet.Packet, header.Set, error) {
	p, err := packet.Split(raw, prefixSize)
	if err != nil {
		return packet.Packet{}, nil, s.fail(err)
	}
	hs, err := header.Decode(p.Body)
	if err != nil {
		return packet.Packet{}, nil, s.fail(err)
	}
	return p, hs, nil
}

func (s *Server) handleConnect(ctx context.Context, raw []byte, start time.Time) error {
	p, hs, err := s.decode(raw, packet.ConnectPrefixSize)
	if err != nil {
		return err
	}
	version, _, remote, err := packet.ParseConnectPrefix(p.Prefix)
	if err != nil {
		return s.fail(err)
	}
	mtu := negotiate(s.local, remote)
	s.setMTU(mtu)
	var reply header.Set
	code := s.h.Connect(ctx, hs, &reply).Final()
	if code.Success() {
		s.mu.Lock()
		s.connected = true
		s.mu.Unlock()
		log.Debug().
			Str("remote", s.RemoteAddr()).
			Int("max_packet", mtu).
			Uint8("version", version).
			Msg("obex_session_connected")
	}
	return s.respondReport(protocol.OpConnect, code, packet.ConnectPrefix(s.local), reply, start)
}

func (s *Server) handleSimple(ctx context.Context, op protocol.Opcode, raw []byte, prefixSize int, start time.Time) error {
	p, hs, err := s.decode(raw, prefixSize)
	if err != nil {
		return err
	}
	var reply header.Set
	var code protocol.ResponseCode
	switch op {
	case protocol.OpDisconnect:
		code = s.h.Disconnect(ctx, hs, &reply).Final()
		s.mu.Lock()
		s.connected = false
		s.mu.Unlock()
	case protocol.OpSetPath:
		backup, create, err := packet.ParseSetPathPrefix(p.Prefix)
		if err != nil {
			return s.fail(err)
		}
		code = s.h.SetPath(ctx, hs, &reply, backup, create).Final()
	}
	return s.respondReport(op, code, nil, reply, start)
}

func (s *Server) handlePut(ctx context.Context, op protocol.Opcode, raw []byte, start time.Time) error {
	_, hs, err := s.decode(raw, 0)
	if err != nil {
		return err
	}
	data, _, hasBody := hs.Body()
	if op.Final() && !hasBody {
		var reply header.Set
		code := s.h.Delete(ctx, hs, &reply).Final()
		return s.respondReport(protocol.OpPutFinal, code, nil, reply, start)
	}
	sop := newServerOperation(s, protocol.OpPut, hs)
	sop.pending = append(sop.pending, data...)
	sop.bytes = int64(len(data))
	sop.end = op.Final()

	code := s.h.Put(ctx, sop).Final()
	if sop.err != nil {
		return sop.err
	}
	if sop.aborted {
		sop.report(code, start)
		return nil
	}
	if code.Success() {
		// drain what the handler left unread so the final status answers the last packet
		for !sop.end {
			if err := sop.pull(); err != nil {
				if errors.Is(err, protocol.ErrOperationAborted) {
					sop.report(code, start)
					return nil
				}
				return err
			}
			sop.pending = nil
		}
	}
	sop.report(code, start)
	return s.respond(code, nil, sop.reply)
}

func (s *Server) handleGet(ctx context.Context, op protocol.Opcode, raw []byte, start time.Time) error {
	_, hs, err := s.decode(raw, 0)
	if err != nil {
		return err
	}
	sop := newServerOperation(s, protocol.OpGet, hs)
	// request headers may span several non-final GET packets
	for !op.Final() {
		if err := s.respond(protocol.RespContinue, nil, nil); err != nil {
			return err
		}
		next, err := s.recv(0)
		if err != nil {
			return err
		}
		op = protocol.Opcode(next[0])
		switch op.Base() {
		case protocol.OpGet:
		case protocol.OpAbort:
			return s.respondReport(protocol.OpAbort, protocol.RespSuccess, nil, nil, start)
		default:
			return s.fail(protocol.Protocolf("session: %s during GET", op))
		}
		_, more, err := s.decode(next, 0)
		if err != nil {
			return err
		}
		for _, h := range more {
			sop.req.Add(h)
		}
	}

	code := s.h.Get(ctx, sop).Final()
	if code.Success() && sop.err == nil && !sop.aborted {
		// headers set after the last Write may leave too little room for the remainder
		if err := sop.flush(); errors.Is(err, ErrHeadersTooLarge) {
			code = protocol.RespInternalError
		}
	}
	if sop.err != nil {
		return sop.err
	}
	if code.Success() {
		sop.bytes += int64(len(sop.pending))
	}
	sop.report(code, start)
	if sop.aborted {
		return nil
	}
	var hs2 header.Set
	if !sop.replied {
		hs2 = append(hs2, sop.reply...)
	}
	if code.Success() {
		hs2.Add(header.Bytes(header.EndOfBody, sop.pending))
	}
	return s.respond(code, nil, hs2)
}

// respond sends one response packet. Reply headers that do not fit are
// replaced by an INTERNAL_ERROR status.
func (s *Server) respond(code protocol.ResponseCode, prefix []byte, hs header.Set) error {
	raw, err := s.build(uint8(code.Final()), prefix, hs)
	if errors.Is(err, ErrHeadersTooLarge) {
		log.Warn().Str("remote", s.RemoteAddr()).Stringer("code", code).Err(err).Msg("obex_reply_too_large")
		raw, err = s.build(uint8(protocol.RespInternalError), prefix, nil)
	}
	if err != nil {
		return s.fail(err)
	}
	return s.send(raw)
}

func (s *Server) respondReport(op protocol.Opcode, code protocol.ResponseCode, prefix []byte, hs header.Set, start time.Time) error {
	err := s.respond(code, prefix, hs)
	s.report(Report{Role: RoleServer, Op: op, Code: code, Packets: 1, Duration: time.Since(start), Err: err})
	return err
}
