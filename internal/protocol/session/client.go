package session

import (
	"context"
	"time"

	"github.com/danmuck/obexgo/internal/protocol"
	"github.com/danmuck/obexgo/internal/protocol/header"
	"github.com/danmuck/obexgo/internal/protocol/packet"
	"github.com/danmuck/obexgo/internal/transport"
	"github.com/rs/zerolog/log"
)

// Client is the requesting side of an OBEX session.
//
// Calls are serialised by the request/response alternation: a request made
// while another is in flight, or while a streaming operation is open, fails
// with protocol.ErrOperationInProgress.
type Client struct {
	*conn

	state     State
	connID    uint32
	hasConnID bool
	op        *ClientOperation
}

// NewClient binds a client session to t. The session owns t from here on.
func NewClient(t transport.Transport, cfg Config) *Client {
	return &Client{conn: newConn(t, cfg)}
}

// State reports the current session state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return StateClosed
	}
	return c.state
}

// ConnectionID returns the id assigned by the server in CONNECT, if any.
func (c *Client) ConnectionID() (uint32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connID, c.hasConnID
}

// acquire moves the session to busy. want is the state the call requires.
func (c *Client) acquire(want State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.closed:
		return protocol.ErrConnectionClosed
	case c.state == StateBusy:
		return protocol.ErrOperationInProgress
	case want == StateConnected && c.state != StateConnected:
		return protocol.ErrNotConnected
	case want == StateUnconnected && c.state == StateConnected:
		return ErrAlreadyConnected
	}
	c.state = StateBusy
	return nil
}

func (c *Client) release(next State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateBusy {
		c.state = next
	}
	c.op = nil
}

// withConnID prefixes hs with the session's ConnectionID header.
func (c *Client) withConnID(hs header.Set) header.Set {
	id, ok := c.ConnectionID()
	if !ok || hs.Has(header.ConnectionID) {
		return hs
	}
	out := make(header.Set, 0, len(hs)+1)
	out = append(out, header.Uint32(header.ConnectionID, id))
	return append(out, hs...)
}

func (c *Client) roundTrip(ctx context.Context, raw []byte) ([]byte, error) {
	stop := c.watch(ctx)
	defer stop()
	if err := c.send(raw); err != nil {
		return nil, err
	}
	return c.recv(c.cfg.ResponseTimeout)
}

// exchange sends one single-packet request and decodes the response.
func (c *Client) exchange(ctx context.Context, op protocol.Opcode, prefix []byte, hs header.Set, respPrefix int) (*Response, error) {
	start := time.Now()
	raw, err := c.build(uint8(op), prefix, hs)
	if err != nil {
		return nil, err
	}
	in, err := c.roundTrip(ctx, raw)
	if err != nil {
		c.report(Report{Role: RoleClient, Op: op, Packets: 1, Duration: time.Since(start), Err: err})
		return nil, err
	}
	if respPrefix > 0 && len(in) < packet.HeaderSize+respPrefix && !protocol.ResponseCode(in[0]).Success() {
		respPrefix = 0
	}
	resp, err := parseResponse(in, respPrefix)
	if err != nil {
		err = c.fail(err)
		c.report(Report{Role: RoleClient, Op: op, Packets: 1, Duration: time.Since(start), Err: err})
		return nil, err
	}
	c.report(Report{Role: RoleClient, Op: op, Code: resp.Code, Packets: 1, Duration: time.Since(start)})
	return resp, nil
}

// Connect negotiates the session. A refusal is returned as a
// *protocol.RefusedError together with the response; the session stays
// unconnected and usable.
func (c *Client) Connect(ctx context.Context, hs header.Set) (*Response, error) {
	if err := c.acquire(StateUnconnected); err != nil {
		return nil, err
	}
	next := StateUnconnected
	defer func() { c.release(next) }()

	resp, err := c.exchange(ctx, protocol.OpConnect, packet.ConnectPrefix(c.local), hs, packet.ConnectPrefixSize)
	if err != nil {
		return nil, err
	}
	if resp.Code.Continue() {
		return nil, c.fail(protocol.Protocolf("session: CONNECT answered with %s", resp.Code))
	}
	if !resp.Code.Success() {
		log.Debug().Str("remote", c.RemoteAddr()).Stringer("code", resp.Code).Msg("obex_connect_refused")
		return resp, protocol.Refused(protocol.OpConnect, resp.Code)
	}
	mtu := negotiate(c.local, resp.MaxPacketSize)
	c.setMTU(mtu)
	if id, ok := resp.Headers.ConnectionID(); ok {
		c.mu.Lock()
		c.connID, c.hasConnID = id, true
		c.mu.Unlock()
	}
	next = StateConnected
	log.Debug().
		Str("remote", c.RemoteAddr()).
		Int("max_packet", mtu).
		Uint8("version", resp.Version).
		Msg("obex_connected")
	return resp, nil
}

// Disconnect ends the OBEX session. The transport stays open until Close.
func (c *Client) Disconnect(ctx context.Context, hs header.Set) (*Response, error) {
	if err := c.acquire(StateConnected); err != nil {
		return nil, err
	}
	next := StateConnected
	defer func() { c.release(next) }()

	resp, err := c.exchange(ctx, protocol.OpDisconnect, nil, c.withConnID(hs), 0)
	if err != nil {
		return nil, err
	}
	if resp.Code.Success() {
		next = StateUnconnected
		c.mu.Lock()
		c.hasConnID = false
		c.mu.Unlock()
	}
	return resp, nil
}

// SetPath changes the server's current folder. backup moves to the parent
// first; create allows the server to create a missing folder.
func (c *Client) SetPath(ctx context.Context, hs header.Set, backup, create bool) (*Response, error) {
	if err := c.acquire(StateConnected); err != nil {
		return nil, err
	}
	defer c.release(StateConnected)
	return c.exchange(ctx, protocol.OpSetPath, packet.SetPathPrefix(backup, create), c.withConnID(hs), 0)
}

// Delete removes the object named in hs: a final PUT with no body.
func (c *Client) Delete(ctx context.Context, hs header.Set) (*Response, error) {
	if err := c.acquire(StateConnected); err != nil {
		return nil, err
	}
	defer c.release(StateConnected)
	return c.exchange(ctx, protocol.OpPutFinal, nil, c.withConnID(hs.Without(header.Body, header.EndOfBody)), 0)
}

// Put opens a streaming PUT. hs travel in the first packet.
func (c *Client) Put(ctx context.Context, hs header.Set) (*ClientOperation, error) {
	return c.open(ctx, protocol.OpPut, hs)
}

// Get opens a streaming GET. The request is sent on first use of the operation.
func (c *Client) Get(ctx context.Context, hs header.Set) (*ClientOperation, error) {
	return c.open(ctx, protocol.OpGet, hs)
}

func (c *Client) open(ctx context.Context, op protocol.Opcode, hs header.Set) (*ClientOperation, error) {
	if err := c.acquire(StateConnected); err != nil {
		return nil, err
	}
	first := c.withConnID(hs.Without(header.Body, header.EndOfBody))
	chunk := c.MaxPacketSize() - packet.HeaderSize - 3 - first.EncodedLen()
	if chunk < 1 {
		c.release(StateConnected)
		return nil, ErrHeadersTooLarge
	}
	o := &ClientOperation{
		c:      c,
		ctx:    ctx,
		opcode: op,
		first:  first,
		chunk:  chunk,
		code:   protocol.RespContinue,
		start:  time.Now(),
	}
	c.mu.Lock()
	c.op = o
	c.mu.Unlock()
	return o, nil
}
