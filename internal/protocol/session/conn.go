package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/obexgo/internal/protocol"
	"github.com/danmuck/obexgo/internal/protocol/header"
	"github.com/danmuck/obexgo/internal/protocol/packet"
	"github.com/danmuck/obexgo/internal/transport"
)

var (
	ErrAlreadyConnected = errors.New("session: already connected")
	ErrHeadersTooLarge  = errors.New("session: headers exceed packet size")
	ErrOperationDone    = errors.New("session: operation finished")
	ErrWrongDirection   = errors.New("session: wrong operation direction")
)

// conn is the packet exchange shared by client and server sessions.
type conn struct {
	mu     sync.Mutex
	closed bool
	cause  error
	mtu    int

	t     transport.Transport
	cfg   Config
	local int
	buf   []byte
}

func newConn(t transport.Transport, cfg Config) *conn {
	cfg = cfg.WithDefaults(t)
	return &conn{
		t:     t,
		cfg:   cfg,
		local: cfg.MaxPacketSize,
		mtu:   protocol.MinPacketSize,
		buf:   make([]byte, cfg.MaxPacketSize),
	}
}

// MaxPacketSize is the outbound packet limit: 255 before CONNECT, the
// negotiated size after.
func (c *conn) MaxPacketSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mtu
}

func (c *conn) setMTU(n int) {
	c.mu.Lock()
	c.mtu = n
	c.mu.Unlock()
}

func (c *conn) RemoteAddr() string { return c.t.RemoteAddr() }

func (c *conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close closes the session and its transport. It is idempotent.
func (c *conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.cause = protocol.ErrConnectionClosed
	c.mu.Unlock()
	return c.t.Close()
}

// fail closes the session on a fatal error and returns the error callers see.
func (c *conn) fail(err error) error {
	c.mu.Lock()
	if c.closed {
		cause := c.cause
		c.mu.Unlock()
		if cause == nil {
			cause = protocol.ErrConnectionClosed
		}
		return cause
	}
	if errors.Is(err, protocol.ErrEndOfStream) {
		err = fmt.Errorf("%w: %w", protocol.ErrConnectionClosed, err)
	}
	c.closed = true
	c.cause = err
	c.mu.Unlock()
	_ = c.t.Close()
	return err
}

// watch closes the session when ctx ends before stop is called.
func (c *conn) watch(ctx context.Context) (stop func() bool) {
	if ctx == nil || ctx.Done() == nil {
		return func() bool { return true }
	}
	return context.AfterFunc(ctx, func() {
		_ = c.fail(fmt.Errorf("%w: %w", protocol.ErrConnectionClosed, context.Cause(ctx)))
	})
}

func (c *conn) build(code uint8, prefix []byte, hs header.Set) ([]byte, error) {
	mtu := c.MaxPacketSize()
	b := packet.NewBuilder(code, prefix, packet.HeaderSize+len(prefix)+hs.EncodedLen())
	raw, err := b.Append(hs.Encode()).Bytes(mtu)
	if err != nil {
		return nil, fmt.Errorf("%w: %d bytes over limit %d", ErrHeadersTooLarge, b.Len(), mtu)
	}
	return raw, nil
}

func (c *conn) send(raw []byte) error {
	if c.isClosed() {
		return c.fail(protocol.ErrConnectionClosed)
	}
	if err := packet.WritePacket(c.t, raw, len(raw)); err != nil {
		return c.fail(err)
	}
	return nil
}

// recv reads the next packet. The returned slice is valid until the next recv.
func (c *conn) recv(timeout time.Duration) ([]byte, error) {
	if c.isClosed() {
		return nil, c.fail(protocol.ErrConnectionClosed)
	}
	if timeout > 0 {
		timer := time.AfterFunc(timeout, func() {
			_ = c.fail(fmt.Errorf("%w: no response within %s", protocol.ErrConnectionClosed, timeout))
		})
		defer timer.Stop()
	}
	n, err := packet.ReadPacket(c.t, c.buf)
	if err != nil {
		return nil, c.fail(err)
	}
	return c.buf[:n], nil
}

// Response is a decoded response packet.
type Response struct {
	Code    protocol.ResponseCode
	Headers header.Set

	// Set on CONNECT responses only.
	Version       uint8
	Flags         uint8
	MaxPacketSize int
}

func parseResponse(raw []byte, prefixSize int) (*Response, error) {
	p, err := packet.Split(raw, prefixSize)
	if err != nil {
		return nil, err
	}
	code := protocol.ResponseCode(p.Code)
	if code != code.Final() {
		return nil, protocol.Protocolf("session: response 0x%02X without final bit", p.Code)
	}
	hs, err := header.Decode(p.Body)
	if err != nil {
		return nil, err
	}
	resp := &Response{Code: code, Headers: hs}
	if prefixSize == packet.ConnectPrefixSize {
		resp.Version, resp.Flags, resp.MaxPacketSize, err = packet.ParseConnectPrefix(p.Prefix)
		if err != nil {
			return nil, err
		}
	}
	return resp, nil
}

func (c *conn) report(r Report) {
	r.Remote = c.t.RemoteAddr()
	c.cfg.Reporter.Report(r)
}
