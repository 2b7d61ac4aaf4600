package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/danmuck/obexgo/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Notifier accepts inbound transport connections for one listening endpoint.
//
// Accept may be called repeatedly to serve sequential clients. Close is
// idempotent and unblocks a pending Accept with protocol.ErrConnectionClosed.
type Notifier interface {
	Accept(ctx context.Context) (Transport, error)
	// LocalPort is the bound TCP port or RFCOMM channel, resolved when 0 was requested.
	LocalPort() int
	Addr() string
	Kind() Kind
	Close() error
}

// TCPNotifier listens for OBEX over TCP.
type TCPNotifier struct {
	mu     sync.Mutex
	closed bool

	ln   *net.TCPListener
	opts Options
}

// ListenTCP binds addr; port 0 picks any free port.
func ListenTCP(addr string, opts Options) (*TCPNotifier, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: listen tcp %s: %w", protocol.ErrConnectionFailure, addr, err)
	}
	n := &TCPNotifier{
		ln:   ln.(*net.TCPListener),
		opts: opts.WithDefaults(KindTCP),
	}
	log.Debug().Str("addr", ln.Addr().String()).Msg("transport_tcp_listening")
	return n, nil
}

func (n *TCPNotifier) Kind() Kind { return KindTCP }

func (n *TCPNotifier) Addr() string { return n.ln.Addr().String() }

func (n *TCPNotifier) LocalPort() int {
	if a, ok := n.ln.Addr().(*net.TCPAddr); ok {
		return a.Port
	}
	_, port, err := net.SplitHostPort(n.ln.Addr().String())
	if err != nil {
		return 0
	}
	p, _ := strconv.Atoi(port)
	return p
}

func (n *TCPNotifier) isClosed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}

func (n *TCPNotifier) Accept(ctx context.Context) (Transport, error) {
	if n.isClosed() {
		return nil, protocol.ErrConnectionClosed
	}
	stop := context.AfterFunc(ctx, func() {
		_ = n.ln.SetDeadline(time.Now())
	})
	conn, err := n.ln.AcceptTCP()
	if !stop() {
		_ = n.ln.SetDeadline(time.Time{})
	}
	if err != nil {
		if n.isClosed() || errors.Is(err, net.ErrClosed) {
			return nil, protocol.ErrConnectionClosed
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: accept tcp: %w", protocol.ErrConnectionFailure, err)
	}
	_ = conn.SetNoDelay(true)
	return newStream(conn, KindTCP, conn.RemoteAddr().String(), n.opts), nil
}

func (n *TCPNotifier) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	n.mu.Unlock()
	if err := n.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("transport: close tcp notifier: %w", err)
	}
	return nil
}

// DialTCP connects to an OBEX server at addr (host:port).
func DialTCP(ctx context.Context, addr string, timeout time.Duration, opts Options) (Transport, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial tcp %s: %w", protocol.ErrConnectionFailure, addr, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return newStream(conn, KindTCP, conn.RemoteAddr().String(), opts), nil
}
