package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/danmuck/obexgo/internal/protocol"
)

// Pipe returns two connected in-memory transports.
func Pipe(opts Options) (Transport, Transport) {
	a, b := net.Pipe()
	return newStream(a, KindPipe, "pipe:b", opts), newStream(b, KindPipe, "pipe:a", opts)
}

var pipePorts atomic.Int64

// PipeNotifier is an in-process notifier; clients reach it with Dial.
type PipeNotifier struct {
	mu     sync.Mutex
	closed bool

	port    int
	opts    Options
	pending chan Transport
	done    chan struct{}
}

// NewPipeNotifier binds an in-memory endpoint; port 0 assigns a fresh one.
func NewPipeNotifier(port int, opts Options) *PipeNotifier {
	if port <= 0 {
		port = int(pipePorts.Add(1))
	}
	return &PipeNotifier{
		port:    port,
		opts:    opts.WithDefaults(KindPipe),
		pending: make(chan Transport),
		done:    make(chan struct{}),
	}
}

func (n *PipeNotifier) Kind() Kind     { return KindPipe }
func (n *PipeNotifier) LocalPort() int { return n.port }
func (n *PipeNotifier) Addr() string   { return fmt.Sprintf("pipe:%d", n.port) }

// Dial hands the server end to a pending Accept and returns the client end.
func (n *PipeNotifier) Dial(ctx context.Context) (Transport, error) {
	client, server := Pipe(n.opts)
	select {
	case n.pending <- server:
		return client, nil
	case <-n.done:
	case <-ctx.Done():
	}
	_ = client.Close()
	_ = server.Close()
	if ctx.Err() != nil {
		return nil, fmt.Errorf("%w: %w", protocol.ErrConnectionFailure, ctx.Err())
	}
	return nil, fmt.Errorf("%w: pipe notifier closed", protocol.ErrConnectionFailure)
}

func (n *PipeNotifier) Accept(ctx context.Context) (Transport, error) {
	select {
	case <-n.done:
		return nil, protocol.ErrConnectionClosed
	default:
	}
	select {
	case t := <-n.pending:
		return t, nil
	case <-n.done:
		return nil, protocol.ErrConnectionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (n *PipeNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	close(n.done)
	return nil
}
