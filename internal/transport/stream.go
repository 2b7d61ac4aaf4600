package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/danmuck/obexgo/internal/protocol"
)

type deadliner interface {
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

type flusher interface {
	Flush() error
}

// stream adapts any io.ReadWriteCloser (socket, rfcomm fd, IrCOMM device)
// into a Transport.
type stream struct {
	mu     sync.Mutex
	closed bool

	rwc    io.ReadWriteCloser
	kind   Kind
	remote string
	opts   Options
}

func newStream(rwc io.ReadWriteCloser, kind Kind, remote string, opts Options) *stream {
	return &stream{
		rwc:    rwc,
		kind:   kind,
		remote: remote,
		opts:   opts.WithDefaults(kind),
	}
}

func (s *stream) Kind() Kind         { return s.kind }
func (s *stream) RemoteAddr() string { return s.remote }
func (s *stream) MaxPacketSize() int { return s.opts.MaxPacketSize }

func (s *stream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *stream) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if s.isClosed() {
		return 0, protocol.ErrConnectionClosed
	}
	if d, ok := s.rwc.(deadliner); ok && s.opts.ReadTimeout > 0 {
		_ = d.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
	}
	for {
		n, err := s.rwc.Read(p)
		if n > 0 {
			return n, nil
		}
		if err == nil {
			continue
		}
		return 0, s.mapReadErr(err)
	}
}

func (s *stream) mapReadErr(err error) error {
	if s.isClosed() || errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return protocol.ErrConnectionClosed
	}
	if errors.Is(err, io.EOF) {
		return protocol.ErrEndOfStream
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: read timeout: %w", protocol.ErrConnectionClosed, err)
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("%w: read timeout: %w", protocol.ErrConnectionClosed, err)
	}
	return fmt.Errorf("%w: %w", protocol.ErrConnectionClosed, err)
}

func (s *stream) Write(p []byte) error {
	if s.isClosed() {
		return protocol.ErrConnectionClosed
	}
	if d, ok := s.rwc.(deadliner); ok && s.opts.WriteTimeout > 0 {
		_ = d.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	}
	for len(p) > 0 {
		n, err := s.rwc.Write(p)
		if err != nil {
			return s.mapWriteErr(err)
		}
		p = p[n:]
	}
	if f, ok := s.rwc.(flusher); ok {
		if err := f.Flush(); err != nil {
			return s.mapWriteErr(err)
		}
	}
	return nil
}

func (s *stream) mapWriteErr(err error) error {
	if s.isClosed() || errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return protocol.ErrConnectionClosed
	}
	return fmt.Errorf("%w: %w", protocol.ErrWriteFailure, err)
}

func (s *stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	if err := s.rwc.Close(); err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("transport: close %s: %w", s.kind, err)
	}
	return nil
}
