//go:build linux

package transport

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/danmuck/obexgo/internal/protocol"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

// kernel bdaddr_t is little-endian
func toSockaddr(a RFCOMMAddr) *unix.SockaddrRFCOMM {
	sa := &unix.SockaddrRFCOMM{Channel: a.Channel}
	for i := 0; i < 6; i++ {
		sa.Addr[i] = a.BDAddr[5-i]
	}
	return sa
}

func fromSockaddr(sa *unix.SockaddrRFCOMM) RFCOMMAddr {
	a := RFCOMMAddr{Channel: sa.Channel}
	for i := 0; i < 6; i++ {
		a.BDAddr[i] = sa.Addr[5-i]
	}
	return a
}

func rfcommSocket() (int, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, unix.BTPROTO_RFCOMM)
	if err != nil {
		return -1, fmt.Errorf("%w: rfcomm socket: %w", protocol.ErrConnectionFailure, err)
	}
	return fd, nil
}

// DialRFCOMM connects to a Bluetooth RFCOMM channel.
func DialRFCOMM(ctx context.Context, addr RFCOMMAddr, opts Options) (Transport, error) {
	fd, err := rfcommSocket()
	if err != nil {
		return nil, err
	}
	err = unix.Connect(fd, toSockaddr(addr))
	if err != nil && !errors.Is(err, unix.EINPROGRESS) {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("%w: rfcomm connect %s: %w", protocol.ErrConnectionFailure, addr, err)
	}
	f := os.NewFile(uintptr(fd), "rfcomm:"+addr.String())
	if err != nil {
		if err := waitConnected(ctx, f); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("%w: rfcomm connect %s: %w", protocol.ErrConnectionFailure, addr, err)
		}
	}
	return newStream(f, KindRFCOMM, addr.String(), opts), nil
}

func waitConnected(ctx context.Context, f *os.File) error {
	if dl, ok := ctx.Deadline(); ok {
		_ = f.SetWriteDeadline(dl)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = f.SetWriteDeadline(time.Now())
	})
	defer stop()
	rc, err := f.SyscallConn()
	if err != nil {
		return err
	}
	var soErr int
	var getErr error
	polled := false
	werr := rc.Write(func(fd uintptr) bool {
		if !polled {
			polled = true
			return false
		}
		soErr, getErr = unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_ERROR)
		if getErr != nil {
			return true
		}
		switch unix.Errno(soErr) {
		case unix.EINPROGRESS, unix.EALREADY, unix.EINTR:
			return false
		}
		return true
	})
	if werr != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return werr
	}
	if getErr != nil {
		return getErr
	}
	if soErr != 0 {
		return unix.Errno(soErr)
	}
	return f.SetWriteDeadline(time.Time{})
}

// RFCOMMNotifier listens on a local RFCOMM channel.
type RFCOMMNotifier struct {
	mu     sync.Mutex
	closed bool

	f       *os.File
	channel int
	opts    Options
}

// ListenRFCOMM binds channel on any local adapter; channel 0 lets the kernel pick.
func ListenRFCOMM(channel uint8, opts Options) (*RFCOMMNotifier, error) {
	fd, err := rfcommSocket()
	if err != nil {
		return nil, err
	}
	fail := func(op string, err error) (*RFCOMMNotifier, error) {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("%w: rfcomm %s channel=%d: %w", protocol.ErrConnectionFailure, op, channel, err)
	}
	if err := unix.Bind(fd, &unix.SockaddrRFCOMM{Channel: channel}); err != nil {
		return fail("bind", err)
	}
	if err := unix.Listen(fd, 1); err != nil {
		return fail("listen", err)
	}
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return fail("getsockname", err)
	}
	bound := int(channel)
	if rsa, ok := sa.(*unix.SockaddrRFCOMM); ok {
		bound = int(rsa.Channel)
	}
	n := &RFCOMMNotifier{
		f:       os.NewFile(uintptr(fd), fmt.Sprintf("rfcomm-listen:%d", bound)),
		channel: bound,
		opts:    opts.WithDefaults(KindRFCOMM),
	}
	log.Debug().Int("channel", bound).Msg("transport_rfcomm_listening")
	return n, nil
}

func (n *RFCOMMNotifier) Kind() Kind     { return KindRFCOMM }
func (n *RFCOMMNotifier) LocalPort() int { return n.channel }
func (n *RFCOMMNotifier) Addr() string   { return fmt.Sprintf("rfcomm:%d", n.channel) }

func (n *RFCOMMNotifier) isClosed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}

func (n *RFCOMMNotifier) Accept(ctx context.Context) (Transport, error) {
	if n.isClosed() {
		return nil, protocol.ErrConnectionClosed
	}
	rc, err := n.f.SyscallConn()
	if err != nil {
		return nil, protocol.ErrConnectionClosed
	}
	stop := context.AfterFunc(ctx, func() {
		_ = n.f.SetReadDeadline(time.Now())
	})
	var nfd int
	var sa unix.Sockaddr
	var acceptErr error
	rerr := rc.Read(func(fd uintptr) bool {
		nfd, sa, acceptErr = unix.Accept4(int(fd), unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK)
		return !errors.Is(acceptErr, unix.EAGAIN)
	})
	if !stop() {
		_ = n.f.SetReadDeadline(time.Time{})
	}
	if rerr != nil {
		if n.isClosed() {
			return nil, protocol.ErrConnectionClosed
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: rfcomm accept: %w", protocol.ErrConnectionFailure, rerr)
	}
	if acceptErr != nil {
		return nil, fmt.Errorf("%w: rfcomm accept: %w", protocol.ErrConnectionFailure, acceptErr)
	}
	remote := "rfcomm:unknown"
	if rsa, ok := sa.(*unix.SockaddrRFCOMM); ok {
		remote = fromSockaddr(rsa).String()
	}
	f := os.NewFile(uintptr(nfd), remote)
	return newStream(f, KindRFCOMM, remote, n.opts), nil
}

func (n *RFCOMMNotifier) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	n.mu.Unlock()
	if err := n.f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("transport: close rfcomm notifier: %w", err)
	}
	return nil
}
