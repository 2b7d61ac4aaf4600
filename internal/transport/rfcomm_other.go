//go:build !linux

package transport

import (
	"context"
	"fmt"
	"runtime"

	"github.com/danmuck/obexgo/internal/protocol"
)

// RFCOMMNotifier is unavailable on this platform.
type RFCOMMNotifier struct{}

func DialRFCOMM(ctx context.Context, addr RFCOMMAddr, opts Options) (Transport, error) {
	return nil, fmt.Errorf("%w: rfcomm unsupported on %s", protocol.ErrConnectionFailure, runtime.GOOS)
}

func ListenRFCOMM(channel uint8, opts Options) (*RFCOMMNotifier, error) {
	return nil, fmt.Errorf("%w: rfcomm unsupported on %s", protocol.ErrConnectionFailure, runtime.GOOS)
}

func (n *RFCOMMNotifier) Kind() Kind     { return KindRFCOMM }
func (n *RFCOMMNotifier) LocalPort() int { return 0 }
func (n *RFCOMMNotifier) Addr() string   { return "rfcomm:unsupported" }
func (n *RFCOMMNotifier) Close() error   { return nil }

func (n *RFCOMMNotifier) Accept(ctx context.Context) (Transport, error) {
	return nil, protocol.ErrConnectionClosed
}
