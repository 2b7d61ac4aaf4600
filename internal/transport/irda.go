package transport

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/danmuck/obexgo/internal/protocol"
)

// OpenIrDA opens an IrCOMM character device (for example /dev/ircomm0) as a
// raw OBEX link.
func OpenIrDA(path string, opts Options) (Transport, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("%w: irda device path required", protocol.ErrConnectionFailure)
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: open irda %s: %w", protocol.ErrConnectionFailure, path, err)
	}
	return NewIrDA(f, path, opts), nil
}

// NewIrDA wraps an already-open IrDA link. Chunked delivery limited by the
// IrLAP frame size is reassembled by ReadExact.
func NewIrDA(rwc io.ReadWriteCloser, remote string, opts Options) Transport {
	return newStream(rwc, KindIrDA, remote, opts)
}
