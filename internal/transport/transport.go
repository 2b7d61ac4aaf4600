package transport

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/danmuck/obexgo/internal/protocol"
)

// Kind identifies the physical medium behind a Transport.
type Kind int

const (
	KindUnknown Kind = iota
	KindTCP
	KindRFCOMM
	KindIrDA
	KindPipe
)

func (k Kind) String() string {
	switch k {
	case KindTCP:
		return "tcp"
	case KindRFCOMM:
		return "rfcomm"
	case KindIrDA:
		return "irda"
	case KindPipe:
		return "pipe"
	default:
		return "unknown"
	}
}

// ParseKind maps a configuration name onto a Kind.
func ParseKind(name string) (Kind, error) {
	switch name {
	case "tcp", "tcpobex":
		return KindTCP, nil
	case "rfcomm", "btgoep", "bluetooth":
		return KindRFCOMM, nil
	case "irda", "irdaobex":
		return KindIrDA, nil
	case "pipe", "mem":
		return KindPipe, nil
	default:
		return KindUnknown, fmt.Errorf("transport: unknown kind %q", name)
	}
}

// Default maximum packet sizes per medium.
const (
	DefaultTCPPacketSize    = 4096
	DefaultRFCOMMPacketSize = 1024
	DefaultIrDAPacketSize   = 512
	DefaultPipePacketSize   = 4096
)

// DefaultPacketSize returns the medium's default maximum packet size.
func DefaultPacketSize(k Kind) int {
	switch k {
	case KindRFCOMM:
		return DefaultRFCOMMPacketSize
	case KindIrDA:
		return DefaultIrDAPacketSize
	case KindPipe:
		return DefaultPipePacketSize
	default:
		return DefaultTCPPacketSize
	}
}

// Transport is a duplex byte channel bound to exactly one physical connection.
//
// A Transport is owned by one Session or accept loop. Read and Write may run
// concurrently with Close; they then fail with protocol.ErrConnectionClosed.
type Transport interface {
	// Read blocks until at least one byte is available. It never returns 0
	// bytes with a nil error; end of stream is protocol.ErrEndOfStream.
	Read(p []byte) (int, error)
	// Write writes all of p and flushes.
	Write(p []byte) error
	// Close is idempotent.
	Close() error
	// MaxPacketSize is constant for the connection lifetime.
	MaxPacketSize() int
	Kind() Kind
	RemoteAddr() string
}

// Options tune a Transport at construction.
type Options struct {
	MaxPacketSize int
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
}

// WithDefaults fills the packet size for kind and clamps it to the OBEX range.
func (o Options) WithDefaults(kind Kind) Options {
	if o.MaxPacketSize <= 0 {
		o.MaxPacketSize = DefaultPacketSize(kind)
	}
	if o.MaxPacketSize < protocol.MinPacketSize {
		o.MaxPacketSize = protocol.MinPacketSize
	}
	if o.MaxPacketSize > protocol.MaxPacketSize {
		o.MaxPacketSize = protocol.MaxPacketSize
	}
	return o
}

// ReadExact fills p from r, reassembling partial reads.
//
// End of stream before the first byte is protocol.ErrEndOfStream; end of
// stream after a partial read is protocol.ErrTruncatedStream.
func ReadExact(r io.Reader, p []byte) error {
	read := 0
	for read < len(p) {
		n, err := r.Read(p[read:])
		read += n
		if err == nil {
			continue
		}
		if read == len(p) {
			return nil
		}
		if errors.Is(err, io.EOF) || errors.Is(err, protocol.ErrEndOfStream) {
			if read == 0 {
				return protocol.ErrEndOfStream
			}
			return fmt.Errorf("%w: read %d of %d bytes", protocol.ErrTruncatedStream, read, len(p))
		}
		return err
	}
	return nil
}
