package session

import (
	"time"

	"github.com/danmuck/obexgo/internal/protocol"
	"github.com/danmuck/obexgo/internal/transport"
)

// Config defines session limits.
type Config struct {
	// MaxPacketSize is the local receive limit proposed in CONNECT. Zero
	// uses the transport's limit.
	MaxPacketSize int
	// ResponseTimeout bounds the wait for each response on the client side.
	// Expiry closes the session.
	ResponseTimeout time.Duration
	Reporter        Reporter
}

// DefaultConfig returns client/server defaults.
func DefaultConfig() Config {
	return Config{
		ResponseTimeout: 30 * time.Second,
	}
}

// WithDefaults resolves the packet size against t and clamps it to the OBEX range.
func (c Config) WithDefaults(t transport.Transport) Config {
	if c.MaxPacketSize <= 0 && t != nil {
		c.MaxPacketSize = t.MaxPacketSize()
	}
	c.MaxPacketSize = clampPacketSize(c.MaxPacketSize)
	if c.Reporter == nil {
		c.Reporter = nopReporter{}
	}
	return c
}

func clampPacketSize(n int) int {
	if n < protocol.MinPacketSize {
		return protocol.MinPacketSize
	}
	if n > protocol.MaxPacketSize {
		return protocol.MaxPacketSize
	}
	return n
}

// negotiate picks the outbound packet limit after CONNECT.
func negotiate(local, remote int) int {
	n := local
	if remote > 0 && remote < n {
		n = remote
	}
	return clampPacketSize(n)
}

// Role distinguishes the two session variants in reports.
type Role string

const (
	RoleClient Role = "client"
	RoleServer Role = "server"
)

// Report summarises one finished request or streaming operation.
type Report struct {
	Role     Role
	Remote   string
	Op       protocol.Opcode
	Code     protocol.ResponseCode
	Packets  int
	Bytes    int64
	Duration time.Duration
	Aborted  bool
	Err      error
}

// Reporter receives a Report per finished request.
type Reporter interface {
	Report(Report)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(Report)

func (f ReporterFunc) Report(r Report) { f(r) }

type nopReporter struct{}

func (nopReporter) Report(Report) {}

// State is the client session state.
type State int

const (
	StateUnconnected State = iota
	StateConnected
	StateBusy
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateConnected:
		return "connected"
	case StateBusy:
		return "busy"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
