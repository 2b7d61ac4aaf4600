package packet

import (
	"encoding/binary"
	"fmt"

	"github.com/danmuck/obexgo/internal/protocol"
	"github.com/danmuck/obexgo/internal/transport"
)

const HeaderSize = protocol.PacketHeaderSize

// CONNECT request/response prefix: version, flags, max packet length.
const (
	ConnectPrefixSize = 4
	ObexVersion       = 0x10
)

// SETPATH request prefix: flags, constants.
const (
	SetPathPrefixSize   = 2
	SetPathFlagBackup   = 0x01
	SetPathFlagNoCreate = 0x02
)

// EncodeHeader returns the 3-byte packet header.
func EncodeHeader(code uint8, length int) [HeaderSize]byte {
	var h [HeaderSize]byte
	h[0] = code
	binary.BigEndian.PutUint16(h[1:3], uint16(length))
	return h
}

// DecodeHeader parses the 3-byte packet header.
func DecodeHeader(b []byte) (uint8, int, error) {
	if len(b) < HeaderSize {
		return 0, 0, protocol.Protocolf("packet: short header: %d bytes", len(b))
	}
	length := int(binary.BigEndian.Uint16(b[1:3]))
	if length < HeaderSize {
		return 0, 0, protocol.Protocolf("packet: length %d below header size", length)
	}
	return b[0], length, nil
}

// ReadPacket reads one whole packet into buf and returns its length.
//
// The packet must fit in buf; a peer exceeding the negotiated size, a short
// or missing header, or any other framing failure, closes t. There is no
// resync.
func ReadPacket(t transport.Transport, buf []byte) (int, error) {
	if len(buf) < HeaderSize {
		return 0, fmt.Errorf("packet: buffer of %d bytes cannot hold a header", len(buf))
	}
	if err := transport.ReadExact(t, buf[:HeaderSize]); err != nil {
		_ = t.Close()
		return 0, err
	}
	_, length, err := DecodeHeader(buf[:HeaderSize])
	if err != nil {
		_ = t.Close()
		return 0, err
	}
	if length > len(buf) {
		_ = t.Close()
		return 0, protocol.Protocolf("packet: length %d exceeds max packet size %d", length, len(buf))
	}
	if length > HeaderSize {
		if err := transport.ReadExact(t, buf[HeaderSize:length]); err != nil {
			_ = t.Close()
			return 0, err
		}
	}
	return length, nil
}

// WritePacket writes buf[:n] verbatim; the header must already be embedded.
func WritePacket(t transport.Transport, buf []byte, n int) error {
	if n < HeaderSize || n > len(buf) {
		return protocol.Protocolf("packet: invalid write length %d", n)
	}
	return t.Write(buf[:n])
}

// Packet is a decoded packet: code, opcode-specific prefix and header block.
type Packet struct {
	Code   uint8
	Prefix []byte
	Body   []byte
}

// Len is the encoded length.
func (p Packet) Len() int {
	return HeaderSize + len(p.Prefix) + len(p.Body)
}

// Encode serialises p, patching the length field.
func (p Packet) Encode() ([]byte, error) {
	n := p.Len()
	if n > protocol.MaxPacketSize {
		return nil, protocol.Protocolf("packet: length %d exceeds %d", n, protocol.MaxPacketSize)
	}
	out := make([]byte, 0, n)
	h := EncodeHeader(p.Code, n)
	out = append(out, h[:]...)
	out = append(out, p.Prefix...)
	out = append(out, p.Body...)
	return out, nil
}

// Split parses raw (one full packet) given the size of the opcode-specific prefix.
func Split(raw []byte, prefixSize int) (Packet, error) {
	code, length, err := DecodeHeader(raw)
	if err != nil {
		return Packet{}, err
	}
	if length != len(raw) {
		return Packet{}, protocol.Protocolf("packet: length %d does not match %d bytes", length, len(raw))
	}
	if len(raw) < HeaderSize+prefixSize {
		return Packet{}, protocol.Protocolf("packet: code 0x%02X missing %d byte prefix", code, prefixSize)
	}
	return Packet{
		Code:   code,
		Prefix: raw[HeaderSize : HeaderSize+prefixSize],
		Body:   raw[HeaderSize+prefixSize:],
	}, nil
}

// ConnectPrefix encodes version, flags and the proposed max packet size.
func ConnectPrefix(maxPacket int) []byte {
	b := make([]byte, ConnectPrefixSize)
	b[0] = ObexVersion
	b[1] = 0
	binary.BigEndian.PutUint16(b[2:4], uint16(maxPacket))
	return b
}

// ParseConnectPrefix returns version, flags and max packet size.
func ParseConnectPrefix(b []byte) (uint8, uint8, int, error) {
	if len(b) < ConnectPrefixSize {
		return 0, 0, 0, protocol.Protocolf("packet: short connect prefix")
	}
	return b[0], b[1], int(binary.BigEndian.Uint16(b[2:4])), nil
}

// SetPathPrefix encodes the SETPATH flags; create clears the no-create bit.
func SetPathPrefix(backup, create bool) []byte {
	var flags uint8
	if backup {
		flags |= SetPathFlagBackup
	}
	if !create {
		flags |= SetPathFlagNoCreate
	}
	return []byte{flags, 0}
}

// ParseSetPathPrefix returns backup and create.
func ParseSetPathPrefix(b []byte) (bool, bool, error) {
	if len(b) < SetPathPrefixSize {
		return false, false, protocol.Protocolf("packet: short setpath prefix")
	}
	return b[0]&SetPathFlagBackup != 0, b[0]&SetPathFlagNoCreate == 0, nil
}

// Builder assembles a packet in place and patches the length on Bytes.
type Builder struct {
	buf []byte
}

// NewBuilder starts a packet with code and the opcode-specific prefix.
func NewBuilder(code uint8, prefix []byte, sizeHint int) *Builder {
	if sizeHint < HeaderSize+len(prefix) {
		sizeHint = HeaderSize + len(prefix)
	}
	b := &Builder{buf: make([]byte, HeaderSize, sizeHint)}
	b.buf[0] = code
	b.buf = append(b.buf, prefix...)
	return b
}

// Append adds encoded header bytes.
func (b *Builder) Append(p []byte) *Builder {
	b.buf = append(b.buf, p...)
	return b
}

func (b *Builder) Len() int { return len(b.buf) }

// Bytes returns the finished packet, failing if it exceeds max.
func (b *Builder) Bytes(max int) ([]byte, error) {
	if max <= 0 || max > protocol.MaxPacketSize {
		max = protocol.MaxPacketSize
	}
	if len(b.buf) > max {
		return nil, protocol.Protocolf("packet: code 0x%02X length %d exceeds max packet size %d", b.buf[0], len(b.buf), max)
	}
	binary.BigEndian.PutUint16(b.buf[1:3], uint16(len(b.buf)))
	return b.buf, nil
}
