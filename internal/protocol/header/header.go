// Package header encodes OBEX header blocks.
//
// The two high bits of a header ID select the value encoding; only framing
// level behavior lives here. Unknown IDs round-trip untouched.
package header

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/danmuck/obexgo/internal/protocol"
	"golang.org/x/text/encoding/unicode"
)

// ID is a header identifier.
type ID uint8

const (
	Count         ID = 0xC0
	Name          ID = 0x01
	Type          ID = 0x42
	Length        ID = 0xC3
	TimeISO       ID = 0x44
	Description   ID = 0x05
	Target        ID = 0x46
	HTTP          ID = 0x47
	Body          ID = 0x48
	EndOfBody     ID = 0x49
	Who           ID = 0x4A
	ConnectionID  ID = 0xCB
	AppParameters ID = 0x4C
	AuthChallenge ID = 0x4D
	AuthResponse  ID = 0x4E
	ObjectClass   ID = 0x4F
)

// Encoding is the value representation selected by the ID's high bits.
type Encoding uint8

const (
	EncodingUnicode Encoding = 0x00
	EncodingBytes   Encoding = 0x40
	EncodingByte    Encoding = 0x80
	EncodingUint32  Encoding = 0xC0
)

func (id ID) Encoding() Encoding { return Encoding(uint8(id) & 0xC0) }

func (id ID) String() string {
	switch id {
	case Count:
		return "Count"
	case Name:
		return "Name"
	case Type:
		return "Type"
	case Length:
		return "Length"
	case TimeISO:
		return "Time"
	case Description:
		return "Description"
	case Target:
		return "Target"
	case HTTP:
		return "HTTP"
	case Body:
		return "Body"
	case EndOfBody:
		return "EndOfBody"
	case Who:
		return "Who"
	case ConnectionID:
		return "ConnectionID"
	case AppParameters:
		return "AppParameters"
	case AuthChallenge:
		return "AuthChallenge"
	case AuthResponse:
		return "AuthResponse"
	case ObjectClass:
		return "ObjectClass"
	default:
		return fmt.Sprintf("header(0x%02X)", uint8(id))
	}
}

// Header is one header with its raw wire value. Unicode values hold the
// UTF-16BE bytes including the null terminator.
type Header struct {
	ID    ID
	Value []byte
}

// Len is the encoded size of h.
func (h Header) Len() int {
	switch h.ID.Encoding() {
	case EncodingByte:
		return 2
	case EncodingUint32:
		return 5
	default:
		return 3 + len(h.Value)
	}
}

var (
	utf16be = unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)
)

// Text builds a Unicode header. An empty string encodes as an empty value.
func Text(id ID, s string) (Header, error) {
	if s == "" {
		return Header{ID: id}, nil
	}
	b, err := utf16be.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return Header{}, fmt.Errorf("header: encode %s: %w", id, err)
	}
	return Header{ID: id, Value: append(b, 0, 0)}, nil
}

// Bytes builds a byte-sequence header.
func Bytes(id ID, b []byte) Header {
	return Header{ID: id, Value: append([]byte(nil), b...)}
}

func Byte(id ID, v uint8) Header {
	return Header{ID: id, Value: []byte{v}}
}

func Uint32(id ID, v uint32) Header {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return Header{ID: id, Value: b}
}

// Text decodes a Unicode value, dropping the null terminator.
func (h Header) Text() (string, error) {
	v := h.Value
	if len(v) >= 2 && v[len(v)-2] == 0 && v[len(v)-1] == 0 {
		v = v[:len(v)-2]
	}
	if len(v) == 0 {
		return "", nil
	}
	if len(v)%2 != 0 {
		return "", protocol.Protocolf("header: %s has odd UTF-16 length %d", h.ID, len(v))
	}
	out, err := utf16be.NewDecoder().Bytes(v)
	if err != nil {
		return "", fmt.Errorf("%w: header: decode %s: %w", protocol.ErrProtocol, h.ID, err)
	}
	return string(out), nil
}

// Uint32 decodes a four-byte value.
func (h Header) Uint32() (uint32, error) {
	if len(h.Value) != 4 {
		return 0, protocol.Protocolf("header: %s invalid u32 length %d", h.ID, len(h.Value))
	}
	return binary.BigEndian.Uint32(h.Value), nil
}

// AppendEncoded appends the wire form of h to dst.
func (h Header) AppendEncoded(dst []byte) []byte {
	dst = append(dst, uint8(h.ID))
	switch h.ID.Encoding() {
	case EncodingByte:
		var v uint8
		if len(h.Value) > 0 {
			v = h.Value[0]
		}
		return append(dst, v)
	case EncodingUint32:
		var v [4]byte
		copy(v[:], h.Value)
		return append(dst, v[:]...)
	default:
		var l [2]byte
		binary.BigEndian.PutUint16(l[:], uint16(3+len(h.Value)))
		dst = append(dst, l[:]...)
		return append(dst, h.Value...)
	}
}

// Equal compares id and value.
func (h Header) Equal(o Header) bool {
	return h.ID == o.ID && bytes.Equal(h.Value, o.Value)
}
