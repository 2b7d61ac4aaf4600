package header

import (
	"encoding/binary"
)

// Set is an ordered header list. Order is preserved on the wire.
type Set []Header

// Get returns the first header with id.
func (s Set) Get(id ID) (Header, bool) {
	for _, h := range s {
		if h.ID == id {
			return h, true
		}
	}
	return Header{}, false
}

func (s Set) Has(id ID) bool {
	_, ok := s.Get(id)
	return ok
}

// Add appends h.
func (s *Set) Add(h Header) {
	*s = append(*s, h)
}

// Put replaces the first header with the same id or appends h.
func (s *Set) Put(h Header) {
	for i := range *s {
		if (*s)[i].ID == h.ID {
			(*s)[i] = h
			return
		}
	}
	*s = append(*s, h)
}

// Without returns a copy of s with every header of the given ids removed.
func (s Set) Without(ids ...ID) Set {
	out := make(Set, 0, len(s))
next:
	for _, h := range s {
		for _, id := range ids {
			if h.ID == id {
				continue next
			}
		}
		out = append(out, h)
	}
	return out
}

// EncodedLen is the size of Encode(s).
func (s Set) EncodedLen() int {
	n := 0
	for _, h := range s {
		n += h.Len()
	}
	return n
}

// Encode serialises s in order.
func (s Set) Encode() []byte {
	out := make([]byte, 0, s.EncodedLen())
	for _, h := range s {
		out = h.AppendEncoded(out)
	}
	return out
}

// Decode parses a header block. Truncated or overlong headers are protocol errors.
func Decode(b []byte) (Set, error) {
	var out Set
	i := 0
	for i < len(b) {
		id := ID(b[i])
		switch id.Encoding() {
		case EncodingByte:
			if len(b)-i < 2 {
				return nil, errShort(id, i)
			}
			out = append(out, Header{ID: id, Value: []byte{b[i+1]}})
			i += 2
		case EncodingUint32:
			if len(b)-i < 5 {
				return nil, errShort(id, i)
			}
			out = append(out, Header{ID: id, Value: append([]byte(nil), b[i+1:i+5]...)})
			i += 5
		default:
			if len(b)-i < 3 {
				return nil, errShort(id, i)
			}
			l := int(binary.BigEndian.Uint16(b[i+1 : i+3]))
			if l < 3 {
				return nil, errLength(id, l)
			}
			if l > len(b)-i {
				return nil, errShort(id, i)
			}
			out = append(out, Header{ID: id, Value: append([]byte(nil), b[i+3:i+l]...)})
			i += l
		}
	}
	return out, nil
}

// Typed accessors for the common headers.

func (s Set) Name() (string, bool) { return s.text(Name) }

func (s Set) Type() (string, bool) {
	h, ok := s.Get(Type)
	if !ok {
		return "", false
	}
	v := h.Value
	if n := len(v); n > 0 && v[n-1] == 0 {
		v = v[:n-1]
	}
	return string(v), true
}

func (s Set) Description() (string, bool) { return s.text(Description) }

func (s Set) Length() (uint32, bool) { return s.u32(Length) }

func (s Set) ConnectionID() (uint32, bool) { return s.u32(ConnectionID) }

func (s Set) Target() ([]byte, bool) { return s.bytes(Target) }

func (s Set) Who() ([]byte, bool) { return s.bytes(Who) }

// Body returns the body chunk carried by Body or EndOfBody and whether it was
// the end of body. ok is false when neither header is present.
func (s Set) Body() (data []byte, end bool, ok bool) {
	for _, h := range s {
		switch h.ID {
		case Body:
			return h.Value, false, true
		case EndOfBody:
			return h.Value, true, true
		}
	}
	return nil, false, false
}

// TypeHeader builds a Type header: null-terminated ASCII.
func TypeHeader(mime string) Header {
	return Header{ID: Type, Value: append([]byte(mime), 0)}
}

func (s Set) text(id ID) (string, bool) {
	h, ok := s.Get(id)
	if !ok {
		return "", false
	}
	v, err := h.Text()
	if err != nil {
		return "", false
	}
	return v, true
}

func (s Set) u32(id ID) (uint32, bool) {
	h, ok := s.Get(id)
	if !ok {
		return 0, false
	}
	v, err := h.Uint32()
	if err != nil {
		return 0, false
	}
	return v, true
}

func (s Set) bytes(id ID) ([]byte, bool) {
	h, ok := s.Get(id)
	if !ok {
		return nil, false
	}
	return h.Value, true
}
