package header

import "github.com/danmuck/obexgo/internal/protocol"

func errShort(id ID, offset int) error {
	return protocol.Protocolf("header: truncated %s at offset %d", id, offset)
}

func errLength(id ID, l int) error {
	return protocol.Protocolf("header: %s declares invalid length %d", id, l)
}
