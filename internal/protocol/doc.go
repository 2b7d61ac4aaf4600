// Package protocol owns the OBEX wire contract shared by every layer.
//
// Ownership boundary:
// - request opcodes and response codes
// - error taxonomy (transport, framing, refusal, abort)
//
// Subpackages:
// - packet: 3-byte packet header codec and exact-size packet reads
// - header: header block encoding carried inside packets
// - session: client/server state machines and streaming operations
package protocol
