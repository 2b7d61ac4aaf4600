// Package session runs the OBEX request/response state machine over a
// transport.Transport.
//
// Ownership boundary:
// - client session: CONNECT, DISCONNECT, SETPATH, delete and streaming PUT/GET
// - server session: request dispatch to a Handler and server-side streaming
// - per-operation reporting hooks
//
// A session allows one outstanding request. Transport failures close the
// session; well-formed refusals never do.
package session
