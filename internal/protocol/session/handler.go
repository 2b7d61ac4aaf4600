package session

import (
	"context"

	"github.com/danmuck/obexgo/internal/protocol"
	"github.com/danmuck/obexgo/internal/protocol/header"
)

// Handler serves requests dispatched by a Server. Each method returns the
// response code for the request; reply headers are appended to reply.
type Handler interface {
	Connect(ctx context.Context, req header.Set, reply *header.Set) protocol.ResponseCode
	Disconnect(ctx context.Context, req header.Set, reply *header.Set) protocol.ResponseCode
	SetPath(ctx context.Context, req header.Set, reply *header.Set, backup, create bool) protocol.ResponseCode
	// Delete handles a final PUT that carries no body.
	Delete(ctx context.Context, req header.Set, reply *header.Set) protocol.ResponseCode
	Put(ctx context.Context, op *ServerOperation) protocol.ResponseCode
	Get(ctx context.Context, op *ServerOperation) protocol.ResponseCode
}

// BaseHandler accepts CONNECT and DISCONNECT and answers NOT_IMPLEMENTED to
// everything else. Embed it to implement a subset of Handler.
type BaseHandler struct{}

func (BaseHandler) Connect(context.Context, header.Set, *header.Set) protocol.ResponseCode {
	return protocol.RespSuccess
}

func (BaseHandler) Disconnect(context.Context, header.Set, *header.Set) protocol.ResponseCode {
	return protocol.RespSuccess
}

func (BaseHandler) SetPath(context.Context, header.Set, *header.Set, bool, bool) protocol.ResponseCode {
	return protocol.RespNotImplemented
}

func (BaseHandler) Delete(context.Context, header.Set, *header.Set) protocol.ResponseCode {
	return protocol.RespNotImplemented
}

func (BaseHandler) Put(context.Context, *ServerOperation) protocol.ResponseCode {
	return protocol.RespNotImplemented
}

func (BaseHandler) Get(context.Context, *ServerOperation) protocol.ResponseCode {
	return protocol.RespNotImplemented
}
