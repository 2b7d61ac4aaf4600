package inbox

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"

	"github.com/danmuck/obexgo/internal/protocol"
	"github.com/danmuck/obexgo/internal/protocol/header"
	"github.com/danmuck/obexgo/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

// Handler is one session's view of a Store. It tracks the current folder.
type Handler struct {
	store  *Store
	folder string
}

var _ session.Handler = (*Handler)(nil)

// Folder is the current folder relative to the root, "" at the root.
func (h *Handler) Folder() string { return h.folder }

func (h *Handler) Connect(_ context.Context, req header.Set, reply *header.Set) protocol.ResponseCode {
	target, ok := req.Target()
	if !ok {
		return protocol.RespSuccess
	}
	if !isFolderBrowsing(target) {
		return protocol.RespServiceUnavailable
	}
	reply.Add(header.Uint32(header.ConnectionID, h.store.connectionID()))
	reply.Add(header.Bytes(header.Who, target))
	return protocol.RespSuccess
}

func (h *Handler) Disconnect(context.Context, header.Set, *header.Set) protocol.ResponseCode {
	h.folder = ""
	return protocol.RespSuccess
}

func (h *Handler) SetPath(_ context.Context, req header.Set, _ *header.Set, backup, create bool) protocol.ResponseCode {
	folder := h.folder
	if backup {
		if folder == "" {
			return protocol.RespNotFound
		}
		folder = path.Dir(folder)
		if folder == "." {
			folder = ""
		}
	}
	name, hasName := req.Name()
	if !hasName || name == "" {
		if !backup && hasName {
			folder = ""
		}
		h.folder = folder
		return protocol.RespSuccess
	}
	p, err := h.store.resolve(folder, name)
	if err != nil {
		return protocol.RespBadRequest
	}
	info, err := os.Stat(p)
	switch {
	case err == nil && !info.IsDir():
		return protocol.RespForbidden
	case errors.Is(err, fs.ErrNotExist):
		if !create || !h.store.opts.AllowCreate || h.store.opts.ReadOnly {
			return protocol.RespNotFound
		}
		if err := os.Mkdir(p, 0o755); err != nil {
			log.Warn().Str("path", p).Err(err).Msg("inbox_mkdir_failed")
			return protocol.RespInternalError
		}
	case err != nil:
		return protocol.RespInternalError
	}
	h.folder = path.Join(folder, name)
	return protocol.RespSuccess
}

func (h *Handler) Put(_ context.Context, op *session.ServerOperation) protocol.ResponseCode {
	req := op.RequestHeaders()
	name, ok := req.Name()
	if !ok {
		return protocol.RespBadRequest
	}
	if h.store.opts.ReadOnly {
		return protocol.RespForbidden
	}
	limit := h.store.opts.MaxObjectBytes
	if n, ok := req.Length(); ok && limit > 0 && int64(n) > limit {
		return protocol.RespEntityTooLarge
	}
	p, err := h.store.resolve(h.folder, name)
	if err != nil {
		return protocol.RespBadRequest
	}
	if info, err := os.Stat(p); err == nil && info.IsDir() {
		return protocol.RespForbidden
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".obex-*")
	if err != nil {
		log.Warn().Str("path", p).Err(err).Msg("inbox_put_create_failed")
		return protocol.RespInternalError
	}
	defer os.Remove(tmp.Name())

	var src io.Reader = op
	if limit > 0 {
		src = io.LimitReader(op, limit+1)
	}
	n, err := io.Copy(tmp, src)
	closeErr := tmp.Close()
	switch {
	case op.Aborted():
		log.Debug().Str("name", name).Int64("bytes", n).Msg("inbox_put_aborted")
		return protocol.RespInternalError
	case err != nil:
		log.Warn().Str("name", name).Err(err).Msg("inbox_put_failed")
		return protocol.RespInternalError
	case limit > 0 && n > limit:
		return protocol.RespEntityTooLarge
	case closeErr != nil:
		return protocol.RespInternalError
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		log.Warn().Str("path", p).Err(err).Msg("inbox_put_rename_failed")
		return protocol.RespInternalError
	}
	log.Info().Str("folder", h.folder).Str("name", name).Int64("bytes", n).Msg("inbox_stored")
	return protocol.RespSuccess
}

func (h *Handler) Get(_ context.Context, op *session.ServerOperation) protocol.ResponseCode {
	req := op.RequestHeaders()
	name, _ := req.Name()
	if typ, _ := req.Type(); typ == ListingType {
		return h.getListing(op, name)
	}
	if name == "" {
		return protocol.RespBadRequest
	}
	p, err := h.store.resolve(h.folder, name)
	if err != nil {
		return protocol.RespBadRequest
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return protocol.RespNotFound
	}
	if err != nil {
		return protocol.RespInternalError
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return protocol.RespInternalError
	}
	if info.IsDir() {
		return protocol.RespForbidden
	}
	reply := op.ReplyHeaders()
	reply.Add(header.Uint32(header.Length, uint32(info.Size())))
	if typ := mime.TypeByExtension(filepath.Ext(name)); typ != "" {
		reply.Add(header.TypeHeader(typ))
	}
	if _, err := io.Copy(op, f); err != nil {
		if !op.Aborted() {
			log.Warn().Str("name", name).Err(err).Msg("inbox_get_failed")
		}
		return protocol.RespInternalError
	}
	return protocol.RespSuccess
}

func (h *Handler) getListing(op *session.ServerOperation, name string) protocol.ResponseCode {
	folder := h.folder
	if name != "" {
		if err := checkName(name); err != nil {
			return protocol.RespBadRequest
		}
		folder = path.Join(folder, name)
	}
	dir, err := h.store.resolve(folder, "")
	if err != nil {
		return protocol.RespBadRequest
	}
	l, err := buildListing(dir, folder != "")
	if errors.Is(err, fs.ErrNotExist) {
		return protocol.RespNotFound
	}
	if err != nil {
		return protocol.RespInternalError
	}
	body, err := MarshalListing(l)
	if err != nil {
		return protocol.RespInternalError
	}
	op.ReplyHeaders().Add(header.TypeHeader(ListingType))
	op.ReplyHeaders().Add(header.Uint32(header.Length, uint32(len(body))))
	if _, err := op.Write(body); err != nil {
		return protocol.RespInternalError
	}
	return protocol.RespSuccess
}

func (h *Handler) Delete(_ context.Context, req header.Set, _ *header.Set) protocol.ResponseCode {
	name, ok := req.Name()
	if !ok {
		return protocol.RespBadRequest
	}
	if h.store.opts.ReadOnly {
		return protocol.RespForbidden
	}
	p, err := h.store.resolve(h.folder, name)
	if err != nil {
		return protocol.RespBadRequest
	}
	if _, err := os.Lstat(p); errors.Is(err, fs.ErrNotExist) {
		return protocol.RespNotFound
	}
	if err := os.Remove(p); err != nil {
		// non-empty folder
		return protocol.RespPreconditionFailed
	}
	log.Info().Str("folder", h.folder).Str("name", name).Msg("inbox_deleted")
	return protocol.RespSuccess
}
