package inbox

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/danmuck/obexgo/internal/protocol"
	"github.com/danmuck/obexgo/internal/protocol/header"
	"github.com/danmuck/obexgo/internal/protocol/session"
	"github.com/danmuck/obexgo/internal/testutil/testlog"
	"github.com/danmuck/obexgo/internal/transport"
)

func startSession(t *testing.T, opts Options, connect header.Set) (*Store, *session.Client) {
	t.Helper()
	if opts.Root == "" {
		opts.Root = t.TempDir()
	}
	store, err := New(opts)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	a, b := transport.Pipe(transport.Options{MaxPacketSize: 512})
	srv := session.NewServer(b, store.Handler(), session.Config{})
	go func() { _ = srv.Serve(context.Background()) }()
	c := session.NewClient(a, session.Config{})
	t.Cleanup(func() {
		_ = c.Close()
		_ = srv.Close()
	})
	if _, err := c.Connect(context.Background(), connect); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return store, c
}

func name(t *testing.T, n string) header.Set {
	t.Helper()
	h, err := header.Text(header.Name, n)
	if err != nil {
		t.Fatalf("name: %v", err)
	}
	return header.Set{h}
}

func putObject(t *testing.T, c *session.Client, n string, body []byte) error {
	t.Helper()
	op, err := c.Put(context.Background(), name(t, n))
	if err != nil {
		t.Fatalf("put open: %v", err)
	}
	if _, err := op.Write(body); err != nil {
		return err
	}
	return op.Close()
}

func getObject(t *testing.T, c *session.Client, hs header.Set) ([]byte, error) {
	t.Helper()
	op, err := c.Get(context.Background(), hs)
	if err != nil {
		t.Fatalf("get open: %v", err)
	}
	defer op.Close()
	return io.ReadAll(op)
}

func TestPutGetRoundTrip(t *testing.T) {
	testlog.Start(t)
	store, c := startSession(t, Options{}, nil)
	body := bytes.Repeat([]byte("obex inbox "), 300)
	if err := putObject(t, c, "notes.txt", body); err != nil {
		t.Fatalf("put: %v", err)
	}
	onDisk, err := os.ReadFile(filepath.Join(store.Root(), "notes.txt"))
	if err != nil || !bytes.Equal(onDisk, body) {
		t.Fatalf("stored file mismatch err=%v", err)
	}
	got, err := getObject(t, c, name(t, "notes.txt"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Fatalf("get body mismatch: %d bytes", len(got))
	}
	if _, err := getObject(t, c, name(t, "missing.txt")); !isCode(err, protocol.RespNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestFolderBrowsing(t *testing.T) {
	testlog.Start(t)
	store, c := startSession(t, Options{AllowCreate: true}, header.Set{header.Bytes(header.Target, FolderBrowsingUUID)})
	if _, ok := c.ConnectionID(); !ok {
		t.Fatalf("folder browsing connect must assign a connection id")
	}

	resp, err := c.SetPath(context.Background(), name(t, "photos"), false, true)
	if err != nil || resp.Code != protocol.RespSuccess {
		t.Fatalf("setpath create: resp=%+v err=%v", resp, err)
	}
	if err := putObject(t, c, "a.jpg", []byte("jpeg")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := os.Stat(filepath.Join(store.Root(), "photos", "a.jpg")); err != nil {
		t.Fatalf("file not stored under folder: %v", err)
	}

	raw, err := getObject(t, c, header.Set{header.TypeHeader(ListingType)})
	if err != nil {
		t.Fatalf("listing: %v", err)
	}
	l, err := ParseListing(raw)
	if err != nil {
		t.Fatalf("parse listing: %v", err)
	}
	if l.Parent == nil || len(l.Files) != 1 || l.Files[0].Name != "a.jpg" || l.Files[0].Size != 4 {
		t.Fatalf("unexpected listing: %+v", l)
	}

	if _, err := c.SetPath(context.Background(), nil, true, false); err != nil {
		t.Fatalf("setpath backup: %v", err)
	}
	resp, err = c.SetPath(context.Background(), nil, true, false)
	if err != nil || resp.Code != protocol.RespNotFound {
		t.Fatalf("backup at root: resp=%+v err=%v", resp, err)
	}
	raw, err = getObject(t, c, header.Set{header.TypeHeader(ListingType)})
	if err != nil {
		t.Fatalf("root listing: %v", err)
	}
	l, err = ParseListing(raw)
	if err != nil || l.Parent != nil || len(l.Folders) != 1 || l.Folders[0].Name != "photos" {
		t.Fatalf("unexpected root listing: %+v err=%v", l, err)
	}

	resp, err = c.Delete(context.Background(), name(t, "photos"))
	if err != nil || resp.Code != protocol.RespPreconditionFailed {
		t.Fatalf("delete non-empty folder: resp=%+v err=%v", resp, err)
	}
}

func TestSetPathWithoutCreate(t *testing.T) {
	testlog.Start(t)
	_, c := startSession(t, Options{AllowCreate: true}, nil)
	resp, err := c.SetPath(context.Background(), name(t, "nope"), false, false)
	if err != nil || resp.Code != protocol.RespNotFound {
		t.Fatalf("resp=%+v err=%v", resp, err)
	}
}

func TestConnectUnknownTargetRefused(t *testing.T) {
	testlog.Start(t)
	store, err := New(Options{Root: t.TempDir()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	a, b := transport.Pipe(transport.Options{})
	srv := session.NewServer(b, store.Handler(), session.Config{})
	defer srv.Close()
	go func() { _ = srv.Serve(context.Background()) }()
	c := session.NewClient(a, session.Config{})
	defer c.Close()
	_, err = c.Connect(context.Background(), header.Set{header.Bytes(header.Target, []byte{1, 2, 3})})
	if !isCode(err, protocol.RespServiceUnavailable) {
		t.Fatalf("expected SERVICE_UNAVAILABLE, got %v", err)
	}
}

func TestPathsStayUnderRoot(t *testing.T) {
	testlog.Start(t)
	_, c := startSession(t, Options{AllowCreate: true}, nil)
	for _, bad := range []string{"../escape.txt", "a/b.txt", ".."} {
		err := putObject(t, c, bad, []byte("x"))
		if !isCode(err, protocol.RespBadRequest) {
			t.Fatalf("%q: expected BAD_REQUEST, got %v", bad, err)
		}
	}
	resp, err := c.SetPath(context.Background(), name(t, ".."), false, true)
	if err != nil || resp.Code != protocol.RespBadRequest {
		t.Fatalf("setpath escape: resp=%+v err=%v", resp, err)
	}
}

func TestReadOnlyAndSizeLimits(t *testing.T) {
	testlog.Start(t)
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "keep.txt"), []byte("keep"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	_, ro := startSession(t, Options{Root: root, ReadOnly: true}, nil)
	if err := putObject(t, ro, "new.txt", []byte("x")); !isCode(err, protocol.RespForbidden) {
		t.Fatalf("read-only put: %v", err)
	}
	resp, err := ro.Delete(context.Background(), name(t, "keep.txt"))
	if err != nil || resp.Code != protocol.RespForbidden {
		t.Fatalf("read-only delete: resp=%+v err=%v", resp, err)
	}

	store, c := startSession(t, Options{MaxObjectBytes: 100}, nil)
	if err := putObject(t, c, "big.bin", make([]byte, 1000)); !isCode(err, protocol.RespEntityTooLarge) {
		t.Fatalf("oversize put: %v", err)
	}
	if _, err := os.Stat(filepath.Join(store.Root(), "big.bin")); !os.IsNotExist(err) {
		t.Fatalf("oversize object must not be stored")
	}
	if err := putObject(t, c, "small.bin", make([]byte, 100)); err != nil {
		t.Fatalf("put at limit: %v", err)
	}
	resp, err = c.Delete(context.Background(), name(t, "small.bin"))
	if err != nil || resp.Code != protocol.RespSuccess {
		t.Fatalf("delete: resp=%+v err=%v", resp, err)
	}
}

func isCode(err error, code protocol.ResponseCode) bool {
	refused, ok := err.(*protocol.RefusedError)
	return ok && refused.Code == code
}
